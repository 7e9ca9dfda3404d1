package scheduler

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtpcore/packet"
)

func withOWD(owd float64) *packet.RtpPacket {
	p := packet.NewOutgoing(&rtp.Header{}, nil)
	p.OWDSeconds = owd
	return p
}

func TestNadaPacerStartsAtDefaultBitrate(t *testing.T) {
	n := NewNadaPacer(&fakeSender{})
	require.Equal(t, nadaDefaultBitrateKbps, n.CurrentBitrateKbps())
}

func TestNadaPacerIgnoresFirstSampleNoTrendYet(t *testing.T) {
	n := NewNadaPacer(&fakeSender{})
	n.OnIncomingRtp(withOWD(0.01), nil, true, true, time.Time{})
	require.Equal(t, nadaDefaultBitrateKbps, n.CurrentBitrateKbps())
}

func TestNadaPacerBacksOffOnRisingDelay(t *testing.T) {
	n := NewNadaPacer(&fakeSender{})
	n.OnIncomingRtp(withOWD(0.01), nil, true, true, time.Time{})
	n.OnIncomingRtp(withOWD(0.03), nil, true, true, time.Time{})
	require.Less(t, n.CurrentBitrateKbps(), nadaDefaultBitrateKbps)
}

func TestNadaPacerRampsUpOnStableDelay(t *testing.T) {
	n := NewNadaPacer(&fakeSender{})
	n.OnIncomingRtp(withOWD(0.01), nil, true, true, time.Time{})
	n.OnIncomingRtp(withOWD(0.0105), nil, true, true, time.Time{})
	require.Greater(t, n.CurrentBitrateKbps(), nadaDefaultBitrateKbps)
}

func TestNadaPacerIgnoresUnknownOWD(t *testing.T) {
	n := NewNadaPacer(&fakeSender{})
	n.OnIncomingRtp(withOWD(-1), nil, true, true, time.Time{})
	require.Equal(t, nadaDefaultBitrateKbps, n.CurrentBitrateKbps())
}

func TestNadaPacerNeverBelowMinimum(t *testing.T) {
	n := NewNadaPacer(&fakeSender{})
	n.bitrateKbps = nadaMinBitrateKbps
	n.lastOWD = 0.01
	n.haveLastOWD = true
	n.OnIncomingRtp(withOWD(0.05), nil, true, true, time.Time{})
	require.GreaterOrEqual(t, n.CurrentBitrateKbps(), nadaMinBitrateKbps)
}
