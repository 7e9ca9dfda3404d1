package packet

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestMPRTPSubflowRoundTrip(t *testing.T) {
	want := MPRTPSubflowHeader{FlowID: 1, FSSN: 4242}
	payload := EncodeMPRTPSubflow(want)
	require.Len(t, payload, 3)

	got, err := DecodeMPRTPSubflow(payload)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRapidSyncRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	senderNTP := EncodeNTP(now)

	payload := EncodeRapidSync(senderNTP)
	got, err := DecodeRapidSync(payload)
	require.NoError(t, err)
	require.Equal(t, senderNTP, got)
}

func TestExtensionRoundTripThroughWire(t *testing.T) {
	mprtp := MPRTPSubflowHeader{FlowID: 0, FSSN: 7}
	out := NewOutgoing(&rtp.Header{
		Version:        2,
		SequenceNumber: 100,
		Timestamp:      9000,
		SSRC:           0xAABBCCDD,
	}, []byte{0x01, 0x02})
	out.Extensions = []ExtensionElement{{ID: 5, Payload: EncodeMPRTPSubflow(mprtp)}}

	raw, err := out.Marshal()
	require.NoError(t, err)

	var wire rtp.Packet
	require.NoError(t, wire.Unmarshal(raw))

	in := FromWire(&wire, time.Now(), 0)
	registry := NewExtensionRegistry()
	registry.Register(5, MPRTPHandler())
	require.NoError(t, registry.Dispatch(in))

	require.NotNil(t, in.MPRTPSubflow)
	require.Equal(t, mprtp, *in.MPRTPSubflow)
	require.True(t, in.HasFlow())
	require.True(t, in.ValidateSubflowInvariant())
}

func TestExtendedSeqNum(t *testing.T) {
	require.Equal(t, uint32(65537), ExtendedSeqNum(1, 1))
	require.Equal(t, uint32(65535), ExtendedSeqNum(65535, 0))
}

func TestNTPHalvesNonZero(t *testing.T) {
	require.False(t, NTPHalvesNonZero(0))
	require.False(t, NTPHalvesNonZero(uint64(1)<<32)) // lsw zero
	require.True(t, NTPHalvesNonZero((uint64(1)<<32)|1))
}
