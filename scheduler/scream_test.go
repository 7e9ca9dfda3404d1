package scheduler

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtpcore/packet"
)

type fakeCodec struct {
	lastKbps int
}

func (f *fakeCodec) SetBitrateKbps(kbps int) { f.lastKbps = kbps }

func newTestScreamPacer(sender PacketSender, codec CooperativeCodec) (*ScreamPacer, *[]*fakeTimer) {
	s := NewScreamPacer(sender, codec)
	var timers []*fakeTimer
	capture := func(_ time.Duration, f func()) stoppableTimer {
		ft := &fakeTimer{fn: f}
		timers = append(timers, ft)
		return ft
	}
	s.afterF = capture
	s.pacer.afterFunc = capture
	// re-arm the increase timer now that afterF has been swapped in.
	s.increaseTmr.Stop()
	s.armIncreaseTimer()
	return s, &timers
}

func TestScreamPacerStartsAtDefaultBitrate(t *testing.T) {
	s, _ := newTestScreamPacer(&fakeSender{}, nil)
	require.Equal(t, screamDefaultBitrateKbps, s.CurrentBitrateKbps())
}

func TestScreamPacerAdditiveIncreaseOnTimerFire(t *testing.T) {
	s, timers := newTestScreamPacer(&fakeSender{}, nil)
	before := s.CurrentBitrateKbps()

	(*timers)[len(*timers)-1].fn()
	require.Equal(t, before+screamAdditiveIncreaseKbps, s.CurrentBitrateKbps())
}

func TestScreamPacerMultiplicativeDecreaseOnNack(t *testing.T) {
	codec := &fakeCodec{}
	s, _ := newTestScreamPacer(&fakeSender{}, codec)
	before := s.CurrentBitrateKbps()

	s.ProcessFeedback(&rtcp.TransportLayerNack{}, nil)
	require.Less(t, s.CurrentBitrateKbps(), before)
	require.Equal(t, s.CurrentBitrateKbps(), codec.lastKbps)
}

func TestScreamPacerRembBelowTargetDecreases(t *testing.T) {
	s, _ := newTestScreamPacer(&fakeSender{}, nil)
	s.bitrateKbps = 1000

	s.ProcessFeedback(&rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: 200_000}, nil)
	require.Equal(t, 200, s.CurrentBitrateKbps())
}

func TestScreamPacerRembAboveTargetIgnored(t *testing.T) {
	s, _ := newTestScreamPacer(&fakeSender{}, nil)
	s.bitrateKbps = 100

	s.ProcessFeedback(&rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: 5_000_000}, nil)
	require.Equal(t, 100, s.CurrentBitrateKbps())
}

func TestScreamPacerBitrateNeverBelowMinimum(t *testing.T) {
	s, _ := newTestScreamPacer(&fakeSender{}, nil)
	s.bitrateKbps = screamMinBitrateKbps

	s.ProcessFeedback(&rtcp.TransportLayerNack{}, nil)
	require.GreaterOrEqual(t, s.CurrentBitrateKbps(), screamMinBitrateKbps)
}

func TestScreamPacerScheduleEnqueuesOnRatePacer(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestScreamPacer(sender, nil)

	s.ScheduleRtpPackets([]*packet.RtpPacket{samplePacket(1)}, 2)
	require.Equal(t, 1, s.pacer.queueLen())

	s.ScheduleRtxPacket(samplePacket(2), 2)
	require.Equal(t, 2, s.pacer.queueLen())
}

func TestScreamPacerShutdownStopsTimers(t *testing.T) {
	s, timers := newTestScreamPacer(&fakeSender{}, nil)
	s.Shutdown()
	for _, ft := range *timers {
		require.True(t, ft.stopped)
	}
}
