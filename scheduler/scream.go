package scheduler

import (
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/rtpcore/packet"
)

const (
	// screamDefaultBitrateKbps is the starting target rate before any
	// feedback has arrived.
	screamDefaultBitrateKbps = 512
	screamMinBitrateKbps     = 32
	screamMaxBitrateKbps     = 8000
	// screamAdditiveIncreaseKbps is added to the target once per
	// screamIncreaseInterval absent any loss signal.
	screamAdditiveIncreaseKbps = 16
	screamIncreaseInterval     = 200 * time.Millisecond
	// screamMultiplicativeDecrease is applied to the target bitrate on a
	// NACK.
	screamMultiplicativeDecrease = 0.7

	screamDefaultPacketSizeBytes = 1200
)

// ScreamPacer is a SCReAM-shaped scheduler: additive-increase while no loss
// signal is observed, multiplicative-decrease on a NACK, and a drop to a
// REMB estimate below the current target (floored at the minimum
// bitrate), grounded on the standard AIMD
// congestion-control law (see package doc: original_source/'s Scream.cpp
// is a feature-detection stub, not a rate-control algorithm, so this is a
// textbook AIMD implementation rather than a port).
type ScreamPacer struct {
	pacer  *ratePacer
	codec  CooperativeCodec
	afterF func(d time.Duration, f func()) stoppableTimer

	mu          sync.Mutex
	bitrateKbps int
	increaseTmr stoppableTimer
	shutdown    bool
}

// NewScreamPacer builds a ScreamPacer sending through sender, optionally
// informing codec of bitrate changes.
func NewScreamPacer(sender PacketSender, codec CooperativeCodec) *ScreamPacer {
	s := &ScreamPacer{
		pacer:       newRatePacer(sender, "scheduler.scream", bitrateToGap(screamDefaultBitrateKbps)),
		codec:       codec,
		bitrateKbps: screamDefaultBitrateKbps,
	}
	s.afterF = func(d time.Duration, f func()) stoppableTimer {
		return time.AfterFunc(d, f)
	}
	s.armIncreaseTimer()
	return s
}

func bitrateToGap(kbps int) time.Duration {
	bitsPerSecond := float64(kbps) * 1000
	packetsPerSecond := bitsPerSecond / float64(screamDefaultPacketSizeBytes*8)
	if packetsPerSecond <= 0 {
		return screamIncreaseInterval
	}
	return time.Duration(float64(time.Second) / packetsPerSecond)
}

func (s *ScreamPacer) armIncreaseTimer() {
	s.increaseTmr = s.afterF(screamIncreaseInterval, s.additiveIncrease)
}

func (s *ScreamPacer) additiveIncrease() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.bitrateKbps += screamAdditiveIncreaseKbps
	if s.bitrateKbps > screamMaxBitrateKbps {
		s.bitrateKbps = screamMaxBitrateKbps
	}
	s.applyLocked()
	s.armIncreaseTimer()
	s.mu.Unlock()
}

func (s *ScreamPacer) decrease() {
	s.mu.Lock()
	s.bitrateKbps = int(float64(s.bitrateKbps) * screamMultiplicativeDecrease)
	if s.bitrateKbps < screamMinBitrateKbps {
		s.bitrateKbps = screamMinBitrateKbps
	}
	s.applyLocked()
	s.mu.Unlock()
}

func (s *ScreamPacer) applyLocked() {
	s.pacer.setRateFromBitrate(float64(s.bitrateKbps)*1000, screamDefaultPacketSizeBytes)
	if s.codec != nil {
		s.codec.SetBitrateKbps(s.bitrateKbps)
	}
}

// CurrentBitrateKbps returns the pacer's current target bitrate.
func (s *ScreamPacer) CurrentBitrateKbps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitrateKbps
}

func (s *ScreamPacer) ScheduleRtpPackets(pkts []*packet.RtpPacket, flowID uint16) {
	s.pacer.enqueue(pkts, flowID)
}

func (s *ScreamPacer) ScheduleRtxPacket(pkt *packet.RtpPacket, flowID uint16) {
	s.pacer.enqueue([]*packet.RtpPacket{pkt}, flowID)
}

func (s *ScreamPacer) OnIncomingRtp(pkt *packet.RtpPacket, ep net.Addr, ssrcValid bool, rtcpSync bool, pts time.Time) {
}

func (s *ScreamPacer) OnIncomingRtcp(compound []byte, ep net.Addr) {}

// ProcessFeedback reacts to a NACK (packet loss signal) by cutting the
// target bitrate multiplicatively, and to a REMB estimate below the
// current target by lowering the target to that estimate; any other
// feedback type is ignored.
func (s *ScreamPacer) ProcessFeedback(fb rtcp.Packet, ep net.Addr) {
	switch f := fb.(type) {
	case *rtcp.TransportLayerNack:
		s.decrease()
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		s.mu.Lock()
		estimateKbps := int(f.Bitrate / 1000)
		shouldDecrease := estimateKbps > 0 && estimateKbps < s.bitrateKbps
		s.mu.Unlock()
		if shouldDecrease {
			s.mu.Lock()
			s.bitrateKbps = estimateKbps
			if s.bitrateKbps < screamMinBitrateKbps {
				s.bitrateKbps = screamMinBitrateKbps
			}
			s.applyLocked()
			s.mu.Unlock()
		}
	}
}

func (s *ScreamPacer) RetrieveFeedback() []rtcp.Packet { return nil }

func (s *ScreamPacer) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	if s.increaseTmr != nil {
		s.increaseTmr.Stop()
	}
	s.mu.Unlock()
	s.pacer.shutdown()
}

var _ Scheduler = (*ScreamPacer)(nil)
