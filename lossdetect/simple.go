package lossdetect

import "time"

// Simple implements the §4.3 "Simple" predictor, grounded directly on
// rtp++'s SimplePacketLossDetection: a missing run between the previously
// received max sequence number and a newly arrived one, smaller than
// maxDropout, is reported lost packet-by-packet. A gap so large it looks
// like a sequence reset clears all state instead. A packet that had been
// reported lost but arrives late fires OnFalsePositive exactly once.
type Simple struct {
	onLost          LostFunc
	onFalsePositive FalsePositiveFunc

	initialized bool
	maxSeq      uint16
	assumedLost assumedLostSet
}

// NewSimple creates a Simple predictor.
func NewSimple(onLost LostFunc, onFalsePositive FalsePositiveFunc) *Simple {
	return &Simple{
		onLost:          onLost,
		onFalsePositive: onFalsePositive,
		assumedLost:     newAssumedLostSet(),
	}
}

// OnPacketArrival implements Predictor.
func (s *Simple) OnPacketArrival(when time.Time, sn uint16) {
	if !s.initialized {
		s.initialized = true
		s.maxSeq = sn
		return
	}

	if sn == s.maxSeq+1 {
		s.maxSeq = sn
		return
	}

	delta := int(sn) - int(s.maxSeq)
	if delta < 0 {
		delta += rtpSeqMod
	}

	switch {
	case delta > 0 && delta < maxDropout:
		for missing := s.maxSeq + 1; missing != sn; missing++ {
			s.assumedLost.markLost(missing)
			if s.onLost != nil {
				s.onLost(missing)
			}
		}
		s.maxSeq = sn
	case delta > 0 && delta <= rtpSeqMod-maxMisorder:
		s.Reset()
	default:
		// duplicate or reordered packet within the misorder window.
		if s.assumedLost.checkFalsePositive(sn) && s.onFalsePositive != nil {
			s.onFalsePositive(sn)
		}
	}
}

// OnRtxRequested is a no-op for Simple: it does not track retransmission
// timers, only arrival-order gaps.
func (s *Simple) OnRtxRequested(time.Time, uint16) {}

// OnRtxPacketArrival clears the false-positive mark for sn, since its
// arrival is now explained by the retransmission rather than reordering.
func (s *Simple) OnRtxPacketArrival(_ time.Time, sn uint16) {
	s.assumedLost.checkFalsePositive(sn)
}

// Reset clears all predictor state.
func (s *Simple) Reset() {
	s.initialized = false
	s.maxSeq = 0
	s.assumedLost.clear()
}
