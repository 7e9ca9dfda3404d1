package lossdetect

import (
	"sync"
	"time"
)

// Kind selects which predictor strategy a MultipathEstimator lazily
// constructs per flow id.
type Kind int

const (
	KindSimple Kind = iota
	KindMovingAverage
	KindAR2
)

// FlowLostFunc reports a loss localized to one MPRTP flow, identified by
// (flow id, flow-specific sequence number), per §4.3's "Multipath variant
// holds one estimator per flow id; losses map back to the owning flow's
// FSSN".
type FlowLostFunc func(flowID uint16, fssn uint16)

// FlowFalsePositiveFunc mirrors FalsePositiveFunc but scoped to a flow.
type FlowFalsePositiveFunc func(flowID uint16, fssn uint16) bool

// MultipathEstimator holds one Predictor per MPRTP flow id, created lazily
// on first sight, grounded on rtp++'s MultipathRtoEstimator.
type MultipathEstimator struct {
	mu sync.Mutex

	kind       Kind
	onLost     FlowLostFunc
	onFalsePos FlowFalsePositiveFunc

	estimators map[uint16]Predictor
}

// NewMultipathEstimator creates a multipath estimator that constructs a
// fresh Predictor of the given kind the first time it sees a flow id.
func NewMultipathEstimator(kind Kind, onLost FlowLostFunc, onFalsePos FlowFalsePositiveFunc) *MultipathEstimator {
	return &MultipathEstimator{
		kind:       kind,
		onLost:     onLost,
		onFalsePos: onFalsePos,
		estimators: make(map[uint16]Predictor),
	}
}

// OnPacketArrival routes an arrival to the predictor for flowID, creating
// one if this is the first packet seen on that flow.
func (e *MultipathEstimator) OnPacketArrival(when time.Time, flowID uint16, fssn uint16) {
	e.mu.Lock()
	p := e.estimatorForLocked(flowID)
	e.mu.Unlock()
	p.OnPacketArrival(when, fssn)
}

// OnRtxRequested routes to the flow's predictor, if one exists.
func (e *MultipathEstimator) OnRtxRequested(when time.Time, flowID uint16, fssn uint16) {
	e.mu.Lock()
	p, ok := e.estimators[flowID]
	e.mu.Unlock()
	if ok {
		p.OnRtxRequested(when, fssn)
	}
}

// OnRtxPacketArrival routes to the flow's predictor, if one exists.
func (e *MultipathEstimator) OnRtxPacketArrival(when time.Time, flowID uint16, fssn uint16) {
	e.mu.Lock()
	p, ok := e.estimators[flowID]
	e.mu.Unlock()
	if ok {
		p.OnRtxPacketArrival(when, fssn)
	}
}

// Reset clears the predictor for one flow, if one exists.
func (e *MultipathEstimator) Reset(flowID uint16) {
	e.mu.Lock()
	p, ok := e.estimators[flowID]
	e.mu.Unlock()
	if ok {
		p.Reset()
	}
}

func (e *MultipathEstimator) estimatorForLocked(flowID uint16) Predictor {
	if p, ok := e.estimators[flowID]; ok {
		return p
	}

	lost := func(fssn uint16) {
		if e.onLost != nil {
			e.onLost(flowID, fssn)
		}
	}
	falsePos := func(fssn uint16) bool {
		if e.onFalsePos != nil {
			return e.onFalsePos(flowID, fssn)
		}
		return false
	}

	var p Predictor
	switch e.kind {
	case KindMovingAverage:
		p = NewMovingAverage(lost, falsePos)
	case KindAR2:
		p = NewAR2(lost, falsePos)
	default:
		p = NewSimple(lost, falsePos)
	}
	e.estimators[flowID] = p
	return p
}
