// Package mprtp implements the §4.6 MPRTP subflow core: per-flow
// flow-specific sequence numbering, path RTT bookkeeping, and subflow
// selection for retransmission-scheduling policies.
package mprtp

import (
	"sync"
	"sync/atomic"
)

// sentinelRTTSeconds is the minimum-RTT sentinel used when no RTT has been
// observed for a path yet, per §4.6.
const sentinelRTTSeconds = 100.0

// PathInfo holds the per-flow RTT bookkeeping used by subflow-selection
// policies.
type PathInfo struct {
	mu         sync.Mutex
	rttSeconds float64
	measured   bool
}

// RecordRTT records a freshly measured round-trip time for this path.
func (p *PathInfo) RecordRTT(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rttSeconds = seconds
	p.measured = true
}

// RTTSeconds returns the last observed RTT, or the 100-second sentinel if
// unmeasured.
func (p *PathInfo) RTTSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.measured {
		return sentinelRTTSeconds
	}
	return p.rttSeconds
}

// Flow is one MPRTP subflow: an independent flow-specific sequence-number
// counter plus the path info used for RTT-based subflow selection.
type Flow struct {
	ID     uint16
	fssn   uint32 // atomic
	Path   *PathInfo
	RtxSeq uint32 // atomic, per §9's open-question resolution: next_rtx_sn is per-flow
}

// NewFlow creates a flow with its FSSN counter starting at 0.
func NewFlow(id uint16) *Flow {
	return &Flow{ID: id, Path: &PathInfo{}}
}

// NextFSSN returns the next flow-specific sequence number for an ordinary
// RTP packet on this flow, per the literal scenario: flow 0's first two
// sends get FSSN 0 and 1, independent of flow 1's counter.
func (f *Flow) NextFSSN() uint16 {
	return uint16(atomic.AddUint32(&f.fssn, 1) - 1)
}

// NextRtxFSSN returns the next flow-specific sequence number from the
// per-flow RTX SN space, per §9's resolution of the next_rtx_sn open
// question: RTX packets on a flow are numbered from their own counter
// rather than reusing the primary FSSN space.
func (f *Flow) NextRtxFSSN() uint16 {
	return uint16(atomic.AddUint32(&f.RtxSeq, 1) - 1)
}
