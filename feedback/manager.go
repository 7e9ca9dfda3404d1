package feedback

import (
	"sort"
	"sync"
	"time"

	"github.com/pion/rtcp"
)

// maxGenericNACKSNs caps a single generic-NACK report at 30 sequence
// numbers; exceeding it triggers a FIR request instead, per §4.5/§8.
const maxGenericNACKSNs = 30

// SchedulerFeedbackSource lets a pluggable scheduler contribute
// congestion-control reports into the compound packet, per §4.5's
// delegation to the scheduler's retrieve_feedback.
type SchedulerFeedbackSource interface {
	RetrieveFeedback() []rtcp.Packet
}

// Manager implements the §4.5 Feedback Manager: it accumulates pending
// losses and the most recently received sequence number between RTCP
// intervals, then folds them into a compound packet on
// OnFeedbackGeneration, plus an early-feedback fast path gated by RFC
// 4585's T_rr_interval.
type Manager struct {
	mu sync.Mutex

	senderSSRC uint32
	mediaSSRC  uint32

	pendingLost    map[uint16]struct{}
	pendingExtLost map[uint16]map[uint16]struct{} // flowID -> fssn set

	receivedSNs          []uint16
	haveNewestReceivedSN bool
	newestReceivedSN     uint16
	lastReportedSN       uint16
	haveLastReportedSN   bool

	tRRInterval       time.Duration
	lastEarlyFeedback time.Time
	haveEarlyFeedback bool

	scheduler SchedulerFeedbackSource
}

// NewManager creates a Manager for one session's feedback generation.
func NewManager(senderSSRC, mediaSSRC uint32, tRRInterval time.Duration, scheduler SchedulerFeedbackSource) *Manager {
	return &Manager{
		senderSSRC:     senderSSRC,
		mediaSSRC:      mediaSSRC,
		pendingLost:    make(map[uint16]struct{}),
		pendingExtLost: make(map[uint16]map[uint16]struct{}),
		tRRInterval:    tRRInterval,
		scheduler:      scheduler,
	}
}

// TRRInterval returns the RFC 4585 T_rr_interval this Manager was
// configured with.
func (m *Manager) TRRInterval() time.Duration {
	return m.tRRInterval
}

// RecordLoss queues sn for the next generic-NACK report.
func (m *Manager) RecordLoss(sn uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingLost[sn] = struct{}{}
}

// RecordExtendedLoss queues an MPRTP flow-specific loss for the next
// extended-NACK report.
func (m *Manager) RecordExtendedLoss(flowID uint16, fssn uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.pendingExtLost[flowID]
	if !ok {
		set = make(map[uint16]struct{})
		m.pendingExtLost[flowID] = set
	}
	set[fssn] = struct{}{}
}

// RecordReceived updates the newest-received sequence number used to
// decide whether a generic-ACK report is due, and appends sn to the
// pending ACK list (capped at maxGenericACKSNs, keeping the most recent).
func (m *Manager) RecordReceived(sn uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveNewestReceivedSN || seqGreater(sn, m.newestReceivedSN) {
		m.newestReceivedSN = sn
		m.haveNewestReceivedSN = true
	}
	m.receivedSNs = append(m.receivedSNs, sn)
	if len(m.receivedSNs) > maxGenericACKSNs {
		m.receivedSNs = m.receivedSNs[len(m.receivedSNs)-maxGenericACKSNs:]
	}
}

// seqGreater compares two 16-bit sequence numbers with wraparound, treating
// a as newer than b if the forward distance from b to a is less than half
// the sequence space.
func seqGreater(a, b uint16) bool {
	return int16(a-b) > 0
}

// TryScheduleEarlyFeedback implements RtpSession::try_schedule_early_feedback:
// it allows an early feedback generation only if T_rr_interval has elapsed
// since the last one, per RFC 4585.
func (m *Manager) TryScheduleEarlyFeedback(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveEarlyFeedback && now.Sub(m.lastEarlyFeedback) < m.tRRInterval {
		return false
	}
	m.lastEarlyFeedback = now
	m.haveEarlyFeedback = true
	return true
}

// OnFeedbackGeneration implements §4.5's on_feedback_generation: it appends
// a generic-NACK (if pending losses fit under the cap; firRequired reports
// true otherwise, meaning the caller should request a FIR instead), a
// generic-ACK (only if the newest received SN changed since the last
// report), an extended-NACK grouping MPRTP flow losses, and any
// congestion-control reports the scheduler contributes.
func (m *Manager) OnFeedbackGeneration(compound *CompoundBuilder) (firRequired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pendingLost) > 0 {
		sns := sortedKeys(m.pendingLost)
		if len(sns) > maxGenericNACKSNs {
			firRequired = true
		} else {
			compound.AddStandard(&rtcp.TransportLayerNack{
				SenderSSRC: m.senderSSRC,
				MediaSSRC:  m.mediaSSRC,
				Nacks:      nackPairs(sns),
			})
		}
		m.pendingLost = make(map[uint16]struct{})
	}

	if len(m.pendingExtLost) > 0 {
		losses := make([]FlowLoss, 0, len(m.pendingExtLost))
		for flowID, set := range m.pendingExtLost {
			losses = append(losses, FlowLoss{FlowID: flowID, FSSNs: sortedKeys(set)})
		}
		sort.Slice(losses, func(i, j int) bool { return losses[i].FlowID < losses[j].FlowID })
		compound.AddOpaque(EncodeExtendedNACK(m.senderSSRC, m.mediaSSRC, losses))
		m.pendingExtLost = make(map[uint16]map[uint16]struct{})
	}

	if m.haveNewestReceivedSN && (!m.haveLastReportedSN || m.newestReceivedSN != m.lastReportedSN) {
		compound.AddOpaque(EncodeGenericACK(m.senderSSRC, m.mediaSSRC, m.receivedSNs))
		m.lastReportedSN = m.newestReceivedSN
		m.haveLastReportedSN = true
		m.receivedSNs = nil
	}

	if m.scheduler != nil {
		for _, pkt := range m.scheduler.RetrieveFeedback() {
			compound.AddStandard(pkt)
		}
	}

	return firRequired
}

func sortedKeys(set map[uint16]struct{}) []uint16 {
	out := make([]uint16, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nackPairs packs a sorted slice of missing sequence numbers into RFC 4585
// PID+BLP pairs, splitting a new pair whenever the gap from the current
// pair's base exceeds the 16-bit BLP bitmap's span. Grounded on pion-webrtc's
// receiver NACK interceptor.
func nackPairs(seqNums []uint16) []rtcp.NackPair {
	if len(seqNums) == 0 {
		return nil
	}
	pairs := make([]rtcp.NackPair, 0)
	pair := &rtcp.NackPair{PacketID: seqNums[0]}
	for i := 1; i < len(seqNums); i++ {
		m := seqNums[i]
		if m-pair.PacketID > 16 {
			pairs = append(pairs, *pair)
			pair = &rtcp.NackPair{PacketID: m}
			continue
		}
		pair.LostPackets |= 1 << (m - pair.PacketID - 1)
	}
	pairs = append(pairs, *pair)
	return pairs
}
