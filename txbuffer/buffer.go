// Package txbuffer implements the §4.4 Transmission Manager: a bounded
// store of recently sent RTP packets indexed by sequence number, serving
// NACK-driven retransmission and RFC 4588 RTX packet synthesis, grounded
// on the map-keyed sent-packet buffer pattern common to the pack's
// reliability-layer implementations (e.g. AetherFlow's SendBuffer) and
// livekit's rtpstats_sender interval-stats accounting.
package txbuffer

import (
	"sync"
	"time"

	"github.com/arzzra/rtpcore/packet"
	"github.com/arzzra/rtpcore/rtperrors"
)

// EvictionMode selects how entries leave the transmission buffer, per
// §4.4.
type EvictionMode int

const (
	// EvictionCircular evicts the oldest entry on overflow past Capacity.
	EvictionCircular EvictionMode = iota
	// EvictionNACKTimed evicts entries after RtxTime elapses.
	EvictionNACKTimed
	// EvictionACK evicts entries on receipt of a generic-ACK covering
	// their SN.
	EvictionACK
)

// TxBufferEntry mirrors §3's TxBufferEntry: the sent packet, when it was
// sent, which flow it went out on, how many NACKs it has absorbed, and
// whether a generic-ACK has confirmed delivery.
type TxBufferEntry struct {
	RtpPacket    *packet.RtpPacket
	SentAt       time.Time
	FlowID       uint16
	NackCount    int
	Acknowledged bool

	rtxPending bool
}

// Config configures a TransmissionManager.
type Config struct {
	Mode     EvictionMode
	Capacity int           // used by EvictionCircular
	RtxTime  time.Duration // used by EvictionNACKTimed, from SDP a=rtx-time
	RtxPT    uint8
	Now      func() time.Time
}

// TransmissionManager holds sent packets indexed by sequence number and
// services NACK-driven retransmission, per §4.4.
type TransmissionManager struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	entries map[uint16]*TxBufferEntry
	order   []uint16 // insertion order, for circular eviction

	// fssnIndex supports lookup_sequence_number: reverse index from
	// (flow id, FSSN) to the continuous SN assigned at send time.
	fssnIndex map[flowFSSNKey]uint16

	recentReceivedSNs []uint16 // ring feeding get_last_n_received_sns

	nextRtxSN uint16
}

type flowFSSNKey struct {
	flowID uint16
	fssn   uint16
}

// New creates a TransmissionManager.
func New(cfg Config) *TransmissionManager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TransmissionManager{
		cfg:       cfg,
		now:       now,
		entries:   make(map[uint16]*TxBufferEntry),
		fssnIndex: make(map[flowFSSNKey]uint16),
	}
}

// RecordSent stores a just-sent packet, evicting per the configured mode if
// necessary.
func (tm *TransmissionManager) RecordSent(sn uint16, pkt *packet.RtpPacket, flowID uint16, fssn uint16, hasFSSN bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.entries[sn] = &TxBufferEntry{
		RtpPacket: pkt,
		SentAt:    tm.now(),
		FlowID:    flowID,
	}
	tm.order = append(tm.order, sn)
	if hasFSSN {
		tm.fssnIndex[flowFSSNKey{flowID, fssn}] = sn
	}

	if tm.cfg.Mode == EvictionCircular && tm.cfg.Capacity > 0 {
		for len(tm.order) > tm.cfg.Capacity {
			evict := tm.order[0]
			tm.order = tm.order[1:]
			tm.removeLocked(evict)
		}
	}
}

// RecordReceived appends sn to the recent-received ring used by
// GetLastNReceivedSNs, capped at 64 entries (a few times the 17-entry
// generic-ACK limit) so callers can request smaller windows too.
func (tm *TransmissionManager) RecordReceived(sn uint16) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	const maxRing = 64
	tm.recentReceivedSNs = append(tm.recentReceivedSNs, sn)
	if len(tm.recentReceivedSNs) > maxRing {
		tm.recentReceivedSNs = tm.recentReceivedSNs[len(tm.recentReceivedSNs)-maxRing:]
	}
}

// GetLastNReceivedSNs returns up to n of the most recently received
// sequence numbers, feeding generic-ACK feedback (capped at 17 per report
// by the feedback layer, not here).
func (tm *TransmissionManager) GetLastNReceivedSNs(n int) []uint16 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if n > len(tm.recentReceivedSNs) {
		n = len(tm.recentReceivedSNs)
	}
	out := make([]uint16, n)
	copy(out, tm.recentReceivedSNs[len(tm.recentReceivedSNs)-n:])
	return out
}

// AckSN marks sn acknowledged and, under EvictionACK, removes it.
func (tm *TransmissionManager) AckSN(sn uint16) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	e, ok := tm.entries[sn]
	if !ok {
		return
	}
	e.Acknowledged = true
	if tm.cfg.Mode == EvictionACK {
		tm.removeLocked(sn)
	}
}

// NackSN records that sn was NACKed, incrementing its nack count. It
// returns the entry, or nil if sn is no longer buffered.
func (tm *TransmissionManager) NackSN(sn uint16) *TxBufferEntry {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	e, ok := tm.entries[sn]
	if !ok {
		return nil
	}
	e.NackCount++
	return e
}

// EvictExpired drops EvictionNACKTimed entries older than cfg.RtxTime.
func (tm *TransmissionManager) EvictExpired() {
	if tm.cfg.Mode != EvictionNACKTimed {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := tm.now()
	remaining := tm.order[:0]
	for _, sn := range tm.order {
		e, ok := tm.entries[sn]
		if !ok {
			continue
		}
		if now.Sub(e.SentAt) >= tm.cfg.RtxTime {
			tm.removeLocked(sn)
			continue
		}
		remaining = append(remaining, sn)
	}
	tm.order = remaining
}

func (tm *TransmissionManager) removeLocked(sn uint16) {
	delete(tm.entries, sn)
	for k, v := range tm.fssnIndex {
		if v == sn {
			delete(tm.fssnIndex, k)
		}
	}
}

// LookupSequenceNumber is the reverse index used by extended NACKs:
// (flow id, FSSN) → continuous SN.
func (tm *TransmissionManager) LookupSequenceNumber(flowID uint16, fssn uint16) (uint16, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	sn, ok := tm.fssnIndex[flowFSSNKey{flowID, fssn}]
	return sn, ok
}

// Lookup returns the buffered entry for sn, if any.
func (tm *TransmissionManager) Lookup(sn uint16) (*TxBufferEntry, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	e, ok := tm.entries[sn]
	return e, ok
}

// Len reports how many entries are currently buffered.
func (tm *TransmissionManager) Len() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.entries)
}

// GenerateRetransmissionPacket implements §4.4's generate_retransmission_packet:
// it wraps the original payload with a 2-byte big-endian original-SN prefix
// (RFC 4588), sets the RTX payload type, and stamps a new continuous SN.
// It enforces the at-most-once-concurrent-RTX-per-SN invariant: a second
// call for the same SN while the first RTX is still pending returns
// ErrTxBufferFull instead of creating a second wrapper.
func (tm *TransmissionManager) GenerateRetransmissionPacket(sn uint16) (*packet.RtpPacket, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	e, ok := tm.entries[sn]
	if !ok {
		return nil, rtperrors.Wrap(rtperrors.KindProtocolError, rtperrors.ErrUnknownRTXPayload, "sn not in transmission buffer")
	}
	if e.rtxPending {
		return nil, rtperrors.Wrap(rtperrors.KindExhausted, rtperrors.ErrTxBufferFull, "rtx already pending for sn")
	}

	orig := e.RtpPacket
	wrapped := make([]byte, 2+len(orig.Payload))
	wrapped[0] = byte(sn >> 8)
	wrapped[1] = byte(sn)
	copy(wrapped[2:], orig.Payload)

	rtxHdr := *orig.Header
	rtxHdr.PayloadType = tm.cfg.RtxPT
	rtxHdr.SequenceNumber = tm.nextRtxSN
	tm.nextRtxSN++

	e.rtxPending = true

	rtxPkt := packet.NewOutgoing(&rtxHdr, wrapped)
	rtxPkt.SetRTXOriginalSN(sn)
	return rtxPkt, nil
}

// ProcessRetransmission implements §4.4's process_retransmission: the
// inverse of GenerateRetransmissionPacket. It strips the 2-byte original-SN
// prefix and restores the original payload type, clearing the
// rtx-pending flag on the originating entry if still present.
func (tm *TransmissionManager) ProcessRetransmission(rtxPkt *packet.RtpPacket, originalPT uint8) (*packet.RtpPacket, error) {
	if len(rtxPkt.Payload) < 2 {
		return nil, rtperrors.Wrap(rtperrors.KindProtocolError, rtperrors.ErrMalformedRTP, "rtx payload too short for original-SN prefix")
	}

	originalSN := uint16(rtxPkt.Payload[0])<<8 | uint16(rtxPkt.Payload[1])
	originalPayload := make([]byte, len(rtxPkt.Payload)-2)
	copy(originalPayload, rtxPkt.Payload[2:])

	origHdr := *rtxPkt.Header
	origHdr.SequenceNumber = originalSN
	origHdr.PayloadType = originalPT

	tm.mu.Lock()
	if e, ok := tm.entries[originalSN]; ok {
		e.rtxPending = false
	}
	tm.mu.Unlock()

	return packet.NewOutgoing(&origHdr, originalPayload), nil
}
