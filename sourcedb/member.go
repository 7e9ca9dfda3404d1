package sourcedb

import (
	"sync"
	"time"
)

const (
	rtpSeqMod     = 1 << 16
	maxDropout    = 3000
	maxMisorder   = 100
	minSequential = 2
)

// MemberEntry holds the RFC 3550 Appendix A.3 receiver state for one remote
// SSRC, owned exclusively by the RtpSession that discovered it.
type MemberEntry struct {
	mu sync.Mutex

	SSRC uint32

	baseSeq       uint16
	maxSeq        uint16
	badSeq        uint32
	cycles        uint32
	received      uint64
	expectedPrior uint64
	receivedPrior uint64
	probation     int

	jitter      float64
	lastTransit int64
	haveTransit bool

	// RTCP sender-report correlation, used to fill ReceptionReport's
	// LastSR/DelaySinceLastSR fields.
	lastSRNTPMid     uint32 // middle 32 bits of the sender's NTP timestamp
	lastSRArrival    time.Time
	haveSenderReport bool

	// Degraded marks a member whose send path failed repeatedly within
	// an RTCP interval (§7 propagation policy).
	Degraded bool

	lastActivity time.Time
}

// NewMemberEntry creates a member entry in the RFC 3550 "probationary"
// state, requiring minSequential consecutive in-sequence packets before it
// is considered valid.
func NewMemberEntry(ssrc uint32, firstSeq uint16) *MemberEntry {
	return &MemberEntry{
		SSRC:         ssrc,
		baseSeq:      firstSeq,
		maxSeq:       firstSeq,
		badSeq:       rtpSeqMod + 1,
		probation:    minSequential,
		lastActivity: time.Now(),
	}
}

// Touch records that a packet was just received from this member, for the
// liveness sweep's MAX_TIME_WITHOUT_LIVENESS_SECONDS check.
func (m *MemberEntry) Touch(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = now
}

// LastActivity returns the time Touch was last called.
func (m *MemberEntry) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// UpdateSeq applies RFC 3550 Appendix A.1's update_seq algorithm. It returns
// false for a packet from a bad sequence-number run that should be dropped
// outright (the member is probationary and still resynchronizing).
func (m *MemberEntry) UpdateSeq(seq uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSeqLocked(seq)
}

func (m *MemberEntry) updateSeqLocked(seq uint16) bool {
	udelta := int(seq) - int(m.maxSeq)

	if m.probation > 0 {
		if seq == m.maxSeq+1 {
			m.probation--
			m.maxSeq = seq
			if m.probation == 0 {
				m.initSeqLocked(seq)
				m.received++
				return true
			}
			return true
		}
		m.probation = minSequential - 1
		m.maxSeq = seq
		return false
	}

	switch {
	case udelta > 0 && udelta < maxDropout:
		if seq < m.maxSeq {
			m.cycles += rtpSeqMod
		}
		m.maxSeq = seq
	case udelta <= -maxDropout || (udelta < 0 && -udelta >= rtpSeqMod-maxMisorder):
		// large negative jump wrapped around: treat as new cycle, same as
		// the positive-dropout branch above (RFC 3550 A.1 lumps these).
		if seq < m.maxSeq {
			m.cycles += rtpSeqMod
		}
		m.maxSeq = seq
	case udelta <= 0 && -udelta <= rtpSeqMod-maxMisorder:
		if uint32(seq) == m.badSeq {
			m.initSeqLocked(seq)
		} else {
			m.badSeq = (uint32(seq) + 1) & (rtpSeqMod - 1)
			return false
		}
	default:
		// duplicate or reordered within the misorder window; accept but
		// don't advance max_seq.
	}

	m.received++
	return true
}

func (m *MemberEntry) initSeqLocked(seq uint16) {
	m.baseSeq = seq
	m.maxSeq = seq
	m.badSeq = rtpSeqMod + 1
	m.cycles = 0
	m.received = 0
	m.receivedPrior = 0
	m.expectedPrior = 0
}

// ExtendedMaxSeq returns the 32-bit extended highest sequence number
// received (cycles<<16 | max_seq), the field RTCP reception reports carry.
func (m *MemberEntry) ExtendedMaxSeq() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles | uint32(m.maxSeq)
}

// Expected returns the number of packets expected so far, per A.3.
func (m *MemberEntry) Expected() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectedLocked()
}

func (m *MemberEntry) expectedLocked() uint64 {
	extMax := uint64(m.cycles) + uint64(m.maxSeq)
	extBase := uint64(m.baseSeq)
	return extMax - extBase + 1
}

// CumulativeLost returns expected - received, clamped to 0.
func (m *MemberEntry) CumulativeLost() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	expected := m.expectedLocked()
	if expected < m.received {
		return 0
	}
	return expected - m.received
}

// FractionLost computes the RFC 3550 A.3 interval fraction-lost byte
// (0..255 representing lost/expected over [256]) and resets the interval
// counters, matching "since last report" semantics.
func (m *MemberEntry) FractionLost() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	expected := m.expectedLocked()
	expectedInterval := expected - m.expectedPrior
	m.expectedPrior = expected
	receivedInterval := m.received - m.receivedPrior
	m.receivedPrior = m.received

	lostInterval := int64(expectedInterval) - int64(receivedInterval)
	if expectedInterval == 0 || lostInterval <= 0 {
		return 0
	}
	fraction := (lostInterval << 8) / int64(expectedInterval)
	if fraction > 255 {
		fraction = 255
	}
	return uint8(fraction)
}

// UpdateJitter applies RFC 3550 Appendix A.8's running jitter estimate.
// arrivalTicks and rtpTimestamp must be in the same units (RTP clock
// ticks); the caller converts wall-clock arrival time using the stream's
// clock rate before calling.
func (m *MemberEntry) UpdateJitter(arrivalTicks int64, rtpTimestamp uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	transit := arrivalTicks - int64(rtpTimestamp)
	if m.haveTransit {
		d := transit - m.lastTransit
		if d < 0 {
			d = -d
		}
		m.jitter += (float64(d) - m.jitter) / 16
	}
	m.lastTransit = transit
	m.haveTransit = true
}

// Jitter returns the current interarrival jitter estimate, in RTP clock
// ticks, per A.8.
func (m *MemberEntry) Jitter() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jitter
}

// RecordSenderReport stores the correlation data from an incoming SR needed
// to fill LastSR/DelaySinceLastSR in the next receiver report.
func (m *MemberEntry) RecordSenderReport(ntpTimestamp uint64, arrival time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSRNTPMid = uint32(ntpTimestamp >> 16)
	m.lastSRArrival = arrival
	m.haveSenderReport = true
}

// LastSRAndDelay returns the LSR/DLSR fields for a receiver report, or
// (0, 0, false) if no SR has been received yet.
func (m *MemberEntry) LastSRAndDelay(now time.Time) (lsr uint32, delay uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveSenderReport {
		return 0, 0, false
	}
	d := now.Sub(m.lastSRArrival).Seconds()
	if d < 0 {
		d = 0
	}
	return m.lastSRNTPMid, uint32(d * 65536), true
}

// SetDegraded marks/clears the degraded flag used by the §7 propagation
// policy for repeated per-packet send failures within an RTCP interval.
func (m *MemberEntry) SetDegraded(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Degraded = v
}
