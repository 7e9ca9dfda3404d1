// Package sourcedb implements the per-session RFC 3550 state: the local
// session's own SSRC/SN/TS/RTX-PT bookkeeping (RtpSessionState) and the
// per-remote-SSRC receiver state (MemberEntry), both owned exclusively by
// the RtpSession that created them (§3 "Ownership summary").
package sourcedb

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/arzzra/rtpcore/rtperrors"
)

// RtpSessionState is the lifecycle-scoped local state of one RTP session:
// SSRC, current sequence number, TS base, payload type, and RTX payload
// type. §3 "RtpSessionState".
type RtpSessionState struct {
	ssrc uint32

	// sequenceNumber is the next sequence number to hand out; accessed
	// atomically so packetize() can be called from a producer thread
	// while the session's event loop reads it for diagnostics.
	sequenceNumber uint32
	tsBase         uint32
	pt             uint8
	rtxPT          uint8

	startMu sync.Mutex
	started bool
}

// NewRtpSessionState creates session-local state with a random SSRC and
// sequence-number/TS base, the defaults used unless overridden before
// Start() (see Override*).
func NewRtpSessionState(pt, rtxPT uint8) (*RtpSessionState, error) {
	ssrc, err := randUint32()
	if err != nil {
		return nil, rtperrors.Wrap(rtperrors.KindInternal, err, "generate SSRC")
	}
	sn, err := randUint32()
	if err != nil {
		return nil, rtperrors.Wrap(rtperrors.KindInternal, err, "generate initial sequence number")
	}
	ts, err := randUint32()
	if err != nil {
		return nil, rtperrors.Wrap(rtperrors.KindInternal, err, "generate initial timestamp")
	}
	return &RtpSessionState{
		ssrc:           ssrc,
		sequenceNumber: sn & 0xFFFF,
		tsBase:         ts,
		pt:             pt,
		rtxPT:          rtxPT,
	}, nil
}

func randUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// MarkStarted freezes override eligibility; OverrideSSRC/OverrideSequenceBase
// return InvalidState once called.
func (s *RtpSessionState) MarkStarted() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.started = true
}

// OverrideSSRC replaces the generated SSRC. Startup only, per §3.
func (s *RtpSessionState) OverrideSSRC(ssrc uint32) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return rtperrors.ErrInvalidState
	}
	s.ssrc = ssrc
	return nil
}

// OverrideSequenceBase replaces the initial sequence number. Startup only.
func (s *RtpSessionState) OverrideSequenceBase(sn uint16) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return rtperrors.ErrInvalidState
	}
	atomic.StoreUint32(&s.sequenceNumber, uint32(sn))
	return nil
}

// OverrideTimestampBase replaces the RTP timestamp base. Startup only.
func (s *RtpSessionState) OverrideTimestampBase(ts uint32) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return rtperrors.ErrInvalidState
	}
	s.tsBase = ts
	return nil
}

// SSRC returns the session's local SSRC.
func (s *RtpSessionState) SSRC() uint32 { return s.ssrc }

// PayloadType returns the configured payload type.
func (s *RtpSessionState) PayloadType() uint8 { return s.pt }

// RTXPayloadType returns the configured RTX payload type.
func (s *RtpSessionState) RTXPayloadType() uint8 { return s.rtxPT }

// TimestampBase returns the starting RTP timestamp.
func (s *RtpSessionState) TimestampBase() uint32 { return s.tsBase }

// NextSequenceNumber atomically hands out the next sequence number and
// advances the counter by one, wrapping modulo 2^16.
func (s *RtpSessionState) NextSequenceNumber() uint16 {
	v := atomic.AddUint32(&s.sequenceNumber, 1) - 1
	return uint16(v)
}

// CurrentSequenceNumber peeks at the next sequence number to be handed out,
// without consuming it.
func (s *RtpSessionState) CurrentSequenceNumber() uint16 {
	return uint16(atomic.LoadUint32(&s.sequenceNumber))
}
