package jitter

import (
	"sync"
	"time"

	"github.com/arzzra/rtpcore/packet"
)

// SimpleBuffer is the one-packet-per-group jitter buffer variant for payload
// formats that never bundle multiple RTP packets under one timestamp (e.g.
// most audio codecs). It schedules playout on a fixed delay from arrival
// and never reorders across distinct RTP timestamps.
type SimpleBuffer struct {
	mu sync.Mutex

	bufLatency time.Duration
	now        func() time.Time

	pending []*RtpPacketGroup

	totalPackets uint64
	totalLate    uint64
}

// NewSimpleBuffer creates a Simple jitter buffer with the given fixed
// playout latency.
func NewSimpleBuffer(latency time.Duration, now func() time.Time) *SimpleBuffer {
	if now == nil {
		now = time.Now
	}
	return &SimpleBuffer{bufLatency: latency, now: now}
}

// AddPacket schedules pkt for playout at arrival+latency, ordered by
// arrival. Each packet forms its own group, keyed by its own RTP
// timestamp — a second packet sharing a timestamp with one already pending
// is rejected as a duplicate.
func (b *SimpleBuffer) AddPacket(pkt *packet.RtpPacket) (accepted bool, duplicate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalPackets++

	rtpTS := pkt.Header.Timestamp
	for _, g := range b.pending {
		if g.RTPTimestamp == rtpTS {
			return false, true
		}
	}

	now := b.now()
	playout := now.Add(b.bufLatency)
	g := NewRtpPacketGroup(rtpTS, now, false, playout)
	g.Insert(pkt)
	b.pending = append(b.pending, g)
	return true, false
}

// NextPlayoutGroup pops the earliest-arrived group, or returns false if
// empty.
func (b *SimpleBuffer) NextPlayoutGroup() (*RtpPacketGroup, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil, false
	}
	g := b.pending[0]
	b.pending = b.pending[1:]
	return g, true
}

// Stats returns the running totals used for teardown statistics.
func (b *SimpleBuffer) Stats() (total, late uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalPackets, b.totalLate
}
