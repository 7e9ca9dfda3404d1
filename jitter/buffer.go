package jitter

import (
	"sync"
	"time"

	"github.com/arzzra/rtpcore/packet"
)

const recentHistorySize = 150

// Buffer implements the "V2" jitter buffer / playout scheduler of §4.2: a
// presentation-time-ordered queue of RtpPacketGroup, anchored on the first
// packet's arrival time and corrected for RTCP resync via the R_diff_ms
// offset.
type Buffer struct {
	mu sync.Mutex

	clockFreq     uint32
	bufLatency    time.Duration
	now           func() time.Time

	haveFirst     bool
	t0            time.Time // arrival time of the first packet ever accepted
	p0            time.Time // presentation time of the first packet ever accepted
	r0            uint32    // RTP timestamp of the first packet ever accepted

	rtcpSync      bool
	pSync         time.Time // presentation time of the packet that triggered sync
	rDiffMillis   float64

	playoutList   []*RtpPacketGroup
	recentHistory []*RtpPacketGroup
	historyHead   int
	historyFull   bool

	totalPackets    uint64
	totalLate       uint64
	totalDuplicates uint64
}

// Config configures a Buffer.
type Config struct {
	ClockRate      uint32
	PlayoutLatency time.Duration
	// Now overrides time.Now, for deterministic tests.
	Now func() time.Time
}

// New creates a V2 jitter buffer.
func New(cfg Config) *Buffer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		clockFreq:     cfg.ClockRate,
		bufLatency:    cfg.PlayoutLatency,
		now:           now,
		recentHistory: make([]*RtpPacketGroup, recentHistorySize),
	}
}

// AddPacket implements §4.2's add_packet contract: it returns whether the
// packet triggered acceptance of a (possibly new) group, how many
// milliseconds late it was if discarded, and whether it was a duplicate
// within its group.
func (b *Buffer) AddPacket(pkt *packet.RtpPacket, presentationTime time.Time, rtcpSynchronised bool) (accepted bool, lateMs uint32, duplicate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalPackets++

	rtpTS := pkt.Header.Timestamp

	// existing in-flight group for this RTP TS?
	for _, g := range b.playoutList {
		if g.RTPTimestamp == rtpTS {
			if !g.Insert(pkt) {
				b.totalDuplicates++
				duplicate = true
			}
			return false, 0, duplicate
		}
	}

	// already played and in recent history -> late
	if g := b.findInHistory(rtpTS); g != nil {
		now := b.now()
		lateMs = durationMillis(now.Sub(g.PlayoutTime))
		b.totalLate++
		if !g.Insert(pkt) {
			b.totalDuplicates++
			duplicate = true
		}
		return false, lateMs, duplicate
	}

	playoutTime := b.calculatePlayoutTime(rtpTS, presentationTime, rtcpSynchronised)

	now := b.now()
	if playoutTime.Before(now) {
		lateMs = durationMillis(now.Sub(playoutTime))
		b.totalLate++
		return false, lateMs, false
	}

	group := NewRtpPacketGroup(rtpTS, presentationTime, rtcpSynchronised, playoutTime)
	group.Insert(pkt)
	b.insertByPresentationTime(group)
	return true, 0, false
}

// calculatePlayoutTime implements the anchor/offset algorithm of §4.2.
func (b *Buffer) calculatePlayoutTime(rtpTS uint32, presentation time.Time, rtcpSynchronised bool) time.Time {
	if !b.rtcpSync && rtcpSynchronised {
		b.rtcpSync = true
		b.pSync = presentation
		if !b.haveFirst {
			b.r0 = rtpTS
		}
		b.rDiffMillis = packet.RTPTimestampDeltaMillis(rtpTS, b.r0, b.clockFreq)
	}

	if !b.haveFirst {
		b.haveFirst = true
		b.t0 = b.now()
		b.p0 = presentation
		b.r0 = rtpTS
		return b.t0.Add(b.bufLatency)
	}

	if !b.rtcpSync {
		return b.t0.Add(presentation.Sub(b.p0)).Add(b.bufLatency)
	}

	offset := time.Duration(b.rDiffMillis) * time.Millisecond
	return b.t0.Add(presentation.Sub(b.pSync)).Add(b.bufLatency).Add(offset)
}

func (b *Buffer) findInHistory(rtpTS uint32) *RtpPacketGroup {
	limit := recentHistorySize
	if !b.historyFull {
		limit = b.historyHead
	}
	for i := 0; i < limit; i++ {
		idx := (b.historyHead - 1 - i + recentHistorySize) % recentHistorySize
		if g := b.recentHistory[idx]; g != nil && g.RTPTimestamp == rtpTS {
			return g
		}
	}
	return nil
}

func (b *Buffer) pushHistory(g *RtpPacketGroup) {
	b.recentHistory[b.historyHead] = g
	b.historyHead = (b.historyHead + 1) % recentHistorySize
	if b.historyHead == 0 {
		b.historyFull = true
	}
}

// insertByPresentationTime performs the reverse-search + insert-after used
// by the original implementation to keep the playout list ordered.
func (b *Buffer) insertByPresentationTime(g *RtpPacketGroup) {
	i := len(b.playoutList)
	for i > 0 && !b.playoutList[i-1].PresentationTime.Before(g.PresentationTime) {
		i--
	}
	b.playoutList = append(b.playoutList, nil)
	copy(b.playoutList[i+1:], b.playoutList[i:])
	b.playoutList[i] = g
}

// NextPlayoutGroup pops the earliest-scheduled group and records it in the
// recent-history ring for late-packet classification. It returns false if
// the buffer is empty.
func (b *Buffer) NextPlayoutGroup() (*RtpPacketGroup, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.playoutList) == 0 {
		return nil, false
	}
	g := b.playoutList[0]
	b.playoutList = b.playoutList[1:]
	b.pushHistory(g)
	return g, true
}

// Stats returns the running totals used for teardown statistics.
func (b *Buffer) Stats() (total, late, duplicates uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalPackets, b.totalLate, b.totalDuplicates
}

func durationMillis(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	return uint32(d.Milliseconds())
}
