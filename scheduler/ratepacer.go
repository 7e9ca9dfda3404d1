package scheduler

import (
	"sync"
	"time"

	"github.com/arzzra/rtpcore/packet"
)

// ratePacer is the shared send-side queue the rate-controlled schedulers
// (ScreamPacer, NadaPacer, AckPacer) build on: packets accumulate in a
// FIFO and a single timer, rearmed after every send, releases one packet
// every interPacketGap. The timer abstraction mirrors
// lossdetect.MovingAverage's afterFunc injection so tests can drive it
// without a real goroutine sleeping.
type ratePacer struct {
	mu sync.Mutex

	sender PacketSender
	log    zerologLogger

	afterFunc func(d time.Duration, f func()) stoppableTimer
	timer     stoppableTimer
	running   bool

	interPacketGap time.Duration

	queue []queuedPacket
}

type queuedPacket struct {
	pkt    *packet.RtpPacket
	flowID uint16
}

// newRatePacer builds a ratePacer sending through sender at the given
// initial pacing interval (derived from a starting bitrate estimate by the
// caller).
func newRatePacer(sender PacketSender, name string, initialGap time.Duration) *ratePacer {
	p := &ratePacer{
		sender:         sender,
		log:            rtplogAdapter{name: name},
		interPacketGap: initialGap,
	}
	p.afterFunc = func(d time.Duration, f func()) stoppableTimer {
		return time.AfterFunc(d, f)
	}
	return p
}

// setRateFromBitrate updates the pacing interval computed from a new target bitrate,
// in bits per second, given the caller's nominal packet size in bytes.
func (p *ratePacer) setRateFromBitrate(bitsPerSecond float64, packetSizeBytes int) {
	if bitsPerSecond <= 0 || packetSizeBytes <= 0 {
		return
	}
	packetsPerSecond := bitsPerSecond / float64(packetSizeBytes*8)
	if packetsPerSecond <= 0 {
		return
	}
	p.mu.Lock()
	p.interPacketGap = time.Duration(float64(time.Second) / packetsPerSecond)
	p.mu.Unlock()
}

// enqueue appends pkts to the pacing queue and starts the release timer if
// it isn't already running.
func (p *ratePacer) enqueue(pkts []*packet.RtpPacket, flowID uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pkt := range pkts {
		p.queue = append(p.queue, queuedPacket{pkt: pkt, flowID: flowID})
	}
	p.armLocked()
}

func (p *ratePacer) armLocked() {
	if p.running || len(p.queue) == 0 {
		return
	}
	p.running = true
	p.timer = p.afterFunc(p.interPacketGap, p.release)
}

func (p *ratePacer) release() {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.running = false
		p.mu.Unlock()
		return
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	gap := p.interPacketGap
	more := len(p.queue) > 0
	if more {
		p.timer = p.afterFunc(gap, p.release)
	} else {
		p.running = false
	}
	p.mu.Unlock()

	if err := p.sender.SendNow(next.pkt, next.flowID); err != nil {
		p.log.Warn(err, "rate pacer: send failed")
	}
}

// shutdown stops the release timer and drops any queued packets.
func (p *ratePacer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.running = false
	p.queue = nil
}

// queueLen reports the number of packets currently pending release.
func (p *ratePacer) queueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
