package scheduler

import (
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/rtpcore/packet"
)

const (
	nadaDefaultBitrateKbps = 512
	nadaMinBitrateKbps     = 32
	nadaMaxBitrateKbps     = 8000
	nadaPacketSizeBytes    = 1200

	// nadaDelayGradientThreshold is the one-way-delay increase, in
	// seconds, above which the pacer treats the path as congested.
	nadaDelayGradientThreshold = 0.005
	nadaIncreaseStepKbps       = 8
	nadaDecreaseFactor         = 0.85
)

// NadaPacer is a NADA-shaped scheduler: it tracks the trend of the
// one-way-delay estimate carried on incoming RTP packets
// (packet.RtpPacket.OWDSeconds, populated from the rapid-sync extension)
// and backs off the target bitrate when OWD is trending upward, ramping
// back up when it settles. Per the package doc, this is a standard
// delay-gradient congestion-control shape, not a port of any
// original_source/ file.
type NadaPacer struct {
	pacer *ratePacer

	mu          sync.Mutex
	bitrateKbps int
	lastOWD     float64
	haveLastOWD bool
}

// NewNadaPacer builds a NadaPacer sending through sender.
func NewNadaPacer(sender PacketSender) *NadaPacer {
	return &NadaPacer{
		pacer:       newRatePacer(sender, "scheduler.nada", bitrateToGap(nadaDefaultBitrateKbps)),
		bitrateKbps: nadaDefaultBitrateKbps,
	}
}

// CurrentBitrateKbps returns the pacer's current target bitrate.
func (n *NadaPacer) CurrentBitrateKbps() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bitrateKbps
}

func (n *NadaPacer) ScheduleRtpPackets(pkts []*packet.RtpPacket, flowID uint16) {
	n.pacer.enqueue(pkts, flowID)
}

func (n *NadaPacer) ScheduleRtxPacket(pkt *packet.RtpPacket, flowID uint16) {
	n.pacer.enqueue([]*packet.RtpPacket{pkt}, flowID)
}

// OnIncomingRtp feeds the OWD trend: an OWD rise above
// nadaDelayGradientThreshold since the previous sample triggers a
// multiplicative backoff, otherwise the rate ramps up additively.
func (n *NadaPacer) OnIncomingRtp(pkt *packet.RtpPacket, ep net.Addr, ssrcValid bool, rtcpSync bool, pts time.Time) {
	if pkt.OWDSeconds < 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.haveLastOWD {
		gradient := pkt.OWDSeconds - n.lastOWD
		if gradient > nadaDelayGradientThreshold {
			n.bitrateKbps = int(float64(n.bitrateKbps) * nadaDecreaseFactor)
			if n.bitrateKbps < nadaMinBitrateKbps {
				n.bitrateKbps = nadaMinBitrateKbps
			}
		} else {
			n.bitrateKbps += nadaIncreaseStepKbps
			if n.bitrateKbps > nadaMaxBitrateKbps {
				n.bitrateKbps = nadaMaxBitrateKbps
			}
		}
		n.pacer.setRateFromBitrate(float64(n.bitrateKbps)*1000, nadaPacketSizeBytes)
	}
	n.lastOWD = pkt.OWDSeconds
	n.haveLastOWD = true
}

func (n *NadaPacer) OnIncomingRtcp(compound []byte, ep net.Addr) {}

func (n *NadaPacer) ProcessFeedback(fb rtcp.Packet, ep net.Addr) {}

func (n *NadaPacer) RetrieveFeedback() []rtcp.Packet { return nil }

func (n *NadaPacer) Shutdown() { n.pacer.shutdown() }

var _ Scheduler = (*NadaPacer)(nil)
