// Package scheduler defines the §4.7 pluggable pacing contract and a
// handful of reference implementations: a pass-through base scheduler,
// an ACK-based credit pacer, and AIMD/delay-gradient pacers in the shape
// of SCReAM and NADA. The core imposes only the contract (§1's "pluggable
// congestion-controlled pacing schedulers" framing); concrete rate-control
// laws are out of scope for the original rtp++ library too — its
// experimental/Scream.cpp is a feature-detection stub, not a rate-control
// implementation — so the AIMD/delay-gradient shapes here are standard,
// textbook congestion-control behavior for those two named scheduler
// kinds, not a port of anything in original_source/.
package scheduler

import (
	"net"
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/rtpcore/packet"
)

// PacketSender is the narrow slice of RtpSession a scheduler needs to
// actually place a packet on the wire once it decides the packet may be
// sent, per §4.7's "delivering them to the RtpSession".
type PacketSender interface {
	SendNow(pkt *packet.RtpPacket, flowID uint16) error
}

// CooperativeCodec is the optional back-reference a scheduler may use to
// ask the media encoder to change its target bitrate, per §4.7.
type CooperativeCodec interface {
	SetBitrateKbps(kbps int)
}

// Scheduler is the §4.7 plug-in contract every pacing strategy implements.
type Scheduler interface {
	// ScheduleRtpPackets accepts freshly packetized RTP packets bound for
	// flowID and decides when (and whether, subject to pacing) to hand
	// them to the PacketSender.
	ScheduleRtpPackets(pkts []*packet.RtpPacket, flowID uint16)
	// ScheduleRtxPacket accepts one retransmission packet for pacing.
	ScheduleRtxPacket(pkt *packet.RtpPacket, flowID uint16)
	// OnIncomingRtp notifies the scheduler of a received RTP packet, for
	// congestion-signal extraction (e.g. OWD trend, loss rate).
	OnIncomingRtp(pkt *packet.RtpPacket, ep net.Addr, ssrcValid bool, rtcpSync bool, pts time.Time)
	// OnIncomingRtcp notifies the scheduler of a received compound RTCP
	// packet, before RtpSession re-enters its own RTCP processing.
	OnIncomingRtcp(compound []byte, ep net.Addr)
	// ProcessFeedback delivers one decoded feedback packet (NACK, REMB,
	// or an experimental block the caller has already decoded) to the
	// scheduler's rate-control law.
	ProcessFeedback(fb rtcp.Packet, ep net.Addr)
	// RetrieveFeedback returns congestion-control reports to append to the
	// next outgoing compound RTCP packet, per §4.5.
	RetrieveFeedback() []rtcp.Packet
	// Shutdown cancels all scheduler timers and releases resources.
	Shutdown()
}
