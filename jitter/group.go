// Package jitter implements the playout scheduler: RtpPacketGroup and the
// two reference jitter-buffer algorithms from §4.2 (the preferred "V2"
// implementation, grounded on rtp++'s RtpJitterBufferV2, and a Simple
// one-packet-per-group variant for payload formats that never bundle
// multiple packets per RTP timestamp).
package jitter

import (
	"time"

	"github.com/arzzra/rtpcore/packet"
)

// RtpPacketGroup collects every RTP packet sharing one RTP timestamp, per
// §3 "RtpPacketGroup".
type RtpPacketGroup struct {
	RTPTimestamp      uint32
	PresentationTime  time.Time
	RTCPSynchronised  bool
	PlayoutTime       time.Time

	bySeqNum map[uint16]*packet.RtpPacket
	order    []uint16
}

// NewRtpPacketGroup creates a group anchored on the first packet to arrive
// for a given RTP timestamp.
func NewRtpPacketGroup(rtpTS uint32, presentation time.Time, rtcpSync bool, playout time.Time) *RtpPacketGroup {
	return &RtpPacketGroup{
		RTPTimestamp:     rtpTS,
		PresentationTime: presentation,
		RTCPSynchronised: rtcpSync,
		PlayoutTime:      playout,
		bySeqNum:         make(map[uint16]*packet.RtpPacket),
	}
}

// Insert adds pkt to the group, keyed by sequence number. It returns false
// (and leaves the group unchanged) if a packet with the same SN is already
// present — the duplicate-SN invariant from §3.
func (g *RtpPacketGroup) Insert(pkt *packet.RtpPacket) bool {
	sn := pkt.Header.SequenceNumber
	if _, exists := g.bySeqNum[sn]; exists {
		return false
	}
	g.bySeqNum[sn] = pkt
	g.order = append(g.order, sn)
	return true
}

// Packets returns the group's packets in insertion order.
func (g *RtpPacketGroup) Packets() []*packet.RtpPacket {
	out := make([]*packet.RtpPacket, 0, len(g.order))
	for _, sn := range g.order {
		out = append(out, g.bySeqNum[sn])
	}
	return out
}

// Len reports how many packets are in the group.
func (g *RtpPacketGroup) Len() int { return len(g.order) }
