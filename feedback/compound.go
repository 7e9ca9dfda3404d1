// Package feedback implements the §4.5 Feedback Manager: it merges
// per-flow NACK/ACK/congestion-control reports into a compound RTCP
// packet at RTCP-scheduled intervals, with an early-feedback fast path
// gated by RFC 4585's T_rr_interval. Standard packet types (SR/RR/SDES/
// BYE/generic-NACK) are built with pion/rtcp, the library already used
// by the pack's gortsplib and emiago-diago members for RTCP; the
// generic-ACK and MPRTP extended-NACK blocks are non-IANA-registered
// formats the core treats as opaque wire bytes, per §6's note that
// experimental feedback blocks are opaque to the core.
package feedback

import (
	"github.com/pion/rtcp"
)

// rtcpFBPacketType is RFC 4585's Transport/Payload-specific feedback packet
// type (RTPFB); both the generic-ACK and extended-NACK opaque blocks below
// use it with an FMT value drawn from the generic-feedback space.
const rtcpFBPacketType = 205

// CompoundBuilder assembles one compound RTCP packet out of standard
// pion/rtcp packets and opaque experimental blocks, concatenated per RFC
// 3550 §6.1's compound-packet rule.
type CompoundBuilder struct {
	standard []rtcp.Packet
	opaque   [][]byte
}

// AddStandard appends a standard pion/rtcp packet (SR, RR, SDES, BYE,
// TransportLayerNack, ...).
func (c *CompoundBuilder) AddStandard(pkt rtcp.Packet) {
	c.standard = append(c.standard, pkt)
}

// AddOpaque appends a pre-encoded opaque RTCP packet's wire bytes.
func (c *CompoundBuilder) AddOpaque(raw []byte) {
	c.opaque = append(c.opaque, raw)
}

// Empty reports whether nothing has been added yet.
func (c *CompoundBuilder) Empty() bool {
	return len(c.standard) == 0 && len(c.opaque) == 0
}

// Build marshals the standard packets with rtcp.Marshal and appends the
// opaque blocks' raw bytes, producing one compound RTCP packet.
func (c *CompoundBuilder) Build() ([]byte, error) {
	out, err := rtcp.Marshal(c.standard)
	if err != nil {
		return nil, err
	}
	for _, raw := range c.opaque {
		out = append(out, raw...)
	}
	return out, nil
}

// encodeRTCPFBHeader builds a complete RFC 4585 feedback-packet header plus
// payload: version/padding/FMT byte, packet type, 16-bit length-in-words
// field, sender SSRC, media SSRC, then the caller's payload.
func encodeRTCPFBHeader(fmt uint8, senderSSRC, mediaSSRC uint32, payload []byte) []byte {
	total := 12 + len(payload)
	// RTCP length field counts 32-bit words minus one; payload is padded to
	// a 4-byte boundary by the caller when needed.
	lengthWords := (total / 4) - 1

	buf := make([]byte, 12, total)
	buf[0] = (2 << 6) | (fmt & 0x1F)
	buf[1] = rtcpFBPacketType
	buf[2] = byte(lengthWords >> 8)
	buf[3] = byte(lengthWords)
	buf[4] = byte(senderSSRC >> 24)
	buf[5] = byte(senderSSRC >> 16)
	buf[6] = byte(senderSSRC >> 8)
	buf[7] = byte(senderSSRC)
	buf[8] = byte(mediaSSRC >> 24)
	buf[9] = byte(mediaSSRC >> 16)
	buf[10] = byte(mediaSSRC >> 8)
	buf[11] = byte(mediaSSRC)
	buf = append(buf, payload...)
	return buf
}
