// Package codecrtp provides reference, payload-format-aware Packetizer and
// Depacketizer implementations. The core only depends on the narrow
// interface below — concrete codec packetization is deliberately out of
// scope per §1 — but an H.264 reference implementation is included,
// grounded on gortsplib's pkg/rtph264 encoder/decoder, the pack's only
// example of a complete RFC 6184 implementation.
package codecrtp

// Fragment is one RTP payload produced from a media sample, along with
// whether the marker bit should be set (true on the last fragment of a
// sample). RtpSession.packetize stamps SN/TS/SSRC/PT on top of this.
type Fragment struct {
	Payload []byte
	Marker  bool
}

// Packetizer fragments a single time-stamped media sample into one or more
// RTP payloads, per §4.1's packetize delegation.
type Packetizer interface {
	Packetize(sample []byte, mtu int) ([]Fragment, error)
}

// Depacketizer reassembles the RTP payloads of one RtpPacketGroup back into
// a media sample, per §4.1's depacketize delegation.
type Depacketizer interface {
	Depacketize(payloads [][]byte) ([]byte, error)
}
