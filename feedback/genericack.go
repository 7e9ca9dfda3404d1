package feedback

// genericACKFMT is the FMT value this implementation uses for generic-ACK
// reports within RFC 4585's generic-feedback FMT space. It is not an IANA
// registration; the core only needs senders and receivers of the same
// rtpcore build to agree on it.
const genericACKFMT uint8 = 99

// maxGenericACKSNs caps a single generic-ACK report at 17 sequence
// numbers, per §4.4/§8.
const maxGenericACKSNs = 17

// EncodeGenericACK builds an opaque RTCP packet listing up to
// maxGenericACKSNs acknowledged sequence numbers. Entries beyond the cap
// are silently dropped here: only the first maxGenericACKSNs are encoded.
func EncodeGenericACK(senderSSRC, mediaSSRC uint32, sns []uint16) []byte {
	if len(sns) > maxGenericACKSNs {
		sns = sns[:maxGenericACKSNs]
	}

	payload := make([]byte, 2+len(sns)*2)
	payload[0] = byte(len(sns) >> 8)
	payload[1] = byte(len(sns))
	for i, sn := range sns {
		payload[2+i*2] = byte(sn >> 8)
		payload[2+i*2+1] = byte(sn)
	}
	if len(payload)%4 != 0 {
		payload = append(payload, make([]byte, 4-len(payload)%4)...)
	}

	return encodeRTCPFBHeader(genericACKFMT, senderSSRC, mediaSSRC, payload)
}

// DecodeGenericACK extracts the acknowledged sequence numbers from an
// opaque generic-ACK packet's 12-byte-header-stripped payload.
func DecodeGenericACK(payload []byte) []uint16 {
	if len(payload) < 2 {
		return nil
	}
	count := int(payload[0])<<8 | int(payload[1])
	out := make([]uint16, 0, count)
	for i := 0; i < count && 2+i*2+1 < len(payload); i++ {
		sn := uint16(payload[2+i*2])<<8 | uint16(payload[2+i*2+1])
		out = append(out, sn)
	}
	return out
}
