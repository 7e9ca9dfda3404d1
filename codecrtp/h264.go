package codecrtp

import (
	"github.com/arzzra/rtpcore/rtperrors"
)

// H.264 NALU types relevant to fragmentation (RFC 6184 §5.2), grounded on
// gortsplib's rtph264 nalutype constants.
const (
	naluTypeStapA uint8 = 24
	naluTypeFuA   uint8 = 28
)

// H264Packetizer fragments one NALU-per-sample into RTP/H.264 payloads
// using FU-A (RFC 6184 §5.8), matching gortsplib's writeFragmented/
// writeSingle split logic. Aggregation (STAP-A) is used only when a
// caller explicitly hands PacketizeAggregated multiple small NALUs.
type H264Packetizer struct{}

// Packetize implements Packetizer. A NALU no larger than mtu is emitted as a
// single RTP payload unchanged; a larger one is split into FU-A fragments.
func (H264Packetizer) Packetize(nalu []byte, mtu int) ([]Fragment, error) {
	if len(nalu) == 0 {
		return nil, rtperrors.New(rtperrors.KindProtocolError, "empty NALU")
	}
	if len(nalu) <= mtu {
		return []Fragment{{Payload: nalu, Marker: true}}, nil
	}
	return fragmentFUA(nalu, mtu), nil
}

// fragmentFUA splits nalu into FU-A packets, following the exact
// packet-count formula gortsplib's encoder uses: one header byte is
// stripped from the NALU and each fragment carries a 2-byte FU indicator
// + header prefix within the mtu budget.
func fragmentFUA(nalu []byte, mtu int) []Fragment {
	fuPayloadMax := mtu - 2
	packetCount := (len(nalu) - 1) / fuPayloadMax
	lastSize := (len(nalu) - 1) % fuPayloadMax
	if lastSize > 0 {
		packetCount++
	}

	nri := (nalu[0] >> 5) & 0x03
	typ := nalu[0] & 0x1F
	body := nalu[1:]

	out := make([]Fragment, packetCount)
	for i := range out {
		indicator := (nri << 5) | naluTypeFuA

		var start, end uint8
		if i == 0 {
			start = 1
		}
		size := fuPayloadMax
		if i == packetCount-1 {
			end = 1
			size = lastSize
		}
		header := (start << 7) | (end << 6) | typ

		data := make([]byte, 2+size)
		data[0] = indicator
		data[1] = header
		copy(data[2:], body[:size])
		body = body[size:]

		out[i] = Fragment{Payload: data, Marker: i == packetCount-1}
	}
	return out
}

// PacketizeAggregated combines several small NALUs into one STAP-A payload
// (RFC 6184 §5.7.1), used when a sample bundles multiple NALUs that each
// fit well under the MTU.
func (H264Packetizer) PacketizeAggregated(nalus [][]byte) (Fragment, error) {
	if len(nalus) == 0 {
		return Fragment{}, rtperrors.New(rtperrors.KindProtocolError, "no NALUs to aggregate")
	}
	size := 1
	for _, n := range nalus {
		size += 2 + len(n)
	}
	payload := make([]byte, size)
	payload[0] = naluTypeStapA
	pos := 1
	for _, n := range nalus {
		payload[pos] = byte(len(n) >> 8)
		payload[pos+1] = byte(len(n))
		pos += 2
		copy(payload[pos:], n)
		pos += len(n)
	}
	return Fragment{Payload: payload, Marker: true}, nil
}

// H264Depacketizer reassembles FU-A fragments (or passes through a single
// unfragmented NALU) back into one NALU.
type H264Depacketizer struct{}

// Depacketize implements Depacketizer.
func (H264Depacketizer) Depacketize(payloads [][]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, rtperrors.New(rtperrors.KindProtocolError, "no payloads to depacketize")
	}
	if len(payloads) == 1 && len(payloads[0]) > 0 && payloads[0][0]&0x1F != naluTypeFuA {
		return payloads[0], nil
	}

	first := payloads[0]
	if len(first) < 2 {
		return nil, rtperrors.Wrap(rtperrors.KindProtocolError, rtperrors.ErrMalformedRTP, "short FU-A fragment")
	}
	indicator := first[0]
	header := first[1]
	nri := (indicator >> 5) & 0x03
	typ := header & 0x1F

	nalu := []byte{(nri << 5) | typ}
	for _, p := range payloads {
		if len(p) < 2 {
			return nil, rtperrors.Wrap(rtperrors.KindProtocolError, rtperrors.ErrMalformedRTP, "short FU-A fragment")
		}
		nalu = append(nalu, p[2:]...)
	}
	return nalu, nil
}
