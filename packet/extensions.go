package packet

import (
	"encoding/binary"
	"fmt"
)

// EncodeRapidSync builds the RFC 6051 rapid-sync extension payload: a
// 64-bit NTP timestamp (MSW‖LSW), big-endian.
func EncodeRapidSync(senderNTP uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, senderNTP)
	return buf
}

// DecodeRapidSync parses a rapid-sync extension payload back into the
// sender's NTP timestamp.
func DecodeRapidSync(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("rapid-sync extension: want 8 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint64(payload), nil
}

// EncodeMPRTPSubflow builds the MPRTP subflow extension payload: 8 bits
// flow id, 16 bits FSSN, zero-padded to the extension-element byte
// boundary (3 data bytes, as RFC 5285 one-byte headers require no
// additional padding beyond the element itself).
func EncodeMPRTPSubflow(h MPRTPSubflowHeader) []byte {
	buf := make([]byte, 3)
	buf[0] = uint8(h.FlowID)
	binary.BigEndian.PutUint16(buf[1:], h.FSSN)
	return buf
}

// DecodeMPRTPSubflow parses an MPRTP subflow extension payload.
func DecodeMPRTPSubflow(payload []byte) (MPRTPSubflowHeader, error) {
	if len(payload) < 3 {
		return MPRTPSubflowHeader{}, fmt.Errorf("mprtp extension: want >=3 bytes, got %d", len(payload))
	}
	return MPRTPSubflowHeader{
		FlowID: uint16(payload[0]),
		FSSN:   binary.BigEndian.Uint16(payload[1:3]),
	}, nil
}

// ExtensionHandler processes one parsed extension element attached to a
// received packet. It returns an error only for malformed element content;
// unrecognized ids are the caller's concern, not the handler's.
type ExtensionHandler func(pkt *RtpPacket, elem ExtensionElement) error

// ExtensionRegistry maps an extmap id to the handler that understands it,
// the dispatch table RtpSession.on_incoming_rtp walks per §4.1.
type ExtensionRegistry struct {
	handlers map[uint8]ExtensionHandler
}

// NewExtensionRegistry creates an empty registry.
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{handlers: make(map[uint8]ExtensionHandler)}
}

// Register binds a handler to an extmap id, overwriting any previous
// registration for that id.
func (r *ExtensionRegistry) Register(id uint8, h ExtensionHandler) {
	r.handlers[id] = h
}

// Dispatch invokes the registered handler for every extension element on
// pkt, in the order they were parsed, ignoring ids with no handler.
func (r *ExtensionRegistry) Dispatch(pkt *RtpPacket) error {
	for _, elem := range pkt.Extensions {
		h, ok := r.handlers[elem.ID]
		if !ok {
			continue
		}
		if err := h(pkt, elem); err != nil {
			return err
		}
	}
	return nil
}

// MPRTPHandler returns the built-in extension handler that parses the MPRTP
// subflow header and attaches it (and the flow id) to the packet.
func MPRTPHandler() ExtensionHandler {
	return func(pkt *RtpPacket, elem ExtensionElement) error {
		h, err := DecodeMPRTPSubflow(elem.Payload)
		if err != nil {
			return err
		}
		pkt.MPRTPSubflow = &h
		pkt.SetFlow(h.FlowID)
		return nil
	}
}

// RapidSyncHandler returns the built-in extension handler that extracts the
// sender NTP timestamp and computes owd_seconds = max(0, arrival_ntp -
// sender_ntp), per §4.1.
func RapidSyncHandler() ExtensionHandler {
	return func(pkt *RtpPacket, elem ExtensionElement) error {
		senderNTP, err := DecodeRapidSync(elem.Payload)
		if err != nil {
			return err
		}
		if pkt.ArrivalNTP == 0 {
			pkt.ArrivalNTP = EncodeNTP(pkt.ArrivalLocalTime)
		}
		owd := ntpDiffSeconds(pkt.ArrivalNTP, senderNTP)
		if owd < 0 {
			owd = 0
		}
		pkt.OWDSeconds = owd
		return nil
	}
}

// ntpDiffSeconds computes (a - b) in seconds from two 64-bit NTP timestamps.
func ntpDiffSeconds(a, b uint64) float64 {
	aSecs := int64(a >> 32)
	aFrac := float64(uint32(a)) / (1 << 32)
	bSecs := int64(b >> 32)
	bFrac := float64(uint32(b)) / (1 << 32)
	return float64(aSecs-bSecs) + (aFrac - bFrac)
}
