// Package packet defines the wire-adjacent data model shared by every stage
// of the transport core: the RTP packet envelope (RFC 3550 fixed header plus
// RFC 5285 extensions), extension elements, and the bookkeeping fields the
// reception pipeline attaches to a packet as it moves from the wire to the
// jitter buffer.
package packet

import (
	"time"

	"github.com/pion/rtp"
)

// ExtensionElement is one parsed RFC 5285 one-byte or two-byte header
// extension element.
type ExtensionElement struct {
	ID      uint8
	Payload []byte
}

// MPRTPSubflowHeader is the parsed (flow_id, fssn) pair carried by the MPRTP
// subflow extension (§4.6, §6 wire format).
type MPRTPSubflowHeader struct {
	FlowID uint16
	FSSN   uint16
}

// RtpPacket is one RTP packet plus the metadata the reception pipeline
// accumulates as the packet moves from the wire to the jitter buffer. The
// zero value is not meaningful; construct via NewOutgoing, FromWire, or by populating Header
// directly as packetizers do.
type RtpPacket struct {
	Header *rtp.Header
	// Extensions holds every extension element parsed off the wire, in
	// receive order, independent of whether a handler recognized the id.
	Extensions []ExtensionElement
	Payload    []byte

	ArrivalNTP       uint64
	ArrivalLocalTime time.Time
	// OWDSeconds is the one-way-delay estimate computed from a rapid-sync
	// extension; -1 means unknown.
	OWDSeconds float64

	// FlowID is set when the packet was sent/received on a named MPRTP
	// flow. HasFlow reports whether it is meaningful.
	FlowID  uint16
	hasFlow bool

	// MPRTPSubflow is set when the packet carried an MPRTP subflow
	// extension. Invariant: if set, FlowID must equal MPRTPSubflow.FlowID.
	MPRTPSubflow *MPRTPSubflowHeader

	// RTXOriginalSN is set once an RTX packet has been unwrapped by the
	// transmission manager; it records the SN of the packet the RTX
	// payload was retransmitting.
	RTXOriginalSN    uint16
	hasRTXOriginalSN bool
}

// NewOutgoing builds an RtpPacket around a freshly packetized rtp.Packet,
// with no reception-side metadata populated.
func NewOutgoing(hdr *rtp.Header, payload []byte) *RtpPacket {
	return &RtpPacket{
		Header:     hdr,
		Payload:    payload,
		OWDSeconds: -1,
	}
}

// FromWire builds an RtpPacket from a freshly unmarshaled wire packet,
// capturing its extension elements (regardless of whether any handler
// recognizes them) and the arrival metadata.
func FromWire(wire *rtp.Packet, arrivalLocal time.Time, arrivalNTP uint64) *RtpPacket {
	hdr := wire.Header
	p := &RtpPacket{
		Header:           &hdr,
		Payload:          wire.Payload,
		ArrivalLocalTime: arrivalLocal,
		ArrivalNTP:       arrivalNTP,
		OWDSeconds:       -1,
	}
	if hdr.Extension {
		for _, id := range hdr.GetExtensionIDs() {
			p.Extensions = append(p.Extensions, ExtensionElement{
				ID:      id,
				Payload: hdr.GetExtension(id),
			})
		}
	}
	return p
}

// SetFlow records that this packet is bound to flow id. Construction helper
// kept separate from the struct literal so the hasFlow invariant can't be
// forgotten.
func (p *RtpPacket) SetFlow(flowID uint16) {
	p.FlowID = flowID
	p.hasFlow = true
}

// HasFlow reports whether FlowID is meaningful.
func (p *RtpPacket) HasFlow() bool { return p.hasFlow }

// SetRTXOriginalSN records the original SN an RTX packet recovered.
func (p *RtpPacket) SetRTXOriginalSN(sn uint16) {
	p.RTXOriginalSN = sn
	p.hasRTXOriginalSN = true
}

// HasRTXOriginalSN reports whether RTXOriginalSN is meaningful.
func (p *RtpPacket) HasRTXOriginalSN() bool { return p.hasRTXOriginalSN }

// ValidateSubflowInvariant checks the data-model invariant that a packet
// with a nonempty MPRTP subflow header must be bound to the flow it names.
func (p *RtpPacket) ValidateSubflowInvariant() bool {
	if p.MPRTPSubflow == nil {
		return true
	}
	return p.hasFlow && p.FlowID == p.MPRTPSubflow.FlowID
}

// Marshal renders the RTP packet (header + extensions + payload) into wire
// bytes via pion/rtp, folding Extensions back into the header's extension
// profile before marshaling.
func (p *RtpPacket) Marshal() ([]byte, error) {
	hdr := *p.Header
	hdr.Extension = len(p.Extensions) > 0
	if hdr.Extension {
		hdr.ExtensionProfile = oneByteExtensionProfile
		for _, ext := range p.Extensions {
			if err := hdr.SetExtension(ext.ID, ext.Payload); err != nil {
				return nil, err
			}
		}
	}
	pkt := rtp.Packet{Header: hdr, Payload: p.Payload}
	return pkt.Marshal()
}

const oneByteExtensionProfile = 0xBEDE
