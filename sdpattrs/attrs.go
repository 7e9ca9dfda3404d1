// Package sdpattrs extracts the subset of SDP attributes the core reads
// from a media description, per §6: rtpmap, fmtp, rtcp-fb, rtcp-xr,
// rtcp-mux, extmap, mid, group, a=mprtp interface/bind, a=rtx-time, a=apt.
// It builds on github.com/pion/sdp/v3 for parsing and deliberately does not
// offer SDP generation or offer/answer negotiation.
package sdpattrs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// RtpMap is a parsed "a=rtpmap:<pt> <encoding>/<clock>[/<params>]" line.
type RtpMap struct {
	PayloadType uint8
	EncodingName string
	ClockRate    uint32
	Params       string
}

// Fmtp is a parsed "a=fmtp:<pt> <params>" line.
type Fmtp struct {
	PayloadType uint8
	Params      string
}

// RtcpFeedback is a parsed "a=rtcp-fb:<pt> <type> [<param>]" line. PayloadType
// of -1 means the "*" wildcard (applies to every format in the media
// description).
type RtcpFeedback struct {
	PayloadType int
	Type        string
	Param       string
}

// ExtMap is a parsed "a=extmap:<id>[/<direction>] <uri> [<params>]" line.
type ExtMap struct {
	ID        int
	Direction string
	URI       string
	Params    string
}

// MprtpInterface is a parsed "a=mprtp interface:<index> <ip>:<port>" line.
type MprtpInterface struct {
	Index int
	IP    string
	Port  int
}

// MprtpBind is a parsed "a=mprtp bind:<j>" line restricting which remote
// interface index this local interface may bind to.
type MprtpBind struct {
	Index int
}

// MediaAttrs holds every attribute one media description contributes,
// per the consumed-attribute list in spec §6. Fields the description
// doesn't carry are left at their zero value / nil slice.
type MediaAttrs struct {
	Media string

	RtpMaps       []RtpMap
	Fmtps         []Fmtp
	RtcpFeedbacks []RtcpFeedback
	RtcpXRRcvrRTT bool
	RtcpMux       bool
	ExtMaps       []ExtMap
	Mid           string

	MprtpInterfaces []MprtpInterface
	MprtpBinds      []MprtpBind
	RtxTimeMillis   int
	HasRtxTime      bool
	AptMap          map[uint8]uint8 // rtx payload type -> apt (associated original payload type)
}

// SessionAttrs holds the session-level attributes consumed by the core
// plus the per-media attributes of every media description.
type SessionAttrs struct {
	Groups []string // "group:<semantic>" values, session level
	Media  []MediaAttrs
}

// Extract walks sd and pulls out exactly the attributes spec §6 lists. It
// never mutates sd and never produces SDP text; round-tripping a
// description unmodified is the caller's responsibility (sd itself, via
// sd.Marshal()).
func Extract(sd *sdp.SessionDescription) (*SessionAttrs, error) {
	if sd == nil {
		return nil, fmt.Errorf("sdpattrs: nil session description")
	}

	out := &SessionAttrs{}
	for _, attr := range sd.Attributes {
		if attr.Key == "group" {
			out.Groups = append(out.Groups, attr.Value)
		}
	}

	for _, md := range sd.MediaDescriptions {
		ma, err := extractMedia(md)
		if err != nil {
			return nil, err
		}
		out.Media = append(out.Media, *ma)
	}

	return out, nil
}

func extractMedia(md *sdp.MediaDescription) (*MediaAttrs, error) {
	ma := &MediaAttrs{Media: md.MediaName.Media, AptMap: make(map[uint8]uint8)}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			rm, err := parseRtpMap(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("sdpattrs: %w", err)
			}
			ma.RtpMaps = append(ma.RtpMaps, rm)
		case "fmtp":
			fp, err := parseFmtp(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("sdpattrs: %w", err)
			}
			ma.Fmtps = append(ma.Fmtps, fp)
		case "rtcp-fb":
			fb, err := parseRtcpFeedback(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("sdpattrs: %w", err)
			}
			ma.RtcpFeedbacks = append(ma.RtcpFeedbacks, fb)
		case "rtcp-xr":
			if strings.Contains(attr.Value, "rcvr-rtt") {
				ma.RtcpXRRcvrRTT = true
			}
		case "rtcp-mux":
			ma.RtcpMux = true
		case "extmap":
			em, err := parseExtMap(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("sdpattrs: %w", err)
			}
			ma.ExtMaps = append(ma.ExtMaps, em)
		case "mid":
			ma.Mid = attr.Value
		case "mprtp":
			if err := parseMprtp(attr.Value, ma); err != nil {
				return nil, fmt.Errorf("sdpattrs: %w", err)
			}
		case "rtx-time":
			ms, err := strconv.Atoi(strings.TrimSpace(attr.Value))
			if err != nil {
				return nil, fmt.Errorf("sdpattrs: invalid rtx-time %q: %w", attr.Value, err)
			}
			ma.RtxTimeMillis = ms
			ma.HasRtxTime = true
		case "apt":
			// a=fmtp:<rtx-pt> apt=<original-pt> is pion's rendering path for
			// RFC 4588; some encoders emit a bare "a=apt:<rtx-pt> <pt>"
			// instead, so both shapes are accepted here.
			rtxPT, origPT, err := parseApt(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("sdpattrs: %w", err)
			}
			ma.AptMap[rtxPT] = origPT
		}
	}

	// RFC 4588 commonly expresses apt as a fmtp parameter ("apt=<pt>")
	// rather than a standalone attribute; pick those up too.
	for _, fp := range ma.Fmtps {
		if origPT, ok := parseAptFmtp(fp.Params); ok {
			ma.AptMap[fp.PayloadType] = origPT
		}
	}

	return ma, nil
}

func parseRtpMap(value string) (RtpMap, error) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return RtpMap{}, fmt.Errorf("malformed rtpmap %q", value)
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return RtpMap{}, fmt.Errorf("malformed rtpmap payload type %q: %w", fields[0], err)
	}
	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return RtpMap{}, fmt.Errorf("malformed rtpmap encoding %q", fields[1])
	}
	clock, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return RtpMap{}, fmt.Errorf("malformed rtpmap clock rate %q: %w", parts[1], err)
	}
	params := ""
	if len(parts) > 2 {
		params = strings.Join(parts[2:], "/")
	}
	return RtpMap{PayloadType: uint8(pt), EncodingName: parts[0], ClockRate: uint32(clock), Params: params}, nil
}

func parseFmtp(value string) (Fmtp, error) {
	fields := strings.SplitN(value, " ", 2)
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return Fmtp{}, fmt.Errorf("malformed fmtp payload type %q: %w", fields[0], err)
	}
	params := ""
	if len(fields) == 2 {
		params = fields[1]
	}
	return Fmtp{PayloadType: uint8(pt), Params: params}, nil
}

func parseRtcpFeedback(value string) (RtcpFeedback, error) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) < 2 {
		return RtcpFeedback{}, fmt.Errorf("malformed rtcp-fb %q", value)
	}
	pt := -1
	if fields[0] != "*" {
		p, err := strconv.Atoi(fields[0])
		if err != nil {
			return RtcpFeedback{}, fmt.Errorf("malformed rtcp-fb payload type %q: %w", fields[0], err)
		}
		pt = p
	}
	rest := strings.SplitN(fields[1], " ", 2)
	fb := RtcpFeedback{PayloadType: pt, Type: rest[0]}
	if len(rest) == 2 {
		fb.Param = rest[1]
	}
	return fb, nil
}

func parseExtMap(value string) (ExtMap, error) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return ExtMap{}, fmt.Errorf("malformed extmap %q", value)
	}
	idField := fields[0]
	direction := ""
	if slash := strings.IndexByte(idField, '/'); slash >= 0 {
		direction = idField[slash+1:]
		idField = idField[:slash]
	}
	id, err := strconv.Atoi(idField)
	if err != nil {
		return ExtMap{}, fmt.Errorf("malformed extmap id %q: %w", idField, err)
	}
	rest := strings.SplitN(fields[1], " ", 2)
	em := ExtMap{ID: id, Direction: direction, URI: rest[0]}
	if len(rest) == 2 {
		em.Params = rest[1]
	}
	return em, nil
}

// parseMprtp handles both "interface:<i> <ip>:<port>" and "bind:<j>" forms
// of the a=mprtp attribute.
func parseMprtp(value string, ma *MediaAttrs) error {
	fields := strings.SplitN(value, " ", 2)
	switch {
	case strings.HasPrefix(fields[0], "interface:"):
		if len(fields) != 2 {
			return fmt.Errorf("malformed mprtp interface %q", value)
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(fields[0], "interface:"))
		if err != nil {
			return fmt.Errorf("malformed mprtp interface index %q: %w", fields[0], err)
		}
		host, port, err := splitHostPort(fields[1])
		if err != nil {
			return fmt.Errorf("malformed mprtp interface address %q: %w", fields[1], err)
		}
		ma.MprtpInterfaces = append(ma.MprtpInterfaces, MprtpInterface{Index: idx, IP: host, Port: port})
	case strings.HasPrefix(fields[0], "bind:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(fields[0], "bind:"))
		if err != nil {
			return fmt.Errorf("malformed mprtp bind index %q: %w", fields[0], err)
		}
		ma.MprtpBinds = append(ma.MprtpBinds, MprtpBind{Index: idx})
	default:
		return fmt.Errorf("unrecognised mprtp attribute %q", value)
	}
	return nil
}

func splitHostPort(s string) (string, int, error) {
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		return "", 0, fmt.Errorf("missing port in %q", s)
	}
	port, err := strconv.Atoi(s[colon+1:])
	if err != nil {
		return "", 0, err
	}
	return s[:colon], port, nil
}

func parseApt(value string) (rtxPT, origPT uint8, err error) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed apt %q", value)
	}
	rtx, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed apt rtx payload type %q: %w", fields[0], err)
	}
	orig, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed apt original payload type %q: %w", fields[1], err)
	}
	return uint8(rtx), uint8(orig), nil
}

// parseAptFmtp reads "apt=<pt>" out of an already-split fmtp parameter
// string, the common encoding used by browsers and pion for RFC 4588.
func parseAptFmtp(params string) (uint8, bool) {
	for _, field := range strings.Fields(params) {
		if strings.HasPrefix(field, "apt=") {
			pt, err := strconv.Atoi(strings.TrimPrefix(field, "apt="))
			if err != nil {
				return 0, false
			}
			return uint8(pt), true
		}
	}
	return 0, false
}
