// Package session implements §4.1's RtpSession: the orchestrator that
// packetizes outgoing samples, stamps SSRC/SN/TS/extension headers,
// dispatches incoming extension headers, drives the session database and
// jitter buffer on the receive side, and gates network-interface shutdown
// on BYE delivery. Its Stopped→Started→ShuttingDown→Stopped lifecycle is
// built on github.com/looplab/fsm, the same state-machine library the
// teacher's pkg/dialog/dialog.go uses for its call-dialog lifecycle
// (initFSM's Events/Callbacks shape is mirrored here with RTP session
// states in place of SIP dialog states).
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/arzzra/rtpcore/codecrtp"
	"github.com/arzzra/rtpcore/feedback"
	"github.com/arzzra/rtpcore/jitter"
	"github.com/arzzra/rtpcore/lossdetect"
	"github.com/arzzra/rtpcore/metrics"
	"github.com/arzzra/rtpcore/mprtp"
	"github.com/arzzra/rtpcore/packet"
	"github.com/arzzra/rtpcore/rtperrors"
	"github.com/arzzra/rtpcore/rtplog"
	"github.com/arzzra/rtpcore/scheduler"
	"github.com/arzzra/rtpcore/sourcedb"
	"github.com/arzzra/rtpcore/transport"
	"github.com/arzzra/rtpcore/txbuffer"
)

// RapidSyncMode selects when RtpSession.Packetize inserts the RFC 6051
// rapid-sync extension, per §4.1.
type RapidSyncMode int

const (
	// RapidSyncNone never inserts a rapid-sync header.
	RapidSyncNone RapidSyncMode = iota
	// RapidSyncEverySample inserts on the first packet of each sample.
	RapidSyncEverySample
	// RapidSyncEveryPacket inserts on every packet.
	RapidSyncEveryPacket
)

// Dialog states for the RtpSession lifecycle FSM, named independently of
// the teacher's SIP dialog states but built with the same library.
const (
	stateStopped      = "stopped"
	stateStarted      = "started"
	stateShuttingDown = "shutting_down"
)

// degradedSendFailureThreshold is how many consecutive send_rtp_packet
// failures on one flow within an RTCP interval mark its members degraded,
// per §7. defaultRTCPInterval bounds that interval when no FeedbackManager
// is configured to report RFC 4585's T_rr_interval.
const (
	degradedSendFailureThreshold = 3
	defaultRTCPInterval          = 5 * time.Second
)

// MediaSample is one depacketized media sample handed back to a consumer
// callback, carrying the jitter buffer's sync marker per §4.1's
// depacketize operation.
type MediaSample struct {
	Data             []byte
	PresentationTime time.Time
	RTCPSynchronised bool
}

// Config configures one RtpSession. TxManager and FeedbackManager are
// constructed and owned by the RtpSessionManager, per §3's ownership
// summary, and handed in here so RtpSession can operate on them.
type Config struct {
	PayloadType    uint8
	RTXPayloadType uint8
	ClockRate      uint32
	MTU            int

	RapidSyncMode  RapidSyncMode
	RapidSyncExtID uint8 // 0 disables rapid-sync insertion/dispatch

	MPRTPExtID uint8 // 0 disables MPRTP dispatch
	MPRTP      *mprtp.Manager

	RTCPInRTPExtID uint8 // 0 disables the RTCP-in-RTP fast path

	// Interfaces maps flow id to the network interface packets on that
	// flow are sent/received through. Non-MPRTP sessions use a single
	// entry keyed by flow id 0.
	Interfaces map[uint16]transport.NetworkInterface

	Packetizer   codecrtp.Packetizer
	Depacketizer codecrtp.Depacketizer

	Scheduler    scheduler.Scheduler
	JitterBuffer *jitter.Buffer
	LossDetector lossdetect.Predictor

	TxManager       *txbuffer.TransmissionManager
	FeedbackManager *feedback.Manager

	Metrics *metrics.Collector

	// ExitOnBye drives stop() on the first received BYE rather than
	// waiting for one from every known member, per §9's Open Question
	// resolution (first-BYE-terminates when set).
	ExitOnBye bool

	// OnMediaSample receives depacketized samples; it must not block the
	// session's event loop, per §5's concurrency model.
	OnMediaSample func(MediaSample)
}

// RtpSession orchestrates one RTP session, per §4.1.
type RtpSession struct {
	cfg Config
	fsm *fsm.FSM

	db      *sourcedb.SessionDatabase
	extReg  *packet.ExtensionRegistry
	log     zerolog.Logger
	metrics *metrics.Collector

	mu               sync.Mutex
	byeSentCount     int
	byeReceivedCount int
	notStartedWarn   rtplog.Once

	// sendFailures counts consecutive send_rtp_packet failures per flow
	// within the current RTCP interval, per §7's error-propagation
	// policy; sendFailureWindowStart marks when that interval began.
	sendFailures           map[uint16]int
	sendFailureWindowStart time.Time

	// currentRemoteAddr is valid only while dispatching extension
	// handlers for the packet currently being processed on the event
	// loop, per §5's single-threaded-per-session model; the RTCP-in-RTP
	// handler uses it to re-enter OnIncomingRtcp with the right peer.
	currentRemoteAddr net.Addr

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an RtpSession in the Stopped state with local session state
// freshly generated.
func New(cfg Config, db *sourcedb.SessionDatabase) *RtpSession {
	s := &RtpSession{
		cfg:     cfg,
		db:      db,
		extReg:  packet.NewExtensionRegistry(),
		log:     rtplog.Component("session"),
		metrics: cfg.Metrics,
	}
	s.registerBuiltinExtensions()
	s.initFSM()
	return s
}

func (s *RtpSession) registerBuiltinExtensions() {
	if s.cfg.MPRTPExtID != 0 {
		s.extReg.Register(s.cfg.MPRTPExtID, packet.MPRTPHandler())
	}
	if s.cfg.RapidSyncExtID != 0 {
		s.extReg.Register(s.cfg.RapidSyncExtID, packet.RapidSyncHandler())
	}
	if s.cfg.RTCPInRTPExtID != 0 {
		s.extReg.Register(s.cfg.RTCPInRTPExtID, s.rtcpInRTPHandler())
	}
}

// rtcpInRTPHandler implements the §4.1 "RTCP-in-RTP header" built-in
// handler: it parses the embedded compound RTCP block and re-enters
// on_incoming_rtcp.
func (s *RtpSession) rtcpInRTPHandler() packet.ExtensionHandler {
	return func(_ *packet.RtpPacket, elem packet.ExtensionElement) error {
		s.OnIncomingRtcp(elem.Payload, s.currentRemoteAddr)
		return nil
	}
}

func (s *RtpSession) initFSM() {
	s.fsm = fsm.NewFSM(
		stateStopped,
		fsm.Events{
			{Name: "start", Src: []string{stateStopped}, Dst: stateStarted},
			{Name: "begin_shutdown", Src: []string{stateStarted}, Dst: stateShuttingDown},
			{Name: "shutdown_complete", Src: []string{stateShuttingDown}, Dst: stateStopped},
		},
		fsm.Callbacks{},
	)
}

// State returns the session's current lifecycle state.
func (s *RtpSession) State() string {
	return s.fsm.Current()
}

// Start implements §4.1's start(): it marks local session state started
// and begins reading from every configured network interface.
func (s *RtpSession) Start(ctx context.Context) error {
	if err := s.fsm.Event(ctx, "start"); err != nil {
		return rtperrors.Wrap(rtperrors.KindInvalidState, err, "start: invalid session state")
	}
	s.db.Local.MarkStarted()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	for flowID, iface := range s.cfg.Interfaces {
		go s.readLoop(runCtx, flowID, iface)
	}
	return nil
}

func (s *RtpSession) readLoop(ctx context.Context, flowID uint16, iface transport.NetworkInterface) {
	for {
		data, err := iface.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("network interface receive failed")
			continue
		}
		s.OnIncomingRtp(data, flowID, iface.RemoteAddr())
	}
}

// Stop implements §4.1's stop(): it schedules one final compound RTCP
// including BYE per owned interface, and defers interface shutdown until
// every expected BYE has been handed to the transport (the §8 "BYE
// gating" invariant and literal scenario 6).
func (s *RtpSession) Stop(ctx context.Context) error {
	if err := s.fsm.Event(ctx, "begin_shutdown"); err != nil {
		return rtperrors.Wrap(rtperrors.KindInvalidState, err, "stop: invalid session state")
	}

	expected := len(s.cfg.Interfaces)
	for flowID, iface := range s.cfg.Interfaces {
		compound, err := s.buildByeCompound()
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to build final BYE compound")
			continue
		}
		if err := iface.Send(ctx, compound); err != nil {
			s.log.Warn().Err(err).Msg("failed to send final BYE compound")
		}
		_ = flowID

		s.mu.Lock()
		s.byeSentCount++
		done := s.byeSentCount >= expected
		s.mu.Unlock()
		if done {
			s.shutdownInterfaces(ctx)
		}
	}

	if expected == 0 {
		s.shutdownInterfaces(ctx)
	}

	return s.fsm.Event(ctx, "shutdown_complete")
}

func (s *RtpSession) buildByeCompound() ([]byte, error) {
	builder := &feedback.CompoundBuilder{}
	builder.AddStandard(&rtcp.Goodbye{Sources: []uint32{s.db.Local.SSRC()}})
	return builder.Build()
}

func (s *RtpSession) shutdownInterfaces(_ context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	for _, iface := range s.cfg.Interfaces {
		if err := iface.Close(); err != nil {
			s.log.Warn().Err(err).Msg("error closing network interface")
		}
	}
}

// Packetize implements §4.1's packetize(sample, rtp_ts?): it delegates
// fragmentation to the configured Packetizer, then stamps SN/TS/SSRC/PT
// and optionally a rapid-sync header on each resulting packet. All
// packets from one call share one RTP timestamp (§8 TS-monotonicity
// invariant). rtpTS, if non-nil, overrides the session's timestamp base.
func (s *RtpSession) Packetize(sample []byte, rtpTS *uint32) ([]*packet.RtpPacket, error) {
	if s.State() != stateStarted {
		s.notStartedWarn.Warn(func() {
			s.log.Warn().Err(rtperrors.ErrInvalidState).Msg("packetize called while session not started")
		})
		return nil, nil
	}

	fragments, err := s.cfg.Packetizer.Packetize(sample, s.cfg.MTU)
	if err != nil {
		s.log.Warn().Err(err).Msg("packetize failed")
		return nil, nil
	}

	ts := s.db.Local.TimestampBase()
	if rtpTS != nil {
		ts = *rtpTS
	}

	out := make([]*packet.RtpPacket, 0, len(fragments))
	for i, frag := range fragments {
		hdr := &rtp.Header{
			Version:        2,
			Marker:         frag.Marker,
			PayloadType:    s.cfg.PayloadType,
			SequenceNumber: s.db.Local.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           s.db.Local.SSRC(),
		}
		pkt := packet.NewOutgoing(hdr, frag.Payload)
		if s.shouldInsertRapidSync(i) {
			s.insertRapidSync(pkt)
		}
		out = append(out, pkt)
	}
	return out, nil
}

func (s *RtpSession) shouldInsertRapidSync(fragmentIndex int) bool {
	switch s.cfg.RapidSyncMode {
	case RapidSyncEveryPacket:
		return s.cfg.RapidSyncExtID != 0
	case RapidSyncEverySample:
		return s.cfg.RapidSyncExtID != 0 && fragmentIndex == 0
	default:
		return false
	}
}

func (s *RtpSession) insertRapidSync(pkt *packet.RtpPacket) {
	ntp := packet.EncodeNTP(time.Now())
	if !packet.NTPHalvesNonZero(ntp) {
		return
	}
	pkt.Extensions = append(pkt.Extensions, packet.ExtensionElement{
		ID:      s.cfg.RapidSyncExtID,
		Payload: packet.EncodeRapidSync(ntp),
	})
}

// SendNow implements §4.1's send_rtp_packet and scheduler.PacketSender: it
// selects the interface for flowID, injects/updates the MPRTP subflow
// extension when the session is MPRTP-enabled, marshals the packet, and
// hands it to the transport. Sent packets are recorded in the
// transmission manager for RTX/ACK bookkeeping.
func (s *RtpSession) SendNow(pkt *packet.RtpPacket, flowID uint16) error {
	iface, ok := s.cfg.Interfaces[flowID]
	if !ok {
		return rtperrors.New(rtperrors.KindConfigError, "send_rtp_packet: unknown flow id")
	}

	var fssn uint16
	hasFSSN := false
	if s.cfg.MPRTP != nil {
		flow := s.cfg.MPRTP.AddFlow(flowID)
		if pkt.HasRTXOriginalSN() {
			fssn = flow.NextRtxFSSN()
		} else {
			fssn = flow.NextFSSN()
		}
		hasFSSN = true
		pkt.MPRTPSubflow = &packet.MPRTPSubflowHeader{FlowID: flowID, FSSN: fssn}
		pkt.SetFlow(flowID)
		replaceMPRTPExtension(pkt, s.cfg.MPRTPExtID, *pkt.MPRTPSubflow)
	}

	data, err := pkt.Marshal()
	if err != nil {
		return rtperrors.Wrap(rtperrors.KindProtocolError, err, "marshal outgoing rtp packet")
	}

	ctx := s.runContext()
	if err := iface.Send(ctx, data); err != nil {
		s.recordSendFailure(flowID)
		return rtperrors.Wrap(rtperrors.KindNetworkError, err, "send rtp packet")
	}
	s.recordSendSuccess(flowID)

	if s.cfg.TxManager != nil {
		s.cfg.TxManager.RecordSent(pkt.Header.SequenceNumber, pkt, flowID, fssn, hasFSSN)
	}
	if s.metrics != nil {
		s.metrics.PacketSent(len(data))
	}
	return nil
}

// recordSendFailure implements §7's "repeated errors within an RTCP
// interval mark the flow's MemberEntry as degraded": it tallies
// consecutive failures per flow, resetting the tally once a full RTCP
// interval has elapsed, and degrades every known member once the
// threshold is reached.
func (s *RtpSession) recordSendFailure(flowID uint16) {
	s.mu.Lock()
	s.rotateSendFailureWindowLocked()
	if s.sendFailures == nil {
		s.sendFailures = make(map[uint16]int)
	}
	s.sendFailures[flowID]++
	n := s.sendFailures[flowID]
	s.mu.Unlock()

	if n >= degradedSendFailureThreshold {
		s.setMembersDegraded(true)
	}
}

// recordSendSuccess clears flowID's failure tally and un-degrades members
// that were marked degraded by prior failures on it.
func (s *RtpSession) recordSendSuccess(flowID uint16) {
	s.mu.Lock()
	n := s.sendFailures[flowID]
	delete(s.sendFailures, flowID)
	s.mu.Unlock()

	if n >= degradedSendFailureThreshold {
		s.setMembersDegraded(false)
	}
}

func (s *RtpSession) rotateSendFailureWindowLocked() {
	now := time.Now()
	if s.sendFailureWindowStart.IsZero() {
		s.sendFailureWindowStart = now
		return
	}
	if now.Sub(s.sendFailureWindowStart) >= s.rtcpIntervalLocked() {
		s.sendFailures = nil
		s.sendFailureWindowStart = now
	}
}

func (s *RtpSession) rtcpIntervalLocked() time.Duration {
	if s.cfg.FeedbackManager == nil {
		return defaultRTCPInterval
	}
	if interval := s.cfg.FeedbackManager.TRRInterval(); interval > 0 {
		return interval
	}
	return defaultRTCPInterval
}

func (s *RtpSession) setMembersDegraded(degraded bool) {
	for _, m := range s.db.Members() {
		m.SetDegraded(degraded)
	}
}

func (s *RtpSession) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// replaceMPRTPExtension drops any previously attached MPRTP subflow
// extension element and appends a fresh one, per §4.6's "for RTX the
// previously-assigned subflow header is replaced with a fresh one".
func replaceMPRTPExtension(pkt *packet.RtpPacket, extID uint8, hdr packet.MPRTPSubflowHeader) {
	filtered := pkt.Extensions[:0]
	for _, e := range pkt.Extensions {
		if e.ID != extID {
			filtered = append(filtered, e)
		}
	}
	pkt.Extensions = append(filtered, packet.ExtensionElement{
		ID:      extID,
		Payload: packet.EncodeMPRTPSubflow(hdr),
	})
}

// OnIncomingRtp implements the receive side of §4.1: it decodes the wire
// packet, dispatches registered extension headers, reconstructs RFC 4588
// RTX packets, updates the session database's member state machine, and
// feeds the jitter buffer and scheduler.
func (s *RtpSession) OnIncomingRtp(data []byte, flowID uint16, ep net.Addr) {
	wire := &rtp.Packet{}
	if err := wire.Unmarshal(data); err != nil {
		s.log.Warn().Err(rtperrors.ErrMalformedRTP).Msg("failed to unmarshal rtp packet")
		return
	}
	pkt := packet.FromWire(wire, time.Now(), packet.EncodeNTP(time.Now()))
	if s.cfg.MPRTP == nil {
		pkt.SetFlow(flowID)
	}

	s.mu.Lock()
	s.currentRemoteAddr = ep
	s.mu.Unlock()
	if err := s.extReg.Dispatch(pkt); err != nil {
		s.log.Warn().Err(err).Msg("extension dispatch failed")
	}

	reconstructed := pkt
	if s.cfg.TxManager != nil && pkt.Header.PayloadType == s.cfg.RTXPayloadType {
		orig, err := s.cfg.TxManager.ProcessRetransmission(pkt, s.cfg.PayloadType)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to unwrap rtx packet")
		} else {
			if s.metrics != nil {
				s.metrics.RtxRecovered()
			}
			if s.cfg.LossDetector != nil {
				s.cfg.LossDetector.OnRtxPacketArrival(time.Now(), orig.Header.SequenceNumber)
			}
			// The wire-form RTX packet is delivered to session-DB update
			// too, per §4.1's RTX handling note; only the reconstructed
			// form below drives the jitter buffer.
			s.db.MemberFor(pkt.Header.SSRC, pkt.Header.SequenceNumber).UpdateSeq(pkt.Header.SequenceNumber)
			reconstructed = orig
		}
	}

	member := s.db.MemberFor(reconstructed.Header.SSRC, reconstructed.Header.SequenceNumber)
	if !member.UpdateSeq(reconstructed.Header.SequenceNumber) {
		return
	}
	arrival := time.Now()
	clockRate := int64(s.cfg.ClockRate)
	arrivalTicks := arrival.Unix()*clockRate + int64(arrival.Nanosecond())*clockRate/int64(time.Second)
	member.UpdateJitter(arrivalTicks, reconstructed.Header.Timestamp)
	member.Touch(time.Now())

	if s.cfg.LossDetector != nil {
		s.cfg.LossDetector.OnPacketArrival(time.Now(), reconstructed.Header.SequenceNumber)
	}
	if s.cfg.FeedbackManager != nil {
		s.cfg.FeedbackManager.RecordReceived(reconstructed.Header.SequenceNumber)
	}
	if s.cfg.TxManager != nil {
		s.cfg.TxManager.RecordReceived(reconstructed.Header.SequenceNumber)
	}
	if s.metrics != nil {
		s.metrics.PacketReceived(len(data))
		if s.cfg.ClockRate > 0 {
			s.metrics.SetJitter(member.Jitter() * 1000 / float64(s.cfg.ClockRate))
		}
	}

	if s.cfg.JitterBuffer != nil {
		rtcpSync := reconstructed.ArrivalNTP != 0
		s.cfg.JitterBuffer.AddPacket(reconstructed, reconstructed.ArrivalLocalTime, rtcpSync)
		s.drainPlayout()
	}

	if s.cfg.Scheduler != nil {
		ssrcValid := true
		s.cfg.Scheduler.OnIncomingRtp(reconstructed, ep, ssrcValid, reconstructed.ArrivalNTP != 0, reconstructed.ArrivalLocalTime)
	}
}

// drainPlayout pops every jitter-buffer group whose playout time has
// arrived and depacketizes it, handing the result to OnMediaSample.
func (s *RtpSession) drainPlayout() {
	for {
		group, ok := s.cfg.JitterBuffer.NextPlayoutGroup()
		if !ok {
			return
		}
		samples, err := s.Depacketize(group)
		if err != nil {
			s.log.Warn().Err(err).Msg("depacketize failed")
			continue
		}
		if s.cfg.OnMediaSample == nil {
			continue
		}
		for _, sample := range samples {
			s.cfg.OnMediaSample(sample)
		}
	}
}

// Depacketize implements §4.1's depacketize(group): it delegates
// reassembly to the configured Depacketizer and stamps the result with
// the jitter buffer group's RTCP synchronisation marker.
func (s *RtpSession) Depacketize(group *jitter.RtpPacketGroup) ([]MediaSample, error) {
	pkts := group.Packets()
	payloads := make([][]byte, len(pkts))
	for i, p := range pkts {
		payloads[i] = p.Payload
	}
	data, err := s.cfg.Depacketizer.Depacketize(payloads)
	if err != nil {
		return nil, rtperrors.Wrap(rtperrors.KindProtocolError, err, "depacketize failed")
	}
	return []MediaSample{{
		Data:             data,
		PresentationTime: time.Now(),
		RTCPSynchronised: group.RTCPSynchronised,
	}}, nil
}

// rtcpFeedbackPacketType and the genericACK/extendedNACK FMT values mirror
// the feedback package's private (non-IANA) RFC 4585 wire convention,
// duplicated here the same way scheduler/ack.go's ackFeedbackFMT does:
// pion/rtcp doesn't recognize these FMTs for type 205, so the blocks must
// be located by walking the raw compound bytes directly rather than via
// rtcp.Unmarshal's decoded packet slice.
const (
	rtcpFeedbackPacketType = 205
	genericACKFMT          = 99
	extendedNACKFMT        = 98
)

// OnIncomingRtcp implements §4.1's on_incoming_rtcp: it lets the scheduler
// observe the raw compound first (for private feedback blocks pion/rtcp
// cannot decode, e.g. the generic-ACK block), decodes and processes the
// standard packets rtcp.Unmarshal recognizes, and separately scans the raw
// bytes for the opaque generic-ACK/extended-NACK blocks it doesn't.
func (s *RtpSession) OnIncomingRtcp(compound []byte, ep net.Addr) {
	if s.cfg.Scheduler != nil {
		s.cfg.Scheduler.OnIncomingRtcp(compound, ep)
	}

	s.handleOpaqueFeedback(compound)

	packets, err := rtcp.Unmarshal(compound)
	if err != nil {
		s.log.Warn().Err(rtperrors.ErrMalformedRTCP).Msg("failed to unmarshal compound rtcp")
		return
	}

	for _, p := range packets {
		switch pkt := p.(type) {
		case *rtcp.Goodbye:
			s.handleBye(pkt)
		case *rtcp.SenderReport:
			if member, ok := s.db.Lookup(pkt.SSRC); ok {
				member.RecordSenderReport(pkt.NTPTime, time.Now())
			}
		case *rtcp.TransportLayerNack:
			s.handleNack(pkt)
		}
		if s.cfg.Scheduler != nil {
			s.cfg.Scheduler.ProcessFeedback(p, ep)
		}
	}
}

// handleOpaqueFeedback walks compound looking for type-205 blocks carrying
// the private generic-ACK (FMT 99) or extended-NACK (FMT 98) FMT, per
// scheduler/ack.go's countAckedSNs walk.
func (s *RtpSession) handleOpaqueFeedback(compound []byte) {
	for off := 0; off+4 <= len(compound); {
		fmtByte := compound[off]
		pt := compound[off+1]
		lengthWords := int(compound[off+2])<<8 | int(compound[off+3])
		blockLen := (lengthWords + 1) * 4
		if blockLen < 12 || off+blockLen > len(compound) {
			break
		}
		if pt == rtcpFeedbackPacketType {
			payload := compound[off+12 : off+blockLen]
			switch fmtByte & 0x1F {
			case genericACKFMT:
				s.handleGenericACK(payload)
			case extendedNACKFMT:
				s.handleExtendedNack(payload)
			}
		}
		off += blockLen
	}
}

// handleGenericACK implements the §4.5 client-side RTT-measurement
// mechanism: for each acknowledged SN still in the transmission buffer, it
// derives a round-trip time from the entry's recorded send time and feeds
// it into that entry's flow's PathInfo, then acknowledges the SN.
func (s *RtpSession) handleGenericACK(payload []byte) {
	if s.cfg.TxManager == nil {
		return
	}
	for _, sn := range feedback.DecodeGenericACK(payload) {
		if entry, ok := s.cfg.TxManager.Lookup(sn); ok {
			s.recordRtxRTT(entry)
		}
		s.cfg.TxManager.AckSN(sn)
	}
}

// recordRtxRTT feeds the elapsed time since entry was sent into its flow's
// PathInfo, per §4.6's RTT-based subflow-selection policy.
func (s *RtpSession) recordRtxRTT(entry *txbuffer.TxBufferEntry) {
	if s.cfg.MPRTP == nil {
		return
	}
	flow := s.cfg.MPRTP.Flow(entry.FlowID)
	if flow == nil {
		return
	}
	flow.Path.RecordRTT(time.Since(entry.SentAt).Seconds())
}

// handleExtendedNack resolves each lost (flow id, FSSN) pair back to its
// continuous sequence number and retransmits it, per §4.5's MPRTP NACK
// path (the counterpart to handleNack for receivers that only know a
// flow-specific sequence number, not the session-wide SN).
func (s *RtpSession) handleExtendedNack(payload []byte) {
	if s.cfg.TxManager == nil || s.cfg.Scheduler == nil {
		return
	}
	for _, loss := range feedback.DecodeExtendedNACK(payload) {
		for _, fssn := range loss.FSSNs {
			sn, ok := s.cfg.TxManager.LookupSequenceNumber(loss.FlowID, fssn)
			if !ok {
				continue
			}
			s.retransmit(sn, loss.FlowID)
		}
	}
}

func (s *RtpSession) handleNack(nack *rtcp.TransportLayerNack) {
	if s.cfg.TxManager == nil || s.cfg.Scheduler == nil {
		return
	}
	for _, pair := range nack.Nacks {
		for _, sn := range pair.PacketList() {
			originFlow := uint16(0)
			if entry, ok := s.cfg.TxManager.Lookup(sn); ok {
				originFlow = entry.FlowID
			}
			s.retransmit(sn, originFlow)
		}
	}
}

// retransmit generates the RFC 4588 wrapper for sn and schedules it on the
// subflow §4.6's RTT-based policy selects, falling back to originFlow (the
// flow sn was originally sent on) when no flow has a measured RTT yet.
func (s *RtpSession) retransmit(sn uint16, originFlow uint16) {
	rtx, err := s.cfg.TxManager.GenerateRetransmissionPacket(sn)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RtxLate()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RtxSent()
	}
	s.cfg.Scheduler.ScheduleRtxPacket(rtx, s.chooseRtxFlow(originFlow))
}

// chooseRtxFlow implements §4.6's RTT-based retransmission-scheduling
// policy: prefer the subflow with the smallest observed RTT, falling back
// to originFlow when MPRTP is disabled or no flow is registered yet.
func (s *RtpSession) chooseRtxFlow(originFlow uint16) uint16 {
	if s.cfg.MPRTP == nil {
		return originFlow
	}
	best, ok := s.cfg.MPRTP.FindSubflowWithSmallestRTT()
	if !ok {
		return originFlow
	}
	return best
}

// handleBye implements the §8 BYE-gating invariant: the session is torn
// down on the first BYE when ExitOnBye is set, or once a BYE has been
// seen from every known member otherwise.
func (s *RtpSession) handleBye(bye *rtcp.Goodbye) {
	s.mu.Lock()
	s.byeReceivedCount++
	s.mu.Unlock()

	for _, ssrc := range bye.Sources {
		s.db.Remove(ssrc)
	}

	shouldStop := s.cfg.ExitOnBye || s.db.Count() == 0
	if shouldStop && s.State() == stateStarted {
		if err := s.Stop(s.runContext()); err != nil {
			s.log.Warn().Err(err).Msg("stop on bye failed")
		}
	}
}

// TryScheduleEarlyFeedback implements §4.1's try_schedule_early_feedback:
// it asks the feedback manager whether RFC 4585 early feedback is
// currently permitted and, if so, assembles and sends it immediately.
func (s *RtpSession) TryScheduleEarlyFeedback(flowID uint16) bool {
	if s.cfg.FeedbackManager == nil {
		return false
	}
	now := time.Now()
	if !s.cfg.FeedbackManager.TryScheduleEarlyFeedback(now) {
		return false
	}

	iface, ok := s.cfg.Interfaces[flowID]
	if !ok {
		return false
	}
	builder := &feedback.CompoundBuilder{}
	s.cfg.FeedbackManager.OnFeedbackGeneration(builder)
	if builder.Empty() {
		return false
	}
	compound, err := builder.Build()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to build early feedback compound")
		return false
	}
	if err := iface.Send(s.runContext(), compound); err != nil {
		s.log.Warn().Err(err).Msg("failed to send early feedback compound")
		return false
	}
	if s.metrics != nil {
		s.metrics.FeedbackGenerated("early")
	}
	return true
}

var _ scheduler.PacketSender = (*RtpSession)(nil)
