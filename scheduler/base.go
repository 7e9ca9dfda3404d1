package scheduler

import (
	"net"
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/rtpcore/packet"
	"github.com/arzzra/rtpcore/rtplog"
)

// BaseScheduler is the pass-through scheduler: every packet is handed to
// the PacketSender immediately, with no pacing or rate control. It is the
// default scheduler id and the one used when an application doesn't need
// congestion-controlled pacing.
type BaseScheduler struct {
	sender PacketSender
	log    zerologLogger
}

// zerologLogger narrows rtplog's logger down to what BaseScheduler needs,
// so tests can swap in a no-op without importing zerolog directly.
type zerologLogger interface {
	Warn(err error, msg string)
}

type rtplogAdapter struct{ name string }

func (a rtplogAdapter) Warn(err error, msg string) {
	rtplog.Component(a.name).Warn().Err(err).Msg(msg)
}

// NewBaseScheduler creates a pass-through scheduler that sends through
// sender.
func NewBaseScheduler(sender PacketSender) *BaseScheduler {
	return &BaseScheduler{sender: sender, log: rtplogAdapter{name: "scheduler.base"}}
}

func (s *BaseScheduler) ScheduleRtpPackets(pkts []*packet.RtpPacket, flowID uint16) {
	for _, pkt := range pkts {
		if err := s.sender.SendNow(pkt, flowID); err != nil {
			s.log.Warn(err, "base scheduler: send failed")
		}
	}
}

func (s *BaseScheduler) ScheduleRtxPacket(pkt *packet.RtpPacket, flowID uint16) {
	if err := s.sender.SendNow(pkt, flowID); err != nil {
		s.log.Warn(err, "base scheduler: rtx send failed")
	}
}

func (s *BaseScheduler) OnIncomingRtp(pkt *packet.RtpPacket, ep net.Addr, ssrcValid bool, rtcpSync bool, pts time.Time) {
}

func (s *BaseScheduler) OnIncomingRtcp(compound []byte, ep net.Addr) {}

func (s *BaseScheduler) ProcessFeedback(fb rtcp.Packet, ep net.Addr) {}

func (s *BaseScheduler) RetrieveFeedback() []rtcp.Packet { return nil }

func (s *BaseScheduler) Shutdown() {}

var _ Scheduler = (*BaseScheduler)(nil)
