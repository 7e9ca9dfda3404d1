package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arzzra/rtpcore/feedback"
	"github.com/arzzra/rtpcore/rtplog"
	"github.com/arzzra/rtpcore/txbuffer"
)

// maxTimeWithoutLivenessSeconds resolves §9's liveness-timeout Open
// Question: a member from which no packet has been received for this long is
// dropped from the session database, and a session whose only members all
// went silent is stopped. Grounded on original_source's RtcServiceImpl.cpp
// periodic liveness sweep.
const maxTimeWithoutLivenessSeconds = 10 * time.Second

// ManagerConfig configures the shared infrastructure one RtpSessionManager
// constructs and owns on behalf of the sessions registered with it, per
// §3's ownership summary.
type ManagerConfig struct {
	TxBuffer    txbuffer.Config
	SweepPeriod time.Duration // defaults to maxTimeWithoutLivenessSeconds/2
}

// Manager is the RtpSessionManager of §3/§4: it owns the
// TransmissionManager and FeedbackManager handed to each registered
// RtpSession, and runs the periodic liveness sweep that drops sessions
// whose members have gone silent for longer than
// maxTimeWithoutLivenessSeconds.
type Manager struct {
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[*RtpSession]struct{}

	sweepPeriod time.Duration
	cancel      context.CancelFunc
}

// NewManager constructs a Manager. Call Run to start its liveness sweep.
func NewManager(cfg ManagerConfig) *Manager {
	period := cfg.SweepPeriod
	if period <= 0 {
		period = maxTimeWithoutLivenessSeconds / 2
	}
	return &Manager{
		log:         rtplog.Component("session_manager"),
		sessions:    make(map[*RtpSession]struct{}),
		sweepPeriod: period,
	}
}

// NewTransmissionManager builds a TransmissionManager owned by this
// Manager, to be handed into an RtpSession's Config.TxManager.
func (mgr *Manager) NewTransmissionManager(cfg txbuffer.Config) *txbuffer.TransmissionManager {
	return txbuffer.New(cfg)
}

// NewFeedbackManager builds a FeedbackManager owned by this Manager, to be
// handed into an RtpSession's Config.FeedbackManager.
func (mgr *Manager) NewFeedbackManager(senderSSRC, mediaSSRC uint32, trrInterval time.Duration, src feedback.SchedulerFeedbackSource) *feedback.Manager {
	return feedback.NewManager(senderSSRC, mediaSSRC, trrInterval, src)
}

// Register adds a session to the liveness sweep.
func (mgr *Manager) Register(s *RtpSession) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.sessions[s] = struct{}{}
}

// Unregister removes a session from the liveness sweep, called once it has
// fully stopped.
func (mgr *Manager) Unregister(s *RtpSession) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.sessions, s)
}

// Run starts the periodic liveness sweep; it returns once ctx is
// cancelled or Stop is called.
func (mgr *Manager) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	mgr.mu.Lock()
	mgr.cancel = cancel
	mgr.mu.Unlock()

	ticker := time.NewTicker(mgr.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case now := <-ticker.C:
			mgr.sweep(now)
		}
	}
}

// Stop cancels the liveness sweep.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
}

func (mgr *Manager) sweep(now time.Time) {
	mgr.mu.Lock()
	sessions := make([]*RtpSession, 0, len(mgr.sessions))
	for s := range mgr.sessions {
		sessions = append(sessions, s)
	}
	mgr.mu.Unlock()

	for _, s := range sessions {
		mgr.sweepSession(s, now)
	}
}

// sweepSession drops members that have been silent for longer than
// maxTimeWithoutLivenessSeconds, and stops the session outright once it
// has no live members left.
func (mgr *Manager) sweepSession(s *RtpSession, now time.Time) {
	if s.State() != stateStarted {
		return
	}

	members := s.db.Members()
	stale := 0
	for _, m := range members {
		if now.Sub(m.LastActivity()) > maxTimeWithoutLivenessSeconds {
			s.db.Remove(m.SSRC)
			stale++
		}
	}
	if len(members) > 0 && stale == len(members) {
		mgr.log.Warn().Uint32("local_ssrc", s.db.Local.SSRC()).Msg("all members silent past liveness timeout, stopping session")
		if err := s.Stop(s.runContext()); err != nil {
			mgr.log.Warn().Err(err).Msg("failed to stop session after liveness timeout")
		}
	}
}
