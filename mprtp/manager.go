package mprtp

import "sync"

// Manager owns the set of flows for one MPRTP session, keyed by flow id,
// per §4.6: "Each `interface:<i> ip:port` declaration becomes a flow".
type Manager struct {
	mu    sync.RWMutex
	flows map[uint16]*Flow
	// bindings restricts which remote interface index a local interface
	// binds to, per an optional `bind:<j>` SDP line; absent entries mean
	// full mesh.
	bindings map[uint16][]uint16
}

// NewManager creates an empty flow manager.
func NewManager() *Manager {
	return &Manager{
		flows:    make(map[uint16]*Flow),
		bindings: make(map[uint16][]uint16),
	}
}

// AddFlow registers a new flow id, creating its Flow if not already
// present.
func (m *Manager) AddFlow(id uint16) *Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		f = NewFlow(id)
		m.flows[id] = f
	}
	return f
}

// Bind restricts localFlow to only send toward remoteFlows, per an
// `a=mprtp bind:<j>` attribute.
func (m *Manager) Bind(localFlow uint16, remoteFlows []uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[localFlow] = append([]uint16(nil), remoteFlows...)
}

// AllowedRemotes returns the remote flow ids localFlow may target. An empty
// result with ok=false means no restriction was configured (full mesh).
func (m *Manager) AllowedRemotes(localFlow uint16) (remotes []uint16, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	remotes, ok = m.bindings[localFlow]
	return
}

// Flow returns the flow for id, or nil if unknown.
func (m *Manager) Flow(id uint16) *Flow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flows[id]
}

// Flows returns a snapshot of all known flows.
func (m *Manager) Flows() []*Flow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		out = append(out, f)
	}
	return out
}

// FindSubflowWithSmallestRTT implements §4.6's
// find_subflow_with_smallest_rtt: the flow id with the minimum observed
// RTT, using the 100-second sentinel for unmeasured paths. Returns false
// if no flows are registered.
func (m *Manager) FindSubflowWithSmallestRTT() (uint16, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Flow
	var bestRTT float64
	for _, f := range m.flows {
		rtt := f.Path.RTTSeconds()
		if best == nil || rtt < bestRTT {
			best = f
			bestRTT = rtt
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID, true
}
