package sourcedb

import (
	"sync"

	"github.com/google/uuid"
)

// SessionDatabase is the per-session SSRC/SN/TS local state plus the map of
// discovered remote members, §3 "SessionDatabase". It is owned exclusively
// by the RtpSession that created it; no other component mutates it.
type SessionDatabase struct {
	Local *RtpSessionState

	mu      sync.RWMutex
	members map[uint32]*MemberEntry
}

// NewSessionDatabase wraps local session state with an empty member table.
func NewSessionDatabase(local *RtpSessionState) *SessionDatabase {
	return &SessionDatabase{Local: local, members: make(map[uint32]*MemberEntry)}
}

// MemberFor returns the MemberEntry for ssrc, creating a fresh probationary
// entry anchored at firstSeq if this is the first time the SSRC has been
// seen.
func (d *SessionDatabase) MemberFor(ssrc uint32, firstSeq uint16) *MemberEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[ssrc]
	if !ok {
		m = NewMemberEntry(ssrc, firstSeq)
		d.members[ssrc] = m
	}
	return m
}

// Lookup returns the member for ssrc without creating one.
func (d *SessionDatabase) Lookup(ssrc uint32) (*MemberEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[ssrc]
	return m, ok
}

// Remove drops a member, used on BYE receipt or liveness timeout.
func (d *SessionDatabase) Remove(ssrc uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, ssrc)
}

// Members returns a snapshot slice of all known members.
func (d *SessionDatabase) Members() []*MemberEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*MemberEntry, 0, len(d.members))
	for _, m := range d.members {
		out = append(out, m)
	}
	return out
}

// Count returns the number of known remote members.
func (d *SessionDatabase) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members)
}

// GenerateCNAME builds an RFC 3550 §6.5.1-style canonical name for use in
// SDES chunks when the caller hasn't supplied one explicitly. It is always
// a random UUID followed by "@rtpcore"; no host name is looked up.
func GenerateCNAME() string {
	return uuid.NewString() + "@rtpcore"
}
