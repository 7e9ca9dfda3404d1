package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerSweepDropsStaleMembersAndStopsEmptySession(t *testing.T) {
	s := newTestSession(t, newFakeInterface())
	require.NoError(t, s.Start(context.Background()))

	member := s.db.MemberFor(0xAAAA, 1)
	require.NotNil(t, member)
	require.Equal(t, 1, s.db.Count())

	mgr := NewManager(ManagerConfig{})
	mgr.Register(s)

	mgr.sweep(time.Now().Add(maxTimeWithoutLivenessSeconds + time.Second))

	require.Equal(t, 0, s.db.Count())
	require.Equal(t, stateStopped, s.State())
}

func TestManagerSweepIgnoresLiveMembers(t *testing.T) {
	s := newTestSession(t, newFakeInterface())
	require.NoError(t, s.Start(context.Background()))

	member := s.db.MemberFor(0xBEEF, 1)
	member.Touch(time.Now())

	mgr := NewManager(ManagerConfig{})
	mgr.Register(s)
	mgr.sweep(time.Now())

	require.Equal(t, 1, s.db.Count())
	require.Equal(t, stateStarted, s.State())
}

func TestManagerSweepSkipsSessionsNotStarted(t *testing.T) {
	s := newTestSession(t, newFakeInterface())
	mgr := NewManager(ManagerConfig{})
	mgr.Register(s)

	require.NotPanics(t, func() {
		mgr.sweep(time.Now().Add(time.Hour))
	})
	require.Equal(t, stateStopped, s.State())
}
