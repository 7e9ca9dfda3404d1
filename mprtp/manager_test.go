package mprtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSubflowDisciplineIndependentCounters is the literal scenario: two
// flows {0,1}; four packets scheduled alternately 0,1,0,1 should carry
// FSSNs 0,0,1,1 respectively since each flow keeps its own counter.
func TestSubflowDisciplineIndependentCounters(t *testing.T) {
	m := NewManager()
	flow0 := m.AddFlow(0)
	flow1 := m.AddFlow(1)

	order := []*Flow{flow0, flow1, flow0, flow1}
	var got []uint16
	for _, f := range order {
		got = append(got, f.NextFSSN())
	}

	require.Equal(t, []uint16{0, 0, 1, 1}, got)
}

func TestFindSubflowWithSmallestRTTUsesSentinelWhenUnmeasured(t *testing.T) {
	m := NewManager()
	f0 := m.AddFlow(0)
	f1 := m.AddFlow(1)
	f1.Path.RecordRTT(0.05)

	best, ok := m.FindSubflowWithSmallestRTT()
	require.True(t, ok)
	require.EqualValues(t, 1, best)

	f0.Path.RecordRTT(0.01)
	best, ok = m.FindSubflowWithSmallestRTT()
	require.True(t, ok)
	require.EqualValues(t, 0, best)
}

func TestFindSubflowWithSmallestRTTEmptyManager(t *testing.T) {
	m := NewManager()
	_, ok := m.FindSubflowWithSmallestRTT()
	require.False(t, ok)
}

func TestBindRestrictsAllowedRemotes(t *testing.T) {
	m := NewManager()
	m.AddFlow(0)
	_, ok := m.AllowedRemotes(0)
	require.False(t, ok) // full mesh by default

	m.Bind(0, []uint16{2, 3})
	remotes, ok := m.AllowedRemotes(0)
	require.True(t, ok)
	require.Equal(t, []uint16{2, 3}, remotes)
}

func TestRtxFSSNUsesIndependentCounterFromPrimary(t *testing.T) {
	f := NewFlow(0)
	require.EqualValues(t, 0, f.NextFSSN())
	require.EqualValues(t, 1, f.NextFSSN())
	require.EqualValues(t, 0, f.NextRtxFSSN())
	require.EqualValues(t, 1, f.NextRtxFSSN())
	require.EqualValues(t, 2, f.NextFSSN())
}
