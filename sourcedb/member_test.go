package sourcedb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpdateSeqInSequence(t *testing.T) {
	m := NewMemberEntry(1, 100)
	require.True(t, m.UpdateSeq(101))
	require.True(t, m.UpdateSeq(102))
	require.EqualValues(t, 0, m.CumulativeLost())
}

func TestUpdateSeqDropout(t *testing.T) {
	m := NewMemberEntry(1, 100)
	require.True(t, m.UpdateSeq(101)) // 1st in-order packet: still on probation
	require.True(t, m.UpdateSeq(102)) // exits probation on the 2nd in-order packet
	require.True(t, m.UpdateSeq(106)) // 3 missing: 103,104,105
	require.EqualValues(t, 3, m.CumulativeLost())
}

func TestUpdateSeqRolloverCycles(t *testing.T) {
	m := NewMemberEntry(1, 65533)
	require.True(t, m.UpdateSeq(65534)) // still on probation
	require.True(t, m.UpdateSeq(65535)) // exits probation
	require.True(t, m.UpdateSeq(0))
	require.EqualValues(t, 65536, m.ExtendedMaxSeq())
}

func TestFractionLostResetsInterval(t *testing.T) {
	m := NewMemberEntry(1, 0)
	require.True(t, m.UpdateSeq(1))
	require.True(t, m.UpdateSeq(2))
	require.EqualValues(t, 0, m.FractionLost())

	require.True(t, m.UpdateSeq(6)) // 3 lost: 3,4,5
	frac := m.FractionLost()
	require.Greater(t, frac, uint8(0))

	// calling again immediately with no new activity reports 0, since the
	// interval counters were reset by the prior call.
	require.EqualValues(t, 0, m.FractionLost())
}

func TestJitterAccumulates(t *testing.T) {
	m := NewMemberEntry(1, 0)
	m.UpdateJitter(1000, 0)
	require.EqualValues(t, 0, m.Jitter())
	m.UpdateJitter(2000, 900) // transit delta of 100
	require.Greater(t, m.Jitter(), 0.0)
}

func TestLastSRAndDelay(t *testing.T) {
	m := NewMemberEntry(1, 0)
	_, _, ok := m.LastSRAndDelay(time.Now())
	require.False(t, ok)

	m.RecordSenderReport(0x1122334455667788, time.Now().Add(-2*time.Second))
	lsr, delay, ok := m.LastSRAndDelay(time.Now())
	require.True(t, ok)
	require.EqualValues(t, uint32(0x33445566), lsr)
	require.InDelta(t, 2*65536, int(delay), 65536*0.1)
}

func TestProbationRejectsOutOfOrderFirstPackets(t *testing.T) {
	m := NewMemberEntry(1, 10)
	// first call to UpdateSeq after construction is seq 10+1=11 expected
	require.True(t, m.UpdateSeq(11))
	require.False(t, m.UpdateSeq(50)) // breaks probation sequencing
}
