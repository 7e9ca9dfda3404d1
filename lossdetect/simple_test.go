package lossdetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSimpleLossDetectorSoundness checks §8's "Loss detector soundness
// (simple)": if s is presented, s+1..s+k are never presented and s+k+1
// is, exactly k OnLost callbacks fire for s+1..s+k.
func TestSimpleLossDetectorSoundness(t *testing.T) {
	var lost []uint16
	p := NewSimple(func(sn uint16) { lost = append(lost, sn) }, nil)

	base := time.Unix(0, 0)
	p.OnPacketArrival(base, 1)
	p.OnPacketArrival(base.Add(10*time.Millisecond), 5)

	require.Equal(t, []uint16{2, 3, 4}, lost)
}

// TestSimpleLateDetectionFalsePositive is the literal scenario: feed SN=1
// at t=0, SN=3 at t=20ms (expect on_lost(2)); feed SN=2 at t=40ms (expect
// false_positive(2) and on_lost not called again).
func TestSimpleLateDetectionFalsePositive(t *testing.T) {
	var lostCount int
	var falsePositives []uint16

	p := NewSimple(
		func(sn uint16) { lostCount++; require.EqualValues(t, 2, sn) },
		func(sn uint16) bool { falsePositives = append(falsePositives, sn); return false },
	)

	base := time.Unix(0, 0)
	p.OnPacketArrival(base, 1)
	p.OnPacketArrival(base.Add(20*time.Millisecond), 3)
	require.Equal(t, 1, lostCount)

	p.OnPacketArrival(base.Add(40*time.Millisecond), 2)
	require.Equal(t, []uint16{2}, falsePositives)
	require.Equal(t, 1, lostCount) // on_lost not called again
}

func TestSimpleResetsOnLargeSequenceJump(t *testing.T) {
	var lost []uint16
	p := NewSimple(func(sn uint16) { lost = append(lost, sn) }, nil)

	base := time.Unix(0, 0)
	p.OnPacketArrival(base, 100)
	// jump far beyond maxDropout but within the "misorder reset" band
	p.OnPacketArrival(base.Add(time.Millisecond), 40000)
	require.Empty(t, lost)

	// after reset, the next arrival re-initializes the baseline
	p.OnPacketArrival(base.Add(2*time.Millisecond), 40005)
	require.Empty(t, lost)
}
