package lossdetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAR2FiresOnLostWhenTimerExpires(t *testing.T) {
	var lost []uint16
	a := NewAR2(func(sn uint16) { lost = append(lost, sn) }, nil)

	var captured *fakeTimer
	a.afterFunc = func(_ time.Duration, f func()) stoppableTimer {
		captured = &fakeTimer{fn: f}
		return captured
	}

	base := time.Unix(0, 0)
	a.OnPacketArrival(base, 5)
	require.NotNil(t, captured)
	captured.fn()
	require.Equal(t, []uint16{6}, lost)
}

func TestPredictAR2FallsBackToMeanWithFewSamples(t *testing.T) {
	require.InDelta(t, 0.02, predictAR2([]float64{0.02}), 1e-9)
	require.Equal(t, 0.0, predictAR2(nil))
}

func TestPredictAR2TracksStableInterval(t *testing.T) {
	xs := []float64{0.02, 0.021, 0.019, 0.02, 0.0205, 0.0195}
	got := predictAR2(xs)
	require.InDelta(t, 0.02, got, 0.005)
}
