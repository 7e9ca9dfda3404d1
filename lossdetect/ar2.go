package lossdetect

import (
	"sync"
	"time"
)

// AR2 implements the §4.3 "AR2" predictor: identical timer-rearm framing to
// MovingAverage, but the next inter-arrival interval is predicted by a
// second-order autoregressive model fitted over the interval history
// (x_n = a1*x_n-1 + a2*x_n-2) via the Yule-Walker equations, rather than a
// plain mean/sigma band.
type AR2 struct {
	mu sync.Mutex

	onLost          LostFunc
	onFalsePositive FalsePositiveFunc
	afterFunc       func(d time.Duration, f func()) stoppableTimer

	windowSize int
	margin     time.Duration

	intervals   []float64
	lastArrival time.Time
	haveLast    bool

	pendingSN   uint16
	havePending bool
	timer       stoppableTimer

	assumedLost assumedLostSet
}

// AR2Option configures an AR2 predictor.
type AR2Option func(*AR2)

// WithAR2WindowSize overrides the default window size N.
func WithAR2WindowSize(n int) AR2Option {
	return func(a *AR2) { a.windowSize = n }
}

// WithAR2Margin adds a fixed margin to the predicted arrival time.
func WithAR2Margin(d time.Duration) AR2Option {
	return func(a *AR2) { a.margin = d }
}

// NewAR2 creates an AR2 predictor.
func NewAR2(onLost LostFunc, onFalsePositive FalsePositiveFunc, opts ...AR2Option) *AR2 {
	a := &AR2{
		onLost:          onLost,
		onFalsePositive: onFalsePositive,
		windowSize:      DefaultWindowSize,
		assumedLost:     newAssumedLostSet(),
	}
	a.afterFunc = func(d time.Duration, f func()) stoppableTimer {
		return time.AfterFunc(d, f)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnPacketArrival implements Predictor.
func (a *AR2) OnPacketArrival(when time.Time, sn uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.assumedLost.checkFalsePositive(sn) && a.onFalsePositive != nil {
		a.onFalsePositive(sn)
	}

	if a.haveLast {
		interval := when.Sub(a.lastArrival).Seconds()
		a.intervals = append(a.intervals, interval)
		if len(a.intervals) > a.windowSize {
			a.intervals = a.intervals[len(a.intervals)-a.windowSize:]
		}
	}
	a.lastArrival = when
	a.haveLast = true

	a.rearmLocked(sn + 1)
}

func (a *AR2) rearmLocked(nextSN uint16) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.pendingSN = nextSN
	a.havePending = true

	predicted := predictAR2(a.intervals)
	if predicted < 0 {
		predicted = 0
	}
	delay := time.Duration(predicted*float64(time.Second)) + a.margin

	sn := nextSN
	a.timer = a.afterFunc(delay, func() { a.fireTimeout(sn) })
}

func (a *AR2) fireTimeout(sn uint16) {
	a.mu.Lock()
	if !a.havePending || a.pendingSN != sn {
		a.mu.Unlock()
		return
	}
	a.havePending = false
	a.assumedLost.markLost(sn)
	cb := a.onLost
	a.mu.Unlock()
	if cb != nil {
		cb(sn)
	}
}

// OnRtxRequested is a no-op: AR2's timeout is purely interval-driven.
func (a *AR2) OnRtxRequested(time.Time, uint16) {}

// OnRtxPacketArrival clears a pending false-positive mark for sn.
func (a *AR2) OnRtxPacketArrival(_ time.Time, sn uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assumedLost.checkFalsePositive(sn)
}

// Reset clears all predictor state and stops the pending timer.
func (a *AR2) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.intervals = nil
	a.haveLast = false
	a.havePending = false
	a.assumedLost.clear()
}

// predictAR2 fits a second-order autoregressive model to xs via the
// Yule-Walker equations and returns the one-step-ahead prediction. With
// fewer than 3 samples it falls back to the plain mean.
func predictAR2(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if n < 3 {
		mean, _ := meanStdDev(xs)
		return mean
	}

	mean, _ := meanStdDev(xs)
	var r0, r1, r2 float64
	for i := 0; i < n; i++ {
		d0 := xs[i] - mean
		r0 += d0 * d0
	}
	for i := 1; i < n; i++ {
		r1 += (xs[i] - mean) * (xs[i-1] - mean)
	}
	for i := 2; i < n; i++ {
		r2 += (xs[i] - mean) * (xs[i-2] - mean)
	}
	r0 /= float64(n)
	r1 /= float64(n - 1)
	r2 /= float64(n - 2)

	if r0 == 0 {
		return mean
	}
	rho1 := r1 / r0
	rho2 := r2 / r0

	denom := 1 - rho1*rho1
	if denom == 0 {
		return mean
	}
	a1 := rho1 * (1 - rho2) / denom
	a2 := (rho2 - rho1*rho1) / denom

	xLast := xs[n-1]
	xPrev := xs[n-2]
	prediction := mean + a1*(xLast-mean) + a2*(xPrev-mean)
	return prediction
}
