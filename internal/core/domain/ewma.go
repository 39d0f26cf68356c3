package domain

import (
	"math"
	"sync"

	"go.uber.org/atomic"
)

// PeakEwmaState tracks a backend's latency with an exponentially
// weighted moving average that jumps instantly to worse (higher)
// samples but decays gracefully toward better (lower) ones, plus a
// gauge of requests currently in flight.
//
// The average is stored as an IEEE-754 bit pattern inside an atomic
// cell (go.uber.org/atomic.Float64 does this internally) and mutated
// via compare-and-swap retry, so concurrent observers never lose a
// write and never see a torn value.
type PeakEwmaState struct {
	avg           atomic.Float64
	active        atomic.Int64
	decayAlpha    float64
}

// NewPeakEwmaState constructs a tracker with a strictly positive
// baseline average and a decay factor in (0, 1).
func NewPeakEwmaState(initialLatencyMs, decayAlpha float64) *PeakEwmaState {
	if initialLatencyMs <= 0 {
		initialLatencyMs = 1
	}
	if decayAlpha <= 0 || decayAlpha >= 1 {
		decayAlpha = 0.5
	}
	s := &PeakEwmaState{decayAlpha: decayAlpha}
	s.avg.Store(initialLatencyMs)
	return s
}

// ObserveLatency folds a new latency sample (milliseconds) into the
// running average. Negative samples are clamped to zero; NaN samples
// are ignored entirely, since they are caller errors the tracker must
// survive rather than propagate.
func (s *PeakEwmaState) ObserveLatency(sampleMs float64) {
	if math.IsNaN(sampleMs) {
		return
	}
	if sampleMs < 0 {
		sampleMs = 0
	}

	for {
		e := s.avg.Load()

		var next float64
		if sampleMs > e {
			next = sampleMs // peak: jump instantly
		} else {
			next = sampleMs*(1-s.decayAlpha) + e*s.decayAlpha // decay toward the lower sample
		}

		if s.avg.CAS(e, next) {
			return
		}
		// lost the race to a concurrent writer; retry with the fresh value
	}
}

// CurrentEWMA is a lock-free, relaxed read of the current average.
func (s *PeakEwmaState) CurrentEWMA() float64 {
	return s.avg.Load()
}

// ActiveRequests is a lock-free read of the in-flight gauge.
func (s *PeakEwmaState) ActiveRequests() int64 {
	return s.active.Load()
}

// RequestGuard is released exactly once, on whatever exit path a
// request takes (success, error, or cancellation), decrementing the
// in-flight gauge it was issued for.
type RequestGuard struct {
	state *PeakEwmaState
	once  sync.Once
}

// Release decrements the in-flight gauge. Safe to call more than once
// or concurrently; only the first call has effect.
func (g *RequestGuard) Release() {
	g.once.Do(func() {
		g.state.active.Dec()
	})
}

// BeginRequest atomically increments the in-flight gauge and returns a
// scoped guard whose Release undoes it exactly once.
func (s *PeakEwmaState) BeginRequest() *RequestGuard {
	s.active.Inc()
	return &RequestGuard{state: s}
}

// Score is the per-backend cost used by the selector: lower is
// preferred. The +1 terms keep the score non-zero when either factor
// is zero and preserve monotonicity in both the latency and queueing
// dimensions.
func (s *PeakEwmaState) Score() float64 {
	return (s.CurrentEWMA() + 1) * (float64(s.ActiveRequests()) + 1)
}
