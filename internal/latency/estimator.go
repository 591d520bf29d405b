// Package latency estimates the one-way latency of a peer.
package latency

import (
	"sync"
	"time"
)

// Estimator smooths the latency samples with a double exponential
// (level and trend) filter.
// It is safe for concurrent use.
type Estimator struct {
	mux sync.Mutex

	alpha float64
	beta  float64

	level float64
	trend float64

	sampleCount int
}

// NewEstimator returns an estimator with the given smoothing factors,
// both in (0, 1]. Alpha weights the new samples against the level,
// beta weights the new trend against the previous one.
func NewEstimator(alpha, beta float64) *Estimator {
	return &Estimator{
		alpha: alpha,
		beta:  beta,
	}
}

// Add adds a sample and returns the estimated latency.
// The estimate is never negative.
func (e *Estimator) Add(sample time.Duration) time.Duration {
	e.mux.Lock()
	defer e.mux.Unlock()

	value := float64(sample)

	switch e.sampleCount {
	case 0:
		e.level = value
		e.trend = 0

	default:
		// The second sample gives the first trend
		if e.sampleCount == 1 {
			e.trend = value - e.level
		}

		forecast := e.level + e.trend

		level := e.alpha*value + (1-e.alpha)*forecast
		e.trend = e.beta*(level-e.level) + (1-e.beta)*e.trend
		e.level = level
	}

	e.sampleCount++

	return time.Duration(max(e.level+e.trend, 0))
}

// SampleCount returns the number of samples added since the last reset.
func (e *Estimator) SampleCount() int {
	e.mux.Lock()
	defer e.mux.Unlock()

	return e.sampleCount
}

// Reset forgets all the samples.
func (e *Estimator) Reset() {
	e.mux.Lock()
	defer e.mux.Unlock()

	e.level = 0
	e.trend = 0
	e.sampleCount = 0
}
