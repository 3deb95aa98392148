package metrics

import (
	"sync"
	"time"
)

// RateTracker keeps a bounded window of counter samples and derives a per
// second rate from the oldest and newest of them.
type RateTracker struct {
	mu         sync.RWMutex
	samples    []Sample
	windowSize time.Duration
	maxSamples int
}

type Sample struct {
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRateTracker(windowSize time.Duration, maxSamples int) *RateTracker {
	return &RateTracker{
		samples:    make([]Sample, 0, maxSamples),
		windowSize: windowSize,
		maxSamples: maxSamples,
	}
}

func (rt *RateTracker) Record(totalCount int64) {
	rt.recordAt(totalCount, time.Now())
}

func (rt *RateTracker) recordAt(totalCount int64, now time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.samples = append(rt.samples, Sample{Count: totalCount, Timestamp: now})

	// Prune samples outside the window
	cutoff := now.Add(-rt.windowSize)
	first := 0
	for first < len(rt.samples) && !rt.samples[first].Timestamp.After(cutoff) {
		first++
	}
	if first > 0 {
		n := copy(rt.samples, rt.samples[first:])
		rt.samples = rt.samples[:n]
	}

	if len(rt.samples) > rt.maxSamples {
		excess := len(rt.samples) - rt.maxSamples
		n := copy(rt.samples, rt.samples[excess:])
		rt.samples = rt.samples[:n]
	}
}

// Rate computes the rate of change per second based on the recorded samples.
func (rt *RateTracker) Rate() float64 {
	_, rate := rt.GetStats()
	return rate
}

// GetStats returns the newest sample's count and the current rate.
func (rt *RateTracker) GetStats() (count int64, rate float64) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if len(rt.samples) == 0 {
		return 0, 0.0
	}

	newest := rt.samples[len(rt.samples)-1]
	count = newest.Count

	if len(rt.samples) >= 2 {
		oldest := rt.samples[0]
		elapsed := newest.Timestamp.Sub(oldest.Timestamp).Seconds()
		if elapsed > 0 {
			rate = float64(newest.Count-oldest.Count) / elapsed
		}
	}

	return count, rate
}

func (rt *RateTracker) GetSamples() []Sample {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	samplesCopy := make([]Sample, len(rt.samples))
	copy(samplesCopy, rt.samples)
	return samplesCopy
}

// GetSamplesForDuration returns the samples taken within the last d.
func (rt *RateTracker) GetSamplesForDuration(d time.Duration) []Sample {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	cutoff := time.Now().Add(-d)
	out := make([]Sample, 0, len(rt.samples))
	for _, s := range rt.samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (rt *RateTracker) Clear() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.samples = rt.samples[:0]
}
