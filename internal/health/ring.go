package health

import (
	"sort"
	"time"
)

// attemptSample is one collection attempt folded into the ring
type attemptSample struct {
	at        time.Time
	ok        bool
	latencyMs int64
	category  string
}

// ring is a fixed-capacity buffer of the most recent attempts for one
// collector. It is not safe for concurrent use; only the tracker loop
// touches it.
type ring struct {
	samples []attemptSample
	head    int
	count   int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ring{samples: make([]attemptSample, capacity)}
}

func (r *ring) add(s attemptSample) {
	r.samples[r.head] = s
	r.head = (r.head + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

// each visits the retained samples in insertion order
func (r *ring) each(fn func(attemptSample)) {
	start := r.head - r.count
	if start < 0 {
		start += len(r.samples)
	}
	for i := 0; i < r.count; i++ {
		fn(r.samples[(start+i)%len(r.samples)])
	}
}

// successRate returns the share of successful attempts inside the window and
// the number of attempts it saw.
func (r *ring) successRate(now time.Time, window time.Duration) (float64, int) {
	cutoff := now.Add(-window)
	total, ok := 0, 0
	r.each(func(s attemptSample) {
		if s.at.Before(cutoff) {
			return
		}
		total++
		if s.ok {
			ok++
		}
	})
	if total == 0 {
		return 0, 0
	}
	return float64(ok) / float64(total), total
}

// latencyStats returns mean, p50 and p95 response times over the window.
// Percentiles use the nearest-rank method.
func (r *ring) latencyStats(now time.Time, window time.Duration) (mean, p50, p95 float64, n int) {
	cutoff := now.Add(-window)
	var latencies []float64
	var sum float64
	r.each(func(s attemptSample) {
		if s.at.Before(cutoff) {
			return
		}
		v := float64(s.latencyMs)
		latencies = append(latencies, v)
		sum += v
	})

	n = len(latencies)
	if n == 0 {
		return 0, 0, 0, 0
	}

	sort.Float64s(latencies)
	mean = sum / float64(n)
	p50 = percentile(latencies, 0.50)
	p95 = percentile(latencies, 0.95)
	return mean, p50, p95, n
}

// latencyHalves splits the window's samples into an older and a newer half by
// insertion order and returns the mean latency of each. Used for trend
// estimation; n is the total sample count.
func (r *ring) latencyHalves(now time.Time, window time.Duration) (older, newer float64, n int) {
	cutoff := now.Add(-window)
	var latencies []float64
	r.each(func(s attemptSample) {
		if s.at.Before(cutoff) {
			return
		}
		latencies = append(latencies, float64(s.latencyMs))
	})

	n = len(latencies)
	if n < 2 {
		return 0, 0, n
	}

	mid := n / 2
	for _, v := range latencies[:mid] {
		older += v
	}
	for _, v := range latencies[mid:] {
		newer += v
	}
	older /= float64(mid)
	newer /= float64(n - mid)
	return older, newer, n
}

// failureCounts bins failures into per-minute buckets over the trailing
// lookback, oldest minute first. The series length equals minutes.
func (r *ring) failureCounts(now time.Time, minutes int) []float64 {
	series := make([]float64, minutes)
	r.each(func(s attemptSample) {
		if s.ok {
			return
		}
		age := now.Sub(s.at)
		if age < 0 {
			age = 0
		}
		idx := minutes - 1 - int(age/time.Minute)
		if idx < 0 || idx >= minutes {
			return
		}
		series[idx]++
	})
	return series
}

// percentile expects sorted input and returns the nearest-rank percentile
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(float64(len(sorted))*p+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
