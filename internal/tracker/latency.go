package tracker

import (
	"math"
	"sort"

	"github.com/gateway-fm/txstress/pkg/types"
)

// reservoirSize bounds the samples kept for percentile estimation.
const reservoirSize = 10000

// latencyStats is a streaming latency summary. Percentiles come from a
// fixed-size reservoir (Vitter's Algorithm R), everything else is exact.
// It is not safe for concurrent use; the Tracker guards it with its mutex.
type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64

	reservoir []float64
	randState uint64 // xorshift64*
}

func newLatencyStats() *latencyStats {
	return &latencyStats{
		min:       math.MaxFloat64,
		reservoir: make([]float64, 0, 64),
		randState: 1,
	}
}

// add records a latency sample in milliseconds.
func (s *latencyStats) add(ms float64) {
	s.count++
	s.sum += ms
	s.min = min(s.min, ms)
	s.max = max(s.max, ms)

	if len(s.reservoir) < reservoirSize {
		s.reservoir = append(s.reservoir, ms)
		return
	}
	if j := s.fastRand() % uint64(s.count); j < reservoirSize {
		s.reservoir[j] = ms
	}
}

func (s *latencyStats) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// snapshot returns the summary, or nil when no sample was recorded.
func (s *latencyStats) snapshot() *types.LatencyStats {
	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	return &types.LatencyStats{
		Count: int(s.count),
		Min:   s.min,
		Max:   s.max,
		Avg:   s.sum / float64(s.count),
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
