package tracker

import (
	"math"
	"testing"
)

func TestLatencyStatsBasic(t *testing.T) {
	s := newLatencyStats()
	if s.snapshot() != nil {
		t.Fatal("expected nil snapshot for empty stats")
	}

	for i := 0; i < 100; i++ {
		s.add(float64(i))
	}

	stats := s.snapshot()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Min != 0 || stats.Max != 99 {
		t.Errorf("Min/Max = %v/%v, want 0/99", stats.Min, stats.Max)
	}
	if math.Abs(stats.Avg-49.5) > 0.001 {
		t.Errorf("Avg = %v, want 49.5", stats.Avg)
	}
	if math.Abs(stats.P50-49.5) > 0.001 {
		t.Errorf("P50 = %v, want 49.5", stats.P50)
	}
	if math.Abs(stats.P99-98.01) > 0.001 {
		t.Errorf("P99 = %v, want 98.01", stats.P99)
	}
}

func TestLatencyStatsReservoirBounded(t *testing.T) {
	s := newLatencyStats()
	for i := 0; i < reservoirSize*2; i++ {
		s.add(float64(i % 1000))
	}
	if len(s.reservoir) != reservoirSize {
		t.Errorf("reservoir size = %d, want %d", len(s.reservoir), reservoirSize)
	}
	stats := s.snapshot()
	if stats.Count != reservoirSize*2 {
		t.Errorf("Count = %d", stats.Count)
	}
	// Uniform 0..999, so the median estimate should land near 500.
	if stats.P50 < 400 || stats.P50 > 600 {
		t.Errorf("P50 = %v, want ~500", stats.P50)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{7}, 0.99, 7},
		{"interpolated", []float64{0, 10}, 0.5, 5},
		{"max", []float64{1, 2, 3}, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.sorted, tt.p); got != tt.want {
				t.Errorf("percentile() = %v, want %v", got, tt.want)
			}
		})
	}
}
