package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		rate float64
		want time.Duration
	}{
		{rate: 0, want: 0},
		{rate: -5, want: 0},
		{rate: 100, want: 10 * time.Millisecond},
		{rate: 0.5, want: 2 * time.Second},
	}
	for _, tt := range tests {
		if got := New(tt.rate).Interval(); got != tt.want {
			t.Errorf("New(%v).Interval() = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("nil limiter should not wait")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestWaitSpacing(t *testing.T) {
	l := New(100) // 10ms apart
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 11; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	// First permit is immediate, then ten intervals.
	if elapsed < 90*time.Millisecond {
		t.Errorf("11 permits took %v, want at least ~100ms", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("11 permits took %v, want about 100ms", elapsed)
	}
}

func TestCancelledWaitReturnsPermit(t *testing.T) {
	l := New(100)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
	}

	// Leaked slots would push these nine permits out to ~190ms.
	start := time.Now()
	for i := 0; i < 9; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("9 permits took %v after cancelled waits, want ~90ms", elapsed)
	}
}

func TestIdleDoesNotAccumulateBurst(t *testing.T) {
	l := New(50) // 20ms apart
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// One immediate permit, then two intervals.
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 permits after idle took %v, want >= ~40ms", elapsed)
	}
}
