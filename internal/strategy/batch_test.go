package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txstress/internal/dispatch"
	"github.com/gateway-fm/txstress/pkg/types"
)

// batchGate holds every dispatch until its whole batch has arrived, so a
// driver that awaited dispatches one by one would stall and fail the test.
type batchGate struct {
	t     *testing.T
	sizes []int

	mu        sync.Mutex
	arrivals  int
	completed int
	gates     []chan struct{}
	startSeen [][]int // completed count observed by each dispatch, per batch
}

func newBatchGate(t *testing.T, sizes ...int) *batchGate {
	g := &batchGate{t: t, sizes: sizes}
	for range sizes {
		g.gates = append(g.gates, make(chan struct{}))
		g.startSeen = append(g.startSeen, nil)
	}
	return g
}

func (g *batchGate) batchOf(i int) (batch, end int) {
	for b, n := range g.sizes {
		end += n
		if i < end {
			return b, end
		}
	}
	return -1, end
}

func (g *batchGate) arrive(dispatch.Request) {
	g.mu.Lock()
	idx := g.arrivals
	g.arrivals++
	b, end := g.batchOf(idx)
	if b < 0 {
		g.mu.Unlock()
		g.t.Errorf("unexpected dispatch %d", idx+1)
		return
	}
	g.startSeen[b] = append(g.startSeen[b], g.completed)
	if idx == end-1 {
		close(g.gates[b])
	}
	g.mu.Unlock()

	select {
	case <-g.gates[b]:
	case <-time.After(2 * time.Second):
		g.t.Errorf("batch %d never filled: dispatches were not concurrent", b+1)
	}

	g.mu.Lock()
	g.completed++
	g.mu.Unlock()
}

func TestBatchSizes(t *testing.T) {
	cfg, sender, _, metrics := newHarness(t, wallets(t, "1", "1"), 7)
	cfg.ManualNonce = true
	gate := newBatchGate(t, 3, 3, 1)
	sender.onSend = gate.arrive

	res, err := NewBatch(cfg, BatchConfig{Size: 3}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Every dispatch in batch k starts after all of batch k-1 finished.
	wantStart := []int{0, 3, 6}
	for b, seen := range gate.startSeen {
		if len(seen) != gate.sizes[b] {
			t.Errorf("batch %d had %d dispatches, want %d", b+1, len(seen), gate.sizes[b])
		}
		for _, c := range seen {
			if c != wantStart[b] {
				t.Errorf("batch %d dispatch started after %d completions, want %d", b+1, c, wantStart[b])
			}
		}
	}
	if res.Sent != 7 || res.Stats.Completed != 7 {
		t.Errorf("sent/completed = %d/%d, want 7/7", res.Sent, res.Stats.Completed)
	}
	for _, r := range sender.requests() {
		if !r.ManualNonce {
			t.Error("ManualNonce not passed through")
			break
		}
	}
	assertStates(t, metrics, types.StateInitializing, types.StateRunning, types.StateDraining, types.StateDone)
}

func TestBatchRoundRobinSkipsDust(t *testing.T) {
	accounts := wallets(t, "1", "0.001", "1")
	cfg, sender, _, _ := newHarness(t, accounts, 4)

	res, err := NewBatch(cfg, BatchConfig{Size: 4}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	counts := fromCounts(sender.requests())
	if counts[accounts[0].Address] != 2 || counts[accounts[2].Address] != 2 {
		t.Errorf("per-wallet dispatches = %v, want 2 each from wallets 0 and 2", counts)
	}
	if counts[accounts[1].Address] != 0 {
		t.Error("dust wallet must not send")
	}
	if res.Sent != 4 || res.Skipped != 2 {
		t.Errorf("sent/skipped = %d/%d, want 4/2", res.Sent, res.Skipped)
	}
}

func TestBatchCursorSpansBatches(t *testing.T) {
	accounts := wallets(t, "1", "1", "1")
	cfg, sender, _, _ := newHarness(t, accounts, 4)

	if _, err := NewBatch(cfg, BatchConfig{Size: 2}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	counts := fromCounts(sender.requests())
	// Wallets 0,1 then 2,0.
	want := map[common.Address]int{accounts[0].Address: 2, accounts[1].Address: 1, accounts[2].Address: 1}
	for addr, n := range want {
		if counts[addr] != n {
			t.Errorf("wallet %s sent %d, want %d", addr.Hex(), counts[addr], n)
		}
	}
}

func TestBatchDelay(t *testing.T) {
	cfg, _, _, _ := newHarness(t, wallets(t, "1"), 4)
	cfg.ManualNonce = true

	start := time.Now()
	if _, err := NewBatch(cfg, BatchConfig{Size: 2, Delay: 60 * time.Millisecond}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// One pause between the two batches, none after the last.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed %v, want at least one 60ms delay", elapsed)
	}
}

func TestBatchFailuresCounted(t *testing.T) {
	accounts := wallets(t, "1", "1")
	cfg, sender, _, _ := newHarness(t, accounts, 6)
	sender.failFrom = map[common.Address]bool{accounts[0].Address: true}

	res, err := NewBatch(cfg, BatchConfig{Size: 3}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 6 || res.Failed != 3 || res.Stats.Completed != 3 {
		t.Errorf("sent/failed/completed = %d/%d/%d, want 6/3/3", res.Sent, res.Failed, res.Stats.Completed)
	}
}

func TestBatchDrainTimeoutReportsStragglers(t *testing.T) {
	cfg, sender, _, _ := newHarness(t, wallets(t, "1"), 3)
	sender.confirmAfter = 0
	cfg.DrainTimeout = 20 * time.Millisecond

	res, err := NewBatch(cfg, BatchConfig{Size: 3}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, drain timeout is not an error", err)
	}
	if res.State != types.StateDone {
		t.Errorf("State = %s, want done", res.State)
	}
	if len(res.Stragglers) != 3 || res.Stats.Pending != 3 {
		t.Errorf("stragglers/pending = %d/%d, want 3/3", len(res.Stragglers), res.Stats.Pending)
	}
}

func TestBatchPreconditions(t *testing.T) {
	tests := []struct {
		name     string
		balances []string
		wantErr  error
	}{
		{"no funded wallet", []string{"0", "0"}, ErrNoFundedWallet},
		{"only dust", []string{"0.0009", "0"}, ErrNoEligibleWallet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, sender, _, _ := newHarness(t, wallets(t, tt.balances...), 3)
			res, err := NewBatch(cfg, BatchConfig{Size: 2}).Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if res.State != types.StateFailed || len(sender.requests()) != 0 {
				t.Errorf("state = %s, dispatched = %d", res.State, len(sender.requests()))
			}
		})
	}
}
