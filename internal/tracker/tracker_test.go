package tracker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txstress/internal/rpc"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu        sync.Mutex
	submitted []common.Hash
	confirmed []Tx
}

func (o *recordingObserver) TxSubmitted(tx Tx) {
	o.mu.Lock()
	o.submitted = append(o.submitted, tx.Hash)
	o.mu.Unlock()
}

func (o *recordingObserver) TxConfirmed(tx Tx) {
	o.mu.Lock()
	o.confirmed = append(o.confirmed, tx)
	o.mu.Unlock()
}

func hash(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func newTestTracker(clock *fakeClock, observers ...Observer) *Tracker {
	return New(Config{
		Observers:       observers,
		FetchAttempts:   3,
		FetchRetryDelay: time.Millisecond,
		now:             clock.Now,
	})
}

func TestRegister(t *testing.T) {
	obs := &recordingObserver{}
	tr := newTestTracker(newFakeClock(), obs)

	if !tr.Register(hash(1)) {
		t.Fatal("Register() = false for new hash")
	}
	if tr.Register(hash(1)) {
		t.Error("Register() = true for duplicate pending hash")
	}
	if got := tr.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}

	tr.OnNewBlock(10, []common.Hash{hash(1)})
	if tr.Register(hash(1)) {
		t.Error("Register() = true for completed hash")
	}
	if tr.PendingCount() != 0 || tr.CompletedCount() != 1 {
		t.Errorf("pending/completed = %d/%d, want 0/1", tr.PendingCount(), tr.CompletedCount())
	}
	if len(obs.submitted) != 1 {
		t.Errorf("submitted events = %d, want 1", len(obs.submitted))
	}
}

func TestOnNewBlock(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	tr := newTestTracker(clock, obs)

	tr.Register(hash(1))
	tr.Register(hash(2))
	tr.Register(hash(3))
	clock.Advance(1500 * time.Millisecond)

	got := tr.OnNewBlock(100, []common.Hash{hash(9), hash(1), hash(3)})
	if got != 2 {
		t.Fatalf("OnNewBlock() confirmed %d, want 2", got)
	}

	tx, ok := tr.lookup(hash(1))
	if !ok || !tx.Confirmed {
		t.Fatalf("lookup(1) = %+v, %v; want confirmed", tx, ok)
	}
	if tx.Block != 100 {
		t.Errorf("Block = %d, want 100", tx.Block)
	}
	if tx.Latency != 1500*time.Millisecond {
		t.Errorf("Latency = %v, want 1.5s", tx.Latency)
	}

	pending, ok := tr.lookup(hash(2))
	if !ok || pending.Confirmed || pending.Block != 0 || pending.Latency != 0 {
		t.Errorf("lookup(2) = %+v, want untouched pending entry", pending)
	}
	if _, ok := tr.lookup(hash(9)); ok {
		t.Error("unrelated hash must not become tracked")
	}
	if len(obs.confirmed) != 2 {
		t.Errorf("confirmed events = %d, want 2", len(obs.confirmed))
	}
}

func TestOnNewBlockIdempotent(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.Register(hash(1))
	tr.Register(hash(2))

	clock.Advance(time.Second)
	tr.OnNewBlock(5, []common.Hash{hash(1)})
	clock.Advance(time.Second)

	// Duplicate and stale deliveries change nothing.
	if n := tr.OnNewBlock(5, []common.Hash{hash(1)}); n != 0 {
		t.Errorf("duplicate delivery confirmed %d", n)
	}
	if n := tr.OnNewBlock(4, nil); n != 0 {
		t.Errorf("empty block confirmed %d", n)
	}

	tx, _ := tr.lookup(hash(1))
	if tx.Block != 5 || tx.Latency != time.Second {
		t.Errorf("completed entry changed: %+v", tx)
	}

	// An older block arriving late still confirms what it contains.
	if n := tr.OnNewBlock(3, []common.Hash{hash(2)}); n != 1 {
		t.Errorf("out-of-order block confirmed %d, want 1", n)
	}
	if tr.PendingCount() != 0 || tr.CompletedCount() != 2 {
		t.Errorf("pending/completed = %d/%d", tr.PendingCount(), tr.CompletedCount())
	}
}

func TestMinedBeforeRegistration(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.OnNewBlock(7, []common.Hash{hash(42)})
	clock.Advance(100 * time.Millisecond)
	tr.Register(hash(42))

	tx, ok := tr.lookup(hash(42))
	if !ok || !tx.Confirmed || tx.Block != 7 {
		t.Fatalf("lookup() = %+v, %v; want confirmed in block 7", tx, ok)
	}
	if tx.HasLatency || tx.Latency != 0 {
		t.Errorf("latency = %v (recorded %v), want none", tx.Latency, tx.HasLatency)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", tr.PendingCount())
	}
}

func TestMinedBeforeRegistrationSkipsLatencyStats(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.Register(hash(1))
	clock.Advance(2 * time.Second)
	tr.OnNewBlock(1, []common.Hash{hash(1), hash(2)})
	tr.Register(hash(2))

	s := tr.Stats()
	if s.Completed != 2 {
		t.Fatalf("Completed = %d, want 2", s.Completed)
	}
	if s.AvgLatency != 2*time.Second {
		t.Errorf("AvgLatency = %v, want 2s", s.AvgLatency)
	}
	if s.Latency == nil || s.Latency.Count != 1 || s.Latency.Min != 2000 {
		t.Errorf("Latency = %+v, want one 2000ms sample", s.Latency)
	}
}

func TestRecentHashesArePruned(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	tr.OnNewBlock(1, []common.Hash{hash(1)})
	tr.OnNewBlock(1+recentBlocks+1, nil)

	tr.Register(hash(1))
	if tr.PendingCount() != 1 {
		t.Error("hash from a pruned block should not confirm on registration")
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	s := tr.Stats()
	if s.Completed != 0 || s.Pending != 0 || s.AvgLatency != 0 || s.Latency != nil {
		t.Errorf("empty Stats() = %+v", s)
	}

	tr.Register(hash(1))
	clock.Advance(time.Second)
	tr.Register(hash(2))
	tr.Register(hash(3))
	clock.Advance(time.Second)
	tr.OnNewBlock(1, []common.Hash{hash(1), hash(2)}) // latencies 2s and 1s

	s = tr.Stats()
	if s.Completed != 2 || s.Pending != 1 {
		t.Errorf("completed/pending = %d/%d, want 2/1", s.Completed, s.Pending)
	}
	if s.AvgLatency != 1500*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 1.5s", s.AvgLatency)
	}
	if s.Latency == nil || s.Latency.Min != 1000 || s.Latency.Max != 2000 {
		t.Errorf("Latency = %+v, want min 1000 max 2000", s.Latency)
	}
}

func TestAwaitDrainZeroTimeout(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	if got := tr.AwaitDrain(context.Background(), 0); got != nil {
		t.Errorf("AwaitDrain() on empty tracker = %v", got)
	}

	tr.Register(hash(1))
	tr.Register(hash(2))
	start := time.Now()
	got := tr.AwaitDrain(context.Background(), 0)
	if time.Since(start) > 100*time.Millisecond {
		t.Error("zero timeout should return immediately")
	}
	if len(got) != 2 {
		t.Errorf("stragglers = %d, want 2", len(got))
	}
	if tr.PendingCount() != 2 {
		t.Error("AwaitDrain must not drop pending entries")
	}
}

func TestAwaitDrainTimeoutKeepsTracking(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	tr.Register(hash(1))
	tr.Register(hash(2))
	tr.OnNewBlock(1, []common.Hash{hash(1)})

	stragglers := tr.AwaitDrain(context.Background(), 20*time.Millisecond)
	if len(stragglers) != 1 || stragglers[0].Hash != hash(2) {
		t.Fatalf("stragglers = %+v, want only hash 2", stragglers)
	}

	// Late confirmation still counts.
	tr.OnNewBlock(2, []common.Hash{hash(2)})
	if s := tr.Stats(); s.Completed != 2 || s.Pending != 0 {
		t.Errorf("after late confirmation completed/pending = %d/%d", s.Completed, s.Pending)
	}
}

func TestAwaitDrainReturnsOnConfirmation(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	tr.Register(hash(1))

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.OnNewBlock(1, []common.Hash{hash(1)})
	}()

	start := time.Now()
	if got := tr.AwaitDrain(context.Background(), 5*time.Second); got != nil {
		t.Errorf("stragglers = %v, want none", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("AwaitDrain did not return promptly after drain")
	}
}

func TestWaitDrained(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	if err := tr.WaitDrained(context.Background()); err != nil {
		t.Fatalf("WaitDrained() on empty tracker = %v", err)
	}

	tr.Register(hash(1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.WaitDrained(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitDrained() = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- tr.WaitDrained(context.Background()) }()
	tr.OnNewBlock(1, []common.Hash{hash(1)})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitDrained() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitDrained did not return after drain")
	}

	// A new registration re-arms the drain signal.
	tr.Register(hash(2))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	if err := tr.WaitDrained(ctx2); err == nil {
		t.Error("WaitDrained() returned nil with a pending transaction")
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	blocks  map[uint64]*rpc.Block
	misses  map[uint64]int // nil responses before serving the block
	calls   map[uint64]int
	failFor map[uint64]error
}

func (f *fakeFetcher) GetBlockByNumber(_ context.Context, n uint64) (*rpc.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[uint64]int)
	}
	f.calls[n]++
	if err := f.failFor[n]; err != nil {
		return nil, err
	}
	if f.misses[n] > 0 {
		f.misses[n]--
		return nil, nil
	}
	return f.blocks[n], nil
}

func TestRun(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	tr.Register(hash(1))
	tr.Register(hash(2))

	fetcher := &fakeFetcher{
		blocks: map[uint64]*rpc.Block{
			10: {Number: 10, Transactions: []common.Hash{hash(1)}},
			12: {Number: 12, Transactions: []common.Hash{hash(2)}},
		},
		misses:  map[uint64]int{12: 1},
		failFor: map[uint64]error{11: errors.New("boom")},
	}

	heights := make(chan uint64, 3)
	heights <- 10
	heights <- 11
	heights <- 12
	close(heights)

	if err := tr.Run(context.Background(), heights, fetcher); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", tr.PendingCount())
	}
	tx, _ := tr.lookup(hash(2))
	if tx.Block != 12 {
		t.Errorf("hash 2 block = %d, want 12", tx.Block)
	}
	if fetcher.calls[12] != 2 {
		t.Errorf("block 12 fetched %d times, want 2", fetcher.calls[12])
	}
	if fetcher.calls[11] != 3 {
		t.Errorf("block 11 fetched %d times, want 3 attempts", fetcher.calls[11])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, make(chan uint64), &fakeFetcher{}) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestConcurrentRegisterAndConfirm(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	const n = 200

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Register(hash(int64(i)))
			tr.OnNewBlock(uint64(i), []common.Hash{hash(int64(i))})
		}(i)
	}
	wg.Wait()

	if s := tr.Stats(); s.Completed != n || s.Pending != 0 {
		t.Errorf("completed/pending = %d/%d, want %d/0", s.Completed, s.Pending, n)
	}
	if err := tr.WaitDrained(context.Background()); err != nil {
		t.Errorf("WaitDrained() = %v", err)
	}
}
