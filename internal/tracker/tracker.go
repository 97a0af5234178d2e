// Package tracker correlates submitted transactions with mined blocks.
//
// Confirmation is detected by diffing each new block's transaction hashes
// against the pending set, so one block subscription serves every
// transaction in flight and no per-transaction receipt polling is needed.
package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txstress/internal/rpc"
	"github.com/gateway-fm/txstress/pkg/types"
)

// recentBlocks is how many blocks of unmatched hashes are remembered, so a
// transaction mined before its submitter registered it is still confirmed.
const recentBlocks = 64

// Tx is one tracked transaction.
type Tx struct {
	Hash        common.Hash
	SubmittedAt time.Time
	Confirmed   bool
	Block       uint64        // set once confirmed
	Latency     time.Duration // set once confirmed, when HasLatency

	// HasLatency is false for a transaction mined before it was registered,
	// whose submission time is unknown. Such entries are left out of the
	// latency aggregates.
	HasLatency bool
}

// Observer receives tracker events. Methods are called with the tracker lock
// held and must not call back into the Tracker.
type Observer interface {
	TxSubmitted(tx Tx)
	TxConfirmed(tx Tx)
}

// BlockFetcher loads block contents by height.
type BlockFetcher interface {
	GetBlockByNumber(ctx context.Context, blockNum uint64) (*rpc.Block, error)
}

// Config configures a Tracker.
type Config struct {
	Logger    *slog.Logger
	Observers []Observer

	// FetchAttempts and FetchRetryDelay bound how long Run waits for a block
	// the node has announced but cannot serve yet.
	FetchAttempts   int
	FetchRetryDelay time.Duration

	now func() time.Time
}

// Stats is a point-in-time summary.
type Stats struct {
	Completed  int
	Pending    int
	AvgLatency time.Duration // zero when no completed entry has a latency
	Latency    *types.LatencyStats
}

// Tracker holds the pending and completed transaction sets of one run.
type Tracker struct {
	mu        sync.Mutex
	pending   map[common.Hash]*Tx
	completed map[common.Hash]*Tx
	drained   chan struct{} // closed while pending is empty

	latencySum   time.Duration
	latencyCount int
	latency      *latencyStats

	recent         map[common.Hash]uint64 // unmatched hash -> block height
	recentByHeight map[uint64][]common.Hash
	highest        uint64

	observers       []Observer
	logger          *slog.Logger
	fetchAttempts   int
	fetchRetryDelay time.Duration
	now             func() time.Time
}

// New creates an empty tracker.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 5
	}
	if cfg.FetchRetryDelay <= 0 {
		cfg.FetchRetryDelay = 250 * time.Millisecond
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	drained := make(chan struct{})
	close(drained)

	return &Tracker{
		pending:         make(map[common.Hash]*Tx),
		completed:       make(map[common.Hash]*Tx),
		drained:         drained,
		latency:         newLatencyStats(),
		recent:          make(map[common.Hash]uint64),
		recentByHeight:  make(map[uint64][]common.Hash),
		observers:       cfg.Observers,
		logger:          logger,
		fetchAttempts:   cfg.FetchAttempts,
		fetchRetryDelay: cfg.FetchRetryDelay,
		now:             cfg.now,
	}
}

// Register starts tracking hash as pending. It returns false, and changes
// nothing, when the hash is already known.
func (t *Tracker) Register(hash common.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[hash]; ok {
		return false
	}
	if _, ok := t.completed[hash]; ok {
		return false
	}

	tx := &Tx{Hash: hash, SubmittedAt: t.now()}
	if len(t.pending) == 0 {
		t.drained = make(chan struct{})
	}
	t.pending[hash] = tx
	t.notifySubmitted(*tx)

	if block, ok := t.recent[hash]; ok {
		t.logger.Debug("Transaction mined before registration",
			slog.String("hash", hash.Hex()),
			slog.Uint64("block", block),
		)
		t.confirm(tx, block, time.Time{})
	}
	return true
}

// OnNewBlock confirms every pending hash contained in the block at height.
// Repeated or out-of-order delivery is harmless. It returns how many
// transactions were confirmed by this call.
func (t *Tracker) OnNewBlock(height uint64, hashes []common.Hash) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	confirmed := 0
	for _, h := range hashes {
		if tx, ok := t.pending[h]; ok {
			t.confirm(tx, height, now)
			confirmed++
			continue
		}
		if _, ok := t.completed[h]; ok {
			continue
		}
		if _, ok := t.recent[h]; !ok {
			t.recent[h] = height
			t.recentByHeight[height] = append(t.recentByHeight[height], h)
		}
	}

	if height > t.highest {
		t.highest = height
		t.pruneRecent()
	}
	return confirmed
}

// confirm moves tx from pending to completed. A zero at means the
// confirmation time is unknown and no latency is recorded. Caller holds t.mu.
func (t *Tracker) confirm(tx *Tx, height uint64, at time.Time) {
	delete(t.pending, tx.Hash)
	delete(t.recent, tx.Hash)

	tx.Confirmed = true
	tx.Block = height
	t.completed[tx.Hash] = tx

	if !at.IsZero() {
		tx.Latency = max(at.Sub(tx.SubmittedAt), 0)
		tx.HasLatency = true
		t.latencySum += tx.Latency
		t.latencyCount++
		t.latency.add(float64(tx.Latency) / float64(time.Millisecond))
	}

	t.notifyConfirmed(*tx)
	if len(t.pending) == 0 {
		close(t.drained)
	}
}

// pruneRecent forgets unmatched hashes older than recentBlocks. Caller holds t.mu.
func (t *Tracker) pruneRecent() {
	if t.highest < recentBlocks {
		return
	}
	cutoff := t.highest - recentBlocks
	for h, hashes := range t.recentByHeight {
		if h > cutoff {
			continue
		}
		for _, hash := range hashes {
			delete(t.recent, hash)
		}
		delete(t.recentByHeight, h)
	}
}

func (t *Tracker) notifySubmitted(tx Tx) {
	for _, o := range t.observers {
		o.TxSubmitted(tx)
	}
}

func (t *Tracker) notifyConfirmed(tx Tx) {
	for _, o := range t.observers {
		o.TxConfirmed(tx)
	}
}

// PendingCount returns the number of unconfirmed transactions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CompletedCount returns the number of confirmed transactions.
func (t *Tracker) CompletedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.completed)
}

// Pending returns a snapshot of unconfirmed transactions, oldest first.
func (t *Tracker) Pending() []Tx {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingLocked()
}

func (t *Tracker) pendingLocked() []Tx {
	out := make([]Tx, 0, len(t.pending))
	for _, tx := range t.pending {
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// lookup returns the tracked state of hash.
func (t *Tracker) lookup(hash common.Hash) (Tx, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tx, ok := t.pending[hash]; ok {
		return *tx, true
	}
	if tx, ok := t.completed[hash]; ok {
		return *tx, true
	}
	return Tx{}, false
}

// Stats returns the current summary.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Completed: len(t.completed),
		Pending:   len(t.pending),
		Latency:   t.latency.snapshot(),
	}
	if t.latencyCount > 0 {
		s.AvgLatency = t.latencySum / time.Duration(t.latencyCount)
	}
	return s
}

// WaitDrained blocks until no transaction is pending or ctx is done.
func (t *Tracker) WaitDrained(ctx context.Context) error {
	t.mu.Lock()
	ch := t.drained
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitDrain waits up to timeout for the pending set to empty and returns
// the transactions still pending when it gave up. Giving up never cancels
// or forgets anything: late confirmations keep updating the tracker.
// A zero timeout returns the current stragglers immediately.
func (t *Tracker) AwaitDrain(ctx context.Context, timeout time.Duration) []Tx {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := t.drained
	t.mu.Unlock()

	if timeout > 0 {
		t.logger.Info("Waiting for pending transactions",
			slog.Int("pending", t.PendingCount()),
			slog.Duration("timeout", timeout),
		)
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-ch:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	t.mu.Lock()
	stragglers := t.pendingLocked()
	now := t.now()
	t.mu.Unlock()

	if len(stragglers) == 0 {
		return nil
	}
	t.logger.Warn("Transactions still pending after drain timeout",
		slog.Int("pending", len(stragglers)),
		slog.Duration("timeout", timeout),
	)
	for _, tx := range stragglers {
		t.logger.Warn("Pending transaction",
			slog.String("hash", tx.Hash.Hex()),
			slog.Duration("age", now.Sub(tx.SubmittedAt).Round(time.Millisecond)),
		)
	}
	return stragglers
}

// Run consumes block heights until heights is closed or ctx is done,
// fetching each block and applying it with OnNewBlock. Fetch failures are
// logged and skipped.
func (t *Tracker) Run(ctx context.Context, heights <-chan uint64, fetcher BlockFetcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-heights:
			if !ok {
				return nil
			}
			t.applyHeight(ctx, fetcher, h)
		}
	}
}

func (t *Tracker) applyHeight(ctx context.Context, fetcher BlockFetcher, height uint64) {
	var (
		block *rpc.Block
		err   error
	)
	for attempt := 0; attempt < t.fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.fetchRetryDelay):
			}
		}
		block, err = fetcher.GetBlockByNumber(ctx, height)
		if err == nil && block != nil {
			break
		}
	}
	if err != nil {
		t.logger.Warn("Failed to fetch block",
			slog.Uint64("block", height),
			slog.String("error", err.Error()),
		)
		return
	}
	if block == nil {
		t.logger.Warn("Block not available", slog.Uint64("block", height))
		return
	}

	if n := t.OnNewBlock(height, block.Transactions); n > 0 {
		t.logger.Debug("Block confirmed transactions",
			slog.Uint64("block", height),
			slog.Int("confirmed", n),
			slog.Int("block_txs", len(block.Transactions)),
			slog.Int("pending", t.PendingCount()),
		)
	}
}
