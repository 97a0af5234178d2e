package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/txstress/pkg/types"
)

// BatchConfig holds batch-specific settings.
type BatchConfig struct {
	Size  int
	Delay time.Duration // pause between batches; zero for none
}

// Batch dispatches fixed-size concurrent batches. Every dispatch of a batch
// is started before any is awaited, and batches never overlap.
type Batch struct {
	run   *run
	size  int
	delay time.Duration
}

// NewBatch creates a batch driver.
func NewBatch(cfg Config, bc BatchConfig) *Batch {
	if bc.Size <= 0 {
		bc.Size = 1
	}
	return &Batch{run: newRun(cfg, types.ModeBurst), size: bc.Size, delay: bc.Delay}
}

// Mode implements Driver.
func (d *Batch) Mode() types.Mode { return types.ModeBurst }

// Run implements Driver. Wallets are picked round-robin; wallets at or below
// the dust threshold are passed over without consuming a slot.
func (d *Batch) Run(ctx context.Context) (*Result, error) {
	r := d.run
	if err := r.start(); err != nil {
		return r.fail(err)
	}
	if err := r.requireEligible(); err != nil {
		return r.fail(err)
	}
	r.setState(types.StateRunning)

	accounts := r.cfg.Accounts
	cursor := 0
	sent := 0
	batchNum := 0

	for sent < r.cfg.Count {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}

		size := min(d.size, r.cfg.Count-sent)
		batchNum++

		var wg sync.WaitGroup
		for launched := 0; launched < size; {
			idx := cursor % len(accounts)
			cursor++
			acc := accounts[idx]
			if !acc.Above(r.dust) {
				r.skip(acc, idx)
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = r.dispatch(ctx, acc)
			}()
			launched++
		}
		wg.Wait()
		sent += size

		r.logger.Info("Batch dispatched",
			slog.Int("batch", batchNum),
			slog.Int("size", size),
			slog.Int("sent", sent),
			slog.Int("count", r.cfg.Count),
		)

		if d.delay > 0 && sent < r.cfg.Count {
			select {
			case <-ctx.Done():
				return r.fail(ctx.Err())
			case <-time.After(d.delay):
			}
		}
	}

	return r.finish(ctx)
}
