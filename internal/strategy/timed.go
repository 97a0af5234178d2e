package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/blocks"
	"github.com/gateway-fm/txstress/pkg/types"
)

// DefaultWatchdog bounds how long a block-triggered run may take to send everything.
const DefaultWatchdog = 10 * time.Minute

// BlockSubscriber provides new block notifications.
type BlockSubscriber interface {
	Subscribe() *blocks.Subscription
}

// TimedConfig holds block-triggered settings.
type TimedConfig struct {
	Blocks   BlockSubscriber
	Watchdog time.Duration
}

// BlockTriggered sends one round per new block: one transaction from every
// wallet above the dust threshold, capped by what remains of Count.
type BlockTriggered struct {
	run      *run
	blocks   BlockSubscriber
	watchdog time.Duration
}

// NewBlockTriggered creates a block-triggered driver.
func NewBlockTriggered(cfg Config, tc TimedConfig) *BlockTriggered {
	if tc.Watchdog <= 0 {
		tc.Watchdog = DefaultWatchdog
	}
	return &BlockTriggered{run: newRun(cfg, types.ModeTimed), blocks: tc.Blocks, watchdog: tc.Watchdog}
}

// Mode implements Driver.
func (d *BlockTriggered) Mode() types.Mode { return types.ModeTimed }

// Run implements Driver. Rounds run one at a time; a height at or below the
// last handled one is ignored. The subscription is released on every exit path.
func (d *BlockTriggered) Run(ctx context.Context) (*Result, error) {
	r := d.run
	if err := r.start(); err != nil {
		return r.fail(err)
	}
	if err := r.requireEligible(); err != nil {
		return r.fail(err)
	}

	watchdog := time.NewTimer(d.watchdog)
	defer watchdog.Stop()

	sub := d.blocks.Subscribe()
	defer sub.Unsubscribe()

	r.setState(types.StateRunning)
	r.logger.Info("Waiting for new blocks", slog.Duration("watchdog", d.watchdog))

	var last uint64
	sent := 0
	for sent < r.cfg.Count {
		select {
		case <-ctx.Done():
			return r.fail(ctx.Err())
		case <-watchdog.C:
			return r.fail(ErrWatchdog)
		case h, ok := <-sub.C():
			if !ok {
				return r.fail(ErrFeedClosed)
			}
			if last != 0 && h <= last {
				continue
			}
			last = h
			sent += d.round(ctx, h, r.cfg.Count-sent)
		}
	}

	sub.Unsubscribe()
	return r.finish(ctx)
}

// round dispatches up to remaining transactions concurrently and waits for
// every dispatch to return. It returns the number of dispatch attempts.
func (d *BlockTriggered) round(ctx context.Context, height uint64, remaining int) int {
	r := d.run
	var picks []*account.Account
	for idx, acc := range r.cfg.Accounts {
		if len(picks) >= remaining {
			break
		}
		if !acc.Above(r.dust) {
			r.skip(acc, idx)
			continue
		}
		picks = append(picks, acc)
	}

	var wg sync.WaitGroup
	for _, acc := range picks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.dispatch(ctx, acc)
		}()
	}
	wg.Wait()

	r.logger.Info("Block round dispatched",
		slog.Uint64("block", height),
		slog.Int("txs", len(picks)),
		slog.Int("remaining", remaining-len(picks)),
	)
	return len(picks)
}
