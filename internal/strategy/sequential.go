package strategy

import (
	"context"
	"log/slog"

	"github.com/gateway-fm/txstress/pkg/types"
)

// Sequential keeps at most one transaction in flight: each dispatch waits
// for the tracker to report nothing pending before the next one starts.
type Sequential struct {
	run *run
}

// NewSequential creates a sequential driver.
func NewSequential(cfg Config) *Sequential {
	return &Sequential{run: newRun(cfg, types.ModeSlow)}
}

// Mode implements Driver.
func (d *Sequential) Mode() types.Mode { return types.ModeSlow }

// Run implements Driver. Iteration i uses wallet i mod n; a wallet at or
// below the dust threshold is skipped and its slot is not made up later,
// so fewer than Count transactions may be sent.
func (d *Sequential) Run(ctx context.Context) (*Result, error) {
	r := d.run
	if err := r.start(); err != nil {
		return r.fail(err)
	}
	r.setState(types.StateRunning)

	accounts := r.cfg.Accounts
	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}

		idx := i % len(accounts)
		acc := accounts[idx]
		if !acc.Above(r.dust) {
			r.skip(acc, idx)
			continue
		}

		hash, err := r.dispatch(ctx, acc)
		if err != nil {
			continue
		}
		r.logger.Debug("Waiting for confirmation",
			slog.Int("tx", i+1),
			slog.String("hash", hash.Hex()),
		)
		if err := r.cfg.Tracker.WaitDrained(ctx); err != nil {
			return r.fail(err)
		}
	}

	return r.finish(ctx)
}
