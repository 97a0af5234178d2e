package blocks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HeadReader returns the node's latest block number.
type HeadReader interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// PollSource emits new heights by polling eth_blockNumber. Every height
// between two polls is emitted, so no block is skipped.
type PollSource struct {
	Client   HeadReader
	Interval time.Duration
	Logger   *slog.Logger
}

// Stream implements Source. Heights at or below the head seen on start are not emitted.
func (p *PollSource) Stream(ctx context.Context, out chan<- uint64) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	last, err := p.Client.GetBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	logger.Debug("Polling for new blocks", slog.Uint64("head", last), slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := p.Client.GetBlockNumber(ctx)
		if err != nil {
			logger.Debug("Block number poll failed", slog.String("error", err.Error()))
			continue
		}
		for h := last + 1; h <= head; h++ {
			select {
			case out <- h:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if head > last {
			last = head
		}
	}
}
