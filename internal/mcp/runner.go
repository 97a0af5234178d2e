// Package mcp exposes txstress runs as MCP tools.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gateway-fm/txstress/internal/config"
	"github.com/gateway-fm/txstress/internal/report"
	"github.com/gateway-fm/txstress/internal/rpc"
	"github.com/gateway-fm/txstress/internal/session"
	"github.com/gateway-fm/txstress/pkg/types"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// Runner executes runs in-process, one at a time, starting from a base config.
type Runner struct {
	base   config.Config
	store  report.Storage
	logger *slog.Logger

	// client overrides the node client; used in tests.
	client rpc.Client

	mu      sync.Mutex
	running bool
}

// NewRunner creates a Runner. store may be nil to disable history.
func NewRunner(base *config.Config, store report.Storage, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{base: *base, store: store, logger: logger}
}

// Config returns a copy of the base configuration for a new run.
func (r *Runner) Config() *config.Config {
	cfg := r.base
	return &cfg
}

// Run validates cfg and executes one run in mode.
func (r *Runner) Run(ctx context.Context, mode types.Mode, cfg *config.Config) (*session.Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	return session.Run(ctx, session.Options{
		Config: cfg,
		Mode:   mode,
		Client: r.client,
		Store:  r.store,
		Logger: r.logger,
	})
}

// History returns a page of stored runs.
func (r *Runner) History(ctx context.Context, limit, offset int) (*report.PaginatedRuns, error) {
	if r.store == nil {
		return nil, errors.New("run history is disabled (set REPORT_DB)")
	}
	return r.store.ListRuns(ctx, limit, offset)
}
