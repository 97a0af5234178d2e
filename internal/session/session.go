// Package session wires the node client, block feed, tracker, dispatcher and
// a strategy driver into one run. The CLI and the MCP server share it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/blocks"
	"github.com/gateway-fm/txstress/internal/config"
	"github.com/gateway-fm/txstress/internal/dispatch"
	"github.com/gateway-fm/txstress/internal/metrics"
	"github.com/gateway-fm/txstress/internal/nonce"
	"github.com/gateway-fm/txstress/internal/report"
	"github.com/gateway-fm/txstress/internal/rpc"
	"github.com/gateway-fm/txstress/internal/strategy"
	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

// Options configures a run. Only Config and Mode are required.
type Options struct {
	Config *config.Config
	Mode   types.Mode

	// Client overrides the HTTP client built from Config.NodeURL.
	Client rpc.Client
	// Source overrides the block source chosen from Config.
	Source blocks.Source
	// Registry receives the run metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	// Observers receive tracker events in addition to the metrics.
	Observers []tracker.Observer
	// Store, if set, receives the final report.
	Store report.Storage
	// OnReady is called once wallets are loaded, before any transaction is sent.
	OnReady func(accounts []*account.Account)
	Logger  *slog.Logger
}

// Outcome is everything a finished run produced.
type Outcome struct {
	Accounts []*account.Account
	Result   *strategy.Result
	Report   *types.RunReport
}

// NewClient builds the HTTP node client for cfg.
func NewClient(cfg *config.Config, observer rpc.CallObserver, logger *slog.Logger) *rpc.HTTPClient {
	cc := rpc.DefaultClientConfig(cfg.NodeURL)
	cc.Logger = logger
	cc.Observer = observer
	cc.MaxRPS = cfg.MaxRPS
	return rpc.NewHTTPClient(cc)
}

// ResolveChainID returns the configured chain id, asking the node when unset.
func ResolveChainID(ctx context.Context, cfg *config.Config, client rpc.Client) (*big.Int, error) {
	if cfg.ChainID > 0 {
		return big.NewInt(cfg.ChainID), nil
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	return id, nil
}

// NewSource picks the websocket source when a ws URL is configured, else polling.
func NewSource(cfg *config.Config, client blocks.HeadReader, logger *slog.Logger) blocks.Source {
	if cfg.NodeWSURL != "" {
		return &blocks.WSSource{URL: cfg.NodeWSURL, Logger: logger}
	}
	return &blocks.PollSource{Client: client, Interval: cfg.PollInterval, Logger: logger}
}

// Run executes one stress run. The returned Outcome is non-nil whenever the
// driver ran, even if it failed; in that case the error is returned too.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("mode", string(opts.Mode)))

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := metrics.NewPrometheusMetrics(registry)

	client := opts.Client
	if client == nil {
		client = NewClient(cfg, m, logger)
	}

	chainID, err := ResolveChainID(ctx, cfg, client)
	if err != nil {
		return nil, err
	}

	accounts, err := account.Load(ctx, cfg.KeysFile, client, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Wallets loaded",
		slog.Int("count", len(accounts)),
		slog.Int("above_dust", account.CountAbove(accounts, account.DustThreshold)),
		slog.String("chain_id", chainID.String()),
	)
	if opts.OnReady != nil {
		opts.OnReady(accounts)
	}

	trk := tracker.New(tracker.Config{
		Logger:    logger,
		Observers: append(append([]tracker.Observer(nil), opts.Observers...), m),
	})

	// Blocks mined between here and the source's first report are back-filled.
	head, err := client.GetBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block number: %w", err)
	}
	source := opts.Source
	if source == nil {
		source = NewSource(cfg, client, logger)
	}
	feed := blocks.NewFeed(blocks.FeedConfig{
		Source:     source,
		Logger:     logger,
		OnBlock:    m.RecordBlock,
		StartAfter: head,
	})

	bgCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	trackerSub := feed.Subscribe()
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = feed.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		defer trackerSub.Unsubscribe()
		_ = trk.Run(bgCtx, trackerSub.C(), client)
	}()

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(bgCtx, cfg.MetricsAddr, registry, logger); err != nil {
				logger.Warn("Metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	disp := dispatch.New(dispatch.Config{
		Client:    client,
		Tracker:   trk,
		Sequencer: nonce.NewSequencer(),
		ChainID:   chainID,
		Failures:  m,
		Logger:    logger,
	})

	driver, err := newDriver(opts.Mode, cfg, strategy.Config{
		Sender:       disp,
		Tracker:      trk,
		Accounts:     accounts,
		To:           cfg.Recipient(),
		Value:        cfg.Value(),
		GasLimit:     cfg.GasLimit,
		ManualNonce:  cfg.ManualNonce,
		Count:        cfg.TxCount,
		DrainTimeout: cfg.DrainTimeout,
		Metrics:      m,
		Logger:       logger,
	}, feed)
	if err != nil {
		return nil, err
	}

	res, runErr := driver.Run(ctx)
	out := &Outcome{Accounts: accounts, Result: res, Report: res.Report(cfg.NodeURL, runErr)}

	if opts.Store != nil {
		// The run context may already be cancelled; the summary is still worth keeping.
		if err := opts.Store.SaveRun(context.WithoutCancel(ctx), out.Report); err != nil {
			logger.Warn("Failed to save run report", slog.String("error", err.Error()))
		}
	}
	return out, runErr
}

// ErrUnknownMode is returned for a mode with no driver.
var ErrUnknownMode = errors.New("unknown mode")

func newDriver(mode types.Mode, cfg *config.Config, sc strategy.Config, feed *blocks.Feed) (strategy.Driver, error) {
	switch mode {
	case types.ModeSlow:
		return strategy.NewSequential(sc), nil
	case types.ModeBurst:
		return strategy.NewBatch(sc, strategy.BatchConfig{Size: cfg.BatchSize, Delay: cfg.BatchDelay}), nil
	case types.ModeTimed:
		return strategy.NewBlockTriggered(sc, strategy.TimedConfig{Blocks: feed, Watchdog: cfg.WatchdogTimeout}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
