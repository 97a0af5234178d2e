// Package blocks delivers new block heights to subscribers.
package blocks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Source emits new block heights on out until ctx is done or the source fails.
type Source interface {
	Stream(ctx context.Context, out chan<- uint64) error
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	Source Source
	Logger *slog.Logger

	// MaxGapFill caps how many skipped heights are replayed after a jump.
	MaxGapFill uint64
	// RetryDelay is the pause before restarting a failed source.
	RetryDelay time.Duration
	// Buffer is the per-subscriber channel capacity.
	Buffer int
	// OnBlock, if set, is called once for every height published.
	OnBlock func(height uint64)
	// StartAfter, if non-zero, is treated as the last published height, so
	// every later height is delivered even if the source starts further ahead.
	StartAfter uint64
}

// Feed fans block heights out to subscribers. Heights are delivered in
// increasing order without duplicates; a jump in the source is back-filled
// with the skipped heights (up to MaxGapFill).
type Feed struct {
	source     Source
	logger     *slog.Logger
	maxGapFill uint64
	retryDelay time.Duration
	buffer     int
	onBlock    func(uint64)

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	last   uint64
}

// NewFeed creates a feed over cfg.Source. Call Run to start it.
func NewFeed(cfg FeedConfig) *Feed {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxGapFill == 0 {
		cfg.MaxGapFill = 128
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Feed{
		source:     cfg.Source,
		logger:     logger,
		maxGapFill: cfg.MaxGapFill,
		retryDelay: cfg.RetryDelay,
		buffer:     cfg.Buffer,
		onBlock:    cfg.OnBlock,
		subs:       make(map[*Subscription]struct{}),
		last:       cfg.StartAfter,
	}
}

// Subscription receives heights published after it was created.
type Subscription struct {
	feed *Feed
	ch   chan uint64
	done chan struct{}
	once sync.Once
}

// C returns the delivery channel. It is closed when the feed stops.
func (s *Subscription) C() <-chan uint64 {
	return s.ch
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
		close(s.done)
	})
}

// Subscribe registers a new subscriber.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{
		feed: f,
		ch:   make(chan uint64, f.buffer),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(s.ch)
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Run drives the source until ctx is done, restarting it after failures.
// Subscriber channels are closed when Run returns.
func (f *Feed) Run(ctx context.Context) error {
	defer f.closeAll()

	raw := make(chan uint64, 64)
	go func() {
		for {
			err := f.source.Stream(ctx, raw)
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("Block source stopped, restarting",
				slog.Any("error", err),
				slog.Duration("retry_in", f.retryDelay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.retryDelay):
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h := <-raw:
			f.publish(ctx, h)
		}
	}
}

func (f *Feed) publish(ctx context.Context, h uint64) {
	f.mu.Lock()
	last := f.last
	if last != 0 && h <= last {
		f.mu.Unlock()
		return
	}
	f.last = h
	subs := make([]*Subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	from := h
	if last != 0 {
		from = last + 1
		if h-last > f.maxGapFill {
			f.logger.Warn("Block feed skipped heights",
				slog.Uint64("from", last+1),
				slog.Uint64("to", h),
				slog.Uint64("replayed", f.maxGapFill),
			)
			from = h - f.maxGapFill + 1
		}
	}

	for height := from; height <= h; height++ {
		if f.onBlock != nil {
			f.onBlock(height)
		}
		for _, s := range subs {
			select {
			case s.ch <- height:
			case <-s.done:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for s := range f.subs {
		close(s.ch)
		delete(f.subs, s)
	}
}
