// Package reaper retires temporary group indexes once their TTL has passed.
//
// The reaper polls the merger's registry at a fixed interval and hands every
// expired entry to the cleaner. Dispatch is paced by a token bucket so a
// burst of expirations does not flood the filesystem with deletions.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/amanrepo/internal/merger"
)

// Source lists temporary indexes and retires them. *merger.Merger is a Source.
type Source interface {
	TemporaryGroupIndexes() []merger.TemporaryGroupIndex
	CleanTemporaryGroupIndex(entry *merger.TemporaryGroupIndex)
}

// Reaper periodically cleans expired temporary group indexes.
type Reaper struct {
	source   Source
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *slog.Logger

	// Lifecycle
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the polling interval (default: 1m).
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRate limits dispatched cleanups per second (default: 10).
func WithRate(perSecond float64) Option {
	return func(r *Reaper) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithClock sets the clock used to decide expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Reaper over source.
func New(source Source, opts ...Option) *Reaper {
	r := &Reaper{
		source:   source,
		interval: time.Minute,
		limiter:  rate.NewLimiter(10, 1),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the polling loop in the background until ctx is done or Stop
// is called. Calling Start more than once has no effect.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Debug("reaper_started",
		slog.Duration("interval", r.interval),
		slog.Float64("cleanups_per_second", float64(r.limiter.Limit())))
}

// Stop ends the polling loop and waits for the current pass to return.
// Cleanups already dispatched keep running in the cleaner.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.wg.Wait()
		r.logger.Debug("reaper_stopped")
	})
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: every entry expired at the current time is handed to
// the cleaner once. It returns the number of entries dispatched, which is
// short of the expired count when ctx ends mid-pass.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.now()
	entries := r.source.TemporaryGroupIndexes()

	seen := make(map[string]struct{}, len(entries))
	dispatched := 0
	for i := range entries {
		e := entries[i]
		if !e.Expired(now) {
			continue
		}
		if _, dup := seen[e.IndexID]; dup {
			continue
		}
		seen[e.IndexID] = struct{}{}

		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Debug("reaper_pass_interrupted",
				slog.Int("dispatched", dispatched),
				slog.String("error", err.Error()))
			return dispatched
		}
		r.logger.Debug("temporary_index_expired",
			slog.String("index_id", e.IndexID),
			slog.String("group_id", e.GroupID),
			slog.Duration("age", now.Sub(e.CreatedAt)))
		r.source.CleanTemporaryGroupIndex(&e)
		dispatched++
	}

	if dispatched > 0 {
		r.logger.Info("reaper_pass",
			slog.Int("entries", len(entries)),
			slog.Int("dispatched", dispatched))
	}
	return dispatched
}
