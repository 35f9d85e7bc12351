// Package unread keeps the per-filter unread badge counts.
package unread

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/app/bus"
	"chatsync/internal/domain/chat"
)

const KindChanged bus.Kind = "unread.changed"

// Changed carries the counts after a refresh or local adjustment.
type Changed struct {
	Counts map[chat.FilterKey]int
}

func (Changed) Kind() bus.Kind { return KindChanged }

// Source fetches authoritative counts.
type Source interface {
	UnreadCounts(ctx context.Context) (map[chat.FilterKey]int, error)
}

const (
	defaultDebounce     = 300 * time.Millisecond
	defaultFetchTimeout = 10 * time.Second
)

// Aggregator coalesces refresh triggers into one fetch per debounce window.
// Counts are eventually consistent; failures are logged and left for the next trigger.
type Aggregator struct {
	source       Source
	debounce     time.Duration
	fetchTimeout time.Duration
	bus          *bus.Bus
	logger       *slog.Logger

	mu      sync.Mutex
	counts  map[chat.FilterKey]int
	timer   *time.Timer
	stopped bool
	fetches sync.WaitGroup
}

type Option func(*Aggregator)

func WithDebounce(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.debounce = d
		}
	}
}

func WithBus(b *bus.Bus) Option {
	return func(a *Aggregator) { a.bus = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:       source,
		debounce:     defaultDebounce,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		counts:       make(map[chat.FilterKey]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Counts returns a copy of the latest counts.
func (a *Aggregator) Counts() map[chat.FilterKey]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyCounts(a.counts)
}

// Trigger schedules a refresh after the debounce window, restarting the window
// if one is already pending.
func (a *Aggregator) Trigger() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.timer != nil && a.timer.Stop() {
		a.fetches.Done()
	}
	a.fetches.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(a.debounce, func() {
		defer a.fetches.Done()
		a.mu.Lock()
		current := a.timer == timer && !a.stopped
		if current {
			a.timer = nil
		}
		a.mu.Unlock()
		if !current {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.fetchTimeout)
		defer cancel()
		if err := a.Refresh(ctx); err != nil {
			a.logger.Warn("unread counts refresh failed", "error", err)
		}
	})
	a.timer = timer
}

// Refresh fetches counts now.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if a.source == nil {
		return nil
	}
	counts, err := a.source.UnreadCounts(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.counts = copyCounts(counts)
	snapshot := copyCounts(a.counts)
	a.mu.Unlock()
	a.bus.Publish(Changed{Counts: snapshot})
	return nil
}

// Adjust applies a local delta until the next refresh. Counts never go below zero.
func (a *Aggregator) Adjust(key chat.FilterKey, delta int) {
	a.mu.Lock()
	next := a.counts[key] + delta
	if next < 0 {
		next = 0
	}
	a.counts[key] = next
	snapshot := copyCounts(a.counts)
	a.mu.Unlock()
	a.bus.Publish(Changed{Counts: snapshot})
}

// Stop cancels a pending refresh. Later Triggers are ignored.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.stopped = true
	if a.timer != nil && a.timer.Stop() {
		a.fetches.Done()
	}
	a.timer = nil
	a.mu.Unlock()
	a.fetches.Wait()
}

func copyCounts(in map[chat.FilterKey]int) map[chat.FilterKey]int {
	out := make(map[chat.FilterKey]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
