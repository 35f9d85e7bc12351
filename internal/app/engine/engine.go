// Package engine assembles the sync components into the surface the UI talks to.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/app/bus"
	"chatsync/internal/app/normalize"
	"chatsync/internal/app/notifications"
	"chatsync/internal/app/optimistic"
	"chatsync/internal/app/reconciler"
	"chatsync/internal/app/tabs"
	"chatsync/internal/app/thread"
	"chatsync/internal/app/unread"
	"chatsync/internal/domain/chat"
)

const (
	defaultPageSize          = 20
	defaultMessagePageSize   = 30
	defaultBackgroundTimeout = 10 * time.Second
)

// API is the REST collaborator.
type API interface {
	optimistic.ConversationAPI
	unread.Source
	// List calls also return how many records the client could not decode.
	ListConversations(ctx context.Context, filter chat.FilterKey, page, size int) ([]normalize.RawConversation, int, error)
	ListMessages(ctx context.Context, conversationID string, page, size int) ([]normalize.RawMessage, int, error)
	ListNotifications(ctx context.Context) ([]normalize.RawNotification, int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
}

// SnapshotStore keeps first pages between runs for a warm start.
type SnapshotStore interface {
	LoadTabs(ctx context.Context, userID string) ([]tabs.Tab, error)
	SaveTabs(ctx context.Context, userID string, saved []tabs.Tab) error
}

type Config struct {
	UserID            string
	Filters           []chat.FilterKey
	PageSize          int
	MessagePageSize   int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	UnreadDebounce    time.Duration
	BackgroundTimeout time.Duration
}

type Deps struct {
	API       API
	Dialer    reconciler.Dialer
	Snapshots SnapshotStore
	Images    normalize.ImageResolver
	Bus       *bus.Bus
	Logger    *slog.Logger
	// ReconnectWait replaces the reconnect delay, used by tests.
	ReconnectWait func(ctx context.Context, d time.Duration) error
}

var ErrClosed = errors.New("engine: closed")

type Engine struct {
	cfg    Config
	api    API
	store  SnapshotStore
	images normalize.ImageResolver
	bus    *bus.Bus
	logger *slog.Logger

	cache  *tabs.Cache
	thread *thread.Store
	pager  *thread.Pager
	unread *unread.Aggregator
	feed   *notifications.Feed
	coord  *optimistic.Coordinator
	rec    *reconciler.Reconciler

	fetchMu sync.Mutex
	fetches map[chat.FilterKey]*tabFetch

	mu      sync.Mutex
	active  chat.FilterKey
	base    context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	unsubs  []func()
	bg      sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.UserID == "" {
		return nil, errors.New("engine: user id is required")
	}
	if deps.API == nil {
		return nil, errors.New("engine: api is required")
	}
	if deps.Dialer == nil {
		return nil, errors.New("engine: push dialer is required")
	}
	if len(cfg.Filters) == 0 {
		cfg.Filters = chat.DefaultFilters()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = defaultMessagePageSize
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = defaultBackgroundTimeout
	}
	b := deps.Bus
	if b == nil {
		b = bus.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		cfg:     cfg,
		api:     deps.API,
		store:   deps.Snapshots,
		images:  deps.Images,
		bus:     b,
		logger:  logger,
		cache:   tabs.New(cfg.Filters...),
		thread:  thread.NewStore(b),
		feed:    notifications.NewFeed(b),
		active:  cfg.Filters[0],
		fetches: make(map[chat.FilterKey]*tabFetch),
	}
	e.pager = &thread.Pager{
		Source:   history{api: deps.API},
		Store:    e.thread,
		PageSize: cfg.MessagePageSize,
		Logger:   logger.With("component", "pager"),
	}
	e.unread = unread.New(deps.API,
		unread.WithDebounce(cfg.UnreadDebounce),
		unread.WithBus(b),
		unread.WithLogger(logger.With("component", "unread")),
	)
	coord, err := optimistic.New(cfg.UserID, optimistic.Deps{
		API:     deps.API,
		Cache:   e.cache,
		Thread:  e.thread,
		Loader:  e,
		Counter: e.unread,
		Bus:     b,
		Logger:  logger.With("component", "optimistic"),
		Images:  deps.Images,
	})
	if err != nil {
		return nil, err
	}
	e.coord = coord
	recOpts := []reconciler.Option{
		reconciler.WithBus(b),
		reconciler.WithLogger(logger.With("component", "reconciler")),
	}
	if deps.ReconnectWait != nil {
		recOpts = append(recOpts, reconciler.WithWait(deps.ReconnectWait))
	}
	e.rec = reconciler.New(reconciler.Config{
		UserID:      cfg.UserID,
		MaxAttempts: cfg.ReconnectAttempts,
		Delay:       cfg.ReconnectDelay,
	}, deps.Dialer, e.cache, e.thread, effects{e}, recOpts...)

	// The conversation subscription follows whatever thread is open.
	e.unsubs = append(e.unsubs, bus.On(b, thread.KindChanged, func(evt thread.Changed) {
		e.rec.SetOpenConversation(evt.State.ConversationID)
	}))
	return e, nil
}

// Start restores saved tabs, fetches the active tab, and connects the push channel.
// Only an authorization failure on the first fetch is returned; anything else
// is logged and left for the next refresh.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.base, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	active := e.active
	e.mu.Unlock()

	if e.store != nil {
		saved, err := e.store.LoadTabs(ctx, e.cfg.UserID)
		switch {
		case err != nil:
			e.logger.Warn("load saved tabs", "error", err)
		case len(saved) > 0:
			e.cache.Restore(saved)
			e.logger.Info("restored saved tabs", "tabs", len(saved))
		}
	}

	if err := e.ReloadTab(ctx, active); err != nil {
		if errors.Is(err, chat.ErrUnauthorized) {
			return err
		}
		e.logger.Warn("initial tab fetch failed", "filter", string(active), "error", err)
	}
	e.unread.Trigger()
	if err := e.LoadNotifications(ctx); err != nil {
		e.logger.Warn("initial notifications fetch failed", "error", err)
	}
	return e.rec.Start(e.base)
}

// Close unsubscribes both push channels, stops pending refreshes and saves
// first pages when a snapshot store is configured.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	e.rec.Stop()
	e.unread.Stop()
	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	e.bg.Wait()

	if e.store == nil {
		return nil
	}
	saved := e.firstPages()
	if len(saved) == 0 {
		return nil
	}
	return e.store.SaveTabs(ctx, e.cfg.UserID, saved)
}

func (e *Engine) Bus() *bus.Bus { return e.bus }

func (e *Engine) Status() reconciler.Status { return e.rec.Status() }

// Reconnect restarts the push loop after it gave up.
func (e *Engine) Reconnect() error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.rec.Reconnect()
}

func (e *Engine) UnreadCounts() map[chat.FilterKey]int { return e.unread.Counts() }

// RefreshUnreadCounts fetches counts now instead of waiting for the debounce.
func (e *Engine) RefreshUnreadCounts(ctx context.Context) error {
	err := e.unread.Refresh(ctx)
	e.checkAuth(err)
	return err
}

func (e *Engine) firstPages() []tabs.Tab {
	snap := e.cache.Snapshot()
	out := make([]tabs.Tab, 0, len(snap.Keys()))
	for _, key := range snap.Keys() {
		tab, _ := snap.Tab(key)
		if !tab.Initialized {
			continue
		}
		if len(tab.Items) > e.cfg.PageSize {
			tab.Items = tab.Items[:e.cfg.PageSize]
			tab.HasMore = true
		}
		tab.Page = 0
		out = append(out, tab)
	}
	return out
}

// background runs fn on the engine's lifetime context with a timeout.
func (e *Engine) background(name string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	if e.closed || e.base == nil {
		e.mu.Unlock()
		return
	}
	base := e.base
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(base, e.cfg.BackgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.checkAuth(err)
			e.logger.Warn(name+" failed", "error", err)
		}
	}()
}

func (e *Engine) checkAuth(err error) {
	if err != nil && errors.Is(err, chat.ErrUnauthorized) {
		e.bus.Publish(optimistic.SessionExpired{Err: err})
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// effects routes reconciler side effects onto background work.
type effects struct {
	e *Engine
}

func (f effects) ReloadActiveTab(context.Context) {
	f.e.background("reload active tab", func(ctx context.Context) error {
		return f.e.ReloadTab(ctx, f.e.ActiveTab())
	})
}

func (f effects) ResyncOpenThread(context.Context) {
	f.e.background("resync open thread", func(ctx context.Context) error {
		return f.e.pager.Resync(ctx)
	})
}

func (f effects) RefreshUnreadCounts() {
	f.e.unread.Trigger()
}

func (f effects) AcknowledgeRead(_ context.Context, conversationID string) {
	f.e.background("read receipt", func(ctx context.Context) error {
		return f.e.api.MarkRead(ctx, conversationID)
	})
}

// history adapts the raw message endpoint to the pager.
type history struct {
	api API
}

func (h history) ListMessages(ctx context.Context, conversationID string, page, size int) ([]chat.Message, int, error) {
	raws, dropped, err := h.api.ListMessages(ctx, conversationID, page, size)
	if err != nil {
		return nil, 0, err
	}
	out := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		out = append(out, normalize.Message(raw, conversationID))
	}
	return out, dropped, nil
}
