// Package reconciler applies push channel events to the conversation cache and
// the open thread, and keeps the push connection alive with a bounded retry budget.
package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/app/bus"
	"chatsync/internal/app/format"
	"chatsync/internal/app/tabs"
	"chatsync/internal/app/thread"
	"chatsync/internal/domain/chat"
)

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = 3 * time.Second
)

var ErrStopped = errors.New("reconciler: stopped")

type Config struct {
	UserID      string
	MaxAttempts int
	Delay       time.Duration
}

type Reconciler struct {
	cfg     Config
	dialer  Dialer
	cache   *tabs.Cache
	thread  *thread.Store
	effects Effects
	bus     *bus.Bus
	logger  *slog.Logger
	wait    func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu      sync.Mutex
	status  Status
	desired string
	wake    chan struct{}
	base    context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	// dialed is set after the first dial; every later session resyncs.
	dialed bool
}

type Option func(*Reconciler)

func WithBus(b *bus.Bus) Option {
	return func(r *Reconciler) { r.bus = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWait replaces the delay between reconnect attempts.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) {
		if wait != nil {
			r.wait = wait
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cfg Config, dialer Dialer, cache *tabs.Cache, store *thread.Store, effects Effects, opts ...Option) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	r := &Reconciler{
		cfg:     cfg,
		dialer:  dialer,
		cache:   cache,
		thread:  store,
		effects: effects,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		wait:    sleep,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.effects == nil {
		r.effects = noEffects{}
	}
	r.status = Status{State: Disconnected, Since: r.now()}
	return r
}

// Start launches the connection loop. ctx bounds every later Reconnect as well.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.base = ctx
	r.launchLocked()
	return nil
}

// Reconnect restarts a loop that gave up. It is a no-op while the loop runs.
func (r *Reconciler) Reconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.base == nil {
		return ErrStopped
	}
	if r.done != nil {
		select {
		case <-r.done:
		default:
			return nil
		}
	}
	r.launchLocked()
	return nil
}

// Stop unsubscribes both channels, closes the session and waits for the loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether the connection loop is alive.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetOpenConversation moves the per-conversation subscription to id; "" drops it.
func (r *Reconciler) SetOpenConversation(id string) {
	r.mu.Lock()
	r.desired = id
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) launchLocked() {
	ctx, cancel := context.WithCancel(r.base)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		r.run(ctx)
	}()
}

func (r *Reconciler) run(ctx context.Context) {
	failures := 0
	for {
		r.setStatus(Connecting, failures, nil, false)
		sess, err := r.dialer.Dial(ctx)
		resync := r.markDialed()
		if err == nil {
			failures = 0
			r.setStatus(Connected, 0, nil, false)
			err = r.serve(ctx, sess, resync)
		}
		if ctx.Err() != nil {
			r.setStatus(Disconnected, failures, nil, false)
			return
		}
		if failures >= r.cfg.MaxAttempts {
			r.logger.Warn("push channel degraded", "attempts", failures, "error", err)
			r.setStatus(Disconnected, failures, err, true)
			return
		}
		failures++
		r.logger.Warn("push channel lost, reconnecting", "attempt", failures, "error", err)
		r.setStatus(Disconnected, failures, err, false)
		if err := r.wait(ctx, r.cfg.Delay); err != nil {
			r.setStatus(Disconnected, failures, nil, false)
			return
		}
	}
}

// serve owns the session until it drops or ctx ends. All events are applied
// on this goroutine in arrival order. With resync set, state that may have
// changed while no session was up is refetched once the subscriptions stand.
func (r *Reconciler) serve(ctx context.Context, sess Session, resync bool) error {
	defer sess.Close()

	deltas, unsubUser, err := sess.SubscribeUser(ctx, r.cfg.UserID)
	if err != nil {
		return err
	}
	defer unsubUser()

	var (
		current   string
		messages  <-chan chat.Message
		unsubConv = func() {}
	)
	defer func() { unsubConv() }()

	resubscribe := func() {
		r.mu.Lock()
		want := r.desired
		r.mu.Unlock()
		if want == current && (messages != nil || want == "") {
			return
		}
		unsubConv()
		unsubConv, messages, current = func() {}, nil, ""
		if want == "" {
			return
		}
		ch, unsub, err := sess.SubscribeConversation(ctx, want)
		if err != nil {
			r.logger.Warn("subscribe conversation", "conversation_id", want, "error", err)
			return
		}
		unsubConv, messages, current = unsub, ch, want
	}
	resubscribe()
	if resync {
		r.logger.Info("push channel restored, resyncing")
		r.effects.ReloadActiveTab(ctx)
		r.effects.RefreshUnreadCounts()
		r.effects.ResyncOpenThread(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				return err
			}
			return io.EOF
		case <-r.wake:
			resubscribe()
		case delta, ok := <-deltas:
			if !ok {
				if err := sess.Err(); err != nil {
					return err
				}
				return io.EOF
			}
			r.applyDelta(ctx, delta)
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			r.applyMessage(ctx, current, msg)
		}
	}
}

func (r *Reconciler) applyDelta(ctx context.Context, delta chat.ConversationDelta) {
	id := delta.ConversationID
	if id == "" {
		return
	}
	if !r.cache.Snapshot().Contains(id) {
		r.logger.Debug("delta for unloaded conversation, reloading active tab", "conversation_id", id)
		r.effects.ReloadActiveTab(ctx)
		r.effects.RefreshUnreadCounts()
		return
	}
	unread := delta.SenderID != r.cfg.UserID && r.thread.OpenID() != id
	update := func(c chat.Conversation) chat.Conversation {
		if delta.Text != nil {
			c.LastMessagePreview = format.PreviewText(*delta.Text, "")
		} else {
			c.LastMessagePreview = format.PhotoPreview
		}
		if !delta.Timestamp.IsZero() {
			c.LastMessageAt = delta.Timestamp
		}
		if unread {
			c.IsUnread = true
		}
		return c
	}
	r.thread.PatchConversation(id, update)
	r.cache.UpsertAcrossTabs(id, update)
	r.effects.RefreshUnreadCounts()
}

func (r *Reconciler) applyMessage(ctx context.Context, conversationID string, msg chat.Message) {
	if msg.SenderID == r.cfg.UserID {
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if msg.ConversationID != r.thread.OpenID() {
		return
	}
	if r.thread.AppendInbound(msg) {
		r.effects.AcknowledgeRead(ctx, msg.ConversationID)
	}
}

// markDialed reports whether a dial was made before this one.
func (r *Reconciler) markDialed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.dialed
	r.dialed = true
	return before
}

func (r *Reconciler) setStatus(state State, attempts int, err error, degraded bool) {
	r.mu.Lock()
	next := Status{State: state, ReconnectAttempts: attempts, Degraded: degraded, Since: r.status.Since}
	switch {
	case err != nil:
		next.LastError = err.Error()
	case state != Connected:
		next.LastError = r.status.LastError
	}
	if next.State != r.status.State {
		next.Since = r.now()
	}
	if next == r.status {
		r.mu.Unlock()
		return
	}
	r.status = next
	r.mu.Unlock()
	r.bus.Publish(StatusChanged{Status: next})
}

type noEffects struct{}

func (noEffects) ReloadActiveTab(context.Context)         {}
func (noEffects) ResyncOpenThread(context.Context)        {}
func (noEffects) RefreshUnreadCounts()                    {}
func (noEffects) AcknowledgeRead(context.Context, string) {}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
