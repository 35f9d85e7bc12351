package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/internal/domain/chat"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var errDial = errors.New("dial refused")

type fakeSession struct {
	deltas chan chat.ConversationDelta
	done   chan struct{}

	mu           sync.Mutex
	err          error
	conversation map[string]chan chat.Message
	subscribed   []string
	unsubscribed []string
	userUnsub    bool
	closed       bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		deltas:       make(chan chat.ConversationDelta, 16),
		done:         make(chan struct{}),
		conversation: make(map[string]chan chat.Message),
	}
}

func (s *fakeSession) SubscribeUser(context.Context, string) (<-chan chat.ConversationDelta, func(), error) {
	return s.deltas, func() {
		s.mu.Lock()
		s.userUnsub = true
		s.mu.Unlock()
	}, nil
}

func (s *fakeSession) SubscribeConversation(_ context.Context, id string) (<-chan chat.Message, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan chat.Message, 16)
	s.conversation[id] = ch
	s.subscribed = append(s.subscribed, id)
	return ch, func() {
		s.mu.Lock()
		s.unsubscribed = append(s.unsubscribed, id)
		s.mu.Unlock()
	}, nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

func (s *fakeSession) channel(id string) (chan chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.conversation[id]
	return ch, ok
}

func (s *fakeSession) snapshot() (subscribed, unsubscribed []string, userUnsub, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...), append([]string(nil), s.unsubscribed...), s.userUnsub, s.closed
}

// fakeDialer fails while fail is set and otherwise hands out queued sessions.
type fakeDialer struct {
	mu       sync.Mutex
	fail     bool
	dials    int
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail || len(d.sessions) == 0 {
		return nil, errDial
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	return s, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) queue(s ...*fakeSession) {
	d.mu.Lock()
	d.sessions = append(d.sessions, s...)
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recordingEffects struct {
	mu      sync.Mutex
	reloads int
	resyncs int
	refresh int
	acks    []string
}

func (e *recordingEffects) ReloadActiveTab(context.Context) {
	e.mu.Lock()
	e.reloads++
	e.mu.Unlock()
}

func (e *recordingEffects) ResyncOpenThread(context.Context) {
	e.mu.Lock()
	e.resyncs++
	e.mu.Unlock()
}

func (e *recordingEffects) resyncCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resyncs
}

func (e *recordingEffects) RefreshUnreadCounts() {
	e.mu.Lock()
	e.refresh++
	e.mu.Unlock()
}

func (e *recordingEffects) AcknowledgeRead(_ context.Context, id string) {
	e.mu.Lock()
	e.acks = append(e.acks, id)
	e.mu.Unlock()
}

func (e *recordingEffects) counts() (reloads, refresh int, acks []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reloads, e.refresh, append([]string(nil), e.acks...)
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }
