package testutil

import (
	"context"
	"errors"
	"sync"

	"chatsync/internal/app/reconciler"
	"chatsync/internal/domain/chat"
)

var ErrDialRefused = errors.New("testutil: dial refused")

// FakeSession is an in-memory push session.
type FakeSession struct {
	Deltas chan chat.ConversationDelta

	mu       sync.Mutex
	done     chan struct{}
	err      error
	channels map[string]chan chat.Message
	active   map[string]bool
	closed   bool
}

func NewFakeSession() *FakeSession {
	return &FakeSession{
		Deltas:   make(chan chat.ConversationDelta, 32),
		done:     make(chan struct{}),
		channels: make(map[string]chan chat.Message),
		active:   make(map[string]bool),
	}
}

func (s *FakeSession) SubscribeUser(context.Context, string) (<-chan chat.ConversationDelta, func(), error) {
	return s.Deltas, func() {}, nil
}

func (s *FakeSession) SubscribeConversation(_ context.Context, id string) (<-chan chat.Message, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan chat.Message, 32)
	s.channels[id] = ch
	s.active[id] = true
	return ch, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}, nil
}

func (s *FakeSession) Done() <-chan struct{} { return s.done }

func (s *FakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Drop ends the session with err.
func (s *FakeSession) Drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

// Conversation returns the channel of an active conversation subscription.
func (s *FakeSession) Conversation(id string) (chan<- chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[id] {
		return nil, false
	}
	return s.channels[id], true
}

// ActiveConversations lists the conversation ids currently subscribed.
func (s *FakeSession) ActiveConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakeDialer hands out queued sessions and fails when none are queued.
type FakeDialer struct {
	mu       sync.Mutex
	sessions []*FakeSession
	dials    int
}

func NewFakeDialer(sessions ...*FakeSession) *FakeDialer {
	return &FakeDialer{sessions: sessions}
}

func (d *FakeDialer) Dial(context.Context) (reconciler.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.sessions) == 0 {
		return nil, ErrDialRefused
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	return s, nil
}

func (d *FakeDialer) Queue(sessions ...*FakeSession) {
	d.mu.Lock()
	d.sessions = append(d.sessions, sessions...)
	d.mu.Unlock()
}

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
