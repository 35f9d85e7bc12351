// Package ws is the websocket push channel. One socket carries the per-user
// topic and at most a few per-conversation topics.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/app/reconciler"
	"chatsync/internal/domain/chat"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	writeWait               = 5 * time.Second
)

var ErrSessionClosed = errors.New("ws: session closed")

// Dialer opens push sessions against URL.
type Dialer struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Logger           *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context) (reconciler.Session, error) {
	return d.dial(ctx)
}

func (d *Dialer) dial(ctx context.Context) (*Session, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("ws: dial %s: %w", d.URL, chat.ErrUnauthorized)
		}
		return nil, fmt.Errorf("ws: dial %s: %w: %w", d.URL, chat.ErrTransport, err)
	}
	ping := d.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Session{
		conn:     conn,
		ping:     ping,
		logger:   logger,
		subs:     make(map[string]*subscription),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

type subscription struct {
	topic   string
	deliver func(payload json.RawMessage, quit <-chan struct{}) error
	closeCh func()
	quit    chan struct{}
}

// Session is one connected socket. Subscription channels close when the session ends.
type Session struct {
	conn   *websocket.Conn
	ping   time.Duration
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	subs     map[string]*subscription
	err      error
	closed   bool
	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
}

func (s *Session) SubscribeUser(ctx context.Context, userID string) (<-chan chat.ConversationDelta, func(), error) {
	ch := make(chan chat.ConversationDelta, 16)
	topic := UserTopic(userID)
	sub := &subscription{
		topic: topic,
		deliver: func(payload json.RawMessage, quit <-chan struct{}) error {
			delta, err := decodeDelta(payload)
			if err != nil {
				return err
			}
			return send(ch, delta, quit, s.done)
		},
		closeCh: func() { close(ch) },
	}
	unsub, err := s.subscribe(ctx, sub)
	if err != nil {
		return nil, nil, err
	}
	return ch, unsub, nil
}

func (s *Session) SubscribeConversation(ctx context.Context, conversationID string) (<-chan chat.Message, func(), error) {
	ch := make(chan chat.Message, 16)
	topic := ConversationTopic(conversationID)
	sub := &subscription{
		topic: topic,
		deliver: func(payload json.RawMessage, quit <-chan struct{}) error {
			msg, err := decodeMessage(payload, conversationID)
			if err != nil {
				return err
			}
			return send(ch, msg, quit, s.done)
		},
		closeCh: func() { close(ch) },
	}
	unsub, err := s.subscribe(ctx, sub)
	if err != nil {
		return nil, nil, err
	}
	return ch, unsub, nil
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends a close frame and waits for the read loop to exit.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.finish(nil)
	<-s.readDone
	return nil
}

func (s *Session) subscribe(ctx context.Context, sub *subscription) (func(), error) {
	sub.quit = make(chan struct{})
	s.mu.Lock()
	if s.closed || isDone(s.done) {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, dup := s.subs[sub.topic]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("ws: already subscribed to %s", sub.topic)
	}
	s.subs[sub.topic] = sub
	s.mu.Unlock()

	if err := s.write(ctx, frame{Type: frameSubscribe, Topic: sub.topic}); err != nil {
		s.mu.Lock()
		delete(s.subs, sub.topic)
		s.mu.Unlock()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			current, ok := s.subs[sub.topic]
			if ok && current == sub {
				delete(s.subs, sub.topic)
			}
			s.mu.Unlock()
			close(sub.quit)
			if ok && !isDone(s.done) {
				if err := s.write(context.Background(), frame{Type: frameUnsubscribe, Topic: sub.topic}); err != nil {
					s.logger.Debug("unsubscribe write failed", "topic", sub.topic, "error", err)
				}
			}
		})
	}, nil
}

func (s *Session) write(ctx context.Context, f frame) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("ws: write %s %s: %w: %w", f.Type, f.Topic, chat.ErrTransport, err)
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.readDone)
	defer s.closeSubscriptions()

	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	})
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.finish(readError(err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.ping))
		switch f.Type {
		case frameEvent:
			s.dispatch(f)
		case frameError:
			s.logger.Warn("push server error", "topic", f.Topic, "message", f.Message)
		}
	}
}

func (s *Session) dispatch(f frame) {
	s.mu.Lock()
	sub, ok := s.subs[f.Topic]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.deliver(f.Payload, sub.quit); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn("drop malformed push event", "topic", f.Topic, "error", err)
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.finish(fmt.Errorf("ws: ping: %w: %w", chat.ErrTransport, err))
				return
			}
		}
	}
}

// finish records the first terminal error and releases the socket.
func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		if !s.closed {
			s.err = err
		}
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) closeSubscriptions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.closeCh()
	}
}

func readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("ws: server closed the session: %w", io.EOF)
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return fmt.Errorf("ws: read: %w: %w", chat.ErrTransport, err)
}

func send[T any](ch chan<- T, v T, quit <-chan struct{}, done <-chan struct{}) error {
	select {
	case ch <- v:
		return nil
	case <-quit:
		return nil
	case <-done:
		return ErrSessionClosed
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
