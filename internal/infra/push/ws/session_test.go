package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer answers every subscribe frame with one canned event for that topic.
type pushServer struct {
	events map[string]string
	frames chan frame
	drop   chan struct{}
}

func newPushServer(t *testing.T, events map[string]string) (*pushServer, *httptest.Server) {
	t.Helper()
	ps := &pushServer{events: events, frames: make(chan frame, 16), drop: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			<-ps.drop
			_ = conn.Close()
		}()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ps.frames <- f
			if f.Type != frameSubscribe {
				continue
			}
			if payload, ok := ps.events[f.Topic]; ok {
				_ = conn.WriteJSON(frame{Type: frameEvent, Topic: f.Topic, Payload: json.RawMessage(payload)})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return ps, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionDeliversUserDeltas(t *testing.T) {
	_, srv := newPushServer(t, map[string]string{
		UserTopic("u1"): `{"conversationId": 7, "text": "hi", "senderId": "u2", "timestamp": 20000}`,
	})
	d := &Dialer{URL: wsURL(srv), Token: "tok"}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ch, unsub, err := sess.SubscribeUser(context.Background(), "u1")
	require.NoError(t, err)
	defer unsub()

	select {
	case delta := <-ch:
		assert.Equal(t, "7", delta.ConversationID)
		require.NotNil(t, delta.Text)
		assert.Equal(t, "hi", *delta.Text)
		assert.Equal(t, "u2", delta.SenderID)
		assert.Equal(t, int64(20000), delta.Timestamp.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("no delta delivered")
	}
}

func TestSessionConversationUnsubscribeSendsFrame(t *testing.T) {
	ps, srv := newPushServer(t, map[string]string{
		ConversationTopic("c1"): `{"id": "42", "senderId": "u2", "content": "hello", "createdAt": "2024-05-01T10:00:00Z"}`,
	})
	d := &Dialer{URL: wsURL(srv), Token: "tok"}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ch, unsub, err := sess.SubscribeConversation(context.Background(), "c1")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		id, ok := msg.ID.ServerID()
		require.True(t, ok)
		assert.Equal(t, "42", id)
		assert.Equal(t, "c1", msg.ConversationID)
		assert.Equal(t, "hello", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	_, _, err = sess.SubscribeConversation(context.Background(), "c1")
	assert.Error(t, err, "duplicate topic")

	unsub()
	unsub()

	var got []frame
	require.Eventually(t, func() bool {
		for {
			select {
			case f := <-ps.frames:
				got = append(got, f)
			default:
				return len(got) == 2
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, frameSubscribe, got[0].Type)
	assert.Equal(t, frameUnsubscribe, got[1].Type)
	assert.Equal(t, ConversationTopic("c1"), got[1].Topic)
}

func TestSessionEndsWhenServerDrops(t *testing.T) {
	ps, srv := newPushServer(t, nil)
	d := &Dialer{URL: wsURL(srv), Token: "tok"}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)

	ch, _, err := sess.SubscribeUser(context.Background(), "u1")
	require.NoError(t, err)

	close(ps.drop)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.Error(t, sess.Err())

	_, open := <-ch
	assert.False(t, open, "subscription channel closes with the session")

	_, _, err = sess.SubscribeUser(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDialUnauthorized(t *testing.T) {
	_, srv := newPushServer(t, nil)
	d := &Dialer{URL: wsURL(srv), Token: "wrong"}
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}
