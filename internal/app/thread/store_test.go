package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/bus"
	"chatsync/internal/domain/chat"
)

func msg(id string, sec int64) chat.Message {
	return chat.Message{ID: chat.Confirmed(id), ConversationID: "C1", SenderID: "other", Text: "m" + id, SentAt: time.Unix(sec, 0)}
}

func texts(st State) []string {
	out := make([]string, 0, len(st.Messages))
	for _, m := range st.Messages {
		out = append(out, m.Text)
	}
	return out
}

func openStore(t *testing.T) (*Store, *[]State) {
	t.Helper()
	b := bus.New()
	var seen []State
	bus.On(b, KindChanged, func(e Changed) { seen = append(seen, e.State) })
	s := NewStore(b)
	s.Open(chat.Conversation{ID: "C1"})
	return s, &seen
}

func TestPendingEchoAndAckYieldOneMessage(t *testing.T) {
	s, _ := openStore(t)
	pending := chat.Message{ID: chat.Pending("tmp_1"), ConversationID: "C1", SenderID: "me", Text: "test", SentAt: time.Unix(100, 0)}
	require.True(t, s.AppendPending(pending))

	// The echo arrives from the push channel before the send call returns.
	echo := chat.Message{ID: chat.Confirmed("42"), ConversationID: "C1", SenderID: "me", Text: "test", SentAt: time.Unix(100, 0)}
	require.True(t, s.AppendInbound(echo))
	require.True(t, s.Confirm("tmp_1", echo))

	st := s.State()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "test", st.Messages[0].Text)
	id, ok := st.Messages[0].ID.ServerID()
	assert.True(t, ok)
	assert.Equal(t, "42", id)
}

func TestConfirmReplacesInPlace(t *testing.T) {
	s, _ := openStore(t)
	s.AppendPending(chat.Message{ID: chat.Pending("a"), ConversationID: "C1", Text: "first"})
	s.AppendInbound(msg("7", 5))
	require.True(t, s.Confirm("a", chat.Message{ID: chat.Confirmed("8"), Text: "first"}))

	st := s.State()
	assert.Equal(t, []string{"first", "m7"}, texts(st))
	assert.Equal(t, "C1", st.Messages[0].ConversationID)
	assert.False(t, s.Confirm("a", msg("9", 0)), "pending id is gone")
}

func TestAppendInboundDedupesAndIgnoresOtherConversations(t *testing.T) {
	s, _ := openStore(t)
	assert.True(t, s.AppendInbound(msg("1", 1)))
	assert.False(t, s.AppendInbound(msg("1", 1)))
	other := msg("2", 2)
	other.ConversationID = "C9"
	assert.False(t, s.AppendInbound(other))
	assert.Len(t, s.State().Messages, 1)
}

func TestFailedFlag(t *testing.T) {
	s, _ := openStore(t)
	s.AppendPending(chat.Message{ID: chat.Pending("p"), ConversationID: "C1", Text: "oops"})
	assert.True(t, s.SetFailed("p", true))
	assert.False(t, s.SetFailed("p", true))

	got, ok := s.Pending("p")
	require.True(t, ok)
	assert.True(t, got.Failed)
	assert.Equal(t, "oops", got.Text)
}

func TestReplaceHistoryKeepsPending(t *testing.T) {
	s, _ := openStore(t)
	s.AppendPending(chat.Message{ID: chat.Pending("p"), ConversationID: "C1", Text: "mine"})
	s.AppendInbound(msg("3", 30))
	s.ReplaceHistory("C1", []chat.Message{msg("3", 30), msg("2", 20), msg("1", 10)}, 3)

	st := s.State()
	assert.Equal(t, []string{"m1", "m2", "m3", "mine"}, texts(st))
	assert.True(t, st.Loaded)
	assert.True(t, st.HasMore)
}

func TestOpenSwitchResetsAndCloseClears(t *testing.T) {
	s, seen := openStore(t)
	s.AppendInbound(msg("1", 1))
	s.Open(chat.Conversation{ID: "C1", IsUnread: true})
	assert.Len(t, s.State().Messages, 1, "reopening keeps the list")

	s.Open(chat.Conversation{ID: "C2"})
	assert.Empty(t, s.State().Messages)
	assert.Equal(t, "C2", s.OpenID())

	assert.Equal(t, "C2", s.Close())
	assert.False(t, s.State().IsOpen())
	assert.Equal(t, "", s.Close())

	require.NotEmpty(t, *seen)
	last := (*seen)[len(*seen)-1]
	assert.False(t, last.IsOpen())
}

func TestPatchConversation(t *testing.T) {
	s, _ := openStore(t)
	assert.True(t, s.PatchConversation("C1", func(c chat.Conversation) chat.Conversation {
		c.IsUnread = true
		return c
	}))
	assert.False(t, s.PatchConversation("C2", func(c chat.Conversation) chat.Conversation { return c }))
	require.NotNil(t, s.State().Conversation)
	assert.True(t, s.State().Conversation.IsUnread)
}
