package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/bus"
	"chatsync/internal/app/normalize"
	"chatsync/internal/app/optimistic"
	"chatsync/internal/app/reconciler"
	"chatsync/internal/app/tabs"
	"chatsync/internal/domain/chat"
	"chatsync/internal/testutil"
)

const (
	me      = "u-me"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type memorySnapshots struct {
	mu    sync.Mutex
	saved map[string][]tabs.Tab
}

func (m *memorySnapshots) LoadTabs(_ context.Context, userID string) ([]tabs.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[userID], nil
}

func (m *memorySnapshots) SaveTabs(_ context.Context, userID string, saved []tabs.Tab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[userID] = saved
	return nil
}

type setup struct {
	api       *testutil.FakeAPI
	dialer    *testutil.FakeDialer
	session   *testutil.FakeSession
	snapshots SnapshotStore
	pageSize  int
}

func newEngine(t *testing.T, s setup) *Engine {
	t.Helper()
	if s.pageSize == 0 {
		s.pageSize = 20
	}
	e, err := New(Config{
		UserID:         me,
		PageSize:       s.pageSize,
		UnreadDebounce: time.Millisecond,
		ReconnectDelay: time.Millisecond,
	}, Deps{
		API:           s.api,
		Dialer:        s.dialer,
		Snapshots:     s.snapshots,
		ReconnectWait: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func raw(id string, ts int64) normalize.RawConversation {
	return testutil.RawConversation(id, me, "u-"+id, time.Unix(ts, 0))
}

func tabIDs(t *testing.T, e *Engine, key chat.FilterKey) []string {
	t.Helper()
	tab, err := e.Tab(key)
	require.NoError(t, err)
	ids := []string{}
	for _, item := range tab.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

func connected(e *Engine) func() bool {
	return func() bool { return e.Status().State == reconciler.Connected }
}

func TestStartLoadsActiveTabAndConnects(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 10), raw("c2", 5))
	api.Counts[chat.FilterUnread] = 3
	session := testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(session)})

	require.NoError(t, e.Start(context.Background()))

	tab, err := e.Tab(chat.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, tabIDs(t, e, chat.FilterAll))
	assert.False(t, tab.HasMore)
	assert.True(t, tab.Initialized)
	require.Eventually(t, connected(e), waitFor, tick)
	require.Eventually(t, func() bool { return e.UnreadCounts()[chat.FilterUnread] == 3 }, waitFor, tick)

	_, err = e.Tab("Nope")
	assert.ErrorIs(t, err, chat.ErrUnknownFilter)
}

func TestPushDeltaUpdatesEveryTab(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 10), raw("c2", 5))
	api.SetConversations(chat.FilterBuying, raw("c2", 5))
	session := testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(session)})
	require.NoError(t, e.Start(context.Background()))
	_, err := e.Activate(context.Background(), chat.FilterBuying)
	require.NoError(t, err)
	_, err = e.Activate(context.Background(), chat.FilterAll)
	require.NoError(t, err)

	text := "hi"
	session.Deltas <- chat.ConversationDelta{ConversationID: "c2", Text: &text, SenderID: "u-c2", Timestamp: time.Unix(20, 0)}

	require.Eventually(t, func() bool {
		conv, _ := e.Snapshot().Find("c2")
		return conv.LastMessagePreview == "hi"
	}, waitFor, tick)
	assert.Equal(t, []string{"c2", "c1"}, tabIDs(t, e, chat.FilterAll))
	assert.Equal(t, []string{"c2"}, tabIDs(t, e, chat.FilterBuying))
	for _, key := range []chat.FilterKey{chat.FilterAll, chat.FilterBuying} {
		tab, _ := e.Tab(key)
		assert.Equal(t, "hi", tab.Items[0].LastMessagePreview)
		assert.True(t, tab.Items[0].IsUnread)
	}
}

func TestUnknownConversationDeltaReloadsActiveTab(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 10))
	session := testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(session)})
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, connected(e), waitFor, tick)

	api.SetConversations(chat.FilterAll, raw("c9", 30), raw("c1", 10))
	session.Deltas <- chat.ConversationDelta{ConversationID: "c9", SenderID: "u-c9"}

	require.Eventually(t, func() bool { return len(tabIDs(t, e, chat.FilterAll)) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"c9", "c1"}, tabIDs(t, e, chat.FilterAll))
}

func TestOpenConversationFollowsPushChannel(t *testing.T) {
	api := testutil.NewFakeAPI()
	unread := raw("c1", 10)
	unread.IsUnread = true
	api.SetConversations(chat.FilterAll, unread, raw("c2", 5))
	api.Messages["c1"] = []normalize.RawMessage{
		testutil.RawMessage("m2", "c1", "u-c1", "newer", time.Unix(9, 0)),
		testutil.RawMessage("m1", "c1", me, "older", time.Unix(8, 0)),
	}
	session := testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(session)})
	require.NoError(t, e.Start(context.Background()))

	st, err := e.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "older", st.Messages[0].Text)
	conv, _ := e.Snapshot().Find("c1")
	assert.False(t, conv.IsUnread)
	assert.Equal(t, 1, api.CallCount("MarkRead"))

	var ch chan<- chat.Message
	require.Eventually(t, func() bool {
		var ok bool
		ch, ok = session.Conversation("c1")
		return ok
	}, waitFor, tick)
	ch <- testutil.NormalizedMessage("m3", "c1", "u-c1", "pushed")
	require.Eventually(t, func() bool { return api.CallCount("MarkRead") == 2 }, waitFor, tick)
	assert.Len(t, e.Thread().Messages, 3)

	_, err = e.OpenConversation(context.Background(), "c2")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		active := session.ActiveConversations()
		return len(active) == 1 && active[0] == "c2"
	}, waitFor, tick)

	e.CloseConversation()
	require.Eventually(t, func() bool { return len(session.ActiveConversations()) == 0 }, waitFor, tick)

	_, err = e.OpenConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestSendIgnoresSelfEcho(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 10))
	session := testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(session)})
	require.NoError(t, e.Start(context.Background()))
	_, err := e.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)

	var ch chan<- chat.Message
	require.Eventually(t, func() bool {
		var ok bool
		ch, ok = session.Conversation("c1")
		return ok
	}, waitFor, tick)
	api.OnSend(func(conversationID, text string) {
		ch <- testutil.NormalizedMessage("42", conversationID, me, text)
		ch <- testutil.NormalizedMessage("43", conversationID, "u-c1", "reply")
	})

	_, err = e.Send(context.Background(), "test", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(e.Thread().Messages) == 2 }, waitFor, tick)

	var texts []string
	for _, m := range e.Thread().Messages {
		texts = append(texts, m.Text)
	}
	assert.ElementsMatch(t, []string{"test", "reply"}, texts)
}

func TestArchiveFailureRestoresFromServer(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 40), raw("c3", 30))
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(testutil.NewFakeSession())})
	require.NoError(t, e.Start(context.Background()))

	var failures []optimistic.MutationFailed
	bus.On(e.Bus(), optimistic.KindMutationFailed, func(evt optimistic.MutationFailed) { failures = append(failures, evt) })
	var during []string
	api.OnCall(func(method string, _ []string) {
		if method == "Archive" {
			during = tabIDs(t, e, chat.FilterAll)
		}
	})
	api.Fail("Archive", chat.ErrTransport)

	err := e.Archive(context.Background(), "c3")
	require.ErrorIs(t, err, chat.ErrTransport)
	assert.Equal(t, []string{"c1"}, during)
	assert.Equal(t, []string{"c1", "c3"}, tabIDs(t, e, chat.FilterAll))
	require.Len(t, failures, 1)
}

func TestLoadMoreAndListingFilter(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 30), raw("c2", 20), raw("c3", 10))
	listing := chat.ListingFilter("l1")
	api.SetConversations(listing, raw("c2", 20))
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(testutil.NewFakeSession()), pageSize: 2})
	require.NoError(t, e.Start(context.Background()))

	tab, err := e.Tab(chat.FilterAll)
	require.NoError(t, err)
	assert.True(t, tab.HasMore)

	tab, err = e.LoadMore(context.Background(), chat.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, tabIDs(t, e, chat.FilterAll))
	assert.False(t, tab.HasMore)
	assert.Equal(t, 1, tab.Page)

	calls := api.CallCount("ListConversations")
	_, err = e.LoadMore(context.Background(), chat.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, calls, api.CallCount("ListConversations"))

	tab, err = e.Activate(context.Background(), listing)
	require.NoError(t, err)
	assert.Equal(t, listing, e.ActiveTab())
	assert.Len(t, tab.Items, 1)
}

func TestPushReloadSupersedesPendingLoadMore(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 30), raw("c2", 20), raw("c3", 10))
	session := testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(session), pageSize: 2})
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, connected(e), waitFor, tick)

	blocked, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	api.OnCall(func(method string, args []string) {
		if method == "ListConversations" && args[1] == "1" {
			once.Do(func() { close(blocked) })
			<-release
		}
	})
	done := make(chan error, 1)
	go func() {
		_, err := e.LoadMore(context.Background(), chat.FilterAll)
		done <- err
	}()
	<-blocked

	api.SetConversations(chat.FilterAll, raw("c9", 40), raw("c1", 30), raw("c2", 20), raw("c3", 10))
	session.Deltas <- chat.ConversationDelta{ConversationID: "c9", SenderID: "u-c9"}
	require.Eventually(t, func() bool {
		ids := tabIDs(t, e, chat.FilterAll)
		return len(ids) > 0 && ids[0] == "c9"
	}, waitFor, tick)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"c9", "c1"}, tabIDs(t, e, chat.FilterAll), "late page 1 is discarded")
	tab, err := e.Tab(chat.FilterAll)
	require.NoError(t, err)
	assert.Zero(t, tab.Page)
	assert.True(t, tab.HasMore)
}

func TestReconnectResyncsTabsAndOpenThread(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 10))
	api.SetMessages("c1", testutil.RawMessage("m1", "c1", "u-c1", "hello", time.Unix(9, 0)))
	first, second := testutil.NewFakeSession(), testutil.NewFakeSession()
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(first, second)})
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, connected(e), waitFor, tick)
	_, err := e.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)
	lists := api.CallCount("ListConversations")

	api.SetConversations(chat.FilterAll, raw("c9", 30), raw("c1", 10))
	api.SetMessages("c1",
		testutil.RawMessage("m2", "c1", "u-c1", "missed", time.Unix(20, 0)),
		testutil.RawMessage("m1", "c1", "u-c1", "hello", time.Unix(9, 0)),
	)
	first.Drop(errors.New("read: connection reset"))

	require.Eventually(t, func() bool { return len(tabIDs(t, e, chat.FilterAll)) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"c9", "c1"}, tabIDs(t, e, chat.FilterAll))
	assert.Greater(t, api.CallCount("ListConversations"), lists)
	require.Eventually(t, func() bool { return len(e.Thread().Messages) == 2 }, waitFor, tick)
	msgs := e.Thread().Messages
	assert.Equal(t, []string{"hello", "missed"}, []string{msgs[0].Text, msgs[1].Text})
}

func TestCloseSavesFirstPagesForWarmStart(t *testing.T) {
	store := &memorySnapshots{saved: make(map[string][]tabs.Tab)}
	api := testutil.NewFakeAPI()
	api.SetConversations(chat.FilterAll, raw("c1", 30), raw("c2", 20), raw("c3", 10))
	first := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(testutil.NewFakeSession()), snapshots: store, pageSize: 2})
	require.NoError(t, first.Start(context.Background()))
	_, err := first.LoadMore(context.Background(), chat.FilterAll)
	require.NoError(t, err)
	require.NoError(t, first.Close(context.Background()))

	saved := store.saved[me]
	require.Len(t, saved, 1)
	assert.Len(t, saved[0].Items, 2)
	assert.True(t, saved[0].HasMore)

	offline := testutil.NewFakeAPI()
	offline.Fail("ListConversations", chat.ErrTransport)
	second := newEngine(t, setup{api: offline, dialer: testutil.NewFakeDialer(testutil.NewFakeSession()), snapshots: store, pageSize: 2})
	require.NoError(t, second.Start(context.Background()))
	assert.Equal(t, []string{"c1", "c2"}, tabIDs(t, second, chat.FilterAll))
}

func TestStartReportsExpiredSession(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.Fail("ListConversations", chat.ErrUnauthorized)
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer()})
	var expired int
	bus.On(e.Bus(), optimistic.KindSessionExpired, func(optimistic.SessionExpired) { expired++ })

	err := e.Start(context.Background())
	require.ErrorIs(t, err, chat.ErrUnauthorized)
	assert.Equal(t, 1, expired)
}

func TestDegradedStatusAndManualReconnect(t *testing.T) {
	dialer := testutil.NewFakeDialer()
	e := newEngine(t, setup{api: testutil.NewFakeAPI(), dialer: dialer})
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return e.Status().Degraded }, waitFor, tick)
	assert.Equal(t, 6, dialer.Dials())
	assert.Equal(t, reconciler.Disconnected, e.Status().State)

	dialer.Queue(testutil.NewFakeSession())
	require.NoError(t, e.Reconnect())
	require.Eventually(t, connected(e), waitFor, tick)

	require.NoError(t, e.Close(context.Background()))
	assert.ErrorIs(t, e.Reconnect(), ErrClosed)
}

func TestNotificationCommandsRevertOnFailure(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.Notifications = []normalize.RawNotification{
		{ID: "n1", Type: "NEW_LIKE", CreatedAt: normalize.At(time.Unix(20, 0))},
		{ID: "n2", Type: "rental-requested", IsRead: true, CreatedAt: normalize.At(time.Unix(10, 0))},
		{ID: "n3", Type: "mystery", CreatedAt: normalize.At(time.Unix(30, 0))},
	}
	e := newEngine(t, setup{api: api, dialer: testutil.NewFakeDialer(testutil.NewFakeSession())})
	require.NoError(t, e.Start(context.Background()))

	require.Len(t, e.Notifications(), 2)
	assert.Equal(t, 1, e.NotificationUnread())

	api.Fail("MarkNotificationRead", chat.ErrTransport)
	require.ErrorIs(t, e.MarkNotificationRead(context.Background(), "n1"), chat.ErrTransport)
	assert.Equal(t, 1, e.NotificationUnread())

	api.Fail("DeleteNotification", chat.ErrTransport)
	require.ErrorIs(t, e.DeleteNotification(context.Background(), "n2"), chat.ErrTransport)
	assert.Len(t, e.Notifications(), 2)
	assert.Equal(t, "n2", e.Notifications()[1].ID)

	api.Fail("MarkNotificationRead", nil)
	require.NoError(t, e.MarkNotificationRead(context.Background(), "n1"))
	assert.Zero(t, e.NotificationUnread())

	assert.True(t, e.ApplyNotification(chat.Notification{ID: "n2", Type: chat.NotificationRentalRequested, CreatedAt: time.Unix(40, 0)}))
	assert.Equal(t, "n2", e.Notifications()[0].ID)
	assert.Equal(t, 1, e.NotificationUnread())

	assert.ErrorIs(t, e.DeleteNotification(context.Background(), "nope"), chat.ErrNotFound)
}
