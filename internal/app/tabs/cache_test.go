package tabs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/chat"
)

func conv(id string, ts int64) chat.Conversation {
	return chat.Conversation{ID: id, LastMessageAt: time.UnixMilli(ts)}
}

func ids(tab Tab) []string {
	out := make([]string, 0, len(tab.Items))
	for _, c := range tab.Items {
		out = append(out, c.ID)
	}
	return out
}

func mustTab(t *testing.T, s Snapshot, key chat.FilterKey) Tab {
	t.Helper()
	tab, ok := s.Tab(key)
	require.True(t, ok, "tab %q missing", key)
	return tab
}

func TestLoadPageFirstPage(t *testing.T) {
	cache := New(chat.DefaultFilters()...)

	before := mustTab(t, cache.Snapshot(), chat.FilterAll)
	assert.False(t, before.Initialized)

	snap := cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("C1", 10), conv("C2", 5)}, 20)
	tab := mustTab(t, snap, chat.FilterAll)
	assert.Equal(t, []string{"C1", "C2"}, ids(tab))
	assert.False(t, tab.HasMore)
	assert.True(t, tab.Initialized)

	empty := cache.LoadPage(chat.FilterSold, 0, nil, 20)
	sold := mustTab(t, empty, chat.FilterSold)
	assert.True(t, sold.Initialized)
	assert.Empty(t, sold.Items)
}

func TestLoadPageAppendsAndNeverShrinks(t *testing.T) {
	cache := New(chat.FilterAll)
	pageSize := 3
	total := 0
	previous := []string{}
	for page := 0; page < 4; page++ {
		items := make([]chat.Conversation, 0, pageSize)
		for i := 0; i < pageSize; i++ {
			items = append(items, conv(fmt.Sprintf("c%d", page*pageSize+i), 0))
		}
		if page == 3 {
			items = items[:1]
		}
		tab := mustTab(t, cache.LoadPage(chat.FilterAll, page, items, pageSize), chat.FilterAll)
		require.GreaterOrEqual(t, len(tab.Items), total)
		assert.Equal(t, previous, ids(tab)[:len(previous)], "previously loaded entries keep their order")
		total = len(tab.Items)
		previous = ids(tab)
		assert.Equal(t, page, tab.Page)
		assert.Equal(t, page < 3, tab.HasMore)
	}
	assert.Equal(t, 10, total)
}

func TestLoadPageDedupesShiftedItems(t *testing.T) {
	cache := New(chat.FilterAll)
	cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("a", 0), conv("b", 0)}, 2)
	snap := cache.LoadPage(chat.FilterAll, 1, []chat.Conversation{conv("b", 0), conv("c", 0)}, 2)
	assert.Equal(t, []string{"a", "b", "c"}, ids(mustTab(t, snap, chat.FilterAll)))
}

func TestUnknownFilterIsNoop(t *testing.T) {
	cache := New(chat.FilterAll)
	before := cache.Snapshot()
	after := cache.LoadPage("Mystery", 0, []chat.Conversation{conv("x", 0)}, 10)
	assert.Equal(t, before.Version(), after.Version())
	_, ok := after.Tab("Mystery")
	assert.False(t, ok)

	cache.Register(chat.ListingFilter("l1"))
	assert.True(t, cache.Registered(chat.ListingFilter("l1")))
}

func TestUpsertAcrossTabsMovesToFrontEverywhere(t *testing.T) {
	cache := New(chat.FilterAll, chat.FilterBuying, chat.FilterSelling)
	cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("C1", 10), conv("C2", 5)}, 20)
	cache.LoadPage(chat.FilterBuying, 0, []chat.Conversation{conv("C3", 7), conv("C2", 5)}, 20)
	cache.LoadPage(chat.FilterSelling, 0, []chat.Conversation{conv("C1", 10)}, 20)
	sellingBefore := mustTab(t, cache.Snapshot(), chat.FilterSelling)

	snap, touched := cache.UpsertAcrossTabs("C2", func(c chat.Conversation) chat.Conversation {
		c.LastMessagePreview = "hi"
		c.LastMessageAt = time.UnixMilli(20)
		c.IsUnread = true
		return c
	})
	require.True(t, touched)

	all := mustTab(t, snap, chat.FilterAll)
	buying := mustTab(t, snap, chat.FilterBuying)
	assert.Equal(t, []string{"C2", "C1"}, ids(all))
	assert.Equal(t, []string{"C2", "C3"}, ids(buying))
	assert.Equal(t, all.Items[0], buying.Items[0])
	assert.Equal(t, "hi", all.Items[0].LastMessagePreview)

	selling := mustTab(t, snap, chat.FilterSelling)
	assert.Equal(t, sellingBefore.Version, selling.Version, "tabs without the id stay untouched")

	_, touched = cache.UpsertAcrossTabs("nope", func(c chat.Conversation) chat.Conversation { return c })
	assert.False(t, touched)
}

func TestPatchAcrossTabsKeepsOrder(t *testing.T) {
	cache := New(chat.FilterAll, chat.FilterUnread)
	cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("a", 0), conv("b", 0)}, 20)
	cache.LoadPage(chat.FilterUnread, 0, []chat.Conversation{conv("b", 0)}, 20)

	snap, touched := cache.PatchAcrossTabs("b", func(c chat.Conversation) chat.Conversation {
		c.IsUnread = false
		return c
	})
	require.True(t, touched)
	assert.Equal(t, []string{"a", "b"}, ids(mustTab(t, snap, chat.FilterAll)))
	for _, key := range snap.TabsHolding("b") {
		tab := mustTab(t, snap, key)
		assert.False(t, tab.Items[tab.indexOf("b")].IsUnread)
	}
}

func TestRemoveAndConditionalRemove(t *testing.T) {
	cache := New(chat.FilterAll, chat.FilterUnread, chat.FilterArchived)
	cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("a", 0), conv("b", 0)}, 20)
	cache.LoadPage(chat.FilterUnread, 0, []chat.Conversation{conv("b", 0)}, 20)
	cache.LoadPage(chat.FilterArchived, 0, []chat.Conversation{conv("b", 0)}, 20)

	snap, removed := cache.ConditionalRemove("b", func(key chat.FilterKey, prior chat.Conversation) bool {
		assert.Equal(t, "b", prior.ID)
		return chat.ExcludedAfterArchive(key, true)
	})
	assert.Equal(t, []chat.FilterKey{chat.FilterAll, chat.FilterUnread}, removed)
	assert.Equal(t, []chat.FilterKey{chat.FilterArchived}, snap.TabsHolding("b"))

	snap, removed = cache.RemoveFromAllTabs("b")
	assert.Equal(t, []chat.FilterKey{chat.FilterArchived}, removed)
	assert.False(t, snap.Contains("b"))
	assert.True(t, snap.Contains("a"))
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	cache := New(chat.FilterAll)
	first := cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("a", 0), conv("b", 0)}, 20)

	tab := mustTab(t, first, chat.FilterAll)
	tab.Items[0].ID = "mutated"
	assert.Equal(t, []string{"a", "b"}, ids(mustTab(t, cache.Snapshot(), chat.FilterAll)))

	second, _ := cache.UpsertAcrossTabs("b", func(c chat.Conversation) chat.Conversation { return c })
	assert.Equal(t, []string{"a", "b"}, ids(mustTab(t, first, chat.FilterAll)), "older snapshot unchanged")
	assert.Equal(t, []string{"b", "a"}, ids(mustTab(t, second, chat.FilterAll)))
	assert.NotEqual(t, first.Version(), second.Version())
}

func TestRestoreSkipsLiveTabs(t *testing.T) {
	cache := New(chat.FilterAll, chat.FilterBuying)
	cache.LoadPage(chat.FilterAll, 0, []chat.Conversation{conv("live", 0)}, 20)

	snap := cache.Restore([]Tab{
		{Key: chat.FilterAll, Items: []chat.Conversation{conv("stale", 0)}, Initialized: true},
		{Key: chat.FilterBuying, Items: []chat.Conversation{conv("saved", 0), conv("saved", 0)}, Initialized: true, HasMore: true},
		{Key: "Unregistered", Items: []chat.Conversation{conv("x", 0)}},
	})
	assert.Equal(t, []string{"live"}, ids(mustTab(t, snap, chat.FilterAll)))
	assert.Equal(t, []string{"saved"}, ids(mustTab(t, snap, chat.FilterBuying)))

	found, ok := snap.Find("saved")
	assert.True(t, ok)
	assert.Equal(t, "saved", found.ID)
}
