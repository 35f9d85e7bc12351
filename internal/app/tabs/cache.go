// Package tabs holds the per-filter conversation lists.
//
// Every write builds a new Snapshot and swaps it in under one lock, so a
// change that touches several tabs becomes visible to readers all at once.
// Tabs untouched by a write keep their slice and Version; rebuilt tabs get a
// fresh slice and a new Version, which is what callers compare to detect change.
package tabs

import (
	"sync"

	"chatsync/internal/domain/chat"
)

// Tab is one filter's paginated, deduplicated conversation list.
type Tab struct {
	Key         chat.FilterKey
	Items       []chat.Conversation
	Page        int
	HasMore     bool
	Initialized bool
	Version     uint64
}

func (t Tab) indexOf(id string) int {
	for i, conv := range t.Items {
		if conv.ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the tab holds conversation id.
func (t Tab) Contains(id string) bool {
	return t.indexOf(id) >= 0
}

// Snapshot is an immutable view of all tabs.
type Snapshot struct {
	order   []chat.FilterKey
	tabs    map[chat.FilterKey]Tab
	version uint64
}

func (s Snapshot) Version() uint64 { return s.version }

// Keys returns the registered filter keys in registration order.
func (s Snapshot) Keys() []chat.FilterKey {
	return append([]chat.FilterKey(nil), s.order...)
}

// Tab returns a copy of the tab for key.
func (s Snapshot) Tab(key chat.FilterKey) (Tab, bool) {
	tab, ok := s.tabs[key]
	if !ok {
		return Tab{}, false
	}
	tab.Items = append([]chat.Conversation(nil), tab.Items...)
	return tab, true
}

// Contains reports whether any tab holds conversation id.
func (s Snapshot) Contains(id string) bool {
	for _, tab := range s.tabs {
		if tab.Contains(id) {
			return true
		}
	}
	return false
}

// TabsHolding lists the tabs that currently hold id, in registration order.
func (s Snapshot) TabsHolding(id string) []chat.FilterKey {
	out := make([]chat.FilterKey, 0)
	for _, key := range s.order {
		if s.tabs[key].Contains(id) {
			out = append(out, key)
		}
	}
	return out
}

// Find returns the conversation from the first tab holding it.
func (s Snapshot) Find(id string) (chat.Conversation, bool) {
	for _, key := range s.order {
		tab := s.tabs[key]
		if idx := tab.indexOf(id); idx >= 0 {
			return tab.Items[idx].Clone(), true
		}
	}
	return chat.Conversation{}, false
}

// Cache is the single owner of tab state.
type Cache struct {
	mu   sync.Mutex
	snap Snapshot
	seq  uint64
}

// New returns a cache with the given filter keys registered.
func New(keys ...chat.FilterKey) *Cache {
	c := &Cache{snap: Snapshot{tabs: make(map[chat.FilterKey]Tab)}}
	c.Register(keys...)
	return c
}

// Snapshot returns the current state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Register adds filter keys; keys already present are left alone.
func (c *Cache) Register(keys ...chat.FilterKey) Snapshot {
	return c.write(func(next *Snapshot) bool {
		changed := false
		for _, key := range keys {
			if key == "" {
				continue
			}
			if _, ok := next.tabs[key]; ok {
				continue
			}
			next.order = append(next.order, key)
			next.tabs[key] = Tab{Key: key, HasMore: true, Version: c.nextVersion()}
			changed = true
		}
		return changed
	})
}

// Registered reports whether key is known to the cache.
func (c *Cache) Registered(key chat.FilterKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snap.tabs[key]
	return ok
}

// LoadPage stores a fetched page. Page 0 replaces the list, later pages
// append the ids not already present. Unknown keys are ignored.
func (c *Cache) LoadPage(key chat.FilterKey, page int, items []chat.Conversation, pageSize int) Snapshot {
	return c.write(func(next *Snapshot) bool {
		tab, ok := next.tabs[key]
		if !ok {
			return false
		}
		var list []chat.Conversation
		if page <= 0 {
			list = dedupe(nil, items)
			page = 0
		} else {
			list = dedupe(tab.Items, items)
		}
		next.tabs[key] = Tab{
			Key:         key,
			Items:       list,
			Page:        page,
			HasMore:     len(items) >= pageSize,
			Initialized: true,
			Version:     c.nextVersion(),
		}
		return true
	})
}

// UpsertAcrossTabs replaces id in every tab holding it and moves it to the
// front of each. Tabs without id are not touched. It reports whether any tab changed.
func (c *Cache) UpsertAcrossTabs(id string, updater func(chat.Conversation) chat.Conversation) (Snapshot, bool) {
	return c.rewrite(id, func(items []chat.Conversation, idx int) []chat.Conversation {
		updated := updater(items[idx].Clone())
		updated.ID = id
		list := make([]chat.Conversation, 0, len(items))
		list = append(list, updated)
		list = append(list, items[:idx]...)
		list = append(list, items[idx+1:]...)
		return list
	})
}

// PatchAcrossTabs replaces id in every tab holding it without reordering.
func (c *Cache) PatchAcrossTabs(id string, updater func(chat.Conversation) chat.Conversation) (Snapshot, bool) {
	return c.rewrite(id, func(items []chat.Conversation, idx int) []chat.Conversation {
		updated := updater(items[idx].Clone())
		updated.ID = id
		list := append([]chat.Conversation(nil), items...)
		list[idx] = updated
		return list
	})
}

// RemoveFromAllTabs deletes id everywhere and returns the tabs it was removed from.
func (c *Cache) RemoveFromAllTabs(id string) (Snapshot, []chat.FilterKey) {
	return c.ConditionalRemove(id, func(chat.FilterKey, chat.Conversation) bool { return true })
}

// ConditionalRemove deletes id from the tabs where pred returns true.
// pred receives the tab key and that tab's copy of the conversation.
func (c *Cache) ConditionalRemove(id string, pred func(chat.FilterKey, chat.Conversation) bool) (Snapshot, []chat.FilterKey) {
	removed := make([]chat.FilterKey, 0)
	snap := c.write(func(next *Snapshot) bool {
		for _, key := range next.order {
			tab := next.tabs[key]
			idx := tab.indexOf(id)
			if idx < 0 || !pred(key, tab.Items[idx].Clone()) {
				continue
			}
			list := make([]chat.Conversation, 0, len(tab.Items)-1)
			list = append(list, tab.Items[:idx]...)
			list = append(list, tab.Items[idx+1:]...)
			tab.Items = list
			tab.Version = c.nextVersion()
			next.tabs[key] = tab
			removed = append(removed, key)
		}
		return len(removed) > 0
	})
	return snap, removed
}

// Restore seeds tabs from persisted state. Tabs that were already fetched
// in this session are kept, so a slow restore never overwrites live data.
func (c *Cache) Restore(saved []Tab) Snapshot {
	return c.write(func(next *Snapshot) bool {
		changed := false
		for _, tab := range saved {
			current, ok := next.tabs[tab.Key]
			if !ok || current.Initialized {
				continue
			}
			next.tabs[tab.Key] = Tab{
				Key:         tab.Key,
				Items:       dedupe(nil, tab.Items),
				Page:        0,
				HasMore:     tab.HasMore,
				Initialized: tab.Initialized,
				Version:     c.nextVersion(),
			}
			changed = true
		}
		return changed
	})
}

func (c *Cache) rewrite(id string, build func(items []chat.Conversation, idx int) []chat.Conversation) (Snapshot, bool) {
	touched := false
	snap := c.write(func(next *Snapshot) bool {
		for _, key := range next.order {
			tab := next.tabs[key]
			idx := tab.indexOf(id)
			if idx < 0 {
				continue
			}
			tab.Items = build(tab.Items, idx)
			tab.Version = c.nextVersion()
			next.tabs[key] = tab
			touched = true
		}
		return touched
	})
	return snap, touched
}

// write runs mutate against a shallow copy of the current snapshot and
// publishes it only when mutate reports a change.
func (c *Cache) write(mutate func(next *Snapshot) bool) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := Snapshot{
		order: append([]chat.FilterKey(nil), c.snap.order...),
		tabs:  make(map[chat.FilterKey]Tab, len(c.snap.tabs)),
	}
	for k, v := range c.snap.tabs {
		next.tabs[k] = v
	}
	if !mutate(&next) {
		return c.snap
	}
	next.version = c.nextVersion()
	c.snap = next
	return next
}

// nextVersion must be called with c.mu held.
func (c *Cache) nextVersion() uint64 {
	c.seq++
	return c.seq
}

func dedupe(existing, incoming []chat.Conversation) []chat.Conversation {
	out := make([]chat.Conversation, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, list := range [][]chat.Conversation{existing, incoming} {
		for _, conv := range list {
			if _, dup := seen[conv.ID]; dup {
				continue
			}
			seen[conv.ID] = struct{}{}
			out = append(out, conv)
		}
	}
	return out
}
