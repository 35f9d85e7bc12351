// Package notifications keeps the in-app notification feed, newest first.
package notifications

import (
	"sort"
	"sync"

	"chatsync/internal/app/bus"
	"chatsync/internal/domain/chat"
)

const KindChanged bus.Kind = "notifications.changed"

type Changed struct {
	Entries []chat.Notification
	Unread  int
}

func (Changed) Kind() bus.Kind { return KindChanged }

// Feed is safe for concurrent use.
type Feed struct {
	mu      sync.Mutex
	entries []chat.Notification
	unread  int
	bus     *bus.Bus
}

func NewFeed(b *bus.Bus) *Feed {
	return &Feed{bus: b}
}

// Load replaces the feed with a fetched page.
func (f *Feed) Load(entries []chat.Notification) {
	f.mu.Lock()
	seen := make(map[string]struct{}, len(entries))
	next := make([]chat.Notification, 0, len(entries))
	for _, n := range entries {
		if _, dup := seen[n.ID]; dup || n.ID == "" {
			continue
		}
		seen[n.ID] = struct{}{}
		next = append(next, n)
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].CreatedAt.After(next[j].CreatedAt) })
	f.entries = next
	f.unread = countUnread(next)
	f.publishLocked()
}

// Apply merges a pushed entry. A known id that flips from read to unread is a
// resurrection: it moves to the top and counts once. Other updates stay in place.
// It reports whether the feed changed.
func (f *Feed) Apply(n chat.Notification) bool {
	if n.ID == "" {
		return false
	}
	f.mu.Lock()
	idx := f.indexLocked(n.ID)
	switch {
	case idx < 0:
		f.entries = append([]chat.Notification{n}, f.entries...)
		if !n.IsRead {
			f.unread++
		}
	case f.entries[idx].IsRead && !n.IsRead:
		rest := removeAt(f.entries, idx)
		f.entries = append([]chat.Notification{n}, rest...)
		f.unread++
	default:
		prior := f.entries[idx]
		if prior == n {
			f.mu.Unlock()
			return false
		}
		next := append([]chat.Notification(nil), f.entries...)
		next[idx] = n
		f.entries = next
		if !prior.IsRead && n.IsRead {
			f.unread--
		}
	}
	f.publishLocked()
	return true
}

// SetRead flips the read flag of id and returns the previous entry.
func (f *Feed) SetRead(id string, read bool) (chat.Notification, bool) {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return chat.Notification{}, false
	}
	prior := f.entries[idx]
	if prior.IsRead == read {
		f.mu.Unlock()
		return prior, true
	}
	next := append([]chat.Notification(nil), f.entries...)
	next[idx].IsRead = read
	f.entries = next
	if read {
		f.unread--
	} else {
		f.unread++
	}
	f.publishLocked()
	return prior, true
}

// Delete removes id and returns the removed entry and its position.
func (f *Feed) Delete(id string) (chat.Notification, int, bool) {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return chat.Notification{}, -1, false
	}
	prior := f.entries[idx]
	f.entries = removeAt(f.entries, idx)
	if !prior.IsRead {
		f.unread--
	}
	f.publishLocked()
	return prior, idx, true
}

// Insert puts n back at position idx, used to undo a failed delete.
func (f *Feed) Insert(n chat.Notification, idx int) {
	f.mu.Lock()
	if f.indexLocked(n.ID) >= 0 {
		f.mu.Unlock()
		return
	}
	if idx < 0 || idx > len(f.entries) {
		idx = len(f.entries)
	}
	next := make([]chat.Notification, 0, len(f.entries)+1)
	next = append(next, f.entries[:idx]...)
	next = append(next, n)
	next = append(next, f.entries[idx:]...)
	f.entries = next
	if !n.IsRead {
		f.unread++
	}
	f.publishLocked()
}

func (f *Feed) Entries() []chat.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Notification(nil), f.entries...)
}

func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

func (f *Feed) indexLocked(id string) int {
	for i, n := range f.entries {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// publishLocked releases f.mu before publishing.
func (f *Feed) publishLocked() {
	evt := Changed{Entries: append([]chat.Notification(nil), f.entries...), Unread: f.unread}
	f.mu.Unlock()
	f.bus.Publish(evt)
}

func removeAt(entries []chat.Notification, idx int) []chat.Notification {
	out := make([]chat.Notification, 0, len(entries)-1)
	out = append(out, entries[:idx]...)
	return append(out, entries[idx+1:]...)
}

func countUnread(entries []chat.Notification) int {
	n := 0
	for _, e := range entries {
		if !e.IsRead {
			n++
		}
	}
	return n
}
