// Package thread keeps the message list of the single open conversation and
// pages older history into it.
package thread

import (
	"sort"
	"sync"

	"chatsync/internal/app/bus"
	"chatsync/internal/domain/chat"
)

const KindChanged bus.Kind = "thread.changed"

// Changed is published after every write to the open thread.
type Changed struct {
	State State
}

func (Changed) Kind() bus.Kind { return KindChanged }

// State is a read-only copy of the open thread. Messages are oldest first.
type State struct {
	ConversationID string
	Conversation   *chat.Conversation
	Messages       []chat.Message
	Page           int
	HasMore        bool
	FetchingMore   bool
	Loaded         bool
	Version        uint64
}

func (s State) IsOpen() bool { return s.ConversationID != "" }

// Store owns the open thread. Messages are append-only once inserted: a
// pending entry may be confirmed in place, but nothing is reordered.
type Store struct {
	mu    sync.Mutex
	state State
	seq   uint64
	bus   *bus.Bus
}

func NewStore(b *bus.Bus) *Store {
	return &Store{bus: b}
}

// State returns a copy of the current thread.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// OpenID returns the open conversation id or "".
func (s *Store) OpenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ConversationID
}

// Open switches the thread to conv. Reopening the same conversation only refreshes its metadata.
func (s *Store) Open(conv chat.Conversation) {
	s.update(func(st *State) bool {
		meta := conv.Clone()
		if st.ConversationID == conv.ID {
			st.Conversation = &meta
			return true
		}
		*st = State{ConversationID: conv.ID, Conversation: &meta, HasMore: true}
		return true
	})
}

// Close clears the thread and returns the id that was open.
func (s *Store) Close() string {
	var prior string
	s.update(func(st *State) bool {
		prior = st.ConversationID
		if prior == "" {
			return false
		}
		*st = State{}
		return true
	})
	return prior
}

// PatchConversation applies fn to the open conversation's metadata when id is open.
func (s *Store) PatchConversation(id string, fn func(chat.Conversation) chat.Conversation) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != id || st.Conversation == nil {
			return false
		}
		next := fn(st.Conversation.Clone())
		st.Conversation = &next
		return true
	})
}

// ReplaceHistory installs the newest page. Local pending messages that the
// page does not already confirm are kept after it.
func (s *Store) ReplaceHistory(conversationID string, page []chat.Message, pageSize int) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != conversationID {
			return false
		}
		ordered := chronological(page)
		known := serverIDs(ordered)
		for _, msg := range st.Messages {
			if _, ok := msg.ID.LocalID(); ok {
				ordered = append(ordered, msg)
				continue
			}
			if id, ok := msg.ID.ServerID(); ok {
				if _, dup := known[id]; !dup {
					ordered = append(ordered, msg)
					known[id] = struct{}{}
				}
			}
		}
		st.Messages = ordered
		st.Page = 0
		st.HasMore = len(page) >= pageSize
		st.Loaded = true
		return true
	})
}

// MergeNewest adds the messages of a freshly fetched newest page that the
// loaded window is missing. Paging state and older pages are left alone;
// pending messages stay at the end.
func (s *Store) MergeNewest(conversationID string, page []chat.Message) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != conversationID {
			return false
		}
		known := serverIDs(st.Messages)
		confirmed := make([]chat.Message, 0, len(st.Messages)+len(page))
		var pending []chat.Message
		for _, msg := range st.Messages {
			if msg.ID.IsPending() {
				pending = append(pending, msg)
				continue
			}
			confirmed = append(confirmed, msg)
		}
		added := 0
		for _, msg := range page {
			id, ok := msg.ID.ServerID()
			if !ok {
				continue
			}
			if _, dup := known[id]; dup {
				continue
			}
			known[id] = struct{}{}
			confirmed = append(confirmed, msg)
			added++
		}
		if added == 0 {
			return false
		}
		st.Messages = append(chronological(confirmed), pending...)
		return true
	})
}

// Prepend inserts an older page above the loaded window. Pages for a
// conversation that is no longer open are dropped.
func (s *Store) Prepend(conversationID string, pageNumber int, page []chat.Message, pageSize int) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != conversationID {
			return false
		}
		known := serverIDs(st.Messages)
		older := make([]chat.Message, 0, len(page))
		for _, msg := range chronological(page) {
			if id, ok := msg.ID.ServerID(); ok {
				if _, dup := known[id]; dup {
					continue
				}
				known[id] = struct{}{}
			}
			older = append(older, msg)
		}
		st.Messages = append(older, st.Messages...)
		st.Page = pageNumber
		st.HasMore = len(page) >= pageSize
		return true
	})
}

// AppendPending adds a locally sent message to the open thread.
func (s *Store) AppendPending(msg chat.Message) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != msg.ConversationID {
			return false
		}
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// AppendInbound adds a pushed message unless its server id is already present.
func (s *Store) AppendInbound(msg chat.Message) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != msg.ConversationID {
			return false
		}
		if id, ok := msg.ID.ServerID(); ok {
			if _, dup := serverIDs(st.Messages)[id]; dup {
				return false
			}
		}
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// Confirm swaps the pending entry localID for the server's copy. If the
// server id is already in the list the pending entry is dropped instead.
func (s *Store) Confirm(localID string, server chat.Message) bool {
	return s.update(func(st *State) bool {
		idx := pendingIndex(st.Messages, localID)
		if idx < 0 {
			return false
		}
		if id, ok := server.ID.ServerID(); ok {
			if _, dup := serverIDs(st.Messages)[id]; dup {
				st.Messages = append(append([]chat.Message(nil), st.Messages[:idx]...), st.Messages[idx+1:]...)
				return true
			}
		}
		next := append([]chat.Message(nil), st.Messages...)
		server.Failed = false
		if server.ConversationID == "" {
			server.ConversationID = st.ConversationID
		}
		next[idx] = server
		st.Messages = next
		return true
	})
}

// SetFailed flags or clears the failure mark on the pending entry localID.
func (s *Store) SetFailed(localID string, failed bool) bool {
	return s.update(func(st *State) bool {
		idx := pendingIndex(st.Messages, localID)
		if idx < 0 || st.Messages[idx].Failed == failed {
			return false
		}
		next := append([]chat.Message(nil), st.Messages...)
		next[idx].Failed = failed
		st.Messages = next
		return true
	})
}

// Pending returns the pending entry localID.
func (s *Store) Pending(localID string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := pendingIndex(s.state.Messages, localID)
	if idx < 0 {
		return chat.Message{}, false
	}
	return s.state.Messages[idx], true
}

// TryBeginFetch marks an older-page fetch in flight. It reports false when
// conversationID is not open, there is nothing more to load, or a fetch is
// already running.
func (s *Store) TryBeginFetch(conversationID string) bool {
	return s.update(func(st *State) bool {
		if st.ConversationID != conversationID || st.FetchingMore || !st.HasMore {
			return false
		}
		st.FetchingMore = true
		return true
	})
}

// EndFetch clears the in-flight mark set by TryBeginFetch.
func (s *Store) EndFetch(conversationID string) {
	s.update(func(st *State) bool {
		if st.ConversationID != conversationID || !st.FetchingMore {
			return false
		}
		st.FetchingMore = false
		return true
	})
}

func (s *Store) update(mutate func(st *State) bool) bool {
	s.mu.Lock()
	if !mutate(&s.state) {
		s.mu.Unlock()
		return false
	}
	s.seq++
	s.state.Version = s.seq
	snapshot := s.copyLocked()
	s.mu.Unlock()
	s.bus.Publish(Changed{State: snapshot})
	return true
}

func (s *Store) copyLocked() State {
	out := s.state
	out.Messages = append([]chat.Message(nil), s.state.Messages...)
	if s.state.Conversation != nil {
		meta := s.state.Conversation.Clone()
		out.Conversation = &meta
	}
	return out
}

func pendingIndex(messages []chat.Message, localID string) int {
	for i, msg := range messages {
		if id, ok := msg.ID.LocalID(); ok && id == localID {
			return i
		}
	}
	return -1
}

func serverIDs(messages []chat.Message) map[string]struct{} {
	out := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		if id, ok := msg.ID.ServerID(); ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func chronological(page []chat.Message) []chat.Message {
	out := append([]chat.Message(nil), page...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}
