package optimistic

import (
	"sort"
	"sync"

	"chatsync/internal/app/bus"
)

// LikeSet is the local set of liked listing ids. Each id carries its own
// in-flight guard so a failed call reverts only that id.
type LikeSet struct {
	mu       sync.Mutex
	liked    map[string]struct{}
	inflight map[string]struct{}
	bus      *bus.Bus
}

func NewLikeSet(b *bus.Bus, ids ...string) *LikeSet {
	s := &LikeSet{
		liked:    make(map[string]struct{}, len(ids)),
		inflight: make(map[string]struct{}),
		bus:      b,
	}
	for _, id := range ids {
		s.liked[id] = struct{}{}
	}
	return s
}

func (s *LikeSet) Liked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.liked[id]
	return ok
}

// IDs returns the liked ids sorted.
func (s *LikeSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idsLocked()
}

// Replace installs the server's set. Ids with a call in flight keep their local state.
func (s *LikeSet) Replace(ids []string) {
	s.mu.Lock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	for id := range s.inflight {
		if _, ok := s.liked[id]; ok {
			next[id] = struct{}{}
		} else {
			delete(next, id)
		}
	}
	s.liked = next
	s.publishLocked()
}

// begin sets id to liked and marks it in flight. ok is false while another call for id runs.
func (s *LikeSet) begin(id string, liked bool) (prior bool, ok bool) {
	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return false, false
	}
	_, prior = s.liked[id]
	s.inflight[id] = struct{}{}
	if liked {
		s.liked[id] = struct{}{}
	} else {
		delete(s.liked, id)
	}
	if prior == liked {
		s.mu.Unlock()
		return prior, true
	}
	s.publishLocked()
	return prior, true
}

// finish clears the in-flight mark, restoring prior when revert is set.
func (s *LikeSet) finish(id string, prior, revert bool) {
	s.mu.Lock()
	delete(s.inflight, id)
	if !revert {
		s.mu.Unlock()
		return
	}
	_, now := s.liked[id]
	if now == prior {
		s.mu.Unlock()
		return
	}
	if prior {
		s.liked[id] = struct{}{}
	} else {
		delete(s.liked, id)
	}
	s.publishLocked()
}

func (s *LikeSet) idsLocked() []string {
	out := make([]string, 0, len(s.liked))
	for id := range s.liked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *LikeSet) publishLocked() {
	evt := LikesChanged{Liked: s.idsLocked()}
	s.mu.Unlock()
	s.bus.Publish(evt)
}
