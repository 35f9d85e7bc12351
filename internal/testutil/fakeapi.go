// Package testutil holds in-memory fakes of the engine's collaborators.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/app/normalize"
	"chatsync/internal/domain/chat"
)

type Call struct {
	Method string
	Args   []string
}

// FakeAPI is a scriptable REST collaborator. Conversation pages are sliced
// from Conversations by page and size. Message pages are newest first.
type FakeAPI struct {
	mu sync.Mutex

	Conversations map[chat.FilterKey][]normalize.RawConversation
	Messages      map[string][]normalize.RawMessage
	Counts        map[chat.FilterKey]int
	Notifications []normalize.RawNotification
	Started       normalize.RawConversation

	errs       map[string]error
	calls      []Call
	nextID     int
	beforeSend func(conversationID, text string)
	onCall     func(method string, args []string)
}

func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		Conversations: make(map[chat.FilterKey][]normalize.RawConversation),
		Messages:      make(map[string][]normalize.RawMessage),
		Counts:        make(map[chat.FilterKey]int),
		errs:          make(map[string]error),
	}
}

// Fail makes every later call to method return err. A nil err clears it.
func (f *FakeAPI) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// OnSend runs fn inside SendMessage before the reply is built.
func (f *FakeAPI) OnSend(fn func(conversationID, text string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSend = fn
}

// OnCall runs fn after every recorded call and before it returns.
func (f *FakeAPI) OnCall(fn func(method string, args []string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCall = fn
}

func (f *FakeAPI) SetConversations(key chat.FilterKey, raws ...normalize.RawConversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Conversations[key] = raws
}

// SetMessages replaces the history of conversationID, newest first.
func (f *FakeAPI) SetMessages(conversationID string, raws ...normalize.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages[conversationID] = raws
}

func (f *FakeAPI) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts calls to method.
func (f *FakeAPI) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *FakeAPI) record(method string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	err, hook := f.errs[method], f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(method, args)
	}
	return err
}

func (f *FakeAPI) ListConversations(_ context.Context, filter chat.FilterKey, page, size int) ([]normalize.RawConversation, int, error) {
	if err := f.record("ListConversations", string(filter), fmt.Sprint(page)); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOf(f.Conversations[filter], page, size), 0, nil
}

func (f *FakeAPI) ListMessages(_ context.Context, conversationID string, page, size int) ([]normalize.RawMessage, int, error) {
	if err := f.record("ListMessages", conversationID, fmt.Sprint(page)); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOf(f.Messages[conversationID], page, size), 0, nil
}

func (f *FakeAPI) UnreadCounts(context.Context) (map[chat.FilterKey]int, error) {
	if err := f.record("UnreadCounts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[chat.FilterKey]int, len(f.Counts))
	for k, v := range f.Counts {
		out[k] = v
	}
	return out, nil
}

func (f *FakeAPI) SendMessage(_ context.Context, conversationID, senderID, text, attachmentURL string) (normalize.RawMessage, error) {
	if err := f.record("SendMessage", conversationID, text); err != nil {
		return normalize.RawMessage{}, err
	}
	f.mu.Lock()
	hook := f.beforeSend
	f.nextID++
	id := fmt.Sprint(41 + f.nextID)
	f.mu.Unlock()
	if hook != nil {
		hook(conversationID, text)
	}
	return RawMessage(id, conversationID, senderID, text, time.Time{}), nil
}

func (f *FakeAPI) MarkRead(_ context.Context, id string) error   { return f.record("MarkRead", id) }
func (f *FakeAPI) MarkUnread(_ context.Context, id string) error { return f.record("MarkUnread", id) }
func (f *FakeAPI) Archive(_ context.Context, id string) error    { return f.record("Archive", id) }
func (f *FakeAPI) Unarchive(_ context.Context, id string) error  { return f.record("Unarchive", id) }
func (f *FakeAPI) Like(_ context.Context, id string) error       { return f.record("Like", id) }
func (f *FakeAPI) Unlike(_ context.Context, id string) error     { return f.record("Unlike", id) }

func (f *FakeAPI) DeleteConversation(_ context.Context, id string) error {
	return f.record("DeleteConversation", id)
}

func (f *FakeAPI) StartConversation(_ context.Context, listingID, buyerID, sellerID string) (normalize.RawConversation, error) {
	if err := f.record("StartConversation", listingID, buyerID, sellerID); err != nil {
		return normalize.RawConversation{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Started, nil
}

func (f *FakeAPI) ListNotifications(context.Context) ([]normalize.RawNotification, int, error) {
	if err := f.record("ListNotifications"); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]normalize.RawNotification(nil), f.Notifications...), 0, nil
}

func (f *FakeAPI) MarkNotificationRead(_ context.Context, id string) error {
	return f.record("MarkNotificationRead", id)
}

func (f *FakeAPI) DeleteNotification(_ context.Context, id string) error {
	return f.record("DeleteNotification", id)
}

func pageOf[T any](items []T, page, size int) []T {
	if size <= 0 {
		return append([]T(nil), items...)
	}
	start := page * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[start:end]...)
}
