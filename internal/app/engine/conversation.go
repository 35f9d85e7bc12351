package engine

import (
	"context"
	"fmt"

	"chatsync/internal/app/thread"
	"chatsync/internal/domain/chat"
)

func (e *Engine) Thread() thread.State { return e.thread.State() }

// OpenConversation opens id, which must be in a loaded tab, and fetches its
// newest messages. An unread conversation is marked read.
func (e *Engine) OpenConversation(ctx context.Context, id string) (thread.State, error) {
	conv, ok := e.cache.Snapshot().Find(id)
	if !ok {
		st := e.thread.State()
		if st.ConversationID != id || st.Conversation == nil {
			return thread.State{}, fmt.Errorf("open conversation %s: %w", id, chat.ErrNotFound)
		}
		conv = *st.Conversation
	}
	return e.open(ctx, conv)
}

// StartConversation creates the conversation about a listing and opens it.
func (e *Engine) StartConversation(ctx context.Context, listingID, sellerID string) (thread.State, error) {
	conv, err := e.coord.StartConversation(ctx, listingID, sellerID)
	if err != nil {
		return thread.State{}, err
	}
	return e.open(ctx, conv)
}

func (e *Engine) open(ctx context.Context, conv chat.Conversation) (thread.State, error) {
	e.thread.Open(conv)
	if err := e.pager.LoadInitial(ctx, conv.ID); err != nil {
		e.checkAuth(err)
		return e.thread.State(), err
	}
	if conv.IsUnread {
		if err := e.coord.MarkRead(ctx, conv.ID); err != nil {
			e.logger.Warn("mark read on open", "conversation_id", conv.ID, "error", err)
		}
	}
	return e.thread.State(), nil
}

// CloseConversation closes the open thread and drops its push subscription.
func (e *Engine) CloseConversation() string { return e.thread.Close() }

// LoadOlder prepends the next older page. vp may be nil when there is no
// scroll container to re-anchor.
func (e *Engine) LoadOlder(ctx context.Context, vp thread.Viewport) (thread.Anchor, error) {
	anchor, err := e.pager.LoadOlder(ctx, vp)
	e.checkAuth(err)
	return anchor, err
}

// OnScroll forwards a scroll event to the pager.
func (e *Engine) OnScroll(ctx context.Context, vp thread.Viewport) (thread.Anchor, bool, error) {
	anchor, loaded, err := e.pager.OnScroll(ctx, vp)
	e.checkAuth(err)
	return anchor, loaded, err
}

func (e *Engine) Send(ctx context.Context, text, attachmentURL string) (chat.Message, error) {
	return e.coord.Send(ctx, text, attachmentURL)
}

func (e *Engine) Retry(ctx context.Context, localID string) (chat.Message, error) {
	return e.coord.Retry(ctx, localID)
}

func (e *Engine) MarkRead(ctx context.Context, id string) error   { return e.coord.MarkRead(ctx, id) }
func (e *Engine) MarkUnread(ctx context.Context, id string) error { return e.coord.MarkUnread(ctx, id) }
func (e *Engine) Archive(ctx context.Context, id string) error    { return e.coord.Archive(ctx, id) }
func (e *Engine) Unarchive(ctx context.Context, id string) error  { return e.coord.Unarchive(ctx, id) }
func (e *Engine) Delete(ctx context.Context, id string) error     { return e.coord.Delete(ctx, id) }
func (e *Engine) Like(ctx context.Context, id string) error       { return e.coord.Like(ctx, id) }
func (e *Engine) Unlike(ctx context.Context, id string) error     { return e.coord.Unlike(ctx, id) }

func (e *Engine) Liked() []string { return e.coord.Likes().IDs() }
