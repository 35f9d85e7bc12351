package thread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"chatsync/internal/domain/chat"
)

const defaultPageSize = 30

// HistorySource fetches message pages. Page 0 is the newest page. The int
// result counts records of the page that could not be decoded.
type HistorySource interface {
	ListMessages(ctx context.Context, conversationID string, page, size int) ([]chat.Message, int, error)
}

// Viewport is the scroll container showing the thread.
type Viewport interface {
	ScrollTop() float64
	ScrollHeight() float64
	SetScrollTop(top float64)
}

// Anchor remembers the viewport geometry from before older messages were
// inserted so the same content can be kept on screen afterwards.
type Anchor struct {
	prevHeight float64
	prevTop    float64
	valid      bool
}

func captureAnchor(vp Viewport) Anchor {
	if vp == nil {
		return Anchor{}
	}
	return Anchor{prevHeight: vp.ScrollHeight(), prevTop: vp.ScrollTop(), valid: true}
}

// Valid reports whether the anchor was captured from a viewport.
func (a Anchor) Valid() bool { return a.valid }

// Restore moves vp so the content that was visible before the prepend stays in place.
// Call it after the new messages have been rendered.
func (a Anchor) Restore(vp Viewport) {
	if !a.valid || vp == nil {
		return
	}
	top := vp.ScrollHeight() - a.prevHeight + a.prevTop
	if top < 0 {
		top = 0
	}
	vp.SetScrollTop(top)
}

// Pager loads history for the open thread.
type Pager struct {
	Source   HistorySource
	Store    *Store
	PageSize int
	// TopThreshold is how close to the top, in pixels, a scroll must be to load more.
	TopThreshold float64
	Logger       *slog.Logger
}

func (p *Pager) pageSize() int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	return p.PageSize
}

func (p *Pager) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}

// LoadInitial fetches the newest page for the open conversation.
func (p *Pager) LoadInitial(ctx context.Context, conversationID string) error {
	if p.Store.OpenID() != conversationID {
		return chat.ErrNoOpenConversation
	}
	msgs, dropped, err := p.Source.ListMessages(ctx, conversationID, 0, p.pageSize())
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", conversationID, err)
	}
	p.Store.ReplaceHistory(conversationID, msgs, p.pageSize()-dropped)
	return nil
}

// Resync refetches the newest page after the push channel was down and
// merges it into the loaded window. A thread whose first page never arrived
// is loaded from scratch.
func (p *Pager) Resync(ctx context.Context) error {
	st := p.Store.State()
	if !st.IsOpen() {
		return nil
	}
	if !st.Loaded {
		return p.LoadInitial(ctx, st.ConversationID)
	}
	msgs, _, err := p.Source.ListMessages(ctx, st.ConversationID, 0, p.pageSize())
	if err != nil {
		return fmt.Errorf("resync messages for %s: %w", st.ConversationID, err)
	}
	p.Store.MergeNewest(st.ConversationID, msgs)
	return nil
}

// OnScroll loads an older page when vp sits at the top of the thread.
// It reports whether a page was requested.
func (p *Pager) OnScroll(ctx context.Context, vp Viewport) (Anchor, bool, error) {
	if vp == nil || vp.ScrollTop() > p.TopThreshold {
		return Anchor{}, false, nil
	}
	st := p.Store.State()
	if !st.IsOpen() || !st.Loaded || !st.HasMore || st.FetchingMore {
		return Anchor{}, false, nil
	}
	anchor, err := p.LoadOlder(ctx, vp)
	if errors.Is(err, chat.ErrInFlight) {
		return Anchor{}, false, nil
	}
	return anchor, err == nil, err
}

// LoadOlder fetches the page after the oldest loaded one and prepends it.
// A second call while one is in flight returns chat.ErrInFlight.
func (p *Pager) LoadOlder(ctx context.Context, vp Viewport) (Anchor, error) {
	st := p.Store.State()
	if !st.IsOpen() {
		return Anchor{}, chat.ErrNoOpenConversation
	}
	if !st.Loaded || !st.HasMore {
		return Anchor{}, nil
	}
	id := st.ConversationID
	if !p.Store.TryBeginFetch(id) {
		return Anchor{}, chat.ErrInFlight
	}
	defer p.Store.EndFetch(id)

	next := st.Page + 1
	msgs, dropped, err := p.Source.ListMessages(ctx, id, next, p.pageSize())
	if err != nil {
		p.logger().Warn("older messages fetch failed", "conversation_id", id, "page", next, "error", err)
		return Anchor{}, fmt.Errorf("load page %d for %s: %w", next, id, err)
	}
	anchor := captureAnchor(vp)
	if !p.Store.Prepend(id, next, msgs, p.pageSize()-dropped) {
		return Anchor{}, nil
	}
	return anchor, nil
}
