// Package optimistic applies user mutations locally first, then reconciles
// them with the server or rolls them back.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/app/bus"
	"chatsync/internal/app/format"
	"chatsync/internal/app/normalize"
	"chatsync/internal/app/tabs"
	"chatsync/internal/app/thread"
	"chatsync/internal/domain/chat"
)

// ConversationAPI is the REST surface the coordinator calls.
type ConversationAPI interface {
	SendMessage(ctx context.Context, conversationID, senderID, text, attachmentURL string) (normalize.RawMessage, error)
	MarkRead(ctx context.Context, conversationID string) error
	MarkUnread(ctx context.Context, conversationID string) error
	Archive(ctx context.Context, conversationID string) error
	Unarchive(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	StartConversation(ctx context.Context, listingID, buyerID, sellerID string) (normalize.RawConversation, error)
	Like(ctx context.Context, listingID string) error
	Unlike(ctx context.Context, listingID string) error
}

// TabLoader reloads tabs from page 0 after a mutation the cache cannot undo.
type TabLoader interface {
	ActiveTab() chat.FilterKey
	ReloadTab(ctx context.Context, key chat.FilterKey) error
}

// Counter is the unread counter the coordinator nudges.
type Counter interface {
	Adjust(key chat.FilterKey, delta int)
	Trigger()
}

type Deps struct {
	API     ConversationAPI
	Cache   *tabs.Cache
	Thread  *thread.Store
	Loader  TabLoader
	Counter Counter
	Likes   *LikeSet
	Bus     *bus.Bus
	Logger  *slog.Logger
	Images  normalize.ImageResolver
	// NewID and Now default to uuid.NewString and time.Now.
	NewID func() string
	Now   func() time.Time
}

type Coordinator struct {
	userID string
	deps   Deps
	logger *slog.Logger
}

func New(userID string, deps Deps) (*Coordinator, error) {
	if userID == "" {
		return nil, errors.New("optimistic: user id is required")
	}
	if deps.API == nil || deps.Cache == nil || deps.Thread == nil {
		return nil, errors.New("optimistic: api, cache and thread are required")
	}
	if deps.Likes == nil {
		deps.Likes = NewLikeSet(deps.Bus)
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{userID: userID, deps: deps, logger: logger}, nil
}

func (c *Coordinator) Likes() *LikeSet { return c.deps.Likes }

// Send appends a pending message to the open conversation and sends it. On
// failure the message stays in the list marked failed so it can be retried,
// and the failed pending message is returned along with the error.
func (c *Coordinator) Send(ctx context.Context, text, attachmentURL string) (chat.Message, error) {
	convID := c.deps.Thread.OpenID()
	if convID == "" {
		return chat.Message{}, chat.ErrNoOpenConversation
	}
	msg := chat.Message{
		ID:             chat.Pending(c.deps.NewID()),
		ConversationID: convID,
		SenderID:       c.userID,
		Text:           text,
		AttachmentURL:  attachmentURL,
		SentAt:         c.deps.Now(),
	}
	if msg.IsEmpty() {
		return chat.Message{}, chat.ErrEmptyMessage
	}
	c.deps.Thread.AppendPending(msg)
	c.touch(msg)
	return c.deliver(ctx, msg)
}

// Retry resends a failed pending message.
func (c *Coordinator) Retry(ctx context.Context, localID string) (chat.Message, error) {
	msg, ok := c.deps.Thread.Pending(localID)
	if !ok {
		return chat.Message{}, fmt.Errorf("retry message %s: %w", localID, chat.ErrNotFound)
	}
	if !c.deps.Thread.SetFailed(localID, false) {
		return chat.Message{}, fmt.Errorf("retry message %s: %w", localID, chat.ErrInFlight)
	}
	msg.Failed = false
	c.touch(msg)
	return c.deliver(ctx, msg)
}

func (c *Coordinator) deliver(ctx context.Context, msg chat.Message) (chat.Message, error) {
	localID, _ := msg.ID.LocalID()
	raw, err := c.deps.API.SendMessage(ctx, msg.ConversationID, c.userID, msg.Text, msg.AttachmentURL)
	if err != nil {
		c.deps.Thread.SetFailed(localID, true)
		msg.Failed = true
		return msg, c.fail(fmt.Sprintf("send message to %s", msg.ConversationID), "send", msg.ConversationID, err)
	}
	server := normalize.Message(raw, msg.ConversationID)
	if id, _ := server.ID.ServerID(); id == "" {
		return msg, nil
	}
	if server.SenderID == "" {
		server.SenderID = c.userID
	}
	if server.SentAt.IsZero() {
		server.SentAt = msg.SentAt
	}
	c.deps.Thread.Confirm(localID, server)
	return server, nil
}

// touch moves the conversation to the top of every tab with the new preview.
func (c *Coordinator) touch(msg chat.Message) {
	update := func(conv chat.Conversation) chat.Conversation {
		conv.LastMessagePreview = format.PreviewText(msg.Text, msg.AttachmentURL)
		conv.LastMessageAt = msg.SentAt
		conv.IsUnread = false
		return conv
	}
	c.deps.Thread.PatchConversation(msg.ConversationID, update)
	c.deps.Cache.UpsertAcrossTabs(msg.ConversationID, update)
}

func (c *Coordinator) MarkRead(ctx context.Context, id string) error {
	return c.setUnread(ctx, id, false)
}

func (c *Coordinator) MarkUnread(ctx context.Context, id string) error {
	return c.setUnread(ctx, id, true)
}

// setUnread flips the flag everywhere without moving the conversation. The
// local counters move only on a real transition, so repeated calls are safe.
func (c *Coordinator) setUnread(ctx context.Context, id string, unread bool) error {
	prior, known := c.lookup(id)
	patch := func(conv chat.Conversation) chat.Conversation {
		conv.IsUnread = unread
		return conv
	}
	c.deps.Cache.PatchAcrossTabs(id, patch)
	c.deps.Thread.PatchConversation(id, patch)
	if known && prior.IsUnread != unread && c.deps.Counter != nil {
		delta := -1
		if unread {
			delta = 1
		}
		for _, key := range c.counterKeys(id) {
			c.deps.Counter.Adjust(key, delta)
		}
	}

	var err error
	if unread {
		err = c.deps.API.MarkUnread(ctx, id)
	} else {
		err = c.deps.API.MarkRead(ctx, id)
	}
	if c.deps.Counter != nil {
		c.deps.Counter.Trigger()
	}
	if err != nil {
		op := "mark read"
		if unread {
			op = "mark unread"
		}
		return c.fail(op+" "+id, op, id, err)
	}
	return nil
}

func (c *Coordinator) Archive(ctx context.Context, id string) error {
	return c.setArchived(ctx, id, true)
}

func (c *Coordinator) Unarchive(ctx context.Context, id string) error {
	return c.setArchived(ctx, id, false)
}

// setArchived flips the flag and drops the conversation from tabs whose
// membership now excludes it. Failure reloads those tabs instead of undoing.
func (c *Coordinator) setArchived(ctx context.Context, id string, archived bool) error {
	patch := func(conv chat.Conversation) chat.Conversation {
		conv.IsArchived = archived
		return conv
	}
	c.deps.Cache.PatchAcrossTabs(id, patch)
	c.deps.Thread.PatchConversation(id, patch)
	_, removed := c.deps.Cache.ConditionalRemove(id, func(key chat.FilterKey, _ chat.Conversation) bool {
		return chat.ExcludedAfterArchive(key, archived)
	})

	var err error
	if archived {
		err = c.deps.API.Archive(ctx, id)
	} else {
		err = c.deps.API.Unarchive(ctx, id)
	}
	op := "archive"
	if !archived {
		op = "unarchive"
	}
	if err != nil {
		c.reload(ctx, removed...)
		return c.fail(op+" conversation "+id, op, id, err)
	}
	return nil
}

// Delete removes the conversation from every tab and closes it if open. On
// failure the active tab is reloaded.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.deps.Cache.RemoveFromAllTabs(id)
	if c.deps.Thread.OpenID() == id {
		c.deps.Thread.Close()
	}
	err := c.deps.API.DeleteConversation(ctx, id)
	if err != nil {
		c.reload(ctx)
		return c.fail("delete conversation "+id, "delete", id, err)
	}
	return nil
}

func (c *Coordinator) Like(ctx context.Context, listingID string) error {
	return c.setLiked(ctx, listingID, true)
}

func (c *Coordinator) Unlike(ctx context.Context, listingID string) error {
	return c.setLiked(ctx, listingID, false)
}

func (c *Coordinator) setLiked(ctx context.Context, listingID string, liked bool) error {
	op := "like"
	if !liked {
		op = "unlike"
	}
	prior, ok := c.deps.Likes.begin(listingID, liked)
	if !ok {
		return fmt.Errorf("%s listing %s: %w", op, listingID, chat.ErrInFlight)
	}
	var err error
	if liked {
		err = c.deps.API.Like(ctx, listingID)
	} else {
		err = c.deps.API.Unlike(ctx, listingID)
	}
	c.deps.Likes.finish(listingID, prior, err != nil)
	if err != nil {
		return c.fail(op+" listing "+listingID, op, listingID, err)
	}
	return nil
}

// StartConversation creates (or fetches) the conversation about listingID
// with sellerID. The result is not added to any tab; tab membership comes
// from the server on the next fetch.
func (c *Coordinator) StartConversation(ctx context.Context, listingID, sellerID string) (chat.Conversation, error) {
	if listingID == "" || sellerID == "" {
		return chat.Conversation{}, fmt.Errorf("start conversation: listing and seller are required: %w", chat.ErrMalformed)
	}
	raw, err := c.deps.API.StartConversation(ctx, listingID, c.userID, sellerID)
	if err != nil {
		return chat.Conversation{}, c.fail("start conversation on "+listingID, "start", listingID, err)
	}
	conv, ok := normalize.Conversation(raw, c.userID, normalize.Options{Images: c.deps.Images})
	if !ok || conv.ID == "" {
		return chat.Conversation{}, fmt.Errorf("start conversation on %s: %w", listingID, chat.ErrMalformed)
	}
	return conv, nil
}

func (c *Coordinator) lookup(id string) (chat.Conversation, bool) {
	if conv, ok := c.deps.Cache.Snapshot().Find(id); ok {
		return conv, true
	}
	st := c.deps.Thread.State()
	if st.ConversationID == id && st.Conversation != nil {
		return *st.Conversation, true
	}
	return chat.Conversation{}, false
}

// counterKeys lists the filters whose unread count includes id.
func (c *Coordinator) counterKeys(id string) []chat.FilterKey {
	keys := c.deps.Cache.Snapshot().TabsHolding(id)
	for _, k := range keys {
		if k == chat.FilterUnread {
			return keys
		}
	}
	return append(keys, chat.FilterUnread)
}

// reload refreshes the given tabs and the active one from page 0. Failures
// are logged; the next trigger heals them.
func (c *Coordinator) reload(ctx context.Context, keys ...chat.FilterKey) {
	if c.deps.Loader == nil {
		return
	}
	seen := make(map[chat.FilterKey]struct{}, len(keys)+1)
	for _, key := range append([]chat.FilterKey{c.deps.Loader.ActiveTab()}, keys...) {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := c.deps.Loader.ReloadTab(ctx, key); err != nil {
			c.logger.Warn("reload tab after failed mutation", "filter", string(key), "error", err)
		}
	}
}

func (c *Coordinator) fail(what, op, target string, err error) error {
	wrapped := fmt.Errorf("%s: %w", what, err)
	c.logger.Warn("mutation failed", "op", op, "target", target, "error", err)
	c.deps.Bus.Publish(MutationFailed{Op: op, Target: target, Err: wrapped})
	if errors.Is(err, chat.ErrUnauthorized) {
		c.deps.Bus.Publish(SessionExpired{Err: wrapped})
	}
	return wrapped
}
