package ginserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"chatsync/internal/app/dto"
	"chatsync/internal/app/engine"
	"chatsync/internal/app/reconciler"
	"chatsync/internal/app/tabs"
	"chatsync/internal/app/thread"
	"chatsync/internal/domain/chat"
)

// ChatHTTP exposes the sync engine to the UI.
type ChatHTTP interface {
	Status(c *gin.Context)
	Reconnect(c *gin.Context)
	Tab(c *gin.Context)
	Activate(c *gin.Context)
	LoadMore(c *gin.Context)
	UnreadCounts(c *gin.Context)
	StartConversation(c *gin.Context)
	OpenThread(c *gin.Context)
	OpenConversation(c *gin.Context)
	CloseConversation(c *gin.Context)
	LoadOlder(c *gin.Context)
	SendMessage(c *gin.Context)
	Retry(c *gin.Context)
	MarkRead(c *gin.Context)
	MarkUnread(c *gin.Context)
	Archive(c *gin.Context)
	Unarchive(c *gin.Context)
	Delete(c *gin.Context)
	Like(c *gin.Context)
	Unlike(c *gin.Context)
	Notifications(c *gin.Context)
	MarkNotificationRead(c *gin.Context)
	DeleteNotification(c *gin.Context)
}

// Engine is the part of *engine.Engine the handler drives.
type Engine interface {
	Status() reconciler.Status
	Reconnect() error
	ActiveTab() chat.FilterKey
	Tab(key chat.FilterKey) (tabs.Tab, error)
	Activate(ctx context.Context, key chat.FilterKey) (tabs.Tab, error)
	LoadMore(ctx context.Context, key chat.FilterKey) (tabs.Tab, error)
	UnreadCounts() map[chat.FilterKey]int
	StartConversation(ctx context.Context, listingID, sellerID string) (thread.State, error)
	Thread() thread.State
	OpenConversation(ctx context.Context, id string) (thread.State, error)
	CloseConversation() string
	LoadOlder(ctx context.Context, vp thread.Viewport) (thread.Anchor, error)
	Send(ctx context.Context, text, attachmentURL string) (chat.Message, error)
	Retry(ctx context.Context, localID string) (chat.Message, error)
	MarkRead(ctx context.Context, id string) error
	MarkUnread(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) error
	Unarchive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Like(ctx context.Context, id string) error
	Unlike(ctx context.Context, id string) error
	Liked() []string
	Notifications() []chat.Notification
	NotificationUnread() int
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
}

// ChatHandler bridges HTTP with the sync engine.
type ChatHandler struct {
	Engine Engine
	Logger *slog.Logger
	Now    func() time.Time
}

func (h ChatHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connection": h.Engine.Status(),
		"active_tab": string(h.Engine.ActiveTab()),
	})
}

// Reconnect restarts the push channel after it gave up.
func (h ChatHandler) Reconnect(c *gin.Context) {
	if err := h.Engine.Reconnect(); err != nil {
		h.respondError(c, err, "reconnect")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"connection": h.Engine.Status()})
}

func (h ChatHandler) Tab(c *gin.Context) {
	key := filterParam(c)
	tab, err := h.Engine.Tab(key)
	if err != nil {
		h.respondError(c, err, "get tab", "filter", string(key))
		return
	}
	c.JSON(http.StatusOK, dto.FromTab(tab, h.now()))
}

func (h ChatHandler) Activate(c *gin.Context) {
	key := filterParam(c)
	tab, err := h.Engine.Activate(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, err, "activate tab", "filter", string(key))
		return
	}
	c.JSON(http.StatusOK, dto.FromTab(tab, h.now()))
}

func (h ChatHandler) LoadMore(c *gin.Context) {
	key := filterParam(c)
	tab, err := h.Engine.LoadMore(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, err, "load more", "filter", string(key))
		return
	}
	c.JSON(http.StatusOK, dto.FromTab(tab, h.now()))
}

func (h ChatHandler) UnreadCounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"counts": dto.UnreadCounts(h.Engine.UnreadCounts())})
}

// StartConversation opens (creating if needed) the chat about a listing.
func (h ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		ListingID string `json:"listing_id"`
		SellerID  string `json:"seller_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.ListingID = strings.TrimSpace(req.ListingID)
	req.SellerID = strings.TrimSpace(req.SellerID)
	if req.ListingID == "" || req.SellerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing_id and seller_id are required"})
		return
	}
	st, err := h.Engine.StartConversation(c.Request.Context(), req.ListingID, req.SellerID)
	if err != nil {
		h.respondError(c, err, "start conversation", "listing_id", req.ListingID)
		return
	}
	c.JSON(http.StatusCreated, dto.FromThread(st, h.now()))
}

func (h ChatHandler) OpenThread(c *gin.Context) {
	st := h.Engine.Thread()
	if !st.IsOpen() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open conversation"})
		return
	}
	c.JSON(http.StatusOK, dto.FromThread(st, h.now()))
}

func (h ChatHandler) OpenConversation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	st, err := h.Engine.OpenConversation(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "open conversation", "conversation_id", id)
		return
	}
	c.JSON(http.StatusOK, dto.FromThread(st, h.now()))
}

func (h ChatHandler) CloseConversation(c *gin.Context) {
	closed := h.Engine.CloseConversation()
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

// LoadOlder prepends the next page of history. Scroll anchoring happens in
// the browser, so no viewport is passed.
func (h ChatHandler) LoadOlder(c *gin.Context) {
	if _, err := h.Engine.LoadOlder(c.Request.Context(), nil); err != nil {
		h.respondError(c, err, "load older messages")
		return
	}
	c.JSON(http.StatusOK, dto.FromThread(h.Engine.Thread(), h.now()))
}

// SendMessage sends into the open conversation, which must be :id.
func (h ChatHandler) SendMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content       string `json:"content"`
		AttachmentURL string `json:"attachment_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if open := h.Engine.Thread().ConversationID; open != id {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not open"})
		return
	}
	msg, err := h.Engine.Send(c.Request.Context(), req.Content, req.AttachmentURL)
	if err != nil {
		h.respondMessageError(c, err, msg, "send message", "conversation_id", id)
		return
	}
	c.JSON(http.StatusCreated, dto.FromMessage(msg))
}

func (h ChatHandler) Retry(c *gin.Context) {
	localID, ok := idParam(c, "localId")
	if !ok {
		return
	}
	msg, err := h.Engine.Retry(c.Request.Context(), localID)
	if err != nil {
		h.respondMessageError(c, err, msg, "retry message", "local_id", localID)
		return
	}
	c.JSON(http.StatusOK, dto.FromMessage(msg))
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	h.conversationCommand(c, "mark read", h.Engine.MarkRead)
}

func (h ChatHandler) MarkUnread(c *gin.Context) {
	h.conversationCommand(c, "mark unread", h.Engine.MarkUnread)
}

func (h ChatHandler) Archive(c *gin.Context) {
	h.conversationCommand(c, "archive", h.Engine.Archive)
}

func (h ChatHandler) Unarchive(c *gin.Context) {
	h.conversationCommand(c, "unarchive", h.Engine.Unarchive)
}

func (h ChatHandler) Delete(c *gin.Context) {
	h.conversationCommand(c, "delete", h.Engine.Delete)
}

func (h ChatHandler) Like(c *gin.Context) {
	h.likeCommand(c, "like", h.Engine.Like)
}

func (h ChatHandler) Unlike(c *gin.Context) {
	h.likeCommand(c, "unlike", h.Engine.Unlike)
}

func (h ChatHandler) Notifications(c *gin.Context) {
	c.JSON(http.StatusOK, dto.FromNotifications(h.Engine.Notifications(), h.Engine.NotificationUnread(), h.now()))
}

func (h ChatHandler) MarkNotificationRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Engine.MarkNotificationRead(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "mark notification read", "notification_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": h.Engine.NotificationUnread()})
}

func (h ChatHandler) DeleteNotification(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Engine.DeleteNotification(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "delete notification", "notification_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) conversationCommand(c *gin.Context, action string, run func(context.Context, string) error) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := run(c.Request.Context(), id); err != nil {
		h.respondError(c, err, action, "conversation_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) likeCommand(c *gin.Context, action string, run func(context.Context, string) error) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := run(c.Request.Context(), id); err != nil {
		h.respondError(c, err, action, "listing_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": h.Engine.Liked()})
}

// respondMessageError keeps the failed message in the body so the UI can offer a retry.
func (h ChatHandler) respondMessageError(c *gin.Context, err error, msg chat.Message, action string, attrs ...any) {
	status, text := classify(err)
	h.logFailure(status, action, err, attrs...)
	body := gin.H{"error": text}
	if !msg.ID.IsZero() {
		body["message"] = dto.FromMessage(msg)
	}
	c.JSON(status, body)
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	status, text := classify(err)
	h.logFailure(status, action, err, attrs...)
	c.JSON(status, gin.H{"error": text})
}

func (h ChatHandler) logFailure(status int, action string, err error, attrs ...any) {
	if h.Logger == nil {
		return
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.Logger.Log(context.Background(), level, "chat command failed", append([]any{"action", action, "status", status, "error", err}, attrs...)...)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return http.StatusUnauthorized, "session expired"
	case errors.Is(err, chat.ErrInFlight):
		return http.StatusConflict, "operation already in progress"
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "message has no text or attachment"
	case errors.Is(err, chat.ErrNoOpenConversation):
		return http.StatusBadRequest, "no open conversation"
	case errors.Is(err, chat.ErrUnknownFilter):
		return http.StatusBadRequest, "unknown filter"
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, "engine stopped"
	case errors.Is(err, chat.ErrTransport), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "upstream unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h ChatHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func filterParam(c *gin.Context) chat.FilterKey {
	return chat.FilterKey(strings.TrimSpace(c.Param("filter")))
}

func idParam(c *gin.Context, name string) (string, bool) {
	id := strings.TrimSpace(c.Param(name))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required"})
		return "", false
	}
	return id, true
}

var _ ChatHTTP = (*ChatHandler)(nil)
var _ Engine = (*engine.Engine)(nil)
