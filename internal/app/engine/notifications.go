package engine

import (
	"context"
	"fmt"

	"chatsync/internal/app/normalize"
	"chatsync/internal/app/optimistic"
	"chatsync/internal/domain/chat"
)

func (e *Engine) Notifications() []chat.Notification { return e.feed.Entries() }

func (e *Engine) NotificationUnread() int { return e.feed.UnreadCount() }

// LoadNotifications replaces the feed with the server's entries. Entries of
// unknown type are skipped.
func (e *Engine) LoadNotifications(ctx context.Context) error {
	raws, dropped, err := e.api.ListNotifications(ctx)
	if err != nil {
		e.checkAuth(err)
		return fmt.Errorf("load notifications: %w", err)
	}
	if dropped > 0 {
		e.logger.Warn("skipped undecodable notifications", "skipped", dropped)
	}
	entries := make([]chat.Notification, 0, len(raws))
	for _, raw := range raws {
		n, err := normalize.Notification(raw)
		if err != nil {
			e.logger.Warn("skip notification", "notification_id", raw.ID.String(), "error", err)
			continue
		}
		entries = append(entries, n)
	}
	e.feed.Load(entries)
	return nil
}

// ApplyNotification merges a pushed entry into the feed.
func (e *Engine) ApplyNotification(n chat.Notification) bool {
	return e.feed.Apply(n)
}

// MarkNotificationRead marks id read locally and on the server, reverting on failure.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	prior, ok := e.feed.SetRead(id, true)
	if !ok {
		return fmt.Errorf("mark notification %s read: %w", id, chat.ErrNotFound)
	}
	if err := e.api.MarkNotificationRead(ctx, id); err != nil {
		e.feed.SetRead(id, prior.IsRead)
		return e.notificationFailed("mark notification read", id, err)
	}
	return nil
}

// DeleteNotification removes id and puts it back where it was if the call fails.
func (e *Engine) DeleteNotification(ctx context.Context, id string) error {
	removed, idx, ok := e.feed.Delete(id)
	if !ok {
		return fmt.Errorf("delete notification %s: %w", id, chat.ErrNotFound)
	}
	if err := e.api.DeleteNotification(ctx, id); err != nil {
		e.feed.Insert(removed, idx)
		return e.notificationFailed("delete notification", id, err)
	}
	return nil
}

func (e *Engine) notificationFailed(op, id string, err error) error {
	wrapped := fmt.Errorf("%s %s: %w", op, id, err)
	e.logger.Warn("mutation failed", "op", op, "notification_id", id, "error", err)
	e.bus.Publish(optimistic.MutationFailed{Op: op, Target: id, Err: wrapped})
	e.checkAuth(err)
	return wrapped
}
