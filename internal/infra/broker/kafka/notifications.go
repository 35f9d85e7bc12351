package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"

	"chatsync/internal/app/normalize"
	"chatsync/internal/domain/chat"
)

const (
	NotificationsTopic    = "notifications.events.v1"
	notificationEventType = "notification.created.v1"
)

// Inbox remembers event ids already applied.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// NotificationSink receives decoded feed entries.
type NotificationSink interface {
	ApplyNotification(n chat.Notification) bool
}

// envelope is the CloudEvents shape the outbox workers publish.
type envelope struct {
	SpecVersion string          `json:"specversion"`
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	Subject     string          `json:"subject"`
	Data        json.RawMessage `json:"data"`
}

type notificationData struct {
	normalize.RawNotification
	UserID normalize.FlexString `json:"userId"`
}

// NotificationHandler feeds notification events addressed to UserID into Sink.
// Events for other users, of other types, or carrying an unknown notification
// type are acknowledged and dropped; only an inbox failure is retried.
type NotificationHandler struct {
	UserID string
	Inbox  Inbox
	Sink   NotificationSink
	Logger *slog.Logger
}

func (h NotificationHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt envelope
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.warn("drop undecodable event", "offset", msg.Offset, "error", err)
		return nil
	}
	if evt.Type != notificationEventType {
		return nil
	}
	var data notificationData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		h.warn("drop malformed notification", "event_id", evt.ID, "error", err)
		return nil
	}
	recipient := strings.TrimSpace(evt.Subject)
	if recipient == "" {
		recipient = data.UserID.String()
	}
	if recipient != h.UserID {
		return nil
	}
	n, err := normalize.Notification(data.RawNotification)
	if err != nil || n.ID == "" {
		h.warn("drop notification", "event_id", evt.ID, "notification_id", n.ID, "error", err)
		return nil
	}
	if h.Inbox != nil && evt.ID != "" {
		seen, err := h.Inbox.Seen(ctx, evt.ID)
		if err != nil {
			return fmt.Errorf("inbox check %s: %w", evt.ID, err)
		}
		if seen {
			return nil
		}
	}
	h.Sink.ApplyNotification(n)
	return nil
}

func (h NotificationHandler) warn(msg string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Warn(msg, attrs...)
	}
}

var _ MessageHandler = NotificationHandler{}
