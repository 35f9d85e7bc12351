package chat

import (
	"fmt"
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationNewLike              NotificationType = "new_like"
	NotificationNewMessage           NotificationType = "new_message"
	NotificationNewReview            NotificationType = "new_review"
	NotificationReviewDeleted        NotificationType = "review_deleted"
	NotificationTransactionCompleted NotificationType = "transaction_completed"
	NotificationRentalRequested      NotificationType = "rental_requested"
	NotificationRentalAccepted       NotificationType = "rental_accepted"
	NotificationRentalDeclined       NotificationType = "rental_declined"
	NotificationRentalStarted        NotificationType = "rental_started"
	NotificationRentalReturned       NotificationType = "rental_returned"
	NotificationRentalOverdue        NotificationType = "rental_overdue"
)

var notificationTypes = map[NotificationType]struct{}{
	NotificationNewLike:              {},
	NotificationNewMessage:           {},
	NotificationNewReview:            {},
	NotificationReviewDeleted:        {},
	NotificationTransactionCompleted: {},
	NotificationRentalRequested:      {},
	NotificationRentalAccepted:       {},
	NotificationRentalDeclined:       {},
	NotificationRentalStarted:        {},
	NotificationRentalReturned:       {},
	NotificationRentalOverdue:        {},
}

// ParseNotificationType accepts snake_case, kebab-case or upper case spellings.
func ParseNotificationType(raw string) (NotificationType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	t := NotificationType(normalized)
	if _, ok := notificationTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNotification, raw)
	}
	return t, nil
}

type Notification struct {
	ID        string
	Type      NotificationType
	Content   string
	LinkURL   string
	IsRead    bool
	CreatedAt time.Time
}
