package reconciler

import (
	"context"

	"chatsync/internal/domain/chat"
)

// Dialer opens one push session.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is a connected push channel. Subscriptions return a channel that is
// closed when the subscription or the session ends, plus an unsubscribe func.
type Session interface {
	SubscribeUser(ctx context.Context, userID string) (<-chan chat.ConversationDelta, func(), error)
	SubscribeConversation(ctx context.Context, conversationID string) (<-chan chat.Message, func(), error)
	// Done is closed when the connection drops.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Effects are the side effects of push events that reach outside the cache.
// They are called from the event loop and must not block on the network.
type Effects interface {
	ReloadActiveTab(ctx context.Context)
	// ResyncOpenThread merges the newest page of the open thread into it.
	ResyncOpenThread(ctx context.Context)
	RefreshUnreadCounts()
	AcknowledgeRead(ctx context.Context, conversationID string)
}
