package optimistic

import (
	"chatsync/internal/app/bus"
)

const (
	KindMutationFailed bus.Kind = "mutation.failed"
	KindSessionExpired bus.Kind = "session.expired"
	KindLikesChanged   bus.Kind = "likes.changed"
)

// MutationFailed is the toast signal for a user action that did not stick.
type MutationFailed struct {
	Op     string
	Target string
	Err    error
}

func (MutationFailed) Kind() bus.Kind { return KindMutationFailed }

// SessionExpired is published when the server rejects the session.
type SessionExpired struct {
	Err error
}

func (SessionExpired) Kind() bus.Kind { return KindSessionExpired }

type LikesChanged struct {
	Liked []string
}

func (LikesChanged) Kind() bus.Kind { return KindLikesChanged }
