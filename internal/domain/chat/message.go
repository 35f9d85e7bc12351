package chat

import (
	"strings"
	"time"
)

type idKind uint8

const (
	idConfirmed idKind = iota + 1
	idPending
)

// MessageID is either a server-confirmed id or a local id awaiting confirmation.
// The two spaces never overlap because the kind is part of the value.
type MessageID struct {
	kind  idKind
	value string
}

func Confirmed(serverID string) MessageID {
	return MessageID{kind: idConfirmed, value: strings.TrimSpace(serverID)}
}

func Pending(localID string) MessageID {
	return MessageID{kind: idPending, value: strings.TrimSpace(localID)}
}

func (id MessageID) IsZero() bool    { return id.kind == 0 }
func (id MessageID) IsPending() bool { return id.kind == idPending }

// ServerID returns the confirmed id, if any.
func (id MessageID) ServerID() (string, bool) {
	if id.kind != idConfirmed {
		return "", false
	}
	return id.value, true
}

// LocalID returns the pending id, if any.
func (id MessageID) LocalID() (string, bool) {
	if id.kind != idPending {
		return "", false
	}
	return id.value, true
}

func (id MessageID) String() string {
	switch id.kind {
	case idConfirmed:
		return id.value
	case idPending:
		return "pending:" + id.value
	default:
		return ""
	}
}

type Message struct {
	ID             MessageID
	ConversationID string
	SenderID       string
	Text           string
	AttachmentURL  string
	SentAt         time.Time
	// Failed is set on a pending message whose send call failed.
	Failed bool
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.AttachmentURL) == ""
}

// ConversationDelta is the per-user push payload announcing activity in a conversation.
type ConversationDelta struct {
	ConversationID string
	Text           *string
	SenderID       string
	Timestamp      time.Time
}
