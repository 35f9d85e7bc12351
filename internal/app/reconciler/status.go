package reconciler

import (
	"time"

	"chatsync/internal/app/bus"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// Status is the observable connection state. Degraded means the reconnect
// budget ran out and push updates have stopped until Reconnect is called.
type Status struct {
	State             State     `json:"state"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Degraded          bool      `json:"degraded"`
	LastError         string    `json:"lastError,omitempty"`
	Since             time.Time `json:"since"`
}

const KindStatusChanged bus.Kind = "reconciler.status"

type StatusChanged struct {
	Status Status
}

func (StatusChanged) Kind() bus.Kind { return KindStatusChanged }
