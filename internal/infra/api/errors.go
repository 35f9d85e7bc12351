package api

import (
	"fmt"
	"net/http"

	"chatsync/internal/domain/chat"
)

// StatusError is a non-2xx reply from the REST API.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %s %s returned status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("api: %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Unwrap maps the status onto the engine's error taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return chat.ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return chat.ErrNotFound
	case e.Status >= http.StatusInternalServerError, e.Status == http.StatusTooManyRequests, e.Status == http.StatusRequestTimeout:
		return chat.ErrTransport
	default:
		return chat.ErrMalformed
	}
}
