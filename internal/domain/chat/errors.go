package chat

import "errors"

var (
	ErrUnauthorized        = errors.New("chat: unauthorized")
	ErrTransport           = errors.New("chat: transport failure")
	ErrMalformed           = errors.New("chat: malformed record")
	ErrNotFound            = errors.New("chat: not found")
	ErrInFlight            = errors.New("chat: operation already in flight")
	ErrEmptyMessage        = errors.New("chat: message has no text or attachment")
	ErrNoOpenConversation  = errors.New("chat: no open conversation")
	ErrUnknownFilter       = errors.New("chat: unknown filter")
	ErrUnknownNotification = errors.New("chat: unknown notification type")
)
