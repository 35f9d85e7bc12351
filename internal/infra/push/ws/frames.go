package ws

import (
	"encoding/json"
	"strings"

	"chatsync/internal/app/normalize"
	"chatsync/internal/domain/chat"
)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameEvent       = "event"
	frameError       = "error"
)

// frame is one JSON message on the socket in either direction.
type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

func UserTopic(userID string) string { return "user:" + userID }

func ConversationTopic(conversationID string) string { return "conversation:" + conversationID }

type rawDelta struct {
	ConversationID normalize.FlexString `json:"conversationId"`
	Text           *string              `json:"text"`
	Content        *string              `json:"content"`
	SenderID       normalize.FlexString `json:"senderId"`
	Timestamp      normalize.Timestamp  `json:"timestamp"`
}

func decodeDelta(data []byte) (chat.ConversationDelta, error) {
	var raw rawDelta
	if err := json.Unmarshal(data, &raw); err != nil {
		return chat.ConversationDelta{}, err
	}
	text := raw.Text
	if text == nil {
		text = raw.Content
	}
	if text != nil && strings.TrimSpace(*text) == "" {
		text = nil
	}
	return chat.ConversationDelta{
		ConversationID: raw.ConversationID.String(),
		Text:           text,
		SenderID:       raw.SenderID.String(),
		Timestamp:      raw.Timestamp.Time,
	}, nil
}

func decodeMessage(data []byte, conversationID string) (chat.Message, error) {
	var raw normalize.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return chat.Message{}, err
	}
	return normalize.Message(raw, conversationID), nil
}
