package testutil

import (
	"time"

	"chatsync/internal/app/normalize"
	"chatsync/internal/domain/chat"
)

// RawConversation builds a record between me and other with activity at ts.
func RawConversation(id, me, other string, ts time.Time) normalize.RawConversation {
	preview := "last in " + id
	return normalize.RawConversation{
		ID: normalize.FlexString(id),
		Participants: []normalize.RawParticipant{
			{RawUser: normalize.RawUser{ID: normalize.FlexString(me), Name: "Me"}},
			{RawUser: normalize.RawUser{ID: normalize.FlexString(other), Name: "User " + other}},
		},
		LastMessagePreview:   &preview,
		LastMessageTimestamp: normalize.At(ts),
	}
}

func RawMessage(id, conversationID, senderID, text string, ts time.Time) normalize.RawMessage {
	body := text
	return normalize.RawMessage{
		ID:             normalize.FlexString(id),
		ConversationID: normalize.FlexString(conversationID),
		SenderID:       normalize.FlexString(senderID),
		Content:        &body,
		Timestamp:      normalize.At(ts),
	}
}

// NormalizedMessage builds a confirmed message as the push channel delivers it.
func NormalizedMessage(id, conversationID, senderID, text string) chat.Message {
	return chat.Message{
		ID:             chat.Confirmed(id),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
	}
}
