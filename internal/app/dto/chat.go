package dto

import (
	"time"

	"chatsync/internal/app/format"
	"chatsync/internal/app/tabs"
	"chatsync/internal/app/thread"
	"chatsync/internal/domain/chat"
)

// User is the other participant of a conversation.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	SchoolLabel string `json:"school_label,omitempty"`
}

// Product is the listing a conversation is about.
type Product struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	OwnerID      string `json:"owner_id"`
	SoldOrRented bool   `json:"sold_or_rented"`
}

// Conversation describes one row of a tab.
type Conversation struct {
	ID                 string    `json:"id"`
	OtherUser          User      `json:"other_user"`
	Product            *Product  `json:"product,omitempty"`
	CoverImageURL      string    `json:"cover_image_url,omitempty"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastMessageAt      time.Time `json:"last_message_at"`
	LastMessageLabel   string    `json:"last_message_label"`
	IsUnread           bool      `json:"is_unread"`
	IsArchived         bool      `json:"is_archived"`
	TransactionID      string    `json:"transaction_id,omitempty"`
	HasReviewed        bool      `json:"has_reviewed"`
}

// Tab is a paginated view of one filter.
type Tab struct {
	Filter      string         `json:"filter"`
	Items       []Conversation `json:"items"`
	Page        int            `json:"page"`
	HasMore     bool           `json:"has_more"`
	Initialized bool           `json:"initialized"`
	Version     uint64         `json:"version"`
}

// ChatMessage contains a single message payload. Pending messages carry
// local_id instead of id until the server confirms them.
type ChatMessage struct {
	ID             string    `json:"id,omitempty"`
	LocalID        string    `json:"local_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text,omitempty"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Pending        bool      `json:"pending,omitempty"`
	Failed         bool      `json:"failed,omitempty"`
}

type DayGroup struct {
	Label    string        `json:"label"`
	Messages []ChatMessage `json:"messages"`
}

// Thread is the open conversation with its loaded messages grouped by day.
type Thread struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Days           []DayGroup    `json:"days"`
	Page           int           `json:"page"`
	HasMore        bool          `json:"has_more"`
	FetchingMore   bool          `json:"fetching_more"`
	Loaded         bool          `json:"loaded"`
	Version        uint64        `json:"version"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	LinkURL   string    `json:"link_url,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	Label     string    `json:"label"`
}

type NotificationList struct {
	Items  []Notification `json:"items"`
	Unread int            `json:"unread"`
}

func FromConversation(c chat.Conversation, now time.Time) Conversation {
	out := Conversation{
		ID: c.ID,
		OtherUser: User{
			ID:          c.OtherUser.ID,
			Name:        c.OtherUser.Name,
			AvatarURL:   c.OtherUser.AvatarURL,
			SchoolLabel: c.OtherUser.SchoolLabel,
		},
		CoverImageURL:      c.CoverImageURL,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		IsUnread:           c.IsUnread,
		IsArchived:         c.IsArchived,
		TransactionID:      c.TransactionID,
		HasReviewed:        c.HasReviewed,
	}
	if !c.LastMessageAt.IsZero() {
		out.LastMessageLabel = format.Relative(c.LastMessageAt, now)
	}
	if c.Product != nil {
		out.Product = &Product{
			ID:           c.Product.ID,
			Title:        c.Product.Title,
			OwnerID:      c.Product.OwnerID,
			SoldOrRented: c.Product.SoldOrRented,
		}
	}
	return out
}

func FromTab(t tabs.Tab, now time.Time) Tab {
	out := Tab{
		Filter:      string(t.Key),
		Items:       make([]Conversation, 0, len(t.Items)),
		Page:        t.Page,
		HasMore:     t.HasMore,
		Initialized: t.Initialized,
		Version:     t.Version,
	}
	for _, c := range t.Items {
		out.Items = append(out.Items, FromConversation(c, now))
	}
	return out
}

func FromMessage(m chat.Message) ChatMessage {
	out := ChatMessage{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentURL:  m.AttachmentURL,
		CreatedAt:      m.SentAt,
		Failed:         m.Failed,
	}
	if id, ok := m.ID.ServerID(); ok {
		out.ID = id
	}
	if id, ok := m.ID.LocalID(); ok {
		out.LocalID = id
		out.Pending = true
	}
	return out
}

func FromThread(st thread.State, now time.Time) Thread {
	out := Thread{
		ConversationID: st.ConversationID,
		Days:           make([]DayGroup, 0),
		Page:           st.Page,
		HasMore:        st.HasMore,
		FetchingMore:   st.FetchingMore,
		Loaded:         st.Loaded,
		Version:        st.Version,
	}
	if st.Conversation != nil {
		conv := FromConversation(*st.Conversation, now)
		out.Conversation = &conv
	}
	for _, group := range format.GroupByDay(st.Messages, now) {
		day := DayGroup{Label: group.Label, Messages: make([]ChatMessage, 0, len(group.Messages))}
		for _, m := range group.Messages {
			day.Messages = append(day.Messages, FromMessage(m))
		}
		out.Days = append(out.Days, day)
	}
	return out
}

func FromNotifications(entries []chat.Notification, unread int, now time.Time) NotificationList {
	out := NotificationList{Items: make([]Notification, 0, len(entries)), Unread: unread}
	for _, n := range entries {
		out.Items = append(out.Items, Notification{
			ID:        n.ID,
			Type:      string(n.Type),
			Content:   n.Content,
			LinkURL:   n.LinkURL,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
			Label:     format.Relative(n.CreatedAt, now),
		})
	}
	return out
}

// UnreadCounts keys counts by filter name.
func UnreadCounts(counts map[chat.FilterKey]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}
