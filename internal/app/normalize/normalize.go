// Package normalize maps raw server records onto the canonical chat shapes.
// Nothing here returns an error for a malformed record: bad participants fall
// back to a placeholder user, and only a record with no participant list at all is dropped.
package normalize

import (
	"context"
	"strings"
	"time"

	"chatsync/internal/app/format"
	"chatsync/internal/domain/chat"
)

// ImageResolver turns a stored image reference into a displayable URL.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) string
}

type Options struct {
	Images ImageResolver
}

// Conversation normalizes one raw record for currentUserID.
// It returns false when the record carries no participants list.
func Conversation(raw RawConversation, currentUserID string, opts Options) (chat.Conversation, bool) {
	if raw.Participants == nil {
		return chat.Conversation{}, false
	}
	currentUserID = strings.TrimSpace(currentUserID)

	conv := chat.Conversation{
		ID:            raw.ID.String(),
		OtherUser:     otherParticipant(raw.Participants, currentUserID),
		IsUnread:      raw.IsUnread || raw.UnreadCount > 0,
		IsArchived:    raw.IsArchived || raw.Archived,
		TransactionID: raw.TransactionID.String(),
		HasReviewed:   raw.HasReviewed,
	}

	listing := raw.Listing
	if listing == nil {
		listing = raw.Product
	}
	if listing != nil {
		product := &chat.Product{
			ID:           listing.ID.String(),
			Title:        strings.TrimSpace(listing.Title),
			OwnerID:      firstNonEmpty(listing.OwnerID.String(), listing.UserID.String(), listing.SellerID.String()),
			SoldOrRented: listing.Sold || listing.Rented || isClosedStatus(listing.Status),
		}
		product.ImageURL = resolveImage(opts, coverImage(listing))
		conv.Product = product
		conv.CoverImageURL = product.ImageURL
	}
	if conv.CoverImageURL == "" {
		conv.CoverImageURL = conv.OtherUser.AvatarURL
	}

	conv.LastMessagePreview, conv.LastMessageAt = lastActivity(raw)
	return conv, true
}

// All normalizes a page of raw records, dropping the ones without participants.
// The number of dropped records is returned for logging.
func All(raws []RawConversation, currentUserID string, opts Options) ([]chat.Conversation, int) {
	out := make([]chat.Conversation, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		conv, ok := Conversation(raw, currentUserID, opts)
		if !ok {
			skipped++
			continue
		}
		out = append(out, conv)
	}
	return out, skipped
}

// Message maps a raw history or push payload onto a confirmed message.
// conversationID is used when the payload does not carry its own.
func Message(raw RawMessage, conversationID string) chat.Message {
	msg := chat.Message{
		ID:             chat.Confirmed(raw.ID.String()),
		ConversationID: firstNonEmpty(raw.ConversationID.String(), conversationID),
		SenderID:       raw.SenderID.String(),
		Text:           messageText(raw),
		AttachmentURL:  firstNonEmpty(raw.AttachmentURL, raw.ImageURL),
		SentAt:         firstTime(raw.Timestamp, raw.SentAt, raw.CreatedAt).Time,
	}
	return msg
}

// Notification maps a raw feed entry. Unknown types are reported as malformed.
func Notification(raw RawNotification) (chat.Notification, error) {
	kind, err := chat.ParseNotificationType(raw.Type)
	if err != nil {
		return chat.Notification{}, err
	}
	return chat.Notification{
		ID:        firstNonEmpty(raw.ID.String(), raw.AltID.String()),
		Type:      kind,
		Content:   strings.TrimSpace(raw.Content),
		LinkURL:   strings.TrimSpace(raw.LinkURL),
		IsRead:    raw.IsRead,
		CreatedAt: raw.CreatedAt.Time,
	}, nil
}

func otherParticipant(participants []RawParticipant, currentUserID string) chat.User {
	for _, p := range participants {
		user := flatten(p)
		if user.ID == "" || user.ID == currentUserID {
			continue
		}
		return user
	}
	return chat.PlaceholderUser()
}

func flatten(p RawParticipant) chat.User {
	src := p.RawUser
	if p.User != nil {
		src = mergeUser(*p.User, p.RawUser)
	}
	name := firstNonEmpty(src.Name, src.FullName, strings.TrimSpace(src.FirstName+" "+src.LastName))
	if name == "" {
		name = chat.PlaceholderUser().Name
	}
	return chat.User{
		ID:          firstNonEmpty(src.ID.String(), src.UserID.String()),
		Name:        name,
		AvatarURL:   firstNonEmpty(src.AvatarURL, src.ProfilePictureURL),
		SchoolLabel: firstNonEmpty(src.School, src.SchoolName),
	}
}

// mergeUser prefers nested fields and fills gaps from the wrapper. A wrapper
// id is only trusted as a user id when it is spelled userId.
func mergeUser(nested, wrapper RawUser) RawUser {
	if nested.ID == "" && nested.UserID == "" {
		nested.UserID = wrapper.UserID
	}
	if nested.Name == "" && nested.FullName == "" && nested.FirstName == "" {
		nested.Name = wrapper.Name
	}
	if nested.AvatarURL == "" && nested.ProfilePictureURL == "" {
		nested.AvatarURL = wrapper.AvatarURL
	}
	return nested
}

func coverImage(listing *RawListing) string {
	if url := strings.TrimSpace(listing.ImageURL); url != "" {
		return url
	}
	for _, img := range listing.Images {
		if url := strings.TrimSpace(img.URL); url != "" {
			return url
		}
	}
	for _, url := range listing.ImageURLs {
		if url = strings.TrimSpace(url); url != "" {
			return url
		}
	}
	return ""
}

func resolveImage(opts Options, ref string) string {
	if ref == "" || opts.Images == nil {
		return ref
	}
	return opts.Images.Resolve(context.Background(), ref)
}

func lastActivity(raw RawConversation) (string, time.Time) {
	preview := ""
	at := firstTime(raw.LastMessageTimestamp)
	if raw.LastMessage != nil {
		msg := Message(*raw.LastMessage, raw.ID.String())
		preview = format.PreviewText(msg.Text, msg.AttachmentURL)
		if at.IsZero() {
			at = Timestamp{Time: msg.SentAt}
		}
	}
	if raw.LastMessagePreview != nil {
		preview = format.PreviewText(*raw.LastMessagePreview, "")
	}
	if at.IsZero() {
		at = raw.UpdatedAt
	}
	return preview, at.Time
}

func messageText(raw RawMessage) string {
	if raw.Content != nil {
		return *raw.Content
	}
	if raw.Text != nil {
		return *raw.Text
	}
	return ""
}

func isClosedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sold", "rented":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...Timestamp) Timestamp {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return Timestamp{}
}
