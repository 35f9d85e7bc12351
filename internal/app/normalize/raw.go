package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// Timestamp decodes epoch milliseconds or an RFC3339 string.
// Unparseable values decode to the zero time instead of failing the record.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		t.Time = parseTimeString(str)
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// At builds a Timestamp from t.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

func parseTimeString(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// RawUser covers the user shapes seen nested under a participant.
type RawUser struct {
	ID                FlexString `json:"id"`
	UserID            FlexString `json:"userId"`
	Name              string     `json:"name"`
	FullName          string     `json:"fullName"`
	FirstName         string     `json:"firstName"`
	LastName          string     `json:"lastName"`
	AvatarURL         string     `json:"avatarUrl"`
	ProfilePictureURL string     `json:"profilePictureUrl"`
	School            string     `json:"school"`
	SchoolName        string     `json:"schoolName"`
}

// RawParticipant is either a flattened user or a wrapper with a nested user.
type RawParticipant struct {
	RawUser
	User *RawUser `json:"user"`
}

type RawImage struct {
	URL string `json:"url"`
}

type RawListing struct {
	ID        FlexString `json:"id"`
	Title     string     `json:"title"`
	ImageURL  string     `json:"imageUrl"`
	Images    []RawImage `json:"images"`
	ImageURLs []string   `json:"imageUrls"`
	Sold      bool       `json:"sold"`
	Rented    bool       `json:"rented"`
	Status    string     `json:"status"`
	OwnerID   FlexString `json:"ownerId"`
	UserID    FlexString `json:"userId"`
	SellerID  FlexString `json:"sellerId"`
}

type RawMessage struct {
	ID             FlexString `json:"id"`
	ConversationID FlexString `json:"conversationId"`
	SenderID       FlexString `json:"senderId"`
	Content        *string    `json:"content"`
	Text           *string    `json:"text"`
	AttachmentURL  string     `json:"attachmentUrl"`
	ImageURL       string     `json:"imageUrl"`
	Timestamp      Timestamp  `json:"timestamp"`
	CreatedAt      Timestamp  `json:"createdAt"`
	SentAt         Timestamp  `json:"sentAt"`
}

// RawConversation is the server's conversation record in any of its known shapes.
type RawConversation struct {
	ID                   FlexString       `json:"id"`
	Participants         []RawParticipant `json:"participants"`
	Listing              *RawListing      `json:"listing"`
	Product              *RawListing      `json:"product"`
	LastMessage          *RawMessage      `json:"lastMessage"`
	LastMessagePreview   *string          `json:"lastMessagePreview"`
	LastMessageTimestamp Timestamp        `json:"lastMessageTimestamp"`
	UpdatedAt            Timestamp        `json:"updatedAt"`
	IsUnread             bool             `json:"isUnread"`
	UnreadCount          int              `json:"unreadCount"`
	IsArchived           bool             `json:"isArchived"`
	Archived             bool             `json:"archived"`
	TransactionID        FlexString       `json:"transactionId"`
	HasReviewed          bool             `json:"hasReviewed"`
}

type RawNotification struct {
	ID        FlexString `json:"notificationId"`
	AltID     FlexString `json:"id"`
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	LinkURL   string     `json:"linkUrl"`
	IsRead    bool       `json:"isRead"`
	CreatedAt Timestamp  `json:"createdAt"`
}
