package chat

import "time"

type User struct {
	ID          string
	Name        string
	AvatarURL   string
	SchoolLabel string
}

// PlaceholderUser stands in for a participant that could not be resolved.
func PlaceholderUser() User {
	return User{Name: "Unknown user"}
}

// IsPlaceholder reports whether u carries no resolved identity.
func (u User) IsPlaceholder() bool {
	return u.ID == ""
}

type Product struct {
	ID           string
	Title        string
	ImageURL     string
	OwnerID      string
	SoldOrRented bool
}

type Conversation struct {
	ID                 string
	OtherUser          User
	Product            *Product
	CoverImageURL      string
	LastMessagePreview string
	LastMessageAt      time.Time
	IsUnread           bool
	IsArchived         bool
	TransactionID      string
	HasReviewed        bool
}

func (c Conversation) IsSold() bool {
	return c.Product != nil && c.Product.SoldOrRented
}

// Clone returns a copy that shares no pointers with c.
func (c Conversation) Clone() Conversation {
	if c.Product != nil {
		product := *c.Product
		c.Product = &product
	}
	return c
}
