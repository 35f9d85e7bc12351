package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatsync/internal/app/tabs"
	"chatsync/internal/domain/chat"
)

// SnapshotStore keeps the first page of every fetched tab per user, so the
// next start can render something before the first REST round trip.
type SnapshotStore struct {
	col *mongo.Collection
}

func NewSnapshotStore(db *mongo.Database, ttl time.Duration) *SnapshotStore {
	col := db.Collection("chat_tab_snapshots")
	if ttl > 0 {
		idx := mongo.IndexModel{
			Keys:    bson.D{{Key: "saved_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds())),
		}
		_, _ = col.Indexes().CreateOne(context.Background(), idx)
	}
	return &SnapshotStore{col: col}
}

func (s *SnapshotStore) LoadTabs(ctx context.Context, userID string) ([]tabs.Tab, error) {
	var doc snapshotDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return doc.toTabs(), nil
}

func (s *SnapshotStore) SaveTabs(ctx context.Context, userID string, saved []tabs.Tab) error {
	doc := newSnapshotDocument(userID, saved, time.Now().UTC())
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": userID}, doc, options.Replace().SetUpsert(true))
	return err
}

type snapshotDocument struct {
	UserID  string        `bson:"_id"`
	Tabs    []tabDocument `bson:"tabs"`
	SavedAt time.Time     `bson:"saved_at"`
}

type tabDocument struct {
	Key     string                 `bson:"key"`
	HasMore bool                   `bson:"has_more"`
	Items   []conversationDocument `bson:"items"`
}

type conversationDocument struct {
	ID                 string           `bson:"id"`
	OtherUser          userDocument     `bson:"other_user"`
	Product            *productDocument `bson:"product,omitempty"`
	CoverImageURL      string           `bson:"cover_image_url,omitempty"`
	LastMessagePreview string           `bson:"last_message_preview"`
	LastMessageAt      time.Time        `bson:"last_message_at"`
	IsUnread           bool             `bson:"is_unread"`
	IsArchived         bool             `bson:"is_archived"`
	TransactionID      string           `bson:"transaction_id,omitempty"`
	HasReviewed        bool             `bson:"has_reviewed"`
}

type userDocument struct {
	ID          string `bson:"id"`
	Name        string `bson:"name"`
	AvatarURL   string `bson:"avatar_url,omitempty"`
	SchoolLabel string `bson:"school_label,omitempty"`
}

type productDocument struct {
	ID           string `bson:"id"`
	Title        string `bson:"title"`
	ImageURL     string `bson:"image_url,omitempty"`
	OwnerID      string `bson:"owner_id"`
	SoldOrRented bool   `bson:"sold_or_rented"`
}

func newSnapshotDocument(userID string, saved []tabs.Tab, at time.Time) snapshotDocument {
	doc := snapshotDocument{UserID: userID, SavedAt: at, Tabs: make([]tabDocument, 0, len(saved))}
	for _, tab := range saved {
		td := tabDocument{Key: string(tab.Key), HasMore: tab.HasMore, Items: make([]conversationDocument, 0, len(tab.Items))}
		for _, conv := range tab.Items {
			td.Items = append(td.Items, fromConversation(conv))
		}
		doc.Tabs = append(doc.Tabs, td)
	}
	return doc
}

func (d snapshotDocument) toTabs() []tabs.Tab {
	out := make([]tabs.Tab, 0, len(d.Tabs))
	for _, td := range d.Tabs {
		tab := tabs.Tab{
			Key:         chat.FilterKey(td.Key),
			HasMore:     td.HasMore,
			Initialized: true,
			Items:       make([]chat.Conversation, 0, len(td.Items)),
		}
		for _, cd := range td.Items {
			tab.Items = append(tab.Items, cd.toConversation())
		}
		out = append(out, tab)
	}
	return out
}

func fromConversation(c chat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID: c.ID,
		OtherUser: userDocument{
			ID:          c.OtherUser.ID,
			Name:        c.OtherUser.Name,
			AvatarURL:   c.OtherUser.AvatarURL,
			SchoolLabel: c.OtherUser.SchoolLabel,
		},
		CoverImageURL:      c.CoverImageURL,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt.UTC(),
		IsUnread:           c.IsUnread,
		IsArchived:         c.IsArchived,
		TransactionID:      c.TransactionID,
		HasReviewed:        c.HasReviewed,
	}
	if c.Product != nil {
		doc.Product = &productDocument{
			ID:           c.Product.ID,
			Title:        c.Product.Title,
			ImageURL:     c.Product.ImageURL,
			OwnerID:      c.Product.OwnerID,
			SoldOrRented: c.Product.SoldOrRented,
		}
	}
	return doc
}

func (d conversationDocument) toConversation() chat.Conversation {
	conv := chat.Conversation{
		ID: d.ID,
		OtherUser: chat.User{
			ID:          d.OtherUser.ID,
			Name:        d.OtherUser.Name,
			AvatarURL:   d.OtherUser.AvatarURL,
			SchoolLabel: d.OtherUser.SchoolLabel,
		},
		CoverImageURL:      d.CoverImageURL,
		LastMessagePreview: d.LastMessagePreview,
		LastMessageAt:      d.LastMessageAt,
		IsUnread:           d.IsUnread,
		IsArchived:         d.IsArchived,
		TransactionID:      d.TransactionID,
		HasReviewed:        d.HasReviewed,
	}
	if d.Product != nil {
		conv.Product = &chat.Product{
			ID:           d.Product.ID,
			Title:        d.Product.Title,
			ImageURL:     d.Product.ImageURL,
			OwnerID:      d.Product.OwnerID,
			SoldOrRented: d.Product.SoldOrRented,
		}
	}
	return conv
}
