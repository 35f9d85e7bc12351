// Package inbox records consumed event ids so a redelivered notification
// event reaches the feed at most once.
package inbox

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	col      *mongo.Collection
	consumer string
}

func NewStore(db *mongo.Database, consumer string, retention time.Duration) *Store {
	col := db.Collection("chat_inbox")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "consumer", Value: 1}}, Options: options.Index().SetUnique(true)})
	if retention > 0 {
		_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		})
	}
	return &Store{col: col, consumer: consumer}
}

// Seen records eventID and reports whether it had been recorded before.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	doc := bson.M{"event_id": eventID, "consumer": s.consumer, "received_at": time.Now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, err
}

// Memory is the in-process fallback used when no Mongo URI is configured.
// It forgets ids older than retention on each call.
type Memory struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func NewMemory(retention time.Duration) *Memory {
	return &Memory{seen: make(map[string]time.Time), retention: retention, now: time.Now}
}

func (m *Memory) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.retention > 0 {
		for id, at := range m.seen {
			if now.Sub(at) > m.retention {
				delete(m.seen, id)
			}
		}
	}
	if _, ok := m.seen[eventID]; ok {
		return true, nil
	}
	m.seen[eventID] = now
	return false, nil
}
