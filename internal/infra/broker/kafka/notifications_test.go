package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/chat"
)

type recordingSink struct {
	got []chat.Notification
}

func (s *recordingSink) ApplyNotification(n chat.Notification) bool {
	s.got = append(s.got, n)
	return true
}

type fakeInbox struct {
	seen map[string]bool
	err  error
}

func (f *fakeInbox) Seen(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return true, nil
	}
	f.seen[id] = true
	return false, nil
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: NotificationsTopic, Value: []byte(value)}
}

const likeEvent = `{
	"specversion": "1.0",
	"id": "evt-1",
	"type": "notification.created.v1",
	"source": "rentme.backend",
	"subject": "u1",
	"data": {"notificationId": 9, "type": "new_like", "content": "Ann liked Bike", "linkUrl": "/listings/p1", "isRead": false, "createdAt": 1714557600000}
}`

func TestNotificationHandlerAppliesOnce(t *testing.T) {
	sink := &recordingSink{}
	h := NotificationHandler{UserID: "u1", Inbox: &fakeInbox{seen: map[string]bool{}}, Sink: sink}

	require.NoError(t, h.Handle(context.Background(), message(likeEvent)))
	require.NoError(t, h.Handle(context.Background(), message(likeEvent)))

	require.Len(t, sink.got, 1)
	n := sink.got[0]
	assert.Equal(t, "9", n.ID)
	assert.Equal(t, chat.NotificationNewLike, n.Type)
	assert.Equal(t, "/listings/p1", n.LinkURL)
	assert.False(t, n.IsRead)
	assert.Equal(t, int64(1714557600000), n.CreatedAt.UnixMilli())
}

func TestNotificationHandlerDropsForeignAndMalformed(t *testing.T) {
	sink := &recordingSink{}
	h := NotificationHandler{UserID: "u2", Sink: sink}

	require.NoError(t, h.Handle(context.Background(), message(likeEvent)))
	require.NoError(t, h.Handle(context.Background(), message(`not json`)))
	require.NoError(t, h.Handle(context.Background(), message(`{"type":"booking.created.v1","subject":"u2","data":{}}`)))
	require.NoError(t, h.Handle(context.Background(), message(`{"id":"e","type":"notification.created.v1","subject":"u2","data":{"notificationId":"1","type":"friend_request"}}`)))

	assert.Empty(t, sink.got)
}

func TestNotificationHandlerRecipientFromData(t *testing.T) {
	sink := &recordingSink{}
	h := NotificationHandler{UserID: "u3", Sink: sink}
	evt := `{"id":"e2","type":"notification.created.v1","data":{"userId":"u3","id":"n5","type":"rental-accepted","content":"ok"}}`

	require.NoError(t, h.Handle(context.Background(), message(evt)))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "n5", sink.got[0].ID)
	assert.Equal(t, chat.NotificationRentalAccepted, sink.got[0].Type)
}

func TestNotificationHandlerRetriesOnInboxFailure(t *testing.T) {
	sink := &recordingSink{}
	h := NotificationHandler{UserID: "u1", Inbox: &fakeInbox{err: errors.New("mongo down")}, Sink: sink}

	err := h.Handle(context.Background(), message(likeEvent))
	assert.Error(t, err)
	assert.Empty(t, sink.got)
}
