package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySeen(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory(time.Hour)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := m.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = m.Seen(ctx, "evt-1")
	assert.True(t, seen)

	now = now.Add(2 * time.Hour)
	seen, _ = m.Seen(ctx, "evt-1")
	assert.False(t, seen, "expired ids are forgotten")
}
