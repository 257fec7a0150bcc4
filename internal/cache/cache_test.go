package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizhub/internal/results"
)

func TestMemoryPutScoresInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, ok, err := c.Scores(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "q1", []results.Entry{{UserID: "u1", Score: 4}}))
	got, ok, err := c.Scores(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []results.Entry{{UserID: "u1", Score: 4}}, got)

	require.NoError(t, c.Invalidate(ctx, "q1"))
	_, ok, _ = c.Scores(ctx, "q1")
	assert.False(t, ok)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "q1", []results.Entry{{UserID: "u1", Score: 1}}))
	now = now.Add(2 * time.Minute)
	_, ok, _ := c.Scores(ctx, "q1")
	assert.False(t, ok)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	in := []results.Entry{{UserID: "u1", Score: 1}}
	require.NoError(t, c.Put(ctx, "q1", in))
	in[0].Score = 99

	got, _, _ := c.Scores(ctx, "q1")
	assert.Equal(t, 1.0, got[0].Score)
}
