package local

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocalCache(t *testing.T) {
	ctx := context.Background()
	c, err := New(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	convID := uuid.New()
	got, err := c.Get(ctx, convID)
	require.NoError(t, err)
	require.Nil(t, got)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, c.Set(ctx, convID, ids, 0))
	got, err = c.Get(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, ids, got)

	// Callers may not mutate cached state through returned slices.
	got[0] = uuid.Nil
	again, err := c.Get(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, ids, again)

	require.NoError(t, c.Remove(ctx, convID))
	got, err = c.Get(ctx, convID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLocalCacheRejectsNonPositiveSize(t *testing.T) {
	_, err := New(0, time.Minute)
	require.Error(t, err)
}

func TestLocalCacheIsCloser(t *testing.T) {
	c, err := New(10, time.Minute)
	require.NoError(t, err)
	// The server collects caches through io.Closer on shutdown.
	var closer io.Closer = c
	require.NoError(t, closer.Close())
}
