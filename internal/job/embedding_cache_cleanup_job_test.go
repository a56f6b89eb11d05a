package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/db/dbtest"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
	"github.com/xxxsen/kbchat/internal/repo"
)

func TestEmbeddingCacheCleanupJob(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	cache := repo.NewEmbeddingCacheRepo(db, dbutil.DriverSQLite)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Save(ctx, &model.CachedEmbedding{
		Model: "m", Task: "q", Hash: "old",
		Vector: []float32{1, 0}, Ctime: now.Add(-40 * 24 * time.Hour).Unix(),
	}))
	require.NoError(t, cache.Save(ctx, &model.CachedEmbedding{
		Model: "m", Task: "q", Hash: "fresh",
		Vector: []float32{0, 1}, Ctime: now.Add(-time.Hour).Unix(),
	}))

	j := NewEmbeddingCacheCleanupJob(cache, 30)
	j.now = func() time.Time { return now }
	require.Equal(t, "embedding_cache_cleanup", j.Name())
	require.NoError(t, j.Run(ctx))

	_, ok, err := cache.Get(ctx, "m", "q", "old")
	require.NoError(t, err)
	require.False(t, ok)
	vec, ok, err := cache.Get(ctx, "m", "q", "fresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{0, 1}, vec)
}

func TestEmbeddingCacheCleanupJobWithoutCache(t *testing.T) {
	require.NoError(t, NewEmbeddingCacheCleanupJob(nil, 0).Run(context.Background()))
}
