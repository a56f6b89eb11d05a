package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/kbchat/internal/db/dbtest"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
	"github.com/xxxsen/kbchat/internal/repo"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "test-model" }

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	return nil, false, errors.New("read failed")
}

func (brokenStore) Save(ctx context.Context, item *model.CachedEmbedding) error {
	return errors.New("write failed")
}

func TestLRUCachesByTaskAndText(t *testing.T) {
	next := &countingEmbedder{}
	e := WithLRU(next, 16, time.Minute)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(ctx, "hello", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)

	v2[0] = 99
	v3, err := e.Embed(ctx, "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, float32(5), v3[0])
	require.Equal(t, "test-model", e.ModelName())
}

func TestLRUDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WithLRU(next, 0, time.Minute))
}

func TestStoreRoundTrip(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	cacheRepo := repo.NewEmbeddingCacheRepo(db, dbutil.DriverSQLite)
	next := &countingEmbedder{}
	e := WithStore(next, cacheRepo)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "persist me", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	v2, err := WithStore(&countingEmbedder{err: errors.New("must not be called")}, cacheRepo).Embed(ctx, "persist me", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, next.calls)
}

func TestStoreFailureDegradesToMiss(t *testing.T) {
	next := &countingEmbedder{}
	e := WithStore(next, brokenStore{})
	vec, err := e.Embed(context.Background(), "abc", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, vec)
	require.Equal(t, 1, next.calls)
}

func TestEmbedErrorPropagates(t *testing.T) {
	next := &countingEmbedder{err: errors.New("down")}
	_, err := WithLRU(WithStore(next, brokenStore{}), 4, time.Minute).Embed(context.Background(), "x", "RETRIEVAL_QUERY")
	require.EqualError(t, err, "down")
}
