package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// CacheExpirer drops cached embeddings created before cutoff (unix seconds).
type CacheExpirer interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

type EmbeddingCacheCleanupJob struct {
	cache     CacheExpirer
	retention time.Duration
	now       func() time.Time
}

func NewEmbeddingCacheCleanupJob(cache CacheExpirer, retentionDays int) *EmbeddingCacheCleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &EmbeddingCacheCleanupJob{
		cache:     cache,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	cutoff := j.now().Add(-j.retention).Unix()
	removed, err := j.cache.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("embedding cache expired", zap.Int64("removed", removed), zap.Int64("cutoff", cutoff))
	return nil
}
