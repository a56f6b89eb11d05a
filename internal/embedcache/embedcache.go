package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/model"
	"go.uber.org/zap"
)

// Store persists embeddings keyed by model, task type and content hash.
type Store interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.CachedEmbedding) error
}

type key struct {
	model    string
	taskType string
	hash     string
}

func (k key) String() string {
	return k.model + ":" + k.taskType + ":" + k.hash
}

func newKey(modelName, taskType, text string) key {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	sum := sha256.Sum256([]byte(text))
	return key{model: modelName, taskType: taskType, hash: hex.EncodeToString(sum[:])}
}

// WithStore puts a persistent cache in front of e. Store failures degrade to
// a cache miss.
func WithStore(e ai.IEmbedder, store Store) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &storeEmbedder{next: e, store: store}
}

type storeEmbedder struct {
	next  ai.IEmbedder
	store Store
}

func (s *storeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	k := newKey(s.next.ModelName(), taskType, text)
	values, ok, err := s.store.Get(ctx, k.model, k.taskType, k.hash)
	if err != nil {
		logger.Warn("read embedding cache failed", zap.Error(err))
	}
	if ok && len(values) > 0 {
		logger.Debug("embedding cache hit", zap.String("layer", "db"), zap.String("task_type", taskType))
		return values, nil
	}
	res, err := s.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, &model.CachedEmbedding{
		Model:  k.model,
		Task:   k.taskType,
		Hash:   k.hash,
		Vector: res,
		Ctime:  time.Now().Unix(),
	}); err != nil {
		logger.Warn("write embedding cache failed", zap.Error(err))
	}
	return res, nil
}

func (s *storeEmbedder) ModelName() string {
	return s.next.ModelName()
}

// WithLRU keeps recent embeddings in memory.
func WithLRU(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	k := newKey(l.next.ModelName(), taskType, text).String()
	if cached, ok := l.cache.Get(k); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.String("layer", "lru"), zap.String("task_type", taskType))
		return clone(cached), nil
	}
	res, err := l.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	l.cache.Add(k, clone(res))
	return res, nil
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func clone(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float32, len(values))
	copy(out, values)
	return out
}
