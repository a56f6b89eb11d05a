// Package vectorstore holds tenant chunk collections and answers similarity
// queries over them.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/kbchat/internal/model"
)

type Store interface {
	// EnsureCollection is idempotent.
	EnsureCollection(ctx context.Context, collection string) error
	// Replace swaps every chunk of source in collection for chunks as one
	// batch; readers observe either the old or the new set.
	Replace(ctx context.Context, collection, source string, chunks []*model.Chunk) error
	DeleteBySource(ctx context.Context, collection, source string) (int64, error)
	Search(ctx context.Context, collection string, query []float32, topK int) ([]model.ScoredChunk, error)
	Count(ctx context.Context, collection string) (int64, error)
}

type Args struct {
	DB *sql.DB
}

type Factory func(args Args) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(name string, args Args) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", name)
	}
	return factory(args)
}
