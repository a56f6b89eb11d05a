package vectorstore

import (
	"context"
	"sync"

	"github.com/xxxsen/kbchat/internal/model"
)

func init() {
	Register("memory", func(args Args) (Store, error) {
		return NewMemoryStore(), nil
	})
}

type memoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]model.Chunk
}

func NewMemoryStore() Store {
	return &memoryStore{collections: make(map[string]map[string][]model.Chunk)}
}

func (m *memoryStore) EnsureCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string][]model.Chunk)
	}
	return nil
}

func (m *memoryStore) Replace(ctx context.Context, collection, source string, chunks []*model.Chunk) error {
	batch := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		item := *c
		item.Collection = collection
		item.SourceFile = source
		item.Embedding = append([]float32(nil), c.Embedding...)
		batch = append(batch, item)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sources, ok := m.collections[collection]
	if !ok {
		sources = make(map[string][]model.Chunk)
		m.collections[collection] = sources
	}
	if len(batch) == 0 {
		delete(sources, source)
		return nil
	}
	sources[source] = batch
	return nil
}

func (m *memoryStore) DeleteBySource(ctx context.Context, collection, source string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sources, ok := m.collections[collection]
	if !ok {
		return 0, nil
	}
	n := int64(len(sources[source]))
	delete(sources, source)
	return n, nil
}

func (m *memoryStore) Search(ctx context.Context, collection string, query []float32, k int) ([]model.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []model.ScoredChunk
	for _, chunks := range m.collections[collection] {
		for _, c := range chunks {
			matches = append(matches, model.ScoredChunk{Chunk: c, Score: CosineSimilarity(query, c.Embedding)})
		}
	}
	return topK(matches, k), nil
}

func (m *memoryStore) Count(ctx context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, chunks := range m.collections[collection] {
		n += int64(len(chunks))
	}
	return n, nil
}
