package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/vectorstore"
)

const defaultTopK = 4

type Match struct {
	Content    string            `json:"content"`
	SourceFile string            `json:"source_file"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Source is the citation shown to the user for a match.
func (m Match) Source() string {
	if v := m.Metadata["source"]; v != "" {
		return v
	}
	return m.SourceFile
}

// RetrievalResult separates "nothing has been ingested" from "nothing
// matched". Provider faults are returned as errors instead.
type RetrievalResult struct {
	Empty   bool
	Matches []Match
}

type RetrievalService struct {
	store    vectorstore.Store
	ai       *ai.Manager
	topK     int
	minScore float32
}

func NewRetrievalService(store vectorstore.Store, manager *ai.Manager, topK int, minScore float32) *RetrievalService {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &RetrievalService{store: store, ai: manager, topK: topK, minScore: minScore}
}

func (s *RetrievalService) Retrieve(ctx context.Context, t *model.Tenant, query string, k int) (*RetrievalResult, error) {
	if k <= 0 {
		k = s.topK
	}
	count, err := s.store.Count(ctx, t.Collection)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if count == 0 {
		return &RetrievalResult{Empty: true, Matches: []Match{}}, nil
	}
	vec, err := s.ai.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	scored, err := s.store.Search(ctx, t.Collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	matches := make([]Match, 0, len(scored))
	for _, sc := range scored {
		if sc.Score < s.minScore {
			continue
		}
		matches = append(matches, Match{
			Content:    sc.Chunk.Content,
			SourceFile: sc.Chunk.SourceFile,
			Score:      sc.Score,
			Metadata:   sc.Chunk.Metadata,
		})
		if len(matches) >= k {
			break
		}
	}
	return &RetrievalResult{Matches: matches}, nil
}
