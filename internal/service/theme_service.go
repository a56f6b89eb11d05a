package service

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/tenant"
)

const (
	themeSampleQuery = "overview introduction getting started main features usage"
	themeSampleSize  = 8
	themeMaxChars    = 6000
	// room for the instructions wrapped around the excerpts
	themePromptOverhead = 600
	maxThemes           = 4
)

// ThemeService suggests conversation starters drawn from a tenant's
// knowledge base.
type ThemeService struct {
	resolver  *tenant.Resolver
	retrieval *RetrievalService
	ai        *ai.Manager
	cache     *expirable.LRU[string, []model.Theme]
}

func NewThemeService(resolver *tenant.Resolver, retrieval *RetrievalService, manager *ai.Manager) *ThemeService {
	return &ThemeService{
		resolver:  resolver,
		retrieval: retrieval,
		ai:        manager,
		cache:     expirable.NewLRU[string, []model.Theme](256, nil, 10*time.Minute),
	}
}

func (s *ThemeService) List(ctx context.Context, rawURL string) ([]model.Theme, error) {
	t, err := s.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(t.Collection); ok {
		return cached, nil
	}
	res, err := s.retrieval.Retrieve(ctx, t, themeSampleQuery, themeSampleSize)
	if err != nil {
		return nil, err
	}
	if res.Empty {
		return nil, appErr.ErrEmptyKnowledgeBase
	}
	budget := themeMaxChars
	if limit := s.ai.InputLimit(); limit > 0 && limit-themePromptOverhead < budget {
		budget = limit - themePromptOverhead
	}
	var sb strings.Builder
	for _, m := range res.Matches {
		if sb.Len()+len(m.Content) > budget {
			break
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n---\n")
	}
	themes, err := s.ai.SuggestThemes(ctx, sb.String(), maxThemes)
	if err != nil {
		return nil, err
	}
	s.cache.Add(t.Collection, themes)
	return themes, nil
}
