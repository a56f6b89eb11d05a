package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/config"
)

const PivotLanguage = "English"

type TranslationService struct {
	ai          *ai.Manager
	concurrency int
	timeout     time.Duration
	cache       *expirable.LRU[string, string]
}

func NewTranslationService(manager *ai.Manager, cfg config.TranslationConfig) *TranslationService {
	s := &TranslationService{
		ai:          manager,
		concurrency: cfg.Concurrency,
		timeout:     time.Duration(cfg.Timeout) * time.Second,
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if cfg.CacheSize > 0 && cfg.CacheTTLSeconds > 0 {
		s.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	}
	return s
}

// IsPivot reports whether lang names English. An empty language counts as
// English.
func IsPivot(lang string) bool {
	return canonicalLanguage(lang) == "english"
}

func canonicalLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	switch {
	case l == "", l == "english", l == "en":
		return "english"
	case strings.HasPrefix(l, "en-"), strings.HasPrefix(l, "en_"):
		return "english"
	}
	return l
}

func languageName(lang string) string {
	if IsPivot(lang) {
		return PivotLanguage
	}
	return strings.TrimSpace(lang)
}

// Translate converts text from source into target. Same-language requests
// and blank text are returned unchanged without calling the provider.
func (s *TranslationService) Translate(ctx context.Context, text string, source string, target string) (string, error) {
	if strings.TrimSpace(text) == "" || canonicalLanguage(source) == canonicalLanguage(target) {
		return text, nil
	}
	key := cacheKey(source, target, text)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}
	out, err := s.translate(ctx, text, target)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Add(key, out)
	}
	return out, nil
}

func (s *TranslationService) translate(ctx context.Context, text string, target string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.ai.Translate(ctx, text, languageName(target))
}

// TranslateBatch translates every text concurrently and returns the results
// in input order. Any failure fails the whole batch.
func (s *TranslationService) TranslateBatch(ctx context.Context, texts []string, source string, target string) ([]string, error) {
	out := make([]string, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			res, err := s.Translate(gctx, text, source, target)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func cacheKey(source, target, text string) string {
	sum := sha256.Sum256([]byte(text))
	return canonicalLanguage(source) + ">" + canonicalLanguage(target) + ":" + hex.EncodeToString(sum[:])
}
