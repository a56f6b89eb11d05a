package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

var ErrUnavailable = appErr.ErrUnavailable

// GenerateOptions carries per-request sampling knobs. Zero values leave the
// provider defaults in place.
type GenerateOptions struct {
	Temperature     *float32
	MaxOutputTokens int
}

type IGenerateProvider interface {
	Name() string
	Generate(ctx context.Context, model string, prompt string, opts GenerateOptions) (string, error)
}

type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

type IGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Name() string
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type generator struct {
	provider IGenerateProvider
	model    string
}

func NewGenerator(p IGenerateProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return g.provider.Generate(ctx, g.model, prompt, opts)
}

func (g *generator) Name() string {
	return g.provider.Name() + ":" + g.model
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

type ProviderFactory func(args interface{}) (IGenerateProvider, error)

type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

// registry maps lower-cased provider names to factories. Providers add
// themselves from init.
type registry[F any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]F
}

func newRegistry[F any](kind string) *registry[F] {
	return &registry[F]{kind: kind, m: make(map[string]F)}
}

func (r *registry[F]) add(name string, f F) {
	if name = strings.ToLower(strings.TrimSpace(name)); name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = f
}

func (r *registry[F]) get(name string) (F, error) {
	var zero F
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return zero, fmt.Errorf("%s is required", r.kind)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.m[key]
	if !ok {
		return zero, fmt.Errorf("unsupported %s: %s", r.kind, name)
	}
	return f, nil
}

var (
	generateProviders = newRegistry[ProviderFactory]("ai provider")
	embedProviders    = newRegistry[EmbedProviderFactory]("ai embed provider")
)

func Register(name string, factory ProviderFactory) {
	if factory != nil {
		generateProviders.add(name, factory)
	}
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	if factory != nil {
		embedProviders.add(name, factory)
	}
}

func NewProvider(name string, args interface{}) (IGenerateProvider, error) {
	factory, err := generateProviders.get(name)
	if err != nil {
		return nil, err
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	factory, err := embedProviders.get(name)
	if err != nil {
		return nil, err
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
