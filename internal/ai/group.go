package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// failover calls each backend in order until one succeeds. A cancelled or
// expired context stops the walk since every later backend would fail the
// same way.
func failover[B any, R any](ctx context.Context, what string, names []string, backends []B, call func(B) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, b := range backends {
		res, err := call(b)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn(what+" failed, trying next",
			zap.Int("index", i), zap.String("name", names[i]), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return zero, fmt.Errorf("%s not configured", what)
	}
	return zero, lastErr
}

type groupGenerator struct {
	names      []string
	generators []IGenerator
}

func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	g := &groupGenerator{}
	for _, item := range items {
		if item.Generator == nil {
			continue
		}
		g.names = append(g.names, item.Name)
		g.generators = append(g.generators, item.Generator)
	}
	switch len(g.generators) {
	case 0:
		return nil
	case 1:
		return g.generators[0]
	}
	return g
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return failover(ctx, "generator", g.names, g.generators, func(gen IGenerator) (string, error) {
		return gen.Generate(ctx, prompt, opts)
	})
}

func (g *groupGenerator) Name() string {
	return strings.Join(g.names, "|")
}

// groupEmbedder only fails over between entries sharing a model, since
// vectors from different models are not comparable.
type groupEmbedder struct {
	names     []string
	embedders []IEmbedder
}

func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	g := &groupEmbedder{}
	for _, item := range items {
		if item.Embedder == nil {
			continue
		}
		g.names = append(g.names, item.Name)
		g.embedders = append(g.embedders, item.Embedder)
	}
	switch len(g.embedders) {
	case 0:
		return nil
	case 1:
		return g.embedders[0]
	}
	return g
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return failover(ctx, "embedder", g.names, g.embedders, func(e IEmbedder) ([]float32, error) {
		return e.Embed(ctx, text, taskType)
	})
}

func (g *groupEmbedder) ModelName() string {
	return g.embedders[0].ModelName()
}
