package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/kbchat/internal/config"
)

func BuildGenerator(items []config.ProviderConfig) (IGenerator, error) {
	entries := make([]GeneratorEntry, 0, len(items))
	for i, item := range items {
		model := strings.TrimSpace(item.Model)
		if model == "" {
			return nil, fmt.Errorf("ai.generator[%d].model is required", i)
		}
		p, err := NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("ai.generator[%d]: %w", i, err)
		}
		entries = append(entries, GeneratorEntry{
			Name:      p.Name() + ":" + model,
			Generator: NewGenerator(p, model),
		})
	}
	gen := NewGroupGenerator(entries)
	if gen == nil {
		return nil, fmt.Errorf("no generator configured")
	}
	return gen, nil
}

func BuildEmbedder(items []config.ProviderConfig) (IEmbedder, error) {
	entries := make([]EmbedderEntry, 0, len(items))
	for i, item := range items {
		model := strings.TrimSpace(item.Model)
		if model == "" {
			return nil, fmt.Errorf("ai.embedder[%d].model is required", i)
		}
		if len(entries) > 0 && entries[0].Embedder.ModelName() != model {
			return nil, fmt.Errorf("ai.embedder[%d]: model %s differs from %s", i, model, entries[0].Embedder.ModelName())
		}
		p, err := NewEmbedProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("ai.embedder[%d]: %w", i, err)
		}
		entries = append(entries, EmbedderEntry{
			Name:     p.Name() + ":" + model,
			Embedder: NewEmbedder(p, model),
		})
	}
	emb := NewGroupEmbedder(entries)
	if emb == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return emb, nil
}
