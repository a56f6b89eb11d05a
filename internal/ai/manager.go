package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

// Manager is the single entry point to the language models. Every call is
// bounded by the configured timeout and failures come back as
// *errors.ProviderError tagged with the operation kind.
type Manager struct {
	generator IGenerator
	embedder  IEmbedder
	cfg       ManagerConfig
}

func NewManager(generator IGenerator, embedder IEmbedder, cfg ManagerConfig) *Manager {
	return &Manager{
		generator: generator,
		embedder:  embedder,
		cfg:       cfg,
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, appErr.NewProviderError(appErr.KindEmbedding, "", fmt.Errorf("embedder not configured"))
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	vec, err := m.embedder.Embed(ctx, m.clip(text), taskType)
	if err != nil {
		return nil, appErr.NewProviderError(appErr.KindEmbedding, m.embedder.ModelName(), err)
	}
	if len(vec) == 0 {
		return nil, appErr.NewProviderError(appErr.KindEmbedding, m.embedder.ModelName(), fmt.Errorf("empty embedding"))
	}
	return vec, nil
}

// Answer runs a grounded prompt through the generator.
func (m *Manager) Answer(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return m.generateText(ctx, appErr.KindGeneration, prompt, opts)
}

func (m *Manager) Translate(ctx context.Context, text string, targetLanguage string) (string, error) {
	prompt := fmt.Sprintf(`You are a professional translator.
Translate the text below into %s.
- Preserve markdown, code blocks, URLs and names exactly.
- If the text is already in %s, return it unchanged.
- Output ONLY the translated text.

TEXT:
%s`, targetLanguage, targetLanguage, text)
	return m.generateText(ctx, appErr.KindTranslation, prompt, GenerateOptions{})
}

func (m *Manager) SuggestThemes(ctx context.Context, content string, maxThemes int) ([]model.Theme, error) {
	if maxThemes <= 0 {
		maxThemes = 4
	}
	prompt := fmt.Sprintf(`You are helping users explore a knowledge base.
From the excerpts below, propose up to %d topics a visitor could ask about.
- Return a JSON array of objects with keys "label", "icon" and "snippet".
- "label" is 1-4 words, "icon" is a single emoji, "snippet" is one short question.
- No extra text.

EXCERPTS:
%s`, maxThemes, content)
	result, err := m.generateText(ctx, appErr.KindGeneration, prompt, GenerateOptions{})
	if err != nil {
		return nil, err
	}
	return parseThemes(result, maxThemes)
}

func (m *Manager) generateText(ctx context.Context, kind appErr.ProviderKind, prompt string, opts GenerateOptions) (string, error) {
	if m.generator == nil {
		return "", appErr.NewProviderError(kind, "", fmt.Errorf("generator not configured"))
	}
	if limit := m.cfg.MaxInputChars; limit > 0 && utf8.RuneCountInString(prompt) > limit {
		return "", appErr.NewProviderError(kind, m.generator.Name(), fmt.Errorf("input exceeds %d characters", limit))
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	resp, err := m.generator.Generate(ctx, prompt, opts)
	if err != nil {
		return "", appErr.NewProviderError(kind, m.generator.Name(), err)
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", appErr.NewProviderError(kind, m.generator.Name(), fmt.Errorf("empty ai response"))
	}
	return text, nil
}

// InputLimit is the longest prompt, in characters, the generator accepts.
// Zero means unlimited.
func (m *Manager) InputLimit() int {
	return m.cfg.MaxInputChars
}

// clip shortens embedding input only; prompts over the limit are rejected.
func (m *Manager) clip(text string) string {
	if m.cfg.MaxInputChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= m.cfg.MaxInputChars {
		return text
	}
	return string(runes[:m.cfg.MaxInputChars])
}

func (m *Manager) EmbeddingModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

func parseThemes(output string, maxThemes int) ([]model.Theme, error) {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}

	var themes []model.Theme
	if err := json.Unmarshal([]byte(clean), &themes); err != nil {
		return nil, fmt.Errorf("parse themes: %w", err)
	}
	uniq := make([]model.Theme, 0, len(themes))
	seen := make(map[string]bool)
	for _, th := range themes {
		th.Label = strings.TrimSpace(th.Label)
		if th.Label == "" {
			continue
		}
		key := strings.ToLower(th.Label)
		if seen[key] {
			continue
		}
		seen[key] = true
		th.Icon = strings.TrimSpace(th.Icon)
		th.Snippet = strings.TrimSpace(th.Snippet)
		uniq = append(uniq, th)
		if len(uniq) >= maxThemes {
			break
		}
	}
	if len(uniq) == 0 {
		return nil, fmt.Errorf("no themes found")
	}
	return uniq, nil
}
