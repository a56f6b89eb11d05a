package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 2048

type anthropicConfig struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	MaxTokens int    `json:"max_tokens"`
}

type anthropicProvider struct {
	apiKey    string
	maxTokens int
	client    anthropic.Client
}

func (p *anthropicProvider) Name() string {
	return "anthropic"
}

func (p *anthropicProvider) Generate(ctx context.Context, model string, prompt string, opts GenerateOptions) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*opts.Temperature))
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic response has no text")
	}
	return strings.TrimSpace(sb.String()), nil
}

func createAnthropicFactory(args interface{}) (IGenerateProvider, error) {
	cfg := &anthropicConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if v := strings.TrimSpace(cfg.BaseURL); v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &anthropicProvider{
		apiKey:    apiKey,
		maxTokens: maxTokens,
		client:    anthropic.NewClient(opts...),
	}, nil
}

func init() {
	Register("anthropic", createAnthropicFactory)
}
