package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/tenant"
)

const (
	EmptyKnowledgeBaseAnswer = "No knowledge base found for this repository. Please ingest the repo first."
	ApologyAnswer            = "Sorry, I couldn't answer that right now. Please try again later."
)

// minContextBlock is the smallest truncated excerpt worth sending.
const minContextBlock = 200

type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Error   string   `json:"error,omitempty"`
}

type ChatConfig struct {
	MaxHistoryTurns int
	TopK            int
}

type ChatService struct {
	resolver    *tenant.Resolver
	history     *HistoryService
	translation *TranslationService
	retrieval   *RetrievalService
	ai          *ai.Manager
	cfg         ChatConfig
}

func NewChatService(resolver *tenant.Resolver, history *HistoryService, translation *TranslationService,
	retrieval *RetrievalService, manager *ai.Manager, cfg ChatConfig) *ChatService {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 5
	}
	return &ChatService{
		resolver:    resolver,
		history:     history,
		translation: translation,
		retrieval:   retrieval,
		ai:          manager,
		cfg:         cfg,
	}
}

// Chat runs one conversational turn. It never fails: every error is folded
// into an apology answer with no sources and the error text attached.
func (s *ChatService) Chat(ctx context.Context, req *ChatRequest) *ChatResponse {
	logger := logutil.GetLogger(ctx).With(zap.String("url", req.URL), zap.String("user_id", req.UserID))
	resp, err := s.chat(ctx, req)
	if err != nil {
		logger.Error("chat turn failed", zap.Error(err))
		return &ChatResponse{Answer: ApologyAnswer, Sources: []string{}, Error: err.Error()}
	}
	return resp
}

func (s *ChatService) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	t, err := s.resolver.Resolve(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	turns, err := s.history.Load(ctx, t.Key, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns = lastTurns(turns, s.cfg.MaxHistoryTurns)

	pivot := IsPivot(req.UserLanguage)
	question := req.Question
	if !pivot {
		question, turns, err = s.toPivot(ctx, req.UserLanguage, question, turns)
		if err != nil {
			return nil, err
		}
	}

	retrieved, err := s.retrieval.Retrieve(ctx, t, question, s.cfg.TopK)
	if err != nil {
		return nil, err
	}
	if retrieved.Empty {
		return &ChatResponse{Answer: EmptyKnowledgeBaseAnswer, Sources: []string{}}, nil
	}

	prompt, used := buildPrompt(t, question, turns, retrieved.Matches, s.ai.InputLimit())
	opts := ai.GenerateOptions{Temperature: req.Temperature}
	if req.MaxOutputTokens != nil {
		opts.MaxOutputTokens = *req.MaxOutputTokens
	}
	answer, err := s.ai.Answer(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	if !pivot {
		answer, err = s.translation.Translate(ctx, answer, PivotLanguage, req.UserLanguage)
		if err != nil {
			return nil, err
		}
	}

	resp := &ChatResponse{Answer: answer, Sources: sourcesOf(retrieved.Matches[:used])}
	if err := s.history.Append(ctx, t.Key, req.UserID, model.ChatTurn{User: req.Question, Assistant: answer}); err != nil {
		logutil.GetLogger(ctx).Error("append chat turn failed", zap.String("tenant", t.Key), zap.Error(err))
		resp.Error = "turn not saved: " + err.Error()
	}
	return resp, nil
}

// History returns the stored turns of one (tenant, user) session.
func (s *ChatService) History(ctx context.Context, req *HistoryRequest) ([]model.ChatTurn, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	t, err := s.resolver.Resolve(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	return s.history.Load(ctx, t.Key, req.UserID)
}

// toPivot translates the question and the forwarded history in one bounded
// batch. Turn order is preserved.
func (s *ChatService) toPivot(ctx context.Context, lang string, question string, turns []model.ChatTurn) (string, []model.ChatTurn, error) {
	texts := make([]string, 0, len(turns)*2+1)
	for _, turn := range turns {
		texts = append(texts, turn.User, turn.Assistant)
	}
	texts = append(texts, question)
	out, err := s.translation.TranslateBatch(ctx, texts, lang, PivotLanguage)
	if err != nil {
		return "", nil, err
	}
	translated := make([]model.ChatTurn, len(turns))
	for i := range turns {
		translated[i] = model.ChatTurn{User: out[i*2], Assistant: out[i*2+1]}
	}
	return out[len(out)-1], translated, nil
}

// buildPrompt lays out instructions, context, history and question. With a
// positive limit the context is cut to fit, so history and question always
// survive. It returns the prompt and how many matches made it in.
func buildPrompt(t *model.Tenant, question string, turns []model.ChatTurn, matches []Match, limit int) (string, int) {
	var head strings.Builder
	fmt.Fprintf(&head, "You are a helpful assistant answering questions about %s.\n", t.SourceURL)
	head.WriteString("Answer using only the context below. If the context does not contain the answer, say that you don't know.\n")
	head.WriteString("Answer in English and use markdown where it helps.\n\n")
	head.WriteString("CONTEXT:\n")

	var tail strings.Builder
	if len(turns) > 0 {
		tail.WriteString("CONVERSATION SO FAR:\n")
		for _, turn := range turns {
			fmt.Fprintf(&tail, "User: %s\nAssistant: %s\n", turn.User, turn.Assistant)
		}
		tail.WriteString("\n")
	}
	tail.WriteString("QUESTION:\n")
	tail.WriteString(question)

	budget := -1
	if limit > 0 {
		budget = limit - utf8.RuneCountInString(head.String()) - utf8.RuneCountInString(tail.String())
	}
	var body strings.Builder
	used := 0
	for i, m := range matches {
		block := fmt.Sprintf("[%d] (source: %s)\n%s\n\n", i+1, m.Source(), strings.TrimSpace(m.Content))
		if budget >= 0 {
			n := utf8.RuneCountInString(block)
			if n > budget {
				if budget >= minContextBlock {
					body.WriteString(strings.TrimRight(string([]rune(block)[:budget-2]), "\n"))
					body.WriteString("\n\n")
					used++
				}
				break
			}
			budget -= n
		}
		body.WriteString(block)
		used++
	}
	return head.String() + body.String() + tail.String(), used
}

func sourcesOf(matches []Match) []string {
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		src := m.Source()
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}
