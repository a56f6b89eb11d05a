package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/model"
)

func TestChatEmptyKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)
	resp := env.chat.Chat(context.Background(), &ChatRequest{
		Question:     "How do I reset my password?",
		URL:          "https://example.com/",
		UserLanguage: "en",
		UserID:       "u1",
	})
	require.Equal(t, "No knowledge base found for this repository. Please ingest the repo first.", resp.Answer)
	require.NotNil(t, resp.Sources)
	require.Empty(t, resp.Sources)
	require.Empty(t, resp.Error)
	require.Empty(t, env.gen.answerPrompts())

	turns, err := env.history.Load(context.Background(), "https://example.com", "u1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestChatEnglishBypassesTranslation(t *testing.T) {
	env := newTestEnv(t)
	env.gen.answer = "Open the account page and click reset password."
	env.uploadAndIngest(t, "https://example.com", "docs/faq.md", faqDoc)

	resp := env.chat.Chat(context.Background(), &ChatRequest{
		Question:     "How do I reset my password?",
		URL:          "https://example.com",
		UserLanguage: "English",
		UserID:       "u1",
	})
	require.Empty(t, resp.Error)
	require.Equal(t, env.gen.answer, resp.Answer)
	require.Contains(t, resp.Sources, "docs/faq.md")
	require.Zero(t, env.gen.translationCount())

	prompts := env.gen.answerPrompts()
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0], "reset your password")
	require.Contains(t, prompts[0], "QUESTION:\nHow do I reset my password?")
}

func TestChatTranslatesBothWays(t *testing.T) {
	env := newTestEnv(t)
	env.uploadAndIngest(t, "https://example.com", "docs/faq.md", faqDoc)

	resp := env.chat.Chat(context.Background(), &ChatRequest{
		Question:     "¿Cómo restablezco mi contraseña?",
		URL:          "https://example.com",
		UserLanguage: "Spanish",
		UserID:       "u1",
	})
	require.Empty(t, resp.Error)
	require.Equal(t, "[Spanish] generated answer", resp.Answer)
	require.Equal(t, 2, env.gen.translationCount())
	require.Contains(t, env.gen.answerPrompts()[0], "QUESTION:\n[English] ¿Cómo restablezco mi contraseña?")

	turns, err := env.history.Load(context.Background(), "https://example.com", "u1")
	require.NoError(t, err)
	require.Equal(t, []model.ChatTurn{{User: "¿Cómo restablezco mi contraseña?", Assistant: "[Spanish] generated answer"}}, turns)
}

func TestChatForwardsOnlyLastTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.uploadAndIngest(t, "https://example.com", "docs/faq.md", faqDoc)
	for i := 1; i <= 7; i++ {
		require.NoError(t, env.history.Append(ctx, "https://example.com", "u1", model.ChatTurn{
			User:      fmt.Sprintf("question %d", i),
			Assistant: fmt.Sprintf("answer %d", i),
		}))
	}

	resp := env.chat.Chat(ctx, &ChatRequest{Question: "pregunta", URL: "https://example.com", UserLanguage: "es", UserID: "u1"})
	require.Empty(t, resp.Error)
	// five turns of two texts, the question, then the answer back
	require.Equal(t, 12, env.gen.translationCount())

	prompt := env.gen.answerPrompts()[0]
	require.NotContains(t, prompt, "question 2\n")
	require.Contains(t, prompt, "User: [English] question 3\nAssistant: [English] answer 3")
	require.Less(t, strings.Index(prompt, "question 3"), strings.Index(prompt, "question 7"))

	env.gen.answer = "plain"
	_ = env.chat.Chat(ctx, &ChatRequest{Question: "again", URL: "https://example.com", UserLanguage: "en", UserID: "u1"})
	prompts := env.gen.answerPrompts()
	english := prompts[len(prompts)-1]
	require.NotContains(t, english, "question 3\n")
	require.Contains(t, english, "User: question 4\n")
	require.Contains(t, english, "User: pregunta\n")
}

func TestChatHistoryIsOrdered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.uploadAndIngest(t, "https://example.com", "docs/guide.md", guideDoc)
	const n = 6
	for i := 0; i < n; i++ {
		resp := env.chat.Chat(ctx, &ChatRequest{Question: fmt.Sprintf("q%d", i), URL: "https://example.com/", UserLanguage: "en", UserID: "u1"})
		require.Empty(t, resp.Error)
	}
	turns, err := env.history.Load(ctx, "https://example.com", "u1")
	require.NoError(t, err)
	require.Len(t, turns, n)
	for i, turn := range turns {
		require.Equal(t, fmt.Sprintf("q%d", i), turn.User)
	}

	other, err := env.history.Load(ctx, "https://example.com", "u2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestChatSameTenantAcrossURLForms(t *testing.T) {
	env := newTestEnv(t)
	env.repo.files["README.md"] = "# Tool\n\nThe tool deploys services.\n"
	_, err := env.ingest.IngestGithubRepo(context.Background(), "https://github.com/acme/tool.git", "")
	require.NoError(t, err)

	for _, u := range []string{"https://github.com/acme/tool", "https://github.com/acme/tool/", "https://GitHub.com/acme/tool.git"} {
		resp := env.chat.Chat(context.Background(), &ChatRequest{Question: "what does the tool do", URL: u, UserLanguage: "en", UserID: "u1"})
		require.Empty(t, resp.Error, u)
		require.Equal(t, []string{"https://github.com/acme/tool/blob/main/README.md"}, resp.Sources, u)
	}
}

func TestChatFailuresBecomeApology(t *testing.T) {
	env := newTestEnv(t)
	env.uploadAndIngest(t, "https://example.com", "docs/faq.md", faqDoc)

	env.gen.answerErr = errors.New("model overloaded")
	resp := env.chat.Chat(context.Background(), &ChatRequest{Question: "reset password", URL: "https://example.com", UserLanguage: "en", UserID: "u1"})
	require.Equal(t, ApologyAnswer, resp.Answer)
	require.NotNil(t, resp.Sources)
	require.Empty(t, resp.Sources)
	require.Contains(t, resp.Error, "generation failure")

	env.gen.answerErr = nil
	env.gen.translateErr = errors.New("translator down")
	resp = env.chat.Chat(context.Background(), &ChatRequest{Question: "contraseña", URL: "https://example.com", UserLanguage: "es", UserID: "u1"})
	require.Equal(t, ApologyAnswer, resp.Answer)
	require.Empty(t, resp.Sources)
	require.Contains(t, resp.Error, "translation failure")

	resp = env.chat.Chat(context.Background(), &ChatRequest{URL: "https://example.com", UserID: "u1"})
	require.Equal(t, ApologyAnswer, resp.Answer)
	require.Contains(t, resp.Error, "Question")

	turns, err := env.history.Load(context.Background(), "https://example.com", "u1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestChatPassesGenerationOptions(t *testing.T) {
	env := newTestEnv(t)
	env.uploadAndIngest(t, "https://example.com", "docs/guide.md", guideDoc)
	temp := float32(0.1)
	maxTokens := 64
	resp := env.chat.Chat(context.Background(), &ChatRequest{
		Question: "install", URL: "https://example.com", UserID: "u1",
		Temperature: &temp, MaxOutputTokens: &maxTokens,
	})
	require.Empty(t, resp.Error)

	bad := float32(5)
	resp = env.chat.Chat(context.Background(), &ChatRequest{Question: "install", URL: "https://example.com", UserID: "u1", Temperature: &bad})
	require.Equal(t, ApologyAnswer, resp.Answer)
}

func TestConcurrentChatsKeepEveryTurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.uploadAndIngest(t, "https://example.com", "docs/guide.md", guideDoc)
	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.chat.Chat(ctx, &ChatRequest{Question: fmt.Sprintf("q%d", i), URL: "https://example.com", UserID: "u1"})
		}()
	}
	wg.Wait()
	turns, err := env.history.Load(ctx, "https://example.com", "u1")
	require.NoError(t, err)
	require.Len(t, turns, n)
}

func TestChatFitsContextIntoInputLimit(t *testing.T) {
	env := newTestEnv(t, func(c *ai.ManagerConfig) { c.MaxInputChars = 600 })
	long := "# Setup\n\n" + strings.Repeat("The setup steps are described here in detail. ", 60)
	env.uploadAndIngest(t, "https://example.com", "docs/setup.md", long)

	question := "UNIQUEQUESTIONMARKER how do I set it up?"
	resp := env.chat.Chat(context.Background(), &ChatRequest{
		Question:     question,
		URL:          "https://example.com",
		UserLanguage: "en",
		UserID:       "u1",
	})
	require.Empty(t, resp.Error)
	require.Equal(t, "generated answer", resp.Answer)
	require.Equal(t, []string{"docs/setup.md"}, resp.Sources)

	prompts := env.gen.answerPrompts()
	require.Len(t, prompts, 1)
	require.True(t, strings.HasSuffix(prompts[0], question))
	require.LessOrEqual(t, utf8.RuneCountInString(prompts[0]), 600)
	require.Contains(t, prompts[0], "(source: docs/setup.md)")
}

func TestBuildPromptKeepsQuestionAndHistory(t *testing.T) {
	tn := &model.Tenant{Key: "https://example.com", SourceURL: "https://example.com"}
	matches := []Match{
		{Content: strings.Repeat("a", 400), SourceFile: "a.md"},
		{Content: strings.Repeat("b", 400), SourceFile: "b.md"},
	}
	turns := []model.ChatTurn{{User: "earlier question", Assistant: "earlier answer"}}

	full, used := buildPrompt(tn, "what now?", turns, matches, 0)
	require.Equal(t, 2, used)
	require.Contains(t, full, "(source: b.md)")

	short, used := buildPrompt(tn, "what now?", turns, matches, 700)
	require.Equal(t, 1, used)
	require.LessOrEqual(t, utf8.RuneCountInString(short), 700)
	require.NotContains(t, short, "(source: b.md)")
	require.Contains(t, short, "User: earlier question")
	require.True(t, strings.HasSuffix(short, "QUESTION:\nwhat now?"))

	tiny, used := buildPrompt(tn, "what now?", turns, matches, 350)
	require.Zero(t, used)
	require.NotContains(t, tiny, "(source:")
	require.True(t, strings.HasSuffix(tiny, "what now?"))
}

func TestChatReportsUnsavedTurn(t *testing.T) {
	env := newTestEnv(t)
	env.uploadAndIngest(t, "https://example.com", "docs/faq.md", faqDoc)
	_, err := env.db.Exec(`CREATE TRIGGER reject_turns BEFORE INSERT ON chat_turns BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	resp := env.chat.Chat(context.Background(), &ChatRequest{
		Question:     "How do I reset my password?",
		URL:          "https://example.com",
		UserLanguage: "en",
		UserID:       "u1",
	})
	require.Equal(t, "generated answer", resp.Answer)
	require.Contains(t, resp.Sources, "docs/faq.md")
	require.Contains(t, resp.Error, "turn not saved")
	require.Contains(t, resp.Error, "disk full")
}
