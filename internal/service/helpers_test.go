package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/chunker"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db/dbtest"
	"github.com/xxxsen/kbchat/internal/fetcher"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/tenant"
	"github.com/xxxsen/kbchat/internal/vectorstore"
)

const (
	translatorPrompt = "You are a professional translator."
	themePrompt      = "You are helping users explore"
)

// fakeGenerator answers translation prompts with "[<lang>] <text>", theme
// prompts with a fixed JSON list and everything else with answer.
type fakeGenerator struct {
	mu           sync.Mutex
	answer       string
	answerErr    error
	translateErr error
	translations []string
	themeCalls   int
	prompts      []string
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case strings.HasPrefix(prompt, translatorPrompt):
		if g.translateErr != nil {
			return "", g.translateErr
		}
		lang := between(prompt, "into ", ".\n")
		text := prompt[strings.Index(prompt, "TEXT:\n")+len("TEXT:\n"):]
		g.translations = append(g.translations, text)
		return "[" + lang + "] " + text, nil
	case strings.HasPrefix(prompt, themePrompt):
		g.themeCalls++
		return `[{"label":"Setup","icon":"🛠","snippet":"How do I set it up?"}]`, nil
	}
	g.prompts = append(g.prompts, prompt)
	if g.answerErr != nil {
		return "", g.answerErr
	}
	if g.answer != "" {
		return g.answer, nil
	}
	return "generated answer", nil
}

func (g *fakeGenerator) translationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.translations)
}

func (g *fakeGenerator) answerPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	j := strings.Index(s, end)
	if j < 0 {
		return s
	}
	return s[:j]
}

// hashEmbedder is a bag of words embedding, good enough to rank texts that
// share vocabulary above texts that do not.
type hashEmbedder struct{}

func (hashEmbedder) ModelName() string { return "hash-64" }

func (hashEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec := make([]float32, 64)
	vec[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,:;!?()[]`#*\"'")
		if len(w) < 3 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[1+h.Sum32()%63]++
	}
	return vec, nil
}

type fakeWeb struct {
	pages map[string]*fetcher.Page
}

func (f *fakeWeb) Fetch(ctx context.Context, rawURL string) (*fetcher.Page, error) {
	p, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("fetch failure (web): %s not found", rawURL)
	}
	return p, nil
}

type fakeRepo struct {
	files   map[string]string
	failing map[string]error
	listErr error
}

func (f *fakeRepo) ListFiles(ctx context.Context, ref fetcher.RepoRef, token string) ([]fetcher.RepoFile, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	var out []fetcher.RepoFile
	for _, p := range sortedKeys(f.files, f.failing) {
		out = append(out, fetcher.RepoFile{Path: p})
	}
	return out, "main", nil
}

func (f *fakeRepo) GetFileContent(ctx context.Context, ref fetcher.RepoRef, branch string, filePath string, token string) (string, error) {
	if err, ok := f.failing[filePath]; ok {
		return "", err
	}
	content, ok := f.files[filePath]
	if !ok {
		return "", errors.New("missing")
	}
	return content, nil
}

func sortedKeys(a map[string]string, b map[string]error) []string {
	var keys []string
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type testEnv struct {
	db          *sql.DB
	gen         *fakeGenerator
	web         *fakeWeb
	repo        *fakeRepo
	store       vectorstore.Store
	files       filestore.Store
	resolver    *tenant.Resolver
	knowledge   *KnowledgeService
	ingest      *IngestService
	retrieval   *RetrievalService
	translation *TranslationService
	history     *HistoryService
	chat        *ChatService
	themes      *ThemeService
}

func newTestEnv(t *testing.T, opts ...func(*ai.ManagerConfig)) *testEnv {
	t.Helper()
	db := dbtest.OpenSQLite(t)
	store, err := vectorstore.New(dbutil.DriverSQLite, vectorstore.Args{DB: db})
	require.NoError(t, err)
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)

	env := &testEnv{
		db:    db,
		gen:   &fakeGenerator{},
		web:   &fakeWeb{pages: map[string]*fetcher.Page{}},
		repo:  &fakeRepo{files: map[string]string{}, failing: map[string]error{}},
		store: store,
		files: files,
	}
	mcfg := ai.ManagerConfig{Timeout: 5}
	for _, opt := range opts {
		opt(&mcfg)
	}
	manager := ai.NewManager(env.gen, hashEmbedder{}, mcfg)
	env.resolver = tenant.NewResolver(store)
	env.knowledge = NewKnowledgeService(repo.NewKnowledgeRepo(db, dbutil.DriverSQLite), store, files)
	env.ingest = NewIngestService(env.knowledge, env.resolver, chunker.New(), manager, files, env.web, env.repo, IngestConfig{
		DefaultTenant:  "https://default.example.com",
		BlockedDomains: []string{"huge.example.org"},
	})
	env.knowledge.SetRebuilder(env.ingest)
	env.retrieval = NewRetrievalService(store, manager, 4, 0)
	env.translation = NewTranslationService(manager, config.TranslationConfig{Concurrency: 3})
	env.history = NewHistoryService(repo.NewChatRepo(db, dbutil.DriverSQLite))
	env.chat = NewChatService(env.resolver, env.history, env.translation, env.retrieval, manager, ChatConfig{})
	env.themes = NewThemeService(env.resolver, env.retrieval, manager)
	return env
}

func (e *testEnv) uploadAndIngest(t *testing.T, tenantURL, name, content string) *IngestResult {
	t.Helper()
	ctx := context.Background()
	id, err := e.ingest.SaveUpload(ctx, tenantURL, name, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	res, err := e.ingest.IngestFile(ctx, tenantURL, id)
	require.NoError(t, err)
	return res
}
