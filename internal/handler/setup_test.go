package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/chunker"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db/dbtest"
	"github.com/xxxsen/kbchat/internal/fetcher"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/handler"
	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/service"
	"github.com/xxxsen/kbchat/internal/tenant"
	"github.com/xxxsen/kbchat/internal/vectorstore"
)

type stubGenerator struct{}

func (stubGenerator) Name() string { return "stub" }

func (stubGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	if strings.HasPrefix(prompt, "You are helping users explore") {
		return `[{"label":"Billing","icon":"💳","snippet":"When are invoices sent?"}]`, nil
	}
	return "stub answer", nil
}

type wordEmbedder struct{}

func (wordEmbedder) ModelName() string { return "words" }

func (wordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec := make([]float32, 32)
	vec[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[1+h.Sum32()%31]++
	}
	return vec, nil
}

type noWeb struct{}

func (noWeb) Fetch(ctx context.Context, rawURL string) (*fetcher.Page, error) {
	return &fetcher.Page{URL: rawURL, Title: "Docs", Markdown: "# Docs\n\nThe service exposes a chat endpoint.\n"}, nil
}

type noRepo struct{}

func (noRepo) ListFiles(ctx context.Context, ref fetcher.RepoRef, token string) ([]fetcher.RepoFile, string, error) {
	return []fetcher.RepoFile{{Path: "README.md"}}, "main", nil
}

func (noRepo) GetFileContent(ctx context.Context, ref fetcher.RepoRef, branch string, filePath string, token string) (string, error) {
	return "# Tool\n\nThe tool deploys services.\n", nil
}

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.OpenSQLite(t)
	store, err := vectorstore.New(dbutil.DriverSQLite, vectorstore.Args{DB: db})
	require.NoError(t, err)
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)

	manager := ai.NewManager(stubGenerator{}, wordEmbedder{}, ai.ManagerConfig{Timeout: 5})
	resolver := tenant.NewResolver(store)
	knowledge := service.NewKnowledgeService(repo.NewKnowledgeRepo(db, dbutil.DriverSQLite), store, files)
	ingest := service.NewIngestService(knowledge, resolver, chunker.New(), manager, files, noWeb{}, noRepo{}, service.IngestConfig{
		DefaultTenant: "https://default.example.com",
	})
	knowledge.SetRebuilder(ingest)
	retrieval := service.NewRetrievalService(store, manager, 4, 0)
	translation := service.NewTranslationService(manager, config.TranslationConfig{})
	history := service.NewHistoryService(repo.NewChatRepo(db, dbutil.DriverSQLite))
	chat := service.NewChatService(resolver, history, translation, retrieval, manager, service.ChatConfig{})
	themes := service.NewThemeService(resolver, retrieval, manager)

	deps := handler.RouterDeps{
		Chat:      handler.NewChatHandler(chat, themes),
		Knowledge: handler.NewKnowledgeHandler(knowledge),
		Ingest:    handler.NewIngestHandler(ingest, 1024),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func upload(t *testing.T, router http.Handler, name, content, tenantURL string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if tenantURL != "" {
		require.NoError(t, w.WriteField("url", tenantURL))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), out))
}
