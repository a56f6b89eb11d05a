package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/chunker"
	"github.com/xxxsen/kbchat/internal/fetcher"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/tenant"
)

const embedConcurrency = 4

var defaultBlockedDomains = []string{
	"google.com", "bing.com", "yahoo.com", "duckduckgo.com", "baidu.com",
	"stackoverflow.com", "stackexchange.com", "quora.com",
	"wikipedia.org", "reddit.com", "youtube.com",
	"facebook.com", "twitter.com", "x.com", "linkedin.com", "amazon.com",
}

type WebFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Page, error)
}

type RepoFetcher interface {
	ListFiles(ctx context.Context, ref fetcher.RepoRef, token string) ([]fetcher.RepoFile, string, error)
	GetFileContent(ctx context.Context, ref fetcher.RepoRef, branch string, filePath string, token string) (string, error)
}

type IngestConfig struct {
	DefaultTenant     string
	BlockedDomains    []string
	GithubConcurrency int
	MaxFileBytes      int64
}

type IngestResult struct {
	Identifier     string `json:"identifier"`
	Tenant         string `json:"tenant"`
	ChunksCreated  int    `json:"chunks_created"`
	FilesProcessed int    `json:"files_processed,omitempty"`
	FilesIngested  int    `json:"files_ingested,omitempty"`
}

type IngestService struct {
	knowledge *KnowledgeService
	resolver  *tenant.Resolver
	chunker   *chunker.Chunker
	ai        *ai.Manager
	files     filestore.Store
	web       WebFetcher
	github    RepoFetcher
	cfg       IngestConfig
	blocked   []string
}

func NewIngestService(knowledge *KnowledgeService, resolver *tenant.Resolver, ch *chunker.Chunker, manager *ai.Manager,
	files filestore.Store, web WebFetcher, github RepoFetcher, cfg IngestConfig) *IngestService {
	if cfg.GithubConcurrency <= 0 {
		cfg.GithubConcurrency = 4
	}
	blocked := make([]string, 0, len(defaultBlockedDomains)+len(cfg.BlockedDomains))
	blocked = append(blocked, defaultBlockedDomains...)
	for _, d := range cfg.BlockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked = append(blocked, d)
		}
	}
	return &IngestService{
		knowledge: knowledge,
		resolver:  resolver,
		chunker:   ch,
		ai:        manager,
		files:     files,
		web:       web,
		github:    github,
		cfg:       cfg,
		blocked:   blocked,
	}
}

// SaveUpload stores raw upload bytes for the tenant of tenantURL and
// returns the identifier the file is tracked under. A name already tracked
// by another tenant is rejected with ErrConflict.
func (s *IngestService) SaveUpload(ctx context.Context, tenantURL string, filename string, r io.ReadSeeker, size int64) (string, error) {
	identifier := cleanFileName(filename)
	if identifier == "" {
		return "", fmt.Errorf("%w: file name is required", appErr.ErrInvalid)
	}
	t, err := s.uploadTenant(ctx, tenantURL)
	if err != nil {
		return "", err
	}
	if err := s.knowledge.CheckOwner(ctx, model.SourceTypeFile, identifier, t); err != nil {
		return "", err
	}
	if err := s.files.Save(ctx, uploadKey(t.Collection, identifier), r, size); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return identifier, nil
}

// IngestFile ingests a previously saved upload into the tenant of
// tenantURL, or the default tenant when tenantURL is empty.
func (s *IngestService) IngestFile(ctx context.Context, tenantURL string, identifier string) (*IngestResult, error) {
	t, err := s.uploadTenant(ctx, tenantURL)
	if err != nil {
		return nil, err
	}
	chunks, err := s.fileChunks(ctx, t.Collection, identifier)
	if err != nil {
		return nil, err
	}
	item := &model.KnowledgeItem{
		Type:       model.SourceTypeFile,
		Identifier: identifier,
		Tenant:     t.Key,
		Collection: t.Collection,
	}
	if err := s.knowledge.Record(ctx, item, chunks); err != nil {
		if errors.Is(err, appErr.ErrConflict) {
			_ = s.files.Delete(ctx, uploadKey(t.Collection, identifier))
		}
		return nil, err
	}
	return &IngestResult{Identifier: identifier, Tenant: t.Key, ChunksCreated: item.ChunkCount}, nil
}

func (s *IngestService) uploadTenant(ctx context.Context, tenantURL string) (*model.Tenant, error) {
	if strings.TrimSpace(tenantURL) == "" {
		tenantURL = s.cfg.DefaultTenant
	}
	if strings.TrimSpace(tenantURL) == "" {
		return nil, fmt.Errorf("%w: tenant url is required", appErr.ErrInvalid)
	}
	return s.resolver.Resolve(ctx, tenantURL)
}

// IngestURL ingests a single web page into the tenant of its site. Specific
// GitHub repository URLs are crawled as repositories instead.
func (s *IngestService) IngestURL(ctx context.Context, rawURL string, githubToken string) (*IngestResult, error) {
	u, err := s.checkScope(rawURL)
	if err != nil {
		return nil, err
	}
	if isGithubHost(u.Hostname()) {
		return s.IngestGithubRepo(ctx, rawURL, githubToken)
	}
	t, err := s.resolver.Resolve(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return nil, err
	}
	identifier, err := tenant.PageIdentifier(rawURL)
	if err != nil {
		return nil, err
	}
	target := *u
	target.Host = strings.ToLower(target.Host)
	target.Fragment = ""
	chunks, err := s.pageChunks(ctx, target.String(), identifier)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &IngestResult{Identifier: identifier, Tenant: t.Key}, nil
	}
	item := &model.KnowledgeItem{
		Type:       model.SourceTypeURL,
		Identifier: identifier,
		Tenant:     t.Key,
		Collection: t.Collection,
	}
	if err := s.knowledge.Record(ctx, item, chunks); err != nil {
		return nil, err
	}
	return &IngestResult{Identifier: identifier, Tenant: t.Key, ChunksCreated: item.ChunkCount}, nil
}

// IngestGithubRepo crawls a repository's default branch. Files that fail to
// download are skipped and counted; credential failures abort the crawl.
func (s *IngestService) IngestGithubRepo(ctx context.Context, repoURL string, token string) (*IngestResult, error) {
	ref, err := fetcher.ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	t, err := s.resolver.Resolve(ctx, ref.URL())
	if err != nil {
		return nil, err
	}
	chunks, processed, ingested, err := s.repoChunks(ctx, ref, token)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{
		Identifier:     t.Key,
		Tenant:         t.Key,
		FilesProcessed: processed,
		FilesIngested:  ingested,
	}
	if len(chunks) == 0 {
		return res, nil
	}
	item := &model.KnowledgeItem{
		Type:       model.SourceTypeURL,
		Identifier: t.Key,
		Tenant:     t.Key,
		Collection: t.Collection,
	}
	if err := s.knowledge.Record(ctx, item, chunks); err != nil {
		return nil, err
	}
	res.ChunksCreated = item.ChunkCount
	return res, nil
}

func (s *IngestService) Rebuild(ctx context.Context, item *model.KnowledgeItem) ([]*model.Chunk, error) {
	var (
		chunks []*model.Chunk
		err    error
	)
	switch item.Type {
	case model.SourceTypeFile:
		chunks, err = s.fileChunks(ctx, item.Collection, item.Identifier)
	case model.SourceTypeURL:
		if ref, perr := fetcher.ParseRepoURL(item.Identifier); perr == nil {
			chunks, _, _, err = s.repoChunks(ctx, ref, "")
		} else {
			chunks, err = s.pageChunks(ctx, item.Identifier, item.Identifier)
		}
	default:
		return nil, appErr.ErrInvalidSourceType
	}
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s produced no content", appErr.ErrInvalid, item.Identifier)
	}
	return chunks, nil
}

func (s *IngestService) checkScope(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: bad url %q", appErr.ErrInvalid, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", appErr.ErrInvalid, u.Scheme)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if isGithubHost(host) {
		if _, err := fetcher.ParseRepoURL(rawURL); err != nil {
			return nil, fmt.Errorf("%w: github.com is only accepted for a specific repository", appErr.ErrScopeRejected)
		}
		return u, nil
	}
	for _, d := range s.blocked {
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil, fmt.Errorf("%w: %s is too large to crawl", appErr.ErrScopeRejected, host)
		}
	}
	return u, nil
}

func isGithubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || host == "www.github.com"
}

func (s *IngestService) fileChunks(ctx context.Context, collection string, identifier string) ([]*model.Chunk, error) {
	rc, err := s.files.Open(ctx, uploadKey(collection, identifier))
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil, fmt.Errorf("%w: upload %s", appErr.ErrNotFound, identifier)
		}
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()
	var r io.Reader = rc
	if s.cfg.MaxFileBytes > 0 {
		r = io.LimitReader(rc, s.cfg.MaxFileBytes)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not a text file", appErr.ErrInvalid, identifier)
	}
	format, lang := chunker.FormatFor(identifier)
	chunks := s.chunker.Chunk(ctx, string(raw), format, lang)
	for _, ch := range chunks {
		ch.Metadata["source"] = identifier
	}
	if err := s.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// pageChunks fetches fetchURL and cites every chunk as identifier.
func (s *IngestService) pageChunks(ctx context.Context, fetchURL string, identifier string) ([]*model.Chunk, error) {
	page, err := s.web.Fetch(ctx, fetchURL)
	if err != nil {
		return nil, err
	}
	chunks := s.chunker.Chunk(ctx, page.Markdown, chunker.FormatMarkdown, "")
	for _, ch := range chunks {
		ch.Metadata["source"] = identifier
		if page.Title != "" {
			ch.Metadata["title"] = page.Title
		}
	}
	if err := s.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *IngestService) repoChunks(ctx context.Context, ref fetcher.RepoRef, token string) ([]*model.Chunk, int, int, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("repo", ref.String()))
	files, branch, err := s.github.ListFiles(ctx, ref, token)
	if err != nil {
		return nil, 0, 0, err
	}
	perFile := make([][]*model.Chunk, len(files))
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.GithubConcurrency)
	for i, f := range files {
		g.Go(func() error {
			content, err := s.github.GetFileContent(gctx, ref, branch, f.Path, token)
			if err != nil {
				if fetcher.IsAuthError(err) || gctx.Err() != nil {
					return err
				}
				logger.Warn("skip github file", zap.String("path", f.Path), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			format, lang := chunker.FormatFor(f.Path)
			chunks := s.chunker.Chunk(gctx, content, format, lang)
			source := ref.URL() + "/blob/" + branch + "/" + f.Path
			for _, ch := range chunks {
				ch.Content = "File: " + f.Path + "\n" + ch.Content
				ch.Metadata["path"] = f.Path
				ch.Metadata["source"] = source
			}
			if err := s.embedChunks(gctx, chunks); err != nil {
				return err
			}
			perFile[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}
	var (
		all      []*model.Chunk
		ingested int
	)
	for _, chunks := range perFile {
		if len(chunks) == 0 {
			continue
		}
		ingested++
		all = append(all, chunks...)
	}
	logger.Info("github repository crawled",
		zap.String("branch", branch),
		zap.Int("files", len(files)),
		zap.Int("ingested", ingested),
		zap.Int("failed", failed),
		zap.Int("chunks", len(all)),
	)
	return all, len(files), ingested, nil
}

func (s *IngestService) embedChunks(ctx context.Context, chunks []*model.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, ch := range chunks {
		g.Go(func() error {
			vec, err := s.ai.Embed(gctx, ch.Content, ai.TaskRetrievalDocument)
			if err != nil {
				return err
			}
			ch.Embedding = vec
			return nil
		})
	}
	return g.Wait()
}
