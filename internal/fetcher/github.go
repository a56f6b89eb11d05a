package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/kbchat/internal/config"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

var defaultExtensions = []string{
	".md", ".mdx", ".markdown", ".rst", ".txt",
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".kt", ".rs", ".c", ".h", ".cpp",
	".cs", ".rb", ".php", ".swift", ".scala", ".sh", ".sql", ".yaml", ".yml", ".toml", ".proto",
}

var defaultExclude = []string{"vendor/", "node_modules/", ".git/", "dist/", "build/", "third_party/"}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".pdf": true,
	".zip": true, ".gz": true, ".tar": true, ".exe": true, ".dll": true, ".so": true,
	".woff": true, ".woff2": true, ".ttf": true, ".mp4": true, ".mp3": true, ".jar": true,
}

type RepoRef struct {
	Owner string
	Repo  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Repo
}

func (r RepoRef) URL() string {
	return "https://github.com/" + r.Owner + "/" + r.Repo
}

// ParseRepoURL accepts https://github.com/<owner>/<repo>[.git][/...].
func ParseRepoURL(raw string) (RepoRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RepoRef{}, fmt.Errorf("%w: %v", appErr.ErrInvalidGithubURL, err)
	}
	if u.Scheme != "https" {
		return RepoRef{}, fmt.Errorf("%w: scheme must be https", appErr.ErrInvalidGithubURL)
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return RepoRef{}, fmt.Errorf("%w: host must be github.com", appErr.ErrInvalidGithubURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, fmt.Errorf("%w: missing owner or repository", appErr.ErrInvalidGithubURL)
	}
	repo := strings.TrimSuffix(parts[1], ".git")
	if repo == "" {
		return RepoRef{}, fmt.Errorf("%w: missing repository", appErr.ErrInvalidGithubURL)
	}
	return RepoRef{Owner: parts[0], Repo: repo}, nil
}

type RepoFile struct {
	Path string
	SHA  string
	Size int
}

type GithubOption func(g *GithubFetcher)

// WithGithubBaseURL points the client at another API root, e.g. GitHub
// Enterprise or a test server.
func WithGithubBaseURL(u string) GithubOption {
	return func(g *GithubFetcher) {
		g.baseURL = u
	}
}

// WithGithubTimeout caps each GitHub operation. Zero disables the cap.
func WithGithubTimeout(d time.Duration) GithubOption {
	return func(g *GithubFetcher) {
		g.timeout = d
	}
}

type GithubFetcher struct {
	timeout    time.Duration
	token      string
	maxFiles   int
	extensions map[string]bool
	exclude    []string
	limiter    *rate.Limiter
	baseURL    string
}

func NewGithubFetcher(cfg config.GithubConfig, opts ...GithubOption) *GithubFetcher {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	extMap := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[ext] = true
	}
	exclude := cfg.Exclude
	if len(exclude) == 0 {
		exclude = defaultExclude
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	g := &GithubFetcher{
		timeout:    time.Duration(cfg.Timeout) * time.Second,
		token:      strings.TrimSpace(cfg.Token),
		maxFiles:   cfg.MaxFiles,
		extensions: extMap,
		exclude:    exclude,
		limiter:    rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GithubFetcher) client(ctx context.Context, token string) (*github.Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		token = g.token
	}
	hc := &http.Client{Timeout: g.timeout}
	if token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(hc)
	if g.baseURL != "" {
		base, err := url.Parse(strings.TrimRight(g.baseURL, "/") + "/")
		if err != nil {
			return nil, err
		}
		client.BaseURL = base
	}
	return client, nil
}

// ListFiles resolves the default branch and lists the repository's text
// files after extension and path filtering.
func (g *GithubFetcher) ListFiles(ctx context.Context, ref RepoRef, token string) ([]RepoFile, string, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	client, err := g.client(ctx, token)
	if err != nil {
		return nil, "", appErr.NewProviderError(appErr.KindFetch, "github", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, "", appErr.NewProviderError(appErr.KindFetch, "github", err)
	}
	repo, _, err := client.Repositories.Get(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return nil, "", appErr.NewProviderError(appErr.KindFetch, "github", fmt.Errorf("get repository %s: %w", ref, err))
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, "", appErr.NewProviderError(appErr.KindFetch, "github", err)
	}
	tree, _, err := client.Git.GetTree(ctx, ref.Owner, ref.Repo, branch, true)
	if err != nil {
		return nil, "", appErr.NewProviderError(appErr.KindFetch, "github", fmt.Errorf("get tree %s@%s: %w", ref, branch, err))
	}
	var files []RepoFile
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		p := entry.GetPath()
		if !g.accept(p) {
			continue
		}
		files = append(files, RepoFile{Path: p, SHA: entry.GetSHA(), Size: entry.GetSize()})
		if g.maxFiles > 0 && len(files) >= g.maxFiles {
			logutil.GetLogger(ctx).Warn("github file limit reached", zap.String("repo", ref.String()), zap.Int("max_files", g.maxFiles))
			break
		}
	}
	return files, branch, nil
}

func (g *GithubFetcher) GetFileContent(ctx context.Context, ref RepoRef, branch string, filePath string, token string) (string, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	client, err := g.client(ctx, token)
	if err != nil {
		return "", appErr.NewProviderError(appErr.KindFetch, "github", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", appErr.NewProviderError(appErr.KindFetch, "github", err)
	}
	content, _, _, err := client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, filePath, &github.RepositoryContentGetOptions{
		Ref: branch,
	})
	if err != nil {
		return "", appErr.NewProviderError(appErr.KindFetch, "github", fmt.Errorf("get %s: %w", filePath, err))
	}
	if content == nil {
		return "", appErr.NewProviderError(appErr.KindFetch, "github", fmt.Errorf("%s is not a file", filePath))
	}
	text, err := content.GetContent()
	if err != nil {
		return "", appErr.NewProviderError(appErr.KindFetch, "github", fmt.Errorf("decode %s: %w", filePath, err))
	}
	return text, nil
}

func (g *GithubFetcher) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *GithubFetcher) accept(p string) bool {
	lower := strings.ToLower(p)
	for _, ex := range g.exclude {
		ex = strings.ToLower(strings.TrimSpace(ex))
		if ex == "" {
			continue
		}
		if strings.HasPrefix(lower, ex) || strings.Contains(lower, "/"+ex) {
			return false
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if binaryExtensions[ext] {
		return false
	}
	return g.extensions[ext]
}

// IsAuthError reports whether GitHub refused the request because of
// credentials or rate limits. Such errors abort a whole repository crawl.
func IsAuthError(err error) bool {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var are *github.AbuseRateLimitError
	if errors.As(err, &are) {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
