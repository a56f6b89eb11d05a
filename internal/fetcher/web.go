package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/kbchat/internal/config"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"go.uber.org/zap"
)

const defaultUserAgent = "kbchat/1.0 (+https://github.com/xxxsen/kbchat)"

var noiseSelectors = "script, style, noscript, iframe, svg, nav, footer, header, form, aside"

type Page struct {
	URL      string
	Title    string
	Markdown string
}

type WebFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func NewWebFetcher(cfg config.FetcherConfig) *WebFetcher {
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &WebFetcher{
		client:    &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		userAgent: ua,
		maxBytes:  cfg.MaxBytes,
	}
}

// Fetch downloads a single page and returns its main content as markdown.
// Plain text and markdown bodies are returned unchanged.
func (f *WebFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	page, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, appErr.NewProviderError(appErr.KindFetch, "web", err)
	}
	return page, nil
}

func (f *WebFetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,text/markdown,text/plain;q=0.9,*/*;q=0.5")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	logutil.GetLogger(ctx).Debug("page fetched",
		zap.String("url", rawURL),
		zap.String("content_type", mediaType),
		zap.Int("size", len(raw)),
	)
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		if !strings.HasPrefix(mediaType, "text/") {
			return nil, fmt.Errorf("unsupported content type %s", mediaType)
		}
		return &Page{URL: rawURL, Markdown: string(raw)}, nil
	}
	return htmlToPage(rawURL, string(raw))
}

func htmlToPage(rawURL string, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelectors).Remove()

	main := doc.Find("main, article, [role=main]").First()
	if main.Length() == 0 {
		main = doc.Find("body")
	}
	content, err := main.Html()
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	converter := md.NewConverter(domainOf(rawURL), true, nil)
	markdown, err := converter.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}
	return &Page{URL: rawURL, Title: title, Markdown: markdown}, nil
}

func domainOf(rawURL string) string {
	rest := rawURL
	scheme := ""
	if idx := strings.Index(rest, "://"); idx >= 0 {
		scheme = rest[:idx+3]
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	return scheme + rest
}
