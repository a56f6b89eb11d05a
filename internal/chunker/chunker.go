package chunker

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatCode     Format = "code"
)

const (
	defaultMaxTokens     = 400
	defaultOverlapTokens = 80
)

type config struct {
	maxTokens     int
	overlapTokens int
}

type Option func(c *config)

func WithMaxTokens(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithOverlapTokens(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

// Chunker splits a document into retrieval sized pieces. Markdown is split
// along top level headings with a small paragraph overlap; source code is
// split into line windows.
type Chunker struct {
	c config
}

func New(opts ...Option) *Chunker {
	c := config{maxTokens: defaultMaxTokens, overlapTokens: defaultOverlapTokens}
	for _, opt := range opts {
		opt(&c)
	}
	return &Chunker{c: c}
}

var codeExtensions = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript", ".tsx": "tsx",
	".jsx": "jsx", ".java": "java", ".kt": "kotlin", ".rs": "rust", ".c": "c", ".h": "c",
	".cpp": "cpp", ".cc": "cpp", ".hpp": "cpp", ".cs": "csharp", ".rb": "ruby", ".php": "php",
	".swift": "swift", ".scala": "scala", ".sh": "bash", ".sql": "sql", ".yaml": "yaml",
	".yml": "yaml", ".toml": "toml", ".json": "json", ".proto": "protobuf",
}

// FormatFor guesses the format of a file from its name. Anything that is not
// a known source extension is treated as markdown, which also covers plain
// text.
func FormatFor(name string) (Format, string) {
	ext := strings.ToLower(path.Ext(name))
	if lang, ok := codeExtensions[ext]; ok {
		return FormatCode, lang
	}
	return FormatMarkdown, ""
}

func (c *Chunker) Chunk(ctx context.Context, content string, format Format, lang string) []*model.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if format == FormatCode {
		return c.chunkCode(ctx, content, lang)
	}
	return c.chunkMarkdown(ctx, content)
}

func (c *Chunker) chunkMarkdown(ctx context.Context, markdown string) []*model.Chunk {
	logger := logutil.GetLogger(ctx)
	reader := text.NewReader([]byte(markdown))
	doc := goldmark.New().Parser().Parse(reader)
	source := reader.Source()

	var (
		chunks         []*model.Chunk
		current        []string
		currentTokens  int
		currentType    = model.ChunkTypeText
		currentHeading string
		currentLang    string
		carried        int
	)

	flush := func() {
		if len(current) <= carried {
			current = nil
			currentTokens = 0
			carried = 0
			return
		}
		body := strings.Join(current, "\n\n")
		if currentHeading != "" {
			body = "Heading: " + currentHeading + "\n" + body
		}
		chunks = append(chunks, newChunk(len(chunks), currentType, currentLang, body))

		if currentType == model.ChunkTypeText && len(current) > 1 && c.c.overlapTokens > 0 {
			overlapTokens := 0
			var overlap []string
			for i := len(current) - 1; i > 0; i-- {
				t := EstimateTokens(current[i])
				if overlapTokens+t > c.c.overlapTokens {
					break
				}
				overlapTokens += t
				overlap = append([]string{current[i]}, overlap...)
			}
			current = overlap
			currentTokens = overlapTokens
			carried = len(overlap)
		} else {
			current = nil
			currentTokens = 0
			carried = 0
		}
		currentType = model.ChunkTypeText
		currentLang = ""
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			heading := extractText(n, source)
			if n.Level <= 2 {
				flush()
				current = nil
				currentTokens = 0
				carried = 0
				currentHeading = heading
				continue
			}
			current = append(current, heading)
			currentTokens += EstimateTokens(heading)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lang := ""
			if fenced, ok := n.(*ast.FencedCodeBlock); ok {
				lang = string(fenced.Language(source))
			}
			code := blockLines(n, source)
			tokens := EstimateTokens(code)
			if tokens > c.c.maxTokens {
				flush()
				for _, part := range c.splitLines(code) {
					chunks = append(chunks, newChunk(len(chunks), model.ChunkTypeCode, lang, fence(lang, part)))
				}
				continue
			}
			if currentTokens > 0 && currentTokens+tokens <= c.c.maxTokens {
				current = append(current, fence(lang, code))
				currentTokens += tokens
				currentType = model.ChunkTypeMixed
				currentLang = lang
				continue
			}
			flush()
			current = []string{fence(lang, code)}
			currentTokens = tokens
			carried = 0
			currentType = model.ChunkTypeCode
			currentLang = lang
			flush()
		default:
			txt := extractText(n, source)
			if txt == "" {
				continue
			}
			tokens := EstimateTokens(txt)
			if currentTokens > 0 && currentTokens+tokens > c.c.maxTokens {
				flush()
			}
			current = append(current, txt)
			currentTokens += tokens
		}
	}
	flush()
	logger.Debug("markdown chunked", zap.Int("size", len(markdown)), zap.Int("chunks", len(chunks)))
	return chunks
}

func (c *Chunker) chunkCode(ctx context.Context, code string, lang string) []*model.Chunk {
	parts := c.splitLines(code)
	chunks := make([]*model.Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, newChunk(len(chunks), model.ChunkTypeCode, lang, fence(lang, part)))
	}
	logutil.GetLogger(ctx).Debug("code chunked", zap.String("lang", lang), zap.Int("chunks", len(chunks)))
	return chunks
}

// splitLines groups whole lines into windows of at most maxTokens. A single
// line longer than the window is kept intact.
func (c *Chunker) splitLines(code string) []string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	var (
		out    []string
		window []string
		tokens int
	)
	for _, line := range lines {
		t := EstimateTokens(line)
		if tokens > 0 && tokens+t > c.c.maxTokens {
			out = append(out, strings.Join(window, "\n"))
			window = nil
			tokens = 0
		}
		window = append(window, line)
		tokens += t
	}
	if len(window) > 0 && strings.TrimSpace(strings.Join(window, "")) != "" {
		out = append(out, strings.Join(window, "\n"))
	}
	return out
}

func newChunk(position int, typ model.ChunkType, lang string, body string) *model.Chunk {
	content := body
	if lang != "" {
		content = fmt.Sprintf("[language=%s]\n%s", lang, body)
	}
	ch := &model.Chunk{
		Position:   position,
		ChunkType:  typ,
		Content:    content,
		TokenCount: EstimateTokens(content),
		Metadata:   map[string]string{"chunk_type": string(typ)},
	}
	if lang != "" {
		ch.Metadata["language"] = lang
	}
	return ch
}

func fence(lang string, code string) string {
	return "```" + lang + "\n" + strings.TrimRight(code, "\n") + "\n```"
}

// EstimateTokens counts words, plus one per non-ASCII rune so CJK text is
// not under counted.
func EstimateTokens(s string) int {
	count := 0
	for _, r := range s {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(s))
	if count == 0 && len(s) > 0 {
		return 1
	}
	return count
}

func blockLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return sb.String()
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node != n && sb.Len() > 0 {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString(" ")
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
