// Package summarize implements the chunked map-reduce document summarizer.
// A source (sandboxed file or URL) is loaded, normalized, split into
// paragraph-packed chunks, summarized chunk by chunk, and combined into one
// final summary. HTML sources go through readability extraction, markdown
// sources chunk on goldmark block boundaries, and .pdf sources are read
// with ledongthuc/pdf.
package summarize

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/sandbox"
	"github.com/etjones22/workshop/internal/webtools"
)

// Style controls the summary's shape.
type Style string

const (
	StyleBrief    Style = "brief"
	StyleDetailed Style = "detailed"
	StyleBullets  Style = "bullets"
)

// SourceType discriminates where Source resolved from.
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceURL  SourceType = "url"
)

const (
	defaultMaxChars = 60000
	chunkSize       = 12000
	summaryTemp     = 0.1
)

// Request is the input to Summarize.
type Request struct {
	Source   string
	Style    Style
	Focus    string
	MaxChars int
}

// Response is the output of Summarize. Any failure is reported in Error
// rather than as a returned error; no stage-specific failure escapes.
type Response struct {
	Source     string     `json:"source"`
	SourceType SourceType `json:"sourceType"`
	Title      string     `json:"title,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	Style      Style      `json:"style"`
	Focus      string     `json:"focus,omitempty"`
	Truncated  bool       `json:"truncated"`
	ChunkCount int        `json:"chunkCount"`
	TextChars  int        `json:"textChars"`
	Error      string     `json:"error,omitempty"`
}

var urlRe = regexp.MustCompile(`^https?://`)

// Summarizer binds the document summarizer to its collaborators.
type Summarizer struct {
	client *chatprovider.Client
	model  string
	web    *webtools.Tools
	root   sandbox.Root
}

// New builds a Summarizer bound to one chat client, web tool set, and
// sandbox root.
func New(client *chatprovider.Client, model string, web *webtools.Tools, root sandbox.Root) *Summarizer {
	return &Summarizer{client: client, model: model, web: web, root: root}
}

// Summarize runs the full load/normalize/chunk/map/reduce pipeline.
func (s *Summarizer) Summarize(ctx context.Context, req Request) Response {
	if req.Style == "" {
		req.Style = StyleBrief
	}
	if req.MaxChars <= 0 {
		req.MaxChars = defaultMaxChars
	}

	resp := Response{Source: req.Source, Style: req.Style, Focus: req.Focus}

	sourceType := SourceFile
	if urlRe.MatchString(req.Source) {
		sourceType = SourceURL
	}
	resp.SourceType = sourceType

	raw, title, err := s.load(ctx, req.Source, sourceType, req.MaxChars)
	if err != nil {
		resp.Error = fmt.Sprintf("load: %v", err)
		return resp
	}
	resp.Title = title

	truncated := false
	if len(raw) > req.MaxChars {
		raw = raw[:req.MaxChars]
		truncated = true
	}
	resp.Truncated = truncated

	normalized := normalizeWhitespace(raw)
	resp.TextChars = len(normalized)

	chunks := s.chunk(req.Source, normalized)
	resp.ChunkCount = len(chunks)
	if len(chunks) == 0 {
		resp.Error = "load: document is empty"
		return resp
	}

	chunkSummaries := make([]string, 0, len(chunks))
	for i, c := range chunks {
		summary, err := s.summarizeChunk(ctx, c, req.Style, req.Focus)
		if err != nil {
			resp.Error = fmt.Sprintf("summarize chunk %d/%d: %v", i+1, len(chunks), err)
			return resp
		}
		chunkSummaries = append(chunkSummaries, summary)
	}

	if len(chunkSummaries) == 1 {
		resp.Summary = chunkSummaries[0]
		return resp
	}

	combined, err := s.combine(ctx, chunkSummaries, req.Style, req.Focus)
	if err != nil {
		resp.Error = fmt.Sprintf("combine: %v", err)
		return resp
	}
	resp.Summary = combined
	return resp
}

// load resolves source to its raw text. URL sources fetch one char past
// maxChars so the caller's truncation check can still observe overflow and
// set the truncated flag.
func (s *Summarizer) load(ctx context.Context, source string, sourceType SourceType, maxChars int) (body, title string, err error) {
	if sourceType == SourceURL {
		fetched, err := s.web.Fetch(ctx, source, maxChars+1)
		if err != nil {
			return "", "", err
		}
		return fetched.Text, fetched.Title, nil
	}

	resolved, err := s.root.Resolve(source)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(resolved.Absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", convo.NewError(convo.ErrNotFound, fmt.Sprintf("no such file: %q", source))
		}
		return "", "", err
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".html", ".htm":
		t, ttl := extractLocalHTML(string(data))
		return t, ttl, nil
	case ".pdf":
		t, err := extractPDF(data)
		if err != nil {
			return "", "", fmt.Errorf("extract pdf: %w", err)
		}
		return t, "", nil
	default:
		return string(data), "", nil
	}
}

// extractLocalHTML runs go-readability over a local .html/.htm source.
// A local file has no absolute base URL to resolve relative links against,
// so readability runs against an empty base; it still extracts the article
// text, just without link resolution.
func extractLocalHTML(html string) (body, title string) {
	article, err := readability.FromReader(strings.NewReader(html), &url.URL{})
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.TextContent, article.Title
	}
	return tagStrip(html), ""
}

var tagStripRe = regexp.MustCompile(`<[^>]*>`)

func tagStrip(html string) string {
	return tagStripRe.ReplaceAllString(html, " ")
}

// normalizeWhitespace collapses CRLF, runs of tabs/spaces, and runs of
// three or more newlines.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = runSpaceTabRe.ReplaceAllString(s, " ")
	s = runNewlineRe.ReplaceAllString(s, "\n\n")
	return s
}

var (
	runSpaceTabRe = regexp.MustCompile(`[ \t]+`)
	runNewlineRe  = regexp.MustCompile(`\n{3,}`)
)

// chunk produces a single chunk when the whole document is short;
// otherwise it packs paragraphs greedily up to chunkSize, hard-slicing any
// paragraph that alone exceeds it. Markdown sources use goldmark's block
// AST to find paragraph boundaries more reliably than the blank-line
// heuristic; every other source type splits on blank lines.
func (s *Summarizer) chunk(sourcePath, body string) []string {
	if len(body) <= chunkSize {
		if body == "" {
			return nil
		}
		return []string{body}
	}

	var paragraphs []string
	if strings.ToLower(filepath.Ext(sourcePath)) == ".md" {
		paragraphs = markdownParagraphs(body)
	} else {
		paragraphs = splitOnBlankLines(body)
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, p := range paragraphs {
		if len(p) > chunkSize {
			flush()
			chunks = append(chunks, hardSlice(p, chunkSize)...)
			continue
		}
		if cur.Len()+len(p)+2 > chunkSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return chunks
}

func splitOnBlankLines(body string) []string {
	parts := strings.Split(body, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// markdownParagraphs walks the goldmark block AST and returns the source
// text spanned by each top-level block node, preserving document order.
func markdownParagraphs(md string) []string {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		seg := blockSegment(n, src)
		if strings.TrimSpace(seg) != "" {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return splitOnBlankLines(md)
	}
	return out
}

// blockSegment returns the source text spanned by n, including any
// children (a list or blockquote's own Lines() is empty; its text lives on
// descendant nodes), by taking the min start / max stop across the whole
// subtree's line segments.
func blockSegment(n ast.Node, src []byte) string {
	start, stop := -1, -1
	var walk func(ast.Node)
	walk = func(node ast.Node) {
		if lb, ok := node.(interface{ Lines() *text.Segments }); ok {
			lines := lb.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				if start == -1 || seg.Start < start {
					start = seg.Start
				}
				if seg.Stop > stop {
					stop = seg.Stop
				}
			}
		}
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)
	if start == -1 || stop > len(src) || start > stop {
		return ""
	}
	return string(src[start:stop])
}

func hardSlice(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

func styleInstruction(style Style) string {
	switch style {
	case StyleDetailed:
		return "Write short paragraphs covering the material in detail."
	case StyleBullets:
		return "Write 5 to 10 bullet points."
	default:
		return "Write 5 to 8 sentences."
	}
}

// summarizeChunk asks the provider for one chunk's summary.
func (s *Summarizer) summarizeChunk(ctx context.Context, chunkText string, style Style, focus string) (string, error) {
	system := "You are a precise summarizer. " + styleInstruction(style)
	if focus != "" {
		system += " Focus specifically on: " + focus + "."
	}

	req := chatprovider.Request{
		Model: s.model,
		Messages: []convo.Message{
			convo.NewText(convo.RoleSystem, system),
			convo.NewText(convo.RoleUser, chunkText),
		},
		ToolChoice:  chatprovider.ToolChoiceNone,
		Temperature: summaryTemp,
	}
	completion, err := s.client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", convo.NewError(convo.ErrProvider, "summarizer call returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Text()), nil
}

// combine reduces the per-chunk summaries into one.
func (s *Summarizer) combine(ctx context.Context, chunkSummaries []string, style Style, focus string) (string, error) {
	system := "You combine chunk summaries into one coherent summary of the whole document. " + styleInstruction(style)
	if focus != "" {
		system += " Focus specifically on: " + focus + "."
	}

	body := strings.Join(chunkSummaries, "\n\n---\n\n")
	req := chatprovider.Request{
		Model: s.model,
		Messages: []convo.Message{
			convo.NewText(convo.RoleSystem, system),
			convo.NewText(convo.RoleUser, body),
		},
		ToolChoice:  chatprovider.ToolChoiceNone,
		Temperature: summaryTemp,
	}
	completion, err := s.client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", convo.NewError(convo.ErrProvider, "combine call returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Text()), nil
}

// extractPDF pulls the plain text out of a .pdf source.
func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	var sb strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, readErr := plain.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
