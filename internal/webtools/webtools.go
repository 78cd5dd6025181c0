// Package webtools implements the two web-facing agent tools: search and
// fetch. Search is a thin adapter over a provider-polymorphic search backend,
// selected by whether a search API key is configured; fetch is a plain HTTP
// GET followed by readable-text extraction.
//
// Fetched content is untrusted: callers must never forward it to a model as
// instructions, only as the narrow, clearly-delimited context a summarizer
// or search result consumes.
package webtools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	defaultCount     = 5
	defaultMaxChars  = 20000
	fetchTimeout     = 20 * time.Second
	searchTimeout    = 20 * time.Second
	userAgent        = "Mozilla/5.0 (compatible; workshop-agent/1.0)"
	braveSearchURL   = "https://api.search.brave.com/res/v1/web/search"
	duckDuckGoSearch = "https://html.duckduckgo.com/html/"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Fetched is one fetched-and-extracted document inlined into a search
// response when fetch=true.
type Fetched struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// SearchResponse is the result of Search.
type SearchResponse struct {
	Results []Result  `json:"results"`
	Fetched []Fetched `json:"fetched,omitempty"`
}

// FetchResponse is the result of Fetch.
type FetchResponse struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// SearchOptions carries search's optional parameters; Normalize applies
// the defaults.
type SearchOptions struct {
	Count      int
	Fetch      bool
	FetchCount int
	MaxChars   int
}

// Normalize fills in the documented defaults, including the
// fetchCount=min(3,count) default that applies whenever FetchCount was
// left at its zero value by the caller.
func (o SearchOptions) Normalize() SearchOptions {
	if o.Count <= 0 {
		o.Count = defaultCount
	}
	if o.MaxChars <= 0 {
		o.MaxChars = defaultMaxChars
	}
	if o.FetchCount <= 0 {
		o.FetchCount = min(3, o.Count)
	}
	return o
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// searchProvider abstracts the search backend. Two variants are recognized:
// a key-authenticated JSON API (Brave) and an HTML scraper over a public
// endpoint (DuckDuckGo). Selection is by presence of the key.
type searchProvider interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Tools binds the search/fetch tool set to one configuration.
type Tools struct {
	provider   searchProvider
	httpClient *http.Client
}

// New builds a Tools set. apiKey selects the Brave provider when non-empty;
// otherwise the DuckDuckGo HTML scraper is used.
func New(apiKey string) *Tools {
	client := &http.Client{Timeout: fetchTimeout}
	var provider searchProvider
	if apiKey != "" {
		provider = &braveProvider{apiKey: apiKey, client: &http.Client{Timeout: searchTimeout}}
	} else {
		provider = &duckDuckGoProvider{client: &http.Client{Timeout: searchTimeout}}
	}
	return &Tools{provider: provider, httpClient: client}
}

// Search runs a query against the configured backend. When opts.Fetch is
// true, up to opts.FetchCount of the top results are also retrieved via
// Fetch; per-result fetch failures are captured inline and never fail the
// call.
func (t *Tools) Search(ctx context.Context, query string, opts SearchOptions) (SearchResponse, error) {
	opts = opts.Normalize()

	results, err := t.provider.Search(ctx, query, opts.Count)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("webtools: search %q: %w", query, err)
	}

	resp := SearchResponse{Results: results}
	if !opts.Fetch || opts.FetchCount <= 0 {
		return resp, nil
	}

	n := opts.FetchCount
	if n > len(results) {
		n = len(results)
	}
	resp.Fetched = make([]Fetched, 0, n)
	for _, r := range results[:n] {
		doc, ferr := t.Fetch(ctx, r.URL, opts.MaxChars)
		if ferr != nil {
			resp.Fetched = append(resp.Fetched, Fetched{URL: r.URL, Title: r.Title, Text: "", Error: ferr.Error()})
			continue
		}
		resp.Fetched = append(resp.Fetched, Fetched{URL: doc.URL, Title: doc.Title, Text: doc.Text})
	}
	return resp, nil
}

// Fetch retrieves url and extracts readable text, normalized to
// single-spaced content and truncated to maxChars.
func (t *Tools) Fetch(ctx context.Context, rawURL string, maxChars int) (FetchResponse, error) {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return FetchResponse{}, fmt.Errorf("fetch %q: http %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return FetchResponse{}, fmt.Errorf("read %q: %w", rawURL, err)
	}

	title, text := extractReadable(rawURL, string(body))
	text = normalizeText(text)
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	return FetchResponse{URL: rawURL, Title: title, Text: text}, nil
}

// extractReadable runs go-readability over html, falling back to a crude
// tag-stripped text if extraction yields nothing usable.
func extractReadable(rawURL, html string) (title, text string) {
	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, article.TextContent
	}
	return "", stripTags(html)
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripTags(html string) string {
	return tagRe.ReplaceAllString(html, " ")
}

var (
	runWhitespaceRe = regexp.MustCompile(`[ \t]+`)
	runNewlineRe    = regexp.MustCompile(`\n{3,}`)
)

// normalizeText collapses runs of whitespace to single spaces and runs of
// blank lines to one, matching the summarizer's own normalization so
// fetched text is consistently shaped everywhere it's consumed.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = runWhitespaceRe.ReplaceAllString(s, " ")
	s = runNewlineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
