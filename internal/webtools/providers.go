package webtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// braveProvider is the key-authenticated JSON search backend.
type braveProvider struct {
	apiKey string
	client *http.Client
}

func (p *braveProvider) Search(ctx context.Context, query string, count int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("brave: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("brave: parse response: %w", err)
	}

	out := make([]Result, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if len(out) >= count {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

// duckDuckGoProvider is the HTML-scraper search backend used when no
// search API key is configured.
type duckDuckGoProvider struct {
	client *http.Client
}

var (
	ddgResultRe  = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet[^"]*"[^>]*>(.*?)</a>`)
	markupRe     = regexp.MustCompile(`<[^>]+>`)
)

func (p *duckDuckGoProvider) Search(ctx context.Context, query string, count int) ([]Result, error) {
	searchURL := duckDuckGoSearch + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: read response: %w", err)
	}

	return parseDDGPage(string(body), count), nil
}

// parseDDGPage scrapes result anchors and snippets out of the HTML
// endpoint's markup.
func parseDDGPage(page string, count int) []Result {
	links := ddgResultRe.FindAllStringSubmatch(page, -1)
	snippets := ddgSnippetRe.FindAllStringSubmatch(page, -1)

	var out []Result
	for i, m := range links {
		if len(out) >= count {
			break
		}
		r := Result{
			Title: plainText(m[2]),
			URL:   decodeDDGRedirect(m[1]),
		}
		if i < len(snippets) {
			r.Snippet = plainText(snippets[i][1])
		}
		out = append(out, r)
	}
	return out
}

// decodeDDGRedirect unwraps the /l/?uddg=<escaped-target> redirect the
// endpoint puts around every result link, returning href unchanged when it
// isn't one.
func decodeDDGRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func plainText(markup string) string {
	return strings.TrimSpace(markupRe.ReplaceAllString(markup, ""))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
