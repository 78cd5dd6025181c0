package webtools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearchOptionsNormalizeDefaults(t *testing.T) {
	opts := SearchOptions{}.Normalize()
	if opts.Count != defaultCount {
		t.Errorf("Count = %d, want %d", opts.Count, defaultCount)
	}
	if opts.MaxChars != defaultMaxChars {
		t.Errorf("MaxChars = %d, want %d", opts.MaxChars, defaultMaxChars)
	}
	if opts.FetchCount != 3 {
		t.Errorf("FetchCount = %d, want 3 (min(3, default count))", opts.FetchCount)
	}
}

func TestSearchOptionsNormalizeFetchCountCap(t *testing.T) {
	opts := SearchOptions{Count: 2}.Normalize()
	if opts.FetchCount != 2 {
		t.Errorf("FetchCount = %d, want 2 (min(3, count))", opts.FetchCount)
	}
}

func TestParseDDGPage(t *testing.T) {
	page := `<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=x">Example Page</a>` +
		`<a class="result__snippet js-result-snippet" href="#">An example snippet.</a>`

	results := parseDDGPage(page, 5)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Title != "Example Page" {
		t.Errorf("Title = %q, want %q", results[0].Title, "Example Page")
	}
	if results[0].URL != "https://example.com/page" {
		t.Errorf("URL = %q, want unwrapped uddg target", results[0].URL)
	}
	if results[0].Snippet != "An example snippet." {
		t.Errorf("Snippet = %q", results[0].Snippet)
	}
}

func TestDecodeDDGRedirect(t *testing.T) {
	cases := map[string]string{
		"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%3Fb%3Dc&rut=x": "https://example.com/a?b=c",
		"https://example.com/direct": "https://example.com/direct",
		"": "",
	}
	for in, want := range cases {
		if got := decodeDDGRedirect(in); got != want {
			t.Errorf("decodeDDGRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Article</title></head><body><article><p>` +
			strings.Repeat("This is the readable body of the article. ", 20) +
			`</p></article></body></html>`))
	}))
	defer srv.Close()

	tools := New("")
	res, err := tools.Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.URL != srv.URL {
		t.Errorf("URL = %q, want %q", res.URL, srv.URL)
	}
	if !strings.Contains(res.Text, "readable body") {
		t.Errorf("Text = %q, want extracted article body", res.Text)
	}
}

func TestFetchTruncatesToMaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>` + strings.Repeat("word ", 5000) + `</p></body></html>`))
	}))
	defer srv.Close()

	tools := New("")
	res, err := tools.Fetch(context.Background(), srv.URL, 50)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Text) > 50 {
		t.Errorf("len(Text) = %d, want <= 50", len(res.Text))
	}
}

func TestNormalizeTextCollapsesWhitespace(t *testing.T) {
	in := "line one\r\n\r\n\r\nline   two\t\tend"
	out := normalizeText(in)
	if strings.Contains(out, "\r") {
		t.Errorf("normalizeText left a \\r: %q", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("normalizeText left 3+ consecutive newlines: %q", out)
	}
	if strings.Contains(out, "  ") {
		t.Errorf("normalizeText left a double space: %q", out)
	}
}
