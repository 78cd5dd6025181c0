package summarize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/sandbox"
	"github.com/etjones22/workshop/internal/webtools"
)

func mustRoot(t *testing.T) sandbox.Root {
	t.Helper()
	root, err := sandbox.EnsureRoot(t.TempDir())
	if err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	return root
}

// fakeChatServer returns a chat-completions stub echoing a fixed summary
// string, so Summarize can be exercised without a real provider.
func fakeChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + reply + `"}}]}`))
	}))
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "a\r\nb\n\n\n\nc   d\t\te"
	out := normalizeWhitespace(in)
	if strings.Contains(out, "\r") {
		t.Errorf("normalizeWhitespace left a \\r: %q", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("normalizeWhitespace left 3+ newlines: %q", out)
	}
}

func TestChunkSingleChunkUnderLimit(t *testing.T) {
	s := &Summarizer{}
	chunks := s.chunk("notes.txt", "short document")
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
}

func TestChunkEmptyYieldsNoChunks(t *testing.T) {
	s := &Summarizer{}
	if chunks := s.chunk("notes.txt", ""); chunks != nil {
		t.Errorf("chunk(\"\") = %v, want nil", chunks)
	}
}

func TestChunkPacksParagraphsGreedily(t *testing.T) {
	s := &Summarizer{}
	para := strings.Repeat("word ", 2000) // ~10000 chars, under chunkSize alone
	body := strings.Join([]string{para, para, para}, "\n\n")
	chunks := s.chunk("notes.txt", body)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2 for input exceeding chunkSize", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > chunkSize {
			t.Errorf("chunk length %d exceeds chunkSize %d", len(c), chunkSize)
		}
	}
}

func TestChunkHardSlicesOversizedParagraph(t *testing.T) {
	s := &Summarizer{}
	huge := strings.Repeat("x", chunkSize*2+500)
	chunks := s.chunk("notes.txt", huge)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2 for oversized paragraph", len(chunks))
	}
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total != len(huge) {
		t.Errorf("reassembled length = %d, want %d", total, len(huge))
	}
}

func TestMarkdownParagraphsSplitsOnBlocks(t *testing.T) {
	md := "# Title\n\nFirst paragraph.\n\nSecond paragraph.\n"
	paras := markdownParagraphs(md)
	if len(paras) < 2 {
		t.Fatalf("markdownParagraphs returned %d blocks, want >= 2", len(paras))
	}
}

func TestSummarizeLocalFileSingleChunk(t *testing.T) {
	root := mustRoot(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "doc.txt"), []byte("A short document about gophers."), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	srv := fakeChatServer(t, "Gophers are neat.")
	defer srv.Close()

	client := chatprovider.New(srv.URL, "test-key", 0)
	web := webtools.New("")
	s := New(client, "test-model", web, root)

	resp := s.Summarize(context.Background(), Request{Source: "doc.txt"})
	if resp.Error != "" {
		t.Fatalf("Summarize error: %s", resp.Error)
	}
	if resp.SourceType != SourceFile {
		t.Errorf("SourceType = %q, want %q", resp.SourceType, SourceFile)
	}
	if resp.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", resp.ChunkCount)
	}
	if resp.Summary != "Gophers are neat." {
		t.Errorf("Summary = %q", resp.Summary)
	}
}

func TestSummarizeMissingFileReportsError(t *testing.T) {
	root := mustRoot(t)
	client := chatprovider.New("http://unused.invalid", "", 0)
	web := webtools.New("")
	s := New(client, "test-model", web, root)

	resp := s.Summarize(context.Background(), Request{Source: "missing.txt"})
	if resp.Error == "" {
		t.Fatal("expected Error to be set for a missing file")
	}
}

func TestSummarizeURLSource(t *testing.T) {
	docSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Gophers</title></head><body><article><p>` +
			strings.Repeat("Gophers are great burrowing mammals. ", 10) +
			`</p></article></body></html>`))
	}))
	defer docSrv.Close()

	chatSrv := fakeChatServer(t, "Gophers burrow.")
	defer chatSrv.Close()

	root := mustRoot(t)
	client := chatprovider.New(chatSrv.URL, "test-key", 0)
	web := webtools.New("")
	s := New(client, "test-model", web, root)

	resp := s.Summarize(context.Background(), Request{Source: docSrv.URL})
	if resp.Error != "" {
		t.Fatalf("Summarize error: %s", resp.Error)
	}
	if resp.SourceType != SourceURL {
		t.Errorf("SourceType = %q, want %q", resp.SourceType, SourceURL)
	}
	if resp.Summary == "" {
		t.Error("expected a non-empty summary")
	}
}

func TestSummarizeURLSourceTruncatesAboveDefaultMax(t *testing.T) {
	long := strings.Repeat("gopher words in a long page ", 3000)
	docSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><article><p>` + long + `</p></article></body></html>`))
	}))
	defer docSrv.Close()

	chatSrv := fakeChatServer(t, "summary")
	defer chatSrv.Close()

	root := mustRoot(t)
	client := chatprovider.New(chatSrv.URL, "", 0)
	web := webtools.New("")
	s := New(client, "test-model", web, root)

	resp := s.Summarize(context.Background(), Request{Source: docSrv.URL, MaxChars: 70000})
	if resp.Error != "" {
		t.Fatalf("Summarize error: %s", resp.Error)
	}
	if !resp.Truncated {
		t.Error("expected Truncated = true for content above MaxChars")
	}
	if resp.TextChars <= 60000 {
		t.Errorf("TextChars = %d, want > 60000: content above the default cap must survive the fetch", resp.TextChars)
	}
}

func TestSummarizeTruncatesAtMaxChars(t *testing.T) {
	root := mustRoot(t)
	content := strings.Repeat("word ", 1000)
	if err := os.WriteFile(filepath.Join(root.Path(), "long.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	srv := fakeChatServer(t, "summary")
	defer srv.Close()

	client := chatprovider.New(srv.URL, "", 0)
	web := webtools.New("")
	s := New(client, "test-model", web, root)

	resp := s.Summarize(context.Background(), Request{Source: "long.txt", MaxChars: 100})
	if resp.Error != "" {
		t.Fatalf("Summarize error: %s", resp.Error)
	}
	if !resp.Truncated {
		t.Error("expected Truncated = true")
	}
}
