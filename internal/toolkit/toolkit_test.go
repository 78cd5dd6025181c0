package toolkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/etjones22/workshop/internal/fsops"
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

func TestBuildRegistersExpectedToolNames(t *testing.T) {
	root := mustRoot(t)
	tools := Build(root, fsops.NopRecorder{}, webtools.New(""), nil)

	want := []string{"fs_list", "fs_read", "fs_write", "fs_apply_patch", "web_search", "web_fetch", "doc_summarize"}
	got := make(map[string]bool, len(tools))
	for _, tl := range tools {
		got[tl.Def.Name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("missing tool %q in catalog", name)
		}
	}
}

func TestWriteThenReadToolRoundTrip(t *testing.T) {
	root := mustRoot(t)
	tools := Build(root, fsops.NopRecorder{}, webtools.New(""), nil)

	var writeHandler, readHandler func(context.Context, map[string]any) (string, error)
	for _, tl := range tools {
		switch tl.Def.Name {
		case "fs_write":
			writeHandler = tl.Handler
		case "fs_read":
			readHandler = tl.Handler
		}
	}

	out, err := writeHandler(context.Background(), map[string]any{"path": "a.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("fs_write: %v", err)
	}
	if out == "" {
		t.Fatal("fs_write returned empty result")
	}

	out, err = readHandler(context.Background(), map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("fs_read: %v", err)
	}
	if !contains(out, "hello") {
		t.Errorf("fs_read result %q does not contain written content", out)
	}

	if _, err := os.Stat(filepath.Join(root.Path(), "a.txt")); err != nil {
		t.Errorf("expected a.txt to exist on disk: %v", err)
	}
}

func TestDocSummarizeToolRejectsNilSummarizer(t *testing.T) {
	root := mustRoot(t)
	tools := Build(root, fsops.NopRecorder{}, webtools.New(""), nil)

	for _, tl := range tools {
		if tl.Def.Name != "doc_summarize" {
			continue
		}
		if _, err := tl.Handler(context.Background(), map[string]any{"source": "x.txt"}); err == nil {
			t.Error("expected an error when no summarizer is configured")
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
