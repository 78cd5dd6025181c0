package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/etjones22/workshop/internal/fsops"
	"github.com/etjones22/workshop/internal/sandbox"
)

func mustOps(t *testing.T) (*fsops.Ops, sandbox.Root) {
	t.Helper()
	dir := t.TempDir()
	root, err := sandbox.EnsureRoot(dir)
	if err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	return fsops.New(root, nil), root
}

func TestApplyEnvelopePatch(t *testing.T) {
	ops, root := mustOps(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	patchText := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"hello world\n" +
		"*** Add File: b.txt\n" +
		"new file\n" +
		"*** Delete File: a.txt\n" +
		"*** End Patch"

	res, err := Apply(ops, patchText)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Applied {
		t.Fatalf("Applied = false, summary=%q", res.Summary)
	}

	if _, err := os.Stat(filepath.Join(root.Path(), "a.txt")); !os.IsNotExist(err) {
		t.Errorf("a.txt should no longer exist, stat err=%v", err)
	}
	b, err := os.ReadFile(filepath.Join(root.Path(), "b.txt"))
	if err != nil {
		t.Fatalf("read b.txt: %v", err)
	}
	if string(b) != "new file" {
		t.Errorf("b.txt = %q, want %q", string(b), "new file")
	}
}

func TestApplyEnvelopeAddExistingFails(t *testing.T) {
	ops, root := mustOps(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	patchText := "*** Begin Patch\n*** Add File: a.txt\nx\n*** End Patch"
	if _, err := Apply(ops, patchText); err == nil {
		t.Fatal("expected error adding an existing file")
	}
}

func TestApplyEnvelopeUpdateMissingFails(t *testing.T) {
	ops, _ := mustOps(t)
	patchText := "*** Begin Patch\n*** Update File: missing.txt\nx\n*** End Patch"
	if _, err := Apply(ops, patchText); err == nil {
		t.Fatal("expected error updating a missing file")
	}
}

func TestApplyEnvelopeUnknownDirectiveFails(t *testing.T) {
	ops, _ := mustOps(t)
	patchText := "*** Begin Patch\n*** Rename File: a.txt\n*** End Patch"
	if _, err := Apply(ops, patchText); err == nil {
		t.Fatal("expected error for unrecognized directive")
	}
}

func TestApplyEnvelopePartialFailureReportsChangedFiles(t *testing.T) {
	ops, root := mustOps(t)

	patchText := "*** Begin Patch\n" +
		"*** Add File: ok.txt\n" +
		"fine\n" +
		"*** Update File: missing.txt\n" +
		"never applied\n" +
		"*** End Patch"

	res, err := Apply(ops, patchText)
	if err == nil {
		t.Fatal("expected error for mid-batch failure")
	}
	if res.Applied {
		t.Error("Applied = true after a mid-batch failure")
	}
	if len(res.ChangedFiles) != 1 || res.ChangedFiles[0] != "ok.txt" {
		t.Errorf("ChangedFiles = %v, want [ok.txt]", res.ChangedFiles)
	}
	// No rollback: the add that succeeded before the failure stays applied.
	if _, err := os.Stat(filepath.Join(root.Path(), "ok.txt")); err != nil {
		t.Errorf("expected ok.txt to remain on disk: %v", err)
	}
}

func TestApplyUnifiedDiffReplacesLine(t *testing.T) {
	ops, root := mustOps(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "c.txt"), []byte("one\nTwo\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	patchText := "--- a/c.txt\n" +
		"+++ b/c.txt\n" +
		"@@ -1,2 +1,2 @@\n" +
		" one\n" +
		"-Two\n" +
		"+Three\n"

	res, err := Apply(ops, patchText)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Applied {
		t.Fatalf("Applied = false, summary=%q", res.Summary)
	}

	got, err := os.ReadFile(filepath.Join(root.Path(), "c.txt"))
	if err != nil {
		t.Fatalf("read c.txt: %v", err)
	}
	if string(got) != "one\nThree\n" {
		t.Errorf("c.txt = %q, want %q", string(got), "one\nThree\n")
	}
}

func TestApplyUnifiedDiffDeletesFile(t *testing.T) {
	ops, root := mustOps(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "d.txt"), []byte("bye\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	patchText := "--- a/d.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-bye\n"
	res, err := Apply(ops, patchText)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Applied {
		t.Fatalf("Applied = false, summary=%q", res.Summary)
	}
	if _, err := os.Stat(filepath.Join(root.Path(), "d.txt")); !os.IsNotExist(err) {
		t.Errorf("d.txt should no longer exist")
	}
}

func TestApplyUnrecognizedFormat(t *testing.T) {
	ops, _ := mustOps(t)
	res, err := Apply(ops, "just some random text")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied {
		t.Fatal("Applied = true for unrecognized text")
	}
	if res.Summary != "Unrecognized patch format" {
		t.Errorf("Summary = %q", res.Summary)
	}
}

func TestApplyAddThenDeleteRoundTrips(t *testing.T) {
	ops, root := mustOps(t)

	patchText := "*** Begin Patch\n*** Add File: tmp.txt\nscratch\n*** End Patch"
	if _, err := Apply(ops, patchText); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root.Path(), "tmp.txt")); err != nil {
		t.Fatalf("expected tmp.txt to exist: %v", err)
	}

	patchText = "*** Begin Patch\n*** Delete File: tmp.txt\n*** End Patch"
	if _, err := Apply(ops, patchText); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root.Path(), "tmp.txt")); !os.IsNotExist(err) {
		t.Errorf("expected tmp.txt to be gone")
	}
}
