// Package fsops implements the sandbox file tools exposed to the agent loop:
// list, read, write. Path safety is delegated entirely to
// internal/sandbox; this package only adds the shape and size limits a tool
// call needs on top of a resolved path.
package fsops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/sandbox"
)

// maxReadBytes caps how much of a single file read() returns, protecting the
// model's context window from an oversized file.
const maxReadBytes = 512 * 1024

// ignoredDirs keeps VCS/build noise out of directory listings so tool
// output doesn't flood the model's context.
var ignoredDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "venv": true,
	".venv": true, "env": true, "__pycache__": true, "dist": true,
	"build": true, ".idea": true, ".vscode": true,
}

// EntryType is the type discriminator for a list() entry.
type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"
)

// Entry is one line of a list() result.
type Entry struct {
	Name         string    `json:"name"`
	RelativePath string    `json:"relativePath"`
	Type         EntryType `json:"type"`
	Size         *int64    `json:"size,omitempty"`
}

// ReadResult is the result of read().
type ReadResult struct {
	RelativePath string `json:"relativePath"`
	Content      string `json:"content"`
}

// WriteResult is the result of write().
type WriteResult struct {
	RelativePath string `json:"relativePath"`
	BytesWritten int    `json:"bytesWritten"`
}

// Recorder observes every fsops call, independent of any durable log. It
// exists so a caller can surface live tool activity without re-reading the
// session log.
type Recorder interface {
	RecordFsop(op, relPath string, duration time.Duration, err error)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) RecordFsop(string, string, time.Duration, error) {}

// Ops is the sandbox file tool set bound to one workspace root.
type Ops struct {
	root     sandbox.Root
	recorder Recorder
}

// New binds a tool set to root. A nil recorder is replaced with NopRecorder.
func New(root sandbox.Root, recorder Recorder) *Ops {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Ops{root: root, recorder: recorder}
}

// List returns one directory level's worth of entries for path. An empty
// path lists the workspace root.
func (o *Ops) List(path string) (entries []Entry, err error) {
	start := time.Now()
	defer func() { o.recorder.RecordFsop("list", path, time.Since(start), err) }()

	if path == "" {
		path = "."
	}
	res, err := o.root.Resolve(path)
	if err != nil {
		return nil, err
	}

	dirEntries, readErr := os.ReadDir(res.Absolute)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, convo.NewError(convo.ErrNotFound, fmt.Sprintf("no such directory: %q", path))
		}
		return nil, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("list %q: %w", path, readErr))
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() && ignoredDirs[de.Name()] {
			continue
		}
		info, infoErr := de.Info()
		if infoErr != nil {
			continue
		}
		entryType := TypeFile
		if de.IsDir() {
			entryType = TypeDir
		}
		rel := de.Name()
		if res.RelativePosix != "" {
			rel = res.RelativePosix + "/" + rel
		}
		entry := Entry{Name: de.Name(), RelativePath: rel, Type: entryType}
		if !de.IsDir() {
			size := info.Size()
			entry.Size = &size
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Read returns the UTF-8 content of path.
func (o *Ops) Read(path string) (res ReadResult, err error) {
	start := time.Now()
	defer func() { o.recorder.RecordFsop("read", path, time.Since(start), err) }()

	resolved, err := o.root.Resolve(path)
	if err != nil {
		return ReadResult{}, err
	}

	f, openErr := os.Open(resolved.Absolute)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return ReadResult{}, convo.NewError(convo.ErrNotFound, fmt.Sprintf("no such file: %q", path))
		}
		return ReadResult{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("open %q: %w", path, openErr))
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return ReadResult{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("stat %q: %w", path, statErr))
	}
	if info.IsDir() {
		return ReadResult{}, convo.NewError(convo.ErrInvalidInput, fmt.Sprintf("%q is a directory", path))
	}

	data, readErr := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if readErr != nil {
		return ReadResult{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("read %q: %w", path, readErr))
	}
	if len(data) > maxReadBytes {
		return ReadResult{}, convo.NewError(convo.ErrInvalidInput, fmt.Sprintf("%q exceeds the %d byte read limit", path, maxReadBytes))
	}

	return ReadResult{RelativePath: resolved.RelativePosix, Content: string(data)}, nil
}

// Write creates or overwrites path with content.
// Missing ancestor directories are created; if the target already exists and
// overwrite is false, it fails with ErrExists.
func (o *Ops) Write(path, content string, overwrite bool) (res WriteResult, err error) {
	start := time.Now()
	defer func() { o.recorder.RecordFsop("write", path, time.Since(start), err) }()

	resolved, err := o.root.Resolve(path)
	if err != nil {
		return WriteResult{}, err
	}

	if !overwrite {
		if _, statErr := os.Stat(resolved.Absolute); statErr == nil {
			return WriteResult{}, convo.NewError(convo.ErrExists, fmt.Sprintf("%q already exists", path))
		} else if !os.IsNotExist(statErr) {
			return WriteResult{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("stat %q: %w", path, statErr))
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved.Absolute), 0o755); err != nil {
		return WriteResult{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("create ancestors for %q: %w", path, err))
	}

	if err := os.WriteFile(resolved.Absolute, []byte(content), 0o644); err != nil {
		return WriteResult{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("write %q: %w", path, err))
	}

	return WriteResult{RelativePath: resolved.RelativePosix, BytesWritten: len(content)}, nil
}

// Root exposes the bound workspace root, for callers (e.g. internal/patch)
// that need to resolve paths themselves while sharing the same containment.
func (o *Ops) Root() sandbox.Root { return o.root }

// SplitList is a small helper used by callers constructing a changedFiles
// summary from a set of resolved relative paths, keeping output order
// deterministic and de-duplicated.
func SplitList(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
