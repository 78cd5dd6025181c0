// Package sandbox canonicalizes and confines user-supplied paths under a
// workspace root. It is the single gatekeeper every
// filesystem-touching tool in internal/fsops and internal/summarize must
// call before any I/O.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/etjones22/workshop/internal/convo"
)

// Resolved is the result of resolving one input path against a Root.
type Resolved struct {
	// Absolute is the canonical absolute path on disk.
	Absolute string
	// RelativePosix is Absolute expressed relative to the root, using "/"
	// separators regardless of host platform.
	RelativePosix string
}

// Root is a realpath-resolved absolute workspace directory. All file
// operations performed against it are guaranteed to resolve to the root
// itself or a path beneath it.
type Root struct {
	real string
}

// EnsureRoot creates dir if missing and returns its canonical absolute path
// wrapped as a Root.
func EnsureRoot(dir string) (Root, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Root{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("ensure root %q: %w", dir, err))
	}
	real, err := realpath(dir)
	if err != nil {
		return Root{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("resolve root %q: %w", dir, err))
	}
	return Root{real: real}, nil
}

// Path returns the canonical absolute root directory.
func (r Root) Path() string { return r.real }

// Resolve validates and canonicalizes input against root. Input rules,
// checked first: no empty/whitespace input, no absolute paths, no
// drive-qualified paths, no UNC prefixes, and no platform-specific
// vocabulary leaking into the checks themselves.
func (r Root) Resolve(input string) (Resolved, error) {
	if strings.TrimSpace(input) == "" {
		return Resolved{}, convo.NewError(convo.ErrInvalidInput, "path is empty")
	}
	if hasDriveQualifier(input) {
		return Resolved{}, convo.NewError(convo.ErrInvalidInput, "path carries a drive qualifier")
	}
	if strings.HasPrefix(input, `\\`) {
		return Resolved{}, convo.NewError(convo.ErrInvalidInput, "path carries a UNC prefix")
	}
	if filepath.IsAbs(input) || strings.HasPrefix(input, "/") {
		return Resolved{}, convo.NewError(convo.ErrInvalidInput, "absolute paths are not allowed")
	}

	cleanedInput := filepath.Clean(filepath.FromSlash(input))
	joined := filepath.Join(r.real, cleanedInput)

	real, err := canonicalizeExistingOrAncestor(joined)
	if err != nil {
		return Resolved{}, convo.Wrap(convo.ErrInvalidInput, err)
	}

	rel, err := filepath.Rel(r.real, real)
	if err != nil {
		return Resolved{}, convo.Wrap(convo.ErrEscape, fmt.Errorf("path %q escapes workspace root", input))
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return Resolved{}, convo.NewError(convo.ErrEscape, fmt.Sprintf("path %q escapes workspace root", input))
	}

	if rel == "." {
		rel = ""
	}
	return Resolved{Absolute: real, RelativePosix: rel}, nil
}

// hasDriveQualifier reports whether input starts with a single letter
// followed by ":" (e.g. "C:"), without naming any platform.
func hasDriveQualifier(input string) bool {
	if len(input) < 2 || input[1] != ':' {
		return false
	}
	c := input[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// canonicalizeExistingOrAncestor resolves joined to its realpath if it
// exists; otherwise it walks up to the deepest existing ancestor and
// resolves that, so a new file inside an already-safe directory is
// permitted.
func canonicalizeExistingOrAncestor(joined string) (string, error) {
	if real, err := realpath(joined); err == nil {
		return real, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolve %q: %w", joined, err)
	}

	dir := filepath.Dir(joined)
	base := filepath.Base(joined)
	for {
		if real, err := realpath(dir); err == nil {
			return filepath.Join(real, base), nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve ancestor %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor found for %q", joined)
		}
		base = filepath.Join(filepath.Base(dir), base)
		dir = parent
	}
}

// realpath resolves symlinks and returns the absolute canonical path,
// requiring the target to exist.
func realpath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
