// Package patch implements the two patch dialects the agent loop can apply
// to the sandboxed workspace: the envelope dialect and the unified-diff
// dialect. Both dialects route every path through internal/sandbox before
// any file is touched.
package patch

import (
	"fmt"
	"os"
	"strings"

	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/fsops"
)

// Result is the outcome of Apply.
type Result struct {
	Applied      bool     `json:"applied"`
	Summary      string   `json:"summary"`
	ChangedFiles []string `json:"changedFiles"`
}

const (
	beginMarker = "*** Begin Patch"
	endMarker   = "*** End Patch"
	addPrefix   = "*** Add File: "
	updPrefix   = "*** Update File: "
	delPrefix   = "*** Delete File: "
)

// Apply sniffs patchText's dialect and applies it against ops' workspace.
// Operations run sequentially with no rollback: a failure mid-batch leaves
// the earlier operations in place, and the returned Result records the files
// changed before the failure alongside the error.
func Apply(ops *fsops.Ops, patchText string) (Result, error) {
	switch {
	case looksLikeEnvelope(patchText):
		return applyEnvelope(ops, patchText)
	case looksLikeUnifiedDiff(patchText):
		return applyUnifiedDiff(ops, patchText)
	default:
		return Result{Applied: false, Summary: "Unrecognized patch format"}, nil
	}
}

func looksLikeEnvelope(text string) bool {
	return strings.Contains(text, beginMarker)
}

func looksLikeUnifiedDiff(text string) bool {
	return strings.Contains(text, "diff --git") ||
		strings.Contains(text, "--- ") ||
		strings.Contains(text, "+++ ")
}

// ---- envelope dialect ----

type envelopeOp struct {
	kind    string // "add", "update", "delete"
	path    string
	content string
}

func applyEnvelope(ops *fsops.Ops, patchText string) (Result, error) {
	lines := strings.Split(patchText, "\n")

	start, end := -1, -1
	for i, line := range lines {
		if strings.TrimRight(line, "\r") == beginMarker {
			start = i
		}
		if strings.TrimRight(line, "\r") == endMarker {
			end = i
			break
		}
	}
	if start == -1 || end == -1 || end <= start {
		return Result{}, convo.NewError(convo.ErrInvalidInput, "envelope patch missing Begin/End markers")
	}

	envOps, err := parseEnvelopeOps(lines[start+1 : end])
	if err != nil {
		return Result{}, err
	}

	changed := make([]string, 0, len(envOps))
	for _, op := range envOps {
		if err := applyEnvelopeOp(ops, op); err != nil {
			return Result{
				Applied:      false,
				Summary:      fmt.Sprintf("failed at %q: %v", op.path, err),
				ChangedFiles: fsops.SplitList(changed),
			}, err
		}
		changed = append(changed, op.path)
	}

	return Result{
		Applied:      true,
		Summary:      fmt.Sprintf("applied %d operation(s)", len(envOps)),
		ChangedFiles: fsops.SplitList(changed),
	}, nil
}

func parseEnvelopeOps(body []string) ([]envelopeOp, error) {
	var ops []envelopeOp
	var current *envelopeOp
	var content []string

	flush := func() {
		if current != nil {
			current.content = strings.Join(content, "\n")
			ops = append(ops, *current)
		}
		current = nil
		content = nil
	}

	for _, raw := range body {
		line := strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(line, addPrefix):
			flush()
			path := strings.TrimSpace(strings.TrimPrefix(line, addPrefix))
			current = &envelopeOp{kind: "add", path: path}
		case strings.HasPrefix(line, updPrefix):
			flush()
			path := strings.TrimSpace(strings.TrimPrefix(line, updPrefix))
			current = &envelopeOp{kind: "update", path: path}
		case strings.HasPrefix(line, delPrefix):
			flush()
			path := strings.TrimSpace(strings.TrimPrefix(line, delPrefix))
			ops = append(ops, envelopeOp{kind: "delete", path: path})
		case strings.HasPrefix(line, "*** "):
			return nil, convo.NewError(convo.ErrInvalidInput, fmt.Sprintf("unrecognized directive: %q", line))
		default:
			if current == nil {
				if strings.TrimSpace(line) == "" {
					continue
				}
				return nil, convo.NewError(convo.ErrInvalidInput, fmt.Sprintf("content line %q outside any directive", line))
			}
			content = append(content, line)
		}
	}
	flush()
	return ops, nil
}

func applyEnvelopeOp(ops *fsops.Ops, op envelopeOp) error {
	root := ops.Root()
	resolved, err := root.Resolve(op.path)
	if err != nil {
		return err
	}

	switch op.kind {
	case "add":
		if _, statErr := os.Stat(resolved.Absolute); statErr == nil {
			return convo.NewError(convo.ErrExists, fmt.Sprintf("%q already exists", op.path))
		}
		_, err := ops.Write(op.path, op.content, false)
		return err
	case "update":
		if _, statErr := os.Stat(resolved.Absolute); statErr != nil {
			return convo.NewError(convo.ErrNotFound, fmt.Sprintf("%q does not exist", op.path))
		}
		_, err := ops.Write(op.path, op.content, true)
		return err
	case "delete":
		if _, statErr := os.Stat(resolved.Absolute); statErr != nil {
			return convo.NewError(convo.ErrNotFound, fmt.Sprintf("%q does not exist", op.path))
		}
		if err := os.Remove(resolved.Absolute); err != nil {
			return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("delete %q: %w", op.path, err))
		}
		return nil
	default:
		return convo.NewError(convo.ErrInvalidInput, fmt.Sprintf("unrecognized directive for %q", op.path))
	}
}
