package patch

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/fsops"
)

// hunk is one @@ -l,s +l,s @@ block with its body lines, each still carrying
// its leading ' ', '+', or '-' marker.
type hunk struct {
	oldStart int
	lines    []string
}

func applyUnifiedDiff(ops *fsops.Ops, patchText string) (Result, error) {
	files := splitFilePatches(patchText)
	if len(files) == 0 {
		return Result{Applied: false, Summary: "Unrecognized patch format"}, nil
	}

	changed := make([]string, 0, len(files))
	for _, fp := range files {
		if err := applyFilePatch(ops, fp); err != nil {
			return Result{
				Applied:      false,
				Summary:      fmt.Sprintf("failed at %q: %v", fp.target, err),
				ChangedFiles: fsops.SplitList(changed),
			}, err
		}
		changed = append(changed, fp.target)
	}

	return Result{
		Applied:      true,
		Summary:      fmt.Sprintf("applied %d file patch(es)", len(files)),
		ChangedFiles: fsops.SplitList(changed),
	}, nil
}

type filePatch struct {
	target string
	delete bool
	hunks  []hunk
}

// splitFilePatches breaks a (possibly multi-file) unified diff into one
// filePatch per "--- "/"+++ " pair.
func splitFilePatches(text string) []filePatch {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var patches []filePatch
	var oldSide, newSide string
	var cur *filePatch

	flush := func() {
		if cur != nil {
			patches = append(patches, *cur)
		}
		cur = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			flush()
			oldSide = strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			oldSide = stripTimestamp(oldSide)
		case strings.HasPrefix(line, "+++ "):
			newSide = strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			newSide = stripTimestamp(newSide)

			target := newSide
			del := false
			if target == "/dev/null" {
				target = oldSide
				del = true
			}
			if target == "" {
				target = oldSide
			}
			target = strings.TrimPrefix(target, "a/")
			target = strings.TrimPrefix(target, "b/")
			cur = &filePatch{target: target, delete: del}
		case strings.HasPrefix(line, "@@"):
			oldStart, body, consumed := parseHunk(lines, i)
			if cur != nil {
				cur.hunks = append(cur.hunks, hunk{oldStart: oldStart, lines: body})
			}
			i += consumed - 1
		}
	}
	flush()
	return patches
}

func stripTimestamp(side string) string {
	if i := strings.Index(side, "\t"); i >= 0 {
		return side[:i]
	}
	return side
}

// parseHunk reads the @@ header at lines[i] and the body lines that follow
// until the next header or file marker, returning the old-file start line
// (1-based), the body lines (each still carrying its marker), and how many
// lines (including the header) were consumed.
func parseHunk(lines []string, i int) (oldStart int, body []string, consumed int) {
	header := lines[i]
	oldStart = 1
	parts := strings.Split(header, " ")
	for _, p := range parts {
		if strings.HasPrefix(p, "-") {
			spec := strings.TrimPrefix(p, "-")
			nums := strings.SplitN(spec, ",", 2)
			if n, err := strconv.Atoi(nums[0]); err == nil {
				oldStart = n
			}
			break
		}
	}

	consumed = 1
	for j := i + 1; j < len(lines); j++ {
		l := lines[j]
		if l == "" && j == len(lines)-1 {
			// The final "" is the artifact of splitting text that ends in
			// "\n", not a hunk line.
			break
		}
		if strings.HasPrefix(l, "@@") || strings.HasPrefix(l, "--- ") || strings.HasPrefix(l, "diff --git") {
			break
		}
		if l == `\ No newline at end of file` {
			consumed++
			continue
		}
		body = append(body, l)
		consumed++
	}
	return oldStart, body, consumed
}

func applyFilePatch(ops *fsops.Ops, fp filePatch) error {
	root := ops.Root()
	resolved, err := root.Resolve(fp.target)
	if err != nil {
		return err
	}

	if fp.delete {
		if _, statErr := os.Stat(resolved.Absolute); statErr != nil {
			return convo.NewError(convo.ErrNotFound, fmt.Sprintf("%q does not exist", fp.target))
		}
		if err := os.Remove(resolved.Absolute); err != nil {
			return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("delete %q: %w", fp.target, err))
		}
		return nil
	}

	var original string
	if data, readErr := os.ReadFile(resolved.Absolute); readErr == nil {
		original = string(data)
	} else if !os.IsNotExist(readErr) {
		return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("read %q: %w", fp.target, readErr))
	}

	result, err := applyHunks(original, fp.hunks)
	if err != nil {
		return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("apply hunks to %q: %w", fp.target, err))
	}

	_, err = ops.Write(fp.target, result, true)
	return err
}

// applyHunks applies each hunk's body against original's lines in order,
// using the hunk's old-file start line as a best-effort anchor and falling
// back to a content-based search so small line-number drift between hunks
// doesn't break the apply.
func applyHunks(original string, hunks []hunk) (string, error) {
	lines := splitKeepNone(original)
	cursor := 0

	lineDelta := 0 // accumulated (inserted - removed) lines from prior hunks

	for _, h := range hunks {
		anchor := h.oldStart - 1 + lineDelta
		if anchor < 0 {
			anchor = 0
		}
		pos, ok := locateHunk(lines, h, anchor, cursor)
		if !ok {
			return "", fmt.Errorf("hunk at line %d does not match file content", h.oldStart)
		}

		var out []string
		out = append(out, lines[:pos]...)

		consumed := 0
		inserted := 0
		for _, bl := range h.lines {
			if len(bl) == 0 {
				consumed++
				continue
			}
			switch bl[0] {
			case ' ':
				out = append(out, bl[1:])
				consumed++
			case '-':
				consumed++
			case '+':
				out = append(out, bl[1:])
				inserted++
			default:
				out = append(out, bl)
				consumed++
			}
		}

		out = append(out, lines[pos+consumed:]...)

		lineDelta += inserted - (consumed - countContext(h.lines))
		cursor = pos + inserted + countContext(h.lines)
		lines = out
	}

	return strings.Join(lines, "\n"), nil
}

// countContext counts the unchanged (' '-prefixed) lines in a hunk body.
func countContext(body []string) int {
	n := 0
	for _, bl := range body {
		if len(bl) > 0 && bl[0] == ' ' {
			n++
		}
	}
	return n
}

// locateHunk finds where in lines the hunk's context/removed lines actually
// match, starting the search at anchor and never moving before minPos.
func locateHunk(lines []string, h hunk, anchor, minPos int) (int, bool) {
	var want []string
	for _, bl := range h.lines {
		if len(bl) == 0 {
			continue
		}
		if bl[0] == ' ' || bl[0] == '-' {
			want = append(want, bl[1:])
		}
	}
	if len(want) == 0 {
		if anchor >= minPos && anchor <= len(lines) {
			return anchor, true
		}
		return minPos, true
	}

	if anchor < minPos {
		anchor = minPos
	}
	if matchesAt(lines, want, anchor) {
		return anchor, true
	}
	for offset := 1; offset < len(lines)+1; offset++ {
		if p := anchor + offset; p+len(want) <= len(lines) && matchesAt(lines, want, p) {
			return p, true
		}
		if p := anchor - offset; p >= minPos && matchesAt(lines, want, p) {
			return p, true
		}
	}
	return 0, false
}

func matchesAt(lines, want []string, pos int) bool {
	if pos < 0 || pos+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if lines[pos+i] != w {
			return false
		}
	}
	return true
}

// splitKeepNone splits text on "\n" the way strings.Split does; callers
// reassemble with strings.Join("\n") so a trailing empty element round-trips
// a final newline faithfully.
func splitKeepNone(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
