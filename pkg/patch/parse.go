// Package patch parses unified diffs and applies them atomically.
//
// Hunks are located near their declared position with a bounded offset
// search, so line numbers that drifted by a few lines still apply while a
// hunk whose context is nowhere near its declared position is a conflict.
// Either every hunk applies or the target is left untouched.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidDiff is wrapped by every parse failure.
var ErrInvalidDiff = errors.New("invalid diff")

// Op is the kind of a hunk line.
type Op byte

const (
	OpContext Op = ' '
	OpDelete  Op = '-'
	OpInsert  Op = '+'
)

// Line is one body line of a hunk.
type Line struct {
	Op   Op
	Text string
}

// Hunk is one @@ section of a unified diff.
type Hunk struct {
	// OldStart is the 1-based first line of the old range, 0 for an
	// insertion at the top of the file. Anchored is false when the header
	// carried no line numbers.
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Anchored bool

	Lines []Line

	// NoNewlineOld and NoNewlineNew record "\ No newline at end of file"
	// markers for the last old and new line of the hunk.
	NoNewlineOld bool
	NoNewlineNew bool
}

// Old returns the lines the hunk expects to find.
func (h *Hunk) Old() []string {
	return h.side(OpDelete)
}

// New returns the lines the hunk leaves in place.
func (h *Hunk) New() []string {
	return h.side(OpInsert)
}

func (h *Hunk) side(op Op) []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l.Op == OpContext || l.Op == op {
			out = append(out, l.Text)
		}
	}
	return out
}

// Patch is a parsed single-file unified diff.
type Patch struct {
	OldPath string
	NewPath string
	Hunks   []*Hunk
}

// Creates reports whether the patch creates a new file.
func (p *Patch) Creates() bool {
	if p.OldPath == "/dev/null" {
		return true
	}
	return len(p.Hunks) == 1 && p.Hunks[0].Anchored && p.Hunks[0].OldStart == 0 && p.Hunks[0].OldLines == 0
}

// Stats returns the number of inserted and deleted lines.
func (p *Patch) Stats() (added, removed int) {
	for _, h := range p.Hunks {
		for _, l := range h.Lines {
			switch l.Op {
			case OpInsert:
				added++
			case OpDelete:
				removed++
			}
		}
	}
	return added, removed
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse parses unified diff text touching a single file.
//
// File headers are optional. A hunk header without line numbers ("@@ @@")
// yields an unanchored hunk. Blank lines inside a hunk are read as empty
// context lines.
func Parse(diff string) (*Patch, error) {
	diff = strings.ReplaceAll(diff, "\r\n", "\n")
	lines := strings.Split(diff, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	p := &Patch{}
	var cur *Hunk
	files := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			files++
			if files > 1 {
				return nil, fmt.Errorf("%w: patch touches more than one file", ErrInvalidDiff)
			}
			p.OldPath = headerPath(line[4:])
			p.NewPath = headerPath(lines[i+1][4:])
			i++
			finishHunk(cur)
			cur = nil
			continue
		case strings.HasPrefix(line, "@@"):
			finishHunk(cur)
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			p.Hunks = append(p.Hunks, h)
			cur = h
			continue
		}

		if cur == nil {
			// git preamble such as "diff --git" or "index" lines
			continue
		}

		switch {
		case line == "":
			cur.Lines = append(cur.Lines, Line{Op: OpContext})
		case line[0] == ' ' || line[0] == '-' || line[0] == '+':
			cur.Lines = append(cur.Lines, Line{Op: Op(line[0]), Text: line[1:]})
		case line[0] == '\\':
			if len(cur.Lines) == 0 {
				return nil, fmt.Errorf("%w: no-newline marker before any hunk line", ErrInvalidDiff)
			}
			switch cur.Lines[len(cur.Lines)-1].Op {
			case OpDelete:
				cur.NoNewlineOld = true
			case OpInsert:
				cur.NoNewlineNew = true
			default:
				cur.NoNewlineOld = true
				cur.NoNewlineNew = true
			}
		default:
			return nil, fmt.Errorf("%w: line %d %q is not a context, deletion or insertion line", ErrInvalidDiff, i+1, line)
		}
	}
	finishHunk(cur)

	if len(p.Hunks) == 0 {
		return nil, fmt.Errorf("%w: no hunks found", ErrInvalidDiff)
	}
	for i, h := range p.Hunks {
		if len(h.Lines) == 0 {
			return nil, fmt.Errorf("%w: hunk %d is empty", ErrInvalidDiff, i+1)
		}
	}
	return p, nil
}

func parseHunkHeader(line string) (*Hunk, error) {
	m := hunkHeader.FindStringSubmatch(line)
	if m == nil {
		if strings.TrimSpace(strings.Trim(line, "@")) == "" || strings.HasPrefix(line, "@@ @@") {
			return &Hunk{}, nil
		}
		return nil, fmt.Errorf("%w: malformed hunk header %q", ErrInvalidDiff, line)
	}
	h := &Hunk{Anchored: true, OldLines: 1, NewLines: 1}
	h.OldStart, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		h.OldLines, _ = strconv.Atoi(m[2])
	}
	h.NewStart, _ = strconv.Atoi(m[3])
	if m[4] != "" {
		h.NewLines, _ = strconv.Atoi(m[4])
	}
	return h, nil
}

// finishHunk drops trailing blank context lines beyond the declared old
// count; they come from the blank line that ends most generated diffs.
func finishHunk(h *Hunk) {
	if h == nil || !h.Anchored {
		return
	}
	for len(h.Old()) > h.OldLines && len(h.Lines) > 0 {
		last := h.Lines[len(h.Lines)-1]
		if last.Op != OpContext || last.Text != "" {
			return
		}
		h.Lines = h.Lines[:len(h.Lines)-1]
	}
}

func headerPath(s string) string {
	if tab := strings.IndexByte(s, '\t'); tab >= 0 {
		s = s[:tab]
	}
	s = strings.TrimSpace(s)
	if s == "/dev/null" {
		return s
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):]
		}
	}
	return s
}
