package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxOffset is how far from its declared position a hunk is searched for.
const DefaultMaxOffset = 3

// ConflictError reports a hunk whose expected lines were not found near its
// declared position. Nothing was written.
type ConflictError struct {
	Path string
	// Hunk is the 1-based index of the failing hunk.
	Hunk int
	// Line is the 1-based line where the hunk was expected.
	Line     int
	Expected []string
	Found    []string
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	target := e.Path
	if target == "" {
		target = "content"
	}
	fmt.Fprintf(&b, "patch conflict in %s: hunk %d does not match near line %d", target, e.Hunk, e.Line)
	b.WriteString("\nexpected:\n")
	writeBlock(&b, e.Expected)
	b.WriteString("found:\n")
	writeBlock(&b, e.Found)
	return b.String()
}

// Kind returns the error taxonomy name.
func (e *ConflictError) Kind() string { return "PatchConflictError" }

func writeBlock(b *strings.Builder, lines []string) {
	if len(lines) == 0 {
		b.WriteString("  (nothing)\n")
		return
	}
	for _, l := range lines {
		b.WriteString("  |")
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

// Options tune how hunks are located.
type Options struct {
	// MaxOffset bounds the search around a hunk's declared position.
	MaxOffset int
}

func (o Options) maxOffset() int {
	if o.MaxOffset < 0 {
		return 0
	}
	if o.MaxOffset == 0 {
		return DefaultMaxOffset
	}
	return o.MaxOffset
}

// text is file content split into lines.
type text struct {
	lines           []string
	trailingNewline bool
}

func splitText(content string) text {
	if content == "" {
		return text{}
	}
	t := text{trailingNewline: strings.HasSuffix(content, "\n")}
	content = strings.TrimSuffix(content, "\n")
	t.lines = strings.Split(content, "\n")
	return t
}

func (t text) String() string {
	if len(t.lines) == 0 {
		return ""
	}
	s := strings.Join(t.lines, "\n")
	if t.trailingNewline {
		s += "\n"
	}
	return s
}

// Apply applies every hunk of p to content in memory. On conflict the
// returned error is a *ConflictError and content is not used further.
func Apply(content string, p *Patch, opts Options) (string, error) {
	return apply("", content, p, opts)
}

func apply(path, content string, p *Patch, opts Options) (string, error) {
	src := splitText(content)
	crlf := strings.Contains(content, "\r\n")
	if crlf {
		src = splitText(strings.ReplaceAll(content, "\r\n", "\n"))
	}

	out := make([]string, 0, len(src.lines)+8)
	trailingNewline := src.trailingNewline || len(src.lines) == 0
	cursor := 0
	drift := 0

	for i, h := range p.Hunks {
		old := h.Old()
		declared := cursor
		if h.Anchored {
			declared = h.OldStart - 1
			if h.OldLines == 0 {
				declared = h.OldStart
			}
			declared += drift
		}

		pos, ok := locate(src.lines, old, declared, cursor, h.Anchored, opts.maxOffset())
		if !ok {
			return "", conflict(path, i+1, declared, old, src.lines)
		}

		out = append(out, src.lines[cursor:pos]...)
		out = append(out, h.New()...)
		cursor = pos + len(old)
		if h.Anchored {
			drift += pos - declared
		}

		if cursor == len(src.lines) {
			switch {
			case h.NoNewlineNew:
				trailingNewline = false
			case h.NoNewlineOld:
				trailingNewline = true
			}
		}
	}
	out = append(out, src.lines[cursor:]...)

	result := text{lines: out, trailingNewline: trailingNewline}.String()
	if crlf {
		result = strings.ReplaceAll(result, "\n", "\r\n")
	}
	return result, nil
}

// locate finds where old occurs, trying the declared position first and
// then positions up to maxOffset lines away, nearest first. An exact match
// anywhere in range wins over a match that ignores trailing whitespace.
// Unanchored hunks are searched forward from cursor through the whole file.
func locate(lines, old []string, declared, cursor int, anchored bool, maxOffset int) (int, bool) {
	var candidates []int
	if anchored {
		candidates = append(candidates, declared)
		for d := 1; d <= maxOffset; d++ {
			candidates = append(candidates, declared-d, declared+d)
		}
	} else {
		for p := cursor; p <= len(lines); p++ {
			candidates = append(candidates, p)
		}
	}

	for _, eq := range []func(a, b string) bool{exactEqual, looseEqual} {
		for _, p := range candidates {
			if p < cursor || p+len(old) > len(lines) {
				continue
			}
			if matchAt(lines, old, p, eq) {
				return p, true
			}
		}
	}
	return 0, false
}

func matchAt(lines, old []string, pos int, eq func(a, b string) bool) bool {
	for j, want := range old {
		if !eq(lines[pos+j], want) {
			return false
		}
	}
	return true
}

func exactEqual(a, b string) bool { return a == b }

func looseEqual(a, b string) bool {
	return strings.TrimRight(a, " \t") == strings.TrimRight(b, " \t")
}

func conflict(path string, hunk, declared int, old, lines []string) *ConflictError {
	start := declared
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := start + len(old)
	if end > len(lines) {
		end = len(lines)
	}
	found := append([]string(nil), lines[start:end]...)
	return &ConflictError{
		Path:     path,
		Hunk:     hunk,
		Line:     start + 1,
		Expected: old,
		Found:    found,
	}
}

// Result describes a patch written to disk.
type Result struct {
	Path         string
	LinesAdded   int
	LinesRemoved int
	Created      bool
}

// ApplyFile parses diff and applies it to the file at path. The file is
// rewritten once, through a temporary file and rename, only after every
// hunk applied. A missing file is treated as empty when the diff creates it.
func ApplyFile(path, diff string, opts Options) (*Result, error) {
	p, err := Parse(diff)
	if err != nil {
		return nil, err
	}

	mode := os.FileMode(0644)
	content := ""
	created := false
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		content = string(data)
		if info, statErr := os.Stat(path); statErr == nil {
			mode = info.Mode().Perm()
		}
	case os.IsNotExist(err) && p.Creates():
		created = true
	case os.IsNotExist(err):
		return nil, fmt.Errorf("file does not exist: %s", path)
	default:
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	updated, err := apply(path, content, p, opts)
	if err != nil {
		return nil, err
	}

	if err := writeAtomic(path, []byte(updated), mode); err != nil {
		return nil, err
	}

	added, removed := p.Stats()
	return &Result{Path: path, LinesAdded: added, LinesRemoved: removed, Created: created}, nil
}

// writeAtomic writes data to a temp file in the target directory and renames it over path.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// WriteFile atomically replaces the content of path, creating parent
// directories as needed. An existing file keeps its permissions.
func WriteFile(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return writeAtomic(path, data, mode)
}
