package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/entrhq/evocode/pkg/llm/tokenizer"
	"github.com/entrhq/evocode/pkg/security/workspace"
)

// DefaultSnapshotInclude selects the files whose contents go into a
// project snapshot.
var DefaultSnapshotInclude = []string{"**/*.go", "**/*.py"}

// DefaultSnapshotMaxTokens bounds the size of a project snapshot.
const DefaultSnapshotMaxTokens = 60000

// snapshotSkipDirs are never descended into, whatever the ignore files say.
var snapshotSkipDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"node_modules": true,
}

// SnapshotOptions configures Snapshotter.
type SnapshotOptions struct {
	// Include holds glob patterns over slash-separated relative paths.
	// "**/" also matches files at the root.
	Include   []string
	MaxTokens int
}

// Snapshotter renders the structure and source of a workspace as text for
// the ideator and for QA retries.
type Snapshotter struct {
	guard     *workspace.Guard
	include   []glob.Glob
	maxTokens int
	tokenizer *tokenizer.Tokenizer
}

// NewSnapshotter compiles opts. tok may be nil, in which case sizes are
// estimated.
func NewSnapshotter(guard *workspace.Guard, opts SnapshotOptions, tok *tokenizer.Tokenizer) (*Snapshotter, error) {
	patterns := opts.Include
	if len(patterns) == 0 {
		patterns = DefaultSnapshotInclude
	}
	s := &Snapshotter{guard: guard, maxTokens: opts.MaxTokens, tokenizer: tok}
	if s.maxTokens <= 0 {
		s.maxTokens = DefaultSnapshotMaxTokens
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot pattern %q: %w", p, err)
		}
		s.include = append(s.include, g)
	}
	return s, nil
}

func (s *Snapshotter) matches(rel string) bool {
	for _, g := range s.include {
		if g.Match(rel) || g.Match("/"+rel) {
			return true
		}
	}
	return false
}

// Files returns the relative paths of the files a snapshot includes, sorted.
func (s *Snapshotter) Files() ([]string, error) {
	root := s.guard.WorkspaceDir()
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if snapshotSkipDirs[d.Name()] || s.guard.ShouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.guard.ShouldIgnore(path) {
			return nil
		}
		rel, err := s.guard.MakeRelative(path)
		if err != nil {
			return nil
		}
		if s.matches(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// Snapshot returns the project structure followed by every included file's
// content, cut to the token budget.
func (s *Snapshotter) Snapshot() (string, error) {
	files, err := s.Files()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "No relevant source files were found in the project.", nil
	}

	var b strings.Builder
	b.WriteString("Project structure:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\nFile contents:\n")
	root := s.guard.WorkspaceDir()
	for _, f := range files {
		fmt.Fprintf(&b, "\n# --- File: %s ---\n", f)
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f)))
		switch {
		case err != nil:
			fmt.Fprintf(&b, "# could not read file: %v\n", err)
		case !utf8.Valid(data):
			b.WriteString("# binary or non-UTF-8 file omitted\n")
		default:
			b.Write(data)
			if len(data) > 0 && data[len(data)-1] != '\n' {
				b.WriteByte('\n')
			}
		}
	}

	text, truncated := s.tokenizer.Truncate(b.String(), s.maxTokens)
	if truncated {
		pipelineLog.Warnf("Project snapshot truncated to %d tokens (%d files)", s.maxTokens, len(files))
		text += fmt.Sprintf("\n\n[snapshot truncated to %d tokens]\n", s.maxTokens)
	}
	return text, nil
}
