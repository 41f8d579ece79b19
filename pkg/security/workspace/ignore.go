package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIgnorePatterns are always applied. They cover VCS metadata,
// dependency and virtualenv directories, caches and EvoCode's own state.
var DefaultIgnorePatterns = []string{
	".git/",
	"__pycache__/",
	"venv/",
	".venv/",
	"node_modules/",
	"vendor/",
	".evocode/",
	".evocode.lock",
	"*.pyc",
	".DS_Store",
}

// IgnoreFiles are read from the workspace root, in order.
var IgnoreFiles = []string{".gitignore", ".evocodeignore"}

type ignoreRule struct {
	pattern  string
	source   string
	matcher  glob.Glob
	negate   bool
	dirOnly  bool
	basename bool
}

// IgnoreMatcher matches workspace-relative paths against gitignore-style
// rules. The last matching rule wins, and a path inside an ignored
// directory is ignored regardless of later negations.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher builds a matcher from DefaultIgnorePatterns and the
// IgnoreFiles present in root.
func NewIgnoreMatcher(root string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	if err := m.AddPatterns("defaults", DefaultIgnorePatterns...); err != nil {
		return nil, err
	}

	for _, name := range IgnoreFiles {
		patterns, err := readPatterns(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		if err := m.AddPatterns(name, patterns...); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func readPatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return patterns, nil
}

// AddPatterns compiles and appends gitignore-style patterns. Blank lines
// and comments are skipped.
func (m *IgnoreMatcher) AddPatterns(source string, patterns ...string) error {
	for _, raw := range patterns {
		p := strings.TrimRight(raw, " \t\r")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		rule := ignoreRule{pattern: p, source: source}
		if strings.HasPrefix(p, "!") {
			rule.negate = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			rule.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		if strings.HasPrefix(p, "/") {
			p = strings.TrimPrefix(p, "/")
		} else if !strings.Contains(p, "/") {
			rule.basename = true
		}
		if p == "" {
			continue
		}

		g, err := glob.Compile(p, '/')
		if err != nil {
			return fmt.Errorf("invalid ignore pattern %q in %s: %w", raw, source, err)
		}
		rule.matcher = g
		m.rules = append(m.rules, rule)
	}
	return nil
}

// ShouldIgnore reports whether the workspace-relative relPath is ignored.
func (m *IgnoreMatcher) ShouldIgnore(relPath string, isDir bool) bool {
	relPath = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(relPath)), "./")
	if relPath == "." || relPath == "" {
		return false
	}

	parts := strings.Split(relPath, "/")
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		dir := i < len(parts) || isDir
		if m.matches(prefix, parts[i-1], dir) {
			return true
		}
	}
	return false
}

func (m *IgnoreMatcher) matches(path, name string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := path
		if r.basename {
			target = name
		}
		if r.matcher.Match(target) {
			ignored = !r.negate
		}
	}
	return ignored
}

// Patterns returns the raw patterns in evaluation order.
func (m *IgnoreMatcher) Patterns() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.pattern
	}
	return out
}
