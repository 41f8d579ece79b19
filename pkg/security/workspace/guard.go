// Package workspace enforces the repository boundary for agent file
// operations. Every path an agent names is resolved against the repository
// root and rejected if it escapes it, including through symlinks.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard enforces workspace boundary restrictions on file paths.
type Guard struct {
	workspaceDir  string         // Absolute, symlink-free path to the workspace root
	ignoreMatcher *IgnoreMatcher // Pattern matcher for ignore rules
}

// NewGuard creates a guard for the given directory. The directory is made
// absolute and its symlinks are evaluated. Ignore rules come from the
// built-in defaults, .gitignore and .evocodeignore at the root.
func NewGuard(workspaceDir string) (*Guard, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	absPath, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	info, err := os.Stat(evalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", evalPath)
	}

	ignoreMatcher, err := NewIgnoreMatcher(evalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ignore matcher: %w", err)
	}

	return &Guard{
		workspaceDir:  evalPath,
		ignoreMatcher: ignoreMatcher,
	}, nil
}

// ValidatePath checks that path resolves inside the workspace.
func (g *Guard) ValidatePath(path string) error {
	_, err := g.Resolve(path)
	return err
}

// Resolve validates path and returns its absolute form. Relative paths are
// taken relative to the workspace root.
func (g *Guard) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains a NUL byte")
	}

	resolved := g.ResolvePath(path)
	if !g.IsWithinWorkspace(resolved) {
		return "", fmt.Errorf("path '%s' is outside workspace boundaries", path)
	}
	return resolved, nil
}

// ResolvePath converts a relative or absolute path to a cleaned absolute
// path with symlinks resolved as far as the path exists. It performs no
// boundary check.
func (g *Guard) ResolvePath(path string) string {
	cleanPath := filepath.Clean(path)

	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		absPath = filepath.Join(g.workspaceDir, cleanPath)
	}

	return g.resolveSymlinks(filepath.Clean(absPath))
}

// IsWithinWorkspace reports whether absPath is the workspace itself or a
// descendant of it after symlink resolution.
func (g *Guard) IsWithinWorkspace(absPath string) bool {
	evalPath := g.resolveSymlinks(absPath)
	return evalPath == g.workspaceDir ||
		strings.HasPrefix(evalPath+string(filepath.Separator), g.workspaceDir+string(filepath.Separator))
}

// resolveSymlinks resolves symlinks in a path, handling non-existent paths
// by resolving the deepest existing ancestor and re-appending the rest.
func (g *Guard) resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	currentPath := path

	for {
		if resolved, err := filepath.EvalSymlinks(currentPath); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(currentPath)
		if dir == currentPath || dir == "." || dir == "/" {
			return path
		}

		components = append(components, filepath.Base(currentPath))
		currentPath = dir
	}
}

// WorkspaceDir returns the absolute path of the workspace directory.
func (g *Guard) WorkspaceDir() string {
	return g.workspaceDir
}

// MakeRelative converts an absolute path to a slash-separated path relative
// to the workspace. Returns an error if the path is not within the workspace.
func (g *Guard) MakeRelative(absPath string) (string, error) {
	if !g.IsWithinWorkspace(absPath) {
		return "", fmt.Errorf("path '%s' is not within workspace", absPath)
	}

	relPath, err := filepath.Rel(g.workspaceDir, g.resolveSymlinks(absPath))
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}

	return filepath.ToSlash(relPath), nil
}

// ShouldIgnore reports whether path matches an ignore rule. The path may be
// absolute or relative to the workspace. Paths outside the workspace are
// never reported as ignored; the boundary check rejects them elsewhere.
func (g *Guard) ShouldIgnore(path string) bool {
	absPath := path
	if !filepath.IsAbs(path) {
		absPath = filepath.Join(g.workspaceDir, path)
	}

	relPath, err := g.MakeRelative(absPath)
	if err != nil || relPath == "." {
		return false
	}

	isDir := false
	if info, err := os.Lstat(absPath); err == nil {
		isDir = info.IsDir()
	}

	return g.ignoreMatcher.ShouldIgnore(relPath, isDir)
}

// Ignore returns the guard's ignore matcher.
func (g *Guard) Ignore() *IgnoreMatcher {
	return g.ignoreMatcher
}
