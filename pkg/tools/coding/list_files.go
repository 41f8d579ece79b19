package coding

import (
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/security/workspace"
)

// hiddenNames are never listed, whatever the ignore files say.
var hiddenNames = map[string]bool{
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"node_modules": true,
}

// ListFilesTool lists workspace files and directories.
type ListFilesTool struct {
	guard *workspace.Guard
}

// NewListFilesTool creates a new ListFilesTool with workspace security.
func NewListFilesTool(guard *workspace.Guard) *ListFilesTool {
	return &ListFilesTool{
		guard: guard,
	}
}

func (t *ListFilesTool) Name() string {
	return "list_files"
}

func (t *ListFilesTool) Description() string {
	return "List files and directories under a path in the repository, directories first. " +
		"Hidden files, ignored paths and dependency directories are not shown."
}

func (t *ListFilesTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path relative to the repository root (default: the root)",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "List subdirectories recursively (default: false)",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob applied to file paths relative to the repository, e.g. '**/*_test.go'",
			},
		},
		nil,
	)
}

// Execute lists the entries of the requested directory.
func (t *ListFilesTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	var input struct {
		XMLName   xml.Name `xml:"arguments"`
		Path      string   `xml:"path"`
		Recursive bool     `xml:"recursive"`
		Pattern   string   `xml:"pattern"`
	}

	if err := tools.UnmarshalXMLWithFallback(argsXML, &input); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	absPath, err := t.guard.Resolve(input.Path)
	if err != nil {
		return "", nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("path does not exist: %s", input.Path)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("path is not a directory: %s", input.Path)
	}

	var matcher glob.Glob
	if input.Pattern != "" {
		matcher, err = glob.Compile(input.Pattern, '/')
		if err != nil {
			return "", nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}

	entries, err := t.list(ctx, absPath, input.Recursive, matcher)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list files: %w", err)
	}

	metadata := map[string]interface{}{
		tools.MetaFilePath:   input.Path,
		tools.MetaFileAction: "list",
		"recursive":          input.Recursive,
		"file_count":         len(entries),
	}
	if input.Pattern != "" {
		metadata["pattern"] = input.Pattern
	}

	return formatEntries(input.Path, entries), metadata, nil
}

func (t *ListFilesTool) IsLoopBreaking() bool {
	return false
}

func (t *ListFilesTool) IsReadOnly() bool {
	return true
}

// fileEntry is a listed path relative to the workspace.
type fileEntry struct {
	Path  string
	IsDir bool
}

func (t *ListFilesTool) list(ctx context.Context, root string, recursive bool, matcher glob.Glob) ([]fileEntry, error) {
	var result []fileEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if path == root {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") || hiddenNames[name] || t.guard.ShouldIgnore(path) ||
			!t.guard.IsWithinWorkspace(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := t.guard.MakeRelative(path)
		if relErr != nil {
			return nil
		}

		// With a pattern only matching files are listed.
		switch {
		case d.IsDir():
			if matcher == nil {
				result = append(result, fileEntry{Path: rel, IsDir: true})
			}
		case matcher == nil || matcher.Match(rel):
			result = append(result, fileEntry{Path: rel})
		}

		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})

	return result, err
}

// formatEntries renders entries directories first, then by path.
func formatEntries(dir string, entries []fileEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No files found in '%s'", dir)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Path < entries[j].Path
	})

	var builder strings.Builder
	var files, dirs int
	for _, e := range entries {
		if e.IsDir {
			builder.WriteString(e.Path + "/\n")
			dirs++
		} else {
			builder.WriteString(e.Path + "\n")
			files++
		}
	}
	builder.WriteString(fmt.Sprintf("\nTotal: %d files, %d directories", files, dirs))

	return builder.String()
}
