package coding

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/patch"
	"github.com/entrhq/evocode/pkg/security/workspace"
)

// WriteFileTool creates or overwrites files with workspace validation.
type WriteFileTool struct {
	guard       *workspace.Guard
	constraints *Constraints
}

// NewWriteFileTool creates a new WriteFileTool with workspace security.
// constraints may be nil.
func NewWriteFileTool(guard *workspace.Guard, constraints *Constraints) *WriteFileTool {
	return &WriteFileTool{
		guard:       guard,
		constraints: constraints,
	}
}

// Name returns the tool name.
func (t *WriteFileTool) Name() string {
	return "write_file"
}

// Description returns the tool description.
func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it if it doesn't exist or overwriting it if it does. " +
		"Parent directories are created as needed. Prefer apply_patch for small edits to existing files."
}

// Schema returns the JSON schema for the tool's input parameters.
func (t *WriteFileTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write, relative to the repository root",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Complete new content of the file",
			},
		},
		[]string{"path", "content"},
	)
}

// Execute writes content to the specified file.
func (t *WriteFileTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	var input struct {
		XMLName xml.Name `xml:"arguments"`
		Path    string   `xml:"path"`
		Content string   `xml:"content"`
	}

	if err := tools.UnmarshalXMLWithFallback(argsXML, &input); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if strings.TrimSpace(input.Path) == "" {
		return "", nil, fmt.Errorf("missing required parameter: path")
	}

	absPath, relPath, err := resolveWritable(t.guard, t.constraints, input.Path)
	if err != nil {
		return "", nil, err
	}

	var original string
	fileExists := false
	if info, statErr := os.Stat(absPath); statErr == nil {
		if info.IsDir() {
			return "", nil, fmt.Errorf("path is a directory: %s", input.Path)
		}
		data, readErr := os.ReadFile(absPath)
		if readErr != nil {
			return "", nil, fmt.Errorf("failed to read existing file: %w", readErr)
		}
		original = string(data)
		fileExists = true
	}

	if err := patch.WriteFile(absPath, []byte(input.Content)); err != nil {
		return "", nil, fmt.Errorf("failed to write file: %w", err)
	}

	changes := CalculateLineChanges(original, input.Content)

	var message string
	if fileExists {
		message = fmt.Sprintf("File '%s' overwritten successfully (+%d/-%d lines)",
			relPath, changes.LinesAdded, changes.LinesRemoved)
	} else {
		message = fmt.Sprintf("File '%s' created successfully (+%d lines)",
			relPath, changes.LinesAdded)
	}

	metadata := map[string]interface{}{
		tools.MetaFilePath:     relPath,
		tools.MetaFileAction:   "write",
		tools.MetaFileExists:   fileExists,
		tools.MetaLinesAdded:   changes.LinesAdded,
		tools.MetaLinesRemoved: changes.LinesRemoved,
		tools.MetaSizeBytes:    len(input.Content),
	}

	return message, metadata, nil
}

// IsLoopBreaking returns false as this tool doesn't break the agent loop.
func (t *WriteFileTool) IsLoopBreaking() bool {
	return false
}

// resolveWritable validates path for writing and returns its absolute and
// workspace-relative forms.
func resolveWritable(guard *workspace.Guard, constraints *Constraints, path string) (string, string, error) {
	absPath, err := guard.Resolve(path)
	if err != nil {
		return "", "", fmt.Errorf("invalid path: %w", err)
	}

	relPath, err := guard.MakeRelative(absPath)
	if err != nil {
		return "", "", fmt.Errorf("invalid path: %w", err)
	}
	if relPath == "." {
		return "", "", fmt.Errorf("invalid path: '%s' is the repository root", path)
	}

	if guard.ShouldIgnore(absPath) {
		return "", "", fmt.Errorf("invalid path: '%s' is ignored by .gitignore, .evocodeignore, or default patterns", relPath)
	}
	if err := constraints.CheckWrite(relPath); err != nil {
		return "", "", err
	}

	return absPath, relPath, nil
}
