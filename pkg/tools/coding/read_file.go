package coding

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/security/workspace"
)

// maxReadBytes caps the size of a file read_file will return.
const maxReadBytes = 1 << 20

// ReadFileTool reads file contents with optional line range support.
type ReadFileTool struct {
	guard *workspace.Guard
}

// NewReadFileTool creates a new ReadFileTool with workspace security.
func NewReadFileTool(guard *workspace.Guard) *ReadFileTool {
	return &ReadFileTool{
		guard: guard,
	}
}

// Name returns the tool name.
func (t *ReadFileTool) Name() string {
	return "read_file"
}

// Description returns the tool description.
func (t *ReadFileTool) Description() string {
	return "Read a text file from the repository. Returns line-numbered content (\"12 | code\"); " +
		"the numbers are not part of the file."
}

// Schema returns the JSON schema for the tool's input parameters.
func (t *ReadFileTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read, relative to the repository root",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "Optional starting line number (1-based, inclusive)",
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "Optional ending line number (1-based, inclusive)",
			},
		},
		[]string{"path"},
	)
}

// Execute reads the file and returns its contents.
func (t *ReadFileTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	var input struct {
		XMLName   xml.Name `xml:"arguments"`
		Path      string   `xml:"path"`
		StartLine int      `xml:"start_line"`
		EndLine   int      `xml:"end_line"`
	}

	if err := tools.UnmarshalXMLWithFallback(argsXML, &input); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if strings.TrimSpace(input.Path) == "" {
		return "", nil, fmt.Errorf("missing required parameter: path")
	}

	absPath, err := t.guard.Resolve(input.Path)
	if err != nil {
		return "", nil, fmt.Errorf("invalid path: %w", err)
	}

	if t.guard.ShouldIgnore(absPath) {
		return "", nil, fmt.Errorf("file '%s' is ignored by .gitignore, .evocodeignore, or default patterns", input.Path)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("file not found: %s", input.Path)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("path is a directory, use list_files: %s", input.Path)
	}
	if info.Size() > maxReadBytes {
		return "", nil, fmt.Errorf("file '%s' is too large to read (%d bytes, limit %d)", input.Path, info.Size(), maxReadBytes)
	}

	content, err := readFileWithLineNumbers(absPath, input.StartLine, input.EndLine)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}
	if content == "" {
		content = fmt.Sprintf("File '%s' is empty", input.Path)
	}

	metadata := map[string]interface{}{
		tools.MetaFilePath:   input.Path,
		tools.MetaFileAction: "read",
		tools.MetaSizeBytes:  info.Size(),
	}
	if input.StartLine > 0 {
		metadata["start_line"] = input.StartLine
	}
	if input.EndLine > 0 {
		metadata["end_line"] = input.EndLine
	}

	return content, metadata, nil
}

// IsLoopBreaking returns false as this tool doesn't break the agent loop.
func (t *ReadFileTool) IsLoopBreaking() bool {
	return false
}

// IsReadOnly returns true; reads may run concurrently.
func (t *ReadFileTool) IsReadOnly() bool {
	return true
}

// readFileWithLineNumbers reads a file and returns its contents with line numbers.
// If startLine and endLine are both 0, reads the entire file.
// Line numbers are 1-based and inclusive.
func readFileWithLineNumbers(path string, startLine, endLine int) (string, error) {
	if err := validateLineRange(startLine, endLine); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}

	return formatLines(bytes.NewReader(data), startLine, endLine)
}

// validateLineRange validates the start and end line numbers.
func validateLineRange(startLine, endLine int) error {
	if startLine == 0 && endLine == 0 {
		return nil
	}
	if startLine < 1 {
		return fmt.Errorf("start_line must be >= 1, got %d", startLine)
	}
	if endLine < startLine && endLine != 0 {
		return fmt.Errorf("end_line (%d) must be >= start_line (%d)", endLine, startLine)
	}
	return nil
}

// formatLines formats lines as "N | text", limited to the given range.
func formatLines(r io.Reader, startLine, endLine int) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReadBytes)

	var builder strings.Builder
	lineNum := 0
	readAll := startLine == 0 && endLine == 0

	for scanner.Scan() {
		lineNum++

		if !readAll && lineNum < startLine {
			continue
		}
		if !readAll && endLine > 0 && lineNum > endLine {
			break
		}

		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("%d | %s", lineNum, strings.TrimSuffix(scanner.Text(), "\r")))
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	if builder.Len() == 0 && !readAll && startLine > lineNum {
		return "", fmt.Errorf("start_line %d exceeds file length (%d lines)", startLine, lineNum)
	}

	return builder.String(), nil
}
