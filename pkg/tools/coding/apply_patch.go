package coding

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/patch"
	"github.com/entrhq/evocode/pkg/security/workspace"
)

// ApplyPatchTool applies a unified diff to one file through pkg/patch.
// The file is left untouched when any hunk fails to apply.
type ApplyPatchTool struct {
	guard       *workspace.Guard
	constraints *Constraints
	opts        patch.Options
}

// NewApplyPatchTool creates a new ApplyPatchTool. constraints may be nil.
func NewApplyPatchTool(guard *workspace.Guard, constraints *Constraints, opts patch.Options) *ApplyPatchTool {
	return &ApplyPatchTool{
		guard:       guard,
		constraints: constraints,
		opts:        opts,
	}
}

func (t *ApplyPatchTool) Name() string {
	return "apply_patch"
}

func (t *ApplyPatchTool) Description() string {
	return "Apply a unified diff to a single file. All hunks apply or none do; " +
		"on a conflict the file is unchanged and the mismatching lines are reported."
}

func (t *ApplyPatchTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to patch, relative to the repository root",
			},
			"diff": map[string]interface{}{
				"type":        "string",
				"description": "Unified diff with @@ hunks for this file",
			},
		},
		[]string{"path", "diff"},
	)
}

func (t *ApplyPatchTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	var input struct {
		XMLName xml.Name `xml:"arguments"`
		Path    string   `xml:"path"`
		Diff    string   `xml:"diff"`
	}

	if err := tools.UnmarshalXMLWithFallback(argsXML, &input); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if strings.TrimSpace(input.Path) == "" {
		return "", nil, fmt.Errorf("missing required parameter: path")
	}
	if strings.TrimSpace(input.Diff) == "" {
		return "", nil, fmt.Errorf("missing required parameter: diff")
	}

	absPath, relPath, err := resolveWritable(t.guard, t.constraints, input.Path)
	if err != nil {
		return "", nil, err
	}

	// Not an interruption point: once started the patch completes or fails whole.
	res, err := patch.ApplyFile(absPath, input.Diff, t.opts)
	if err != nil {
		var conflict *patch.ConflictError
		if errors.As(err, &conflict) {
			conflict.Path = relPath
			return "", nil, conflict
		}
		return "", nil, fmt.Errorf("failed to apply patch to '%s': %w", relPath, err)
	}

	verb := "Patched"
	if res.Created {
		verb = "Created"
	}
	message := fmt.Sprintf("%s '%s' (+%d/-%d lines)", verb, relPath, res.LinesAdded, res.LinesRemoved)

	metadata := map[string]interface{}{
		tools.MetaFilePath:     relPath,
		tools.MetaFileAction:   "patch",
		tools.MetaFileExists:   !res.Created,
		tools.MetaLinesAdded:   res.LinesAdded,
		tools.MetaLinesRemoved: res.LinesRemoved,
		"diff":                 input.Diff,
	}

	return message, metadata, nil
}

func (t *ApplyPatchTool) IsLoopBreaking() bool {
	return false
}
