package headless

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/evocode/pkg/pipeline"
)

// CycleReport is everything recorded about one cycle.
type CycleReport struct {
	Cycle         int                   `json:"cycle"`
	Run           *pipeline.PipelineRun `json:"run"`
	FilesModified []FileModification    `json:"files_modified"`
	FilesRead     []string              `json:"files_read,omitempty"`
	Metrics       ExecutionMetrics      `json:"metrics"`
	Git           *GitInfo              `json:"git,omitempty"`
}

// ExecutionMetrics counts model and tool activity in a cycle.
type ExecutionMetrics struct {
	ModelCalls        int `json:"model_calls"`
	PromptTokens      int `json:"prompt_tokens"`
	CompletionTokens  int `json:"completion_tokens"`
	ToolCalls         int `json:"tool_calls"`
	ToolErrors        int `json:"tool_errors"`
	NoToolCallTurns   int `json:"no_tool_call_turns"`
	TotalLinesAdded   int `json:"total_lines_added"`
	TotalLinesRemoved int `json:"total_lines_removed"`
}

// TokensUsed returns prompt plus completion tokens.
func (m ExecutionMetrics) TokensUsed() int {
	return m.PromptTokens + m.CompletionTokens
}

// GitInfo records what the executor did with git around the cycle.
type GitInfo struct {
	Checkpoint string `json:"checkpoint,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
	RolledBack bool   `json:"rolled_back,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ArtifactWriter writes execution.json and summary.md for each run into
// <outputDir>/<run id>/.
type ArtifactWriter struct {
	outputDir string
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string) *ArtifactWriter {
	return &ArtifactWriter{outputDir: outputDir}
}

// Dir returns the artifact directory of report.
func (w *ArtifactWriter) Dir(report *CycleReport) string {
	return filepath.Join(w.outputDir, report.Run.RunID)
}

// WriteAll writes every artifact of report and returns their directory.
func (w *ArtifactWriter) WriteAll(report *CycleReport) (string, error) {
	dir := w.Dir(report)
	if err := writeJSON(filepath.Join(dir, "execution.json"), report); err != nil {
		return "", fmt.Errorf("failed to write execution JSON: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "summary.md"), []byte(SummaryMarkdown(report))); err != nil {
		return "", fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return dir, nil
}

// SummaryMarkdown renders a human-readable summary of report.
func SummaryMarkdown(report *CycleReport) string {
	run := report.Run
	var md strings.Builder

	md.WriteString("# EvoCode Run Summary\n\n")
	fmt.Fprintf(&md, "**Run:** %s (cycle %d)\n\n", run.RunID, report.Cycle)
	fmt.Fprintf(&md, "**Repository:** %s\n\n", run.RepoPath)
	fmt.Fprintf(&md, "**Status:** %s\n\n", run.Status)
	fmt.Fprintf(&md, "**Final state:** %s\n\n", run.FinalState)
	if run.FailedStage != "" {
		fmt.Fprintf(&md, "**Failed in:** %s\n\n", run.FailedStage)
	}
	fmt.Fprintf(&md, "**Started:** %s\n\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Duration:** %s\n\n", run.Duration().Round(time.Millisecond))

	md.WriteString("## Result\n\n")
	if run.Succeeded() {
		md.WriteString("✅ **Success**\n\n")
	} else {
		fmt.Fprintf(&md, "❌ **%s:** %s\n\n", run.ErrorKind, run.ErrorMessage)
	}

	if run.Idea != nil {
		md.WriteString("## Idea\n\n")
		fmt.Fprintf(&md, "**%s** (%s)\n\n%s\n\n", run.Idea.Title, run.Idea.Type, run.Idea.Description)
	}
	if run.Plan != nil {
		md.WriteString("## Plan\n\n")
		md.WriteString(run.Plan.Description)
		md.WriteString("\n\n")
	}

	if run.CoderSummary != "" || run.QAVerdict != "" {
		md.WriteString("## Implementation\n\n")
		if run.CoderSummary != "" {
			fmt.Fprintf(&md, "- **Coder:** %s\n", run.CoderSummary)
		}
		if run.TestSummary != "" {
			fmt.Fprintf(&md, "- **Tests:** %s\n", run.TestSummary)
		}
		if run.QAVerdict != "" {
			fmt.Fprintf(&md, "- **QA:** %s - %s\n", run.QAVerdict, run.QAReason)
		}
		fmt.Fprintf(&md, "- **QA retries:** %d\n\n", run.RetryCount)
	}

	if run.CommitMessage != "" {
		md.WriteString("## Commit\n\n```\n")
		md.WriteString(run.CommitMessage)
		md.WriteString("\n```\n\n")
	}
	if report.Git != nil {
		switch {
		case report.Git.CommitHash != "":
			fmt.Fprintf(&md, "Committed as `%s`.\n\n", report.Git.CommitHash)
		case report.Git.RolledBack:
			fmt.Fprintf(&md, "Changes rolled back to `%s`.\n\n", report.Git.Checkpoint)
		}
		if report.Git.Error != "" {
			fmt.Fprintf(&md, "Git error: %s\n\n", report.Git.Error)
		}
	}

	if len(report.FilesModified) > 0 {
		md.WriteString("## Files Modified\n\n")
		for _, file := range report.FilesModified {
			fmt.Fprintf(&md, "- `%s` (+%d/-%d lines)\n", file.Path, file.LinesAdded, file.LinesRemoved)
		}
		md.WriteString("\n")
	}

	writeList(&md, "Deviations", run.Deviations)
	writeList(&md, "Notes", run.Notes)

	m := report.Metrics
	md.WriteString("## Metrics\n\n")
	fmt.Fprintf(&md, "- **Model calls:** %d\n", m.ModelCalls)
	fmt.Fprintf(&md, "- **Tokens used:** %d (prompt %d, completion %d)\n", m.TokensUsed(), m.PromptTokens, m.CompletionTokens)
	fmt.Fprintf(&md, "- **Tool calls:** %d (%d failed)\n", m.ToolCalls, m.ToolErrors)
	fmt.Fprintf(&md, "- **Lines changed:** +%d/-%d\n", m.TotalLinesAdded, m.TotalLinesRemoved)

	if len(run.StageDurations) > 0 {
		stages := make([]string, 0, len(run.StageDurations))
		for s := range run.StageDurations {
			stages = append(stages, string(s))
		}
		sort.Strings(stages)
		md.WriteString("\n## Stage Durations\n\n")
		for _, s := range stages {
			fmt.Fprintf(&md, "- %s: %s\n", s, run.StageDurations[pipeline.Stage(s)].Round(time.Millisecond))
		}
	}
	return md.String()
}

func writeList(md *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(md, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(md, "- %s\n", item)
	}
	md.WriteString("\n")
}

// writeAtomic writes data to a temp file in the same directory, then
// renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}
