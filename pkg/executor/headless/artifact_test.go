package headless

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/evocode/pkg/pipeline"
	"github.com/entrhq/evocode/pkg/schema"
)

func successfulReport() *CycleReport {
	now := time.Now()
	return &CycleReport{
		Cycle: 1,
		Run: &pipeline.PipelineRun{
			RunID:         "3f1c",
			RepoPath:      "/repo",
			Idea:          &schema.Idea{ID: 1, Title: "Add clamp helper", Description: "Introduce clamp.", Type: schema.TypeRefactoring},
			Plan:          &schema.Plan{Description: "Add clamp in util.go"},
			CoderSummary:  "Added clamp helper",
			TestSummary:   "Added TestClamp",
			QAVerdict:     "PASS",
			QAReason:      "all tests pass",
			CommitMessage: "refactor: add clamp helper",
			Status:        pipeline.StatusSuccess,
			FinalState:    pipeline.StageDone,
			Deviations:    []string{"filter returned a list; used the first idea"},
			StageDurations: map[pipeline.Stage]time.Duration{
				pipeline.StageIdeate: 2 * time.Second,
				pipeline.StageCode:   5 * time.Second,
			},
			StartedAt:  now.Add(-7 * time.Second),
			FinishedAt: now,
		},
		FilesModified: []FileModification{{Path: "util.go", Actions: []string{"write"}, Roles: []string{"coder"}, LinesAdded: 3}},
		FilesRead:     []string{"pager.go"},
		Metrics:       ExecutionMetrics{ModelCalls: 6, PromptTokens: 900, CompletionTokens: 100, ToolCalls: 4, TotalLinesAdded: 3},
		Git:           &GitInfo{Checkpoint: "aaaa", CommitHash: "bbbb"},
	}
}

func TestArtifactWriter_WriteAll(t *testing.T) {
	out := filepath.Join(t.TempDir(), "artifacts")
	w := NewArtifactWriter(out)
	report := successfulReport()

	dir, err := w.WriteAll(report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "3f1c"), dir)
	assert.Equal(t, dir, w.Dir(report))

	data, err := os.ReadFile(filepath.Join(dir, "execution.json"))
	require.NoError(t, err)

	var decoded struct {
		Cycle int `json:"cycle"`
		Run   struct {
			RunID         string `json:"run_id"`
			Status        string `json:"status"`
			CommitMessage string `json:"commit_message"`
		} `json:"run"`
		FilesModified []FileModification `json:"files_modified"`
		Metrics       ExecutionMetrics   `json:"metrics"`
		Git           GitInfo            `json:"git"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded.Cycle)
	assert.Equal(t, "3f1c", decoded.Run.RunID)
	assert.Equal(t, "SUCCESS", decoded.Run.Status)
	assert.Equal(t, "refactor: add clamp helper", decoded.Run.CommitMessage)
	assert.Equal(t, report.FilesModified, decoded.FilesModified)
	assert.Equal(t, report.Metrics, decoded.Metrics)
	assert.Equal(t, "bbbb", decoded.Git.CommitHash)

	summary, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Equal(t, SummaryMarkdown(report), string(summary))

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestArtifactWriter_Overwrites(t *testing.T) {
	w := NewArtifactWriter(t.TempDir())
	report := successfulReport()

	_, err := w.WriteAll(report)
	require.NoError(t, err)

	report.Run.CommitMessage = "refactor: add clamp and use it"
	dir, err := w.WriteAll(report)
	require.NoError(t, err)

	summary, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "refactor: add clamp and use it")
}

func TestSummaryMarkdown(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		md := SummaryMarkdown(successfulReport())

		assert.True(t, strings.HasPrefix(md, "# EvoCode Run Summary\n"))
		assert.Contains(t, md, "✅ **Success**")
		assert.Contains(t, md, "**Add clamp helper** (REFACTORING)")
		assert.Contains(t, md, "## Plan\n\nAdd clamp in util.go")
		assert.Contains(t, md, "- **QA:** PASS - all tests pass")
		assert.Contains(t, md, "```\nrefactor: add clamp helper\n```")
		assert.Contains(t, md, "Committed as `bbbb`.")
		assert.Contains(t, md, "- `util.go` (+3/-0 lines)")
		assert.Contains(t, md, "## Deviations\n\n- filter returned a list; used the first idea")
		assert.Contains(t, md, "- **Tokens used:** 1000 (prompt 900, completion 100)")

		// Stage durations are listed in name order.
		code := strings.Index(md, "- CODE: 5s")
		ideate := strings.Index(md, "- IDEATE: 2s")
		require.NotEqual(t, -1, code)
		require.NotEqual(t, -1, ideate)
		assert.Less(t, code, ideate)
	})

	t.Run("failure", func(t *testing.T) {
		report := successfulReport()
		report.Run.Status = pipeline.StatusFailure
		report.Run.ErrorKind = "FilterIntegrityError"
		report.Run.ErrorMessage = "filter returned idea 9, which was not proposed"
		report.Run.FailedStage = pipeline.StageFilter
		report.Run.Plan = nil
		report.Run.CoderSummary = ""
		report.Run.TestSummary = ""
		report.Run.QAVerdict = ""
		report.Run.CommitMessage = ""
		report.Git = &GitInfo{Checkpoint: "aaaa", RolledBack: true}

		md := SummaryMarkdown(report)
		assert.Contains(t, md, "❌ **FilterIntegrityError:** filter returned idea 9, which was not proposed")
		assert.Contains(t, md, "**Final state:** DONE")
		assert.Contains(t, md, "**Failed in:** FILTER")
		assert.Contains(t, md, "Changes rolled back to `aaaa`.")
		assert.NotContains(t, md, "## Plan")
		assert.NotContains(t, md, "## Implementation")
		assert.NotContains(t, md, "## Commit")
	})
}
