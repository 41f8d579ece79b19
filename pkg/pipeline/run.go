package pipeline

import (
	"time"

	"github.com/entrhq/evocode/pkg/schema"
)

// Stage is a state of the pipeline state machine.
type Stage string

const (
	StageIdeate Stage = "IDEATE"
	StageFilter Stage = "FILTER"
	StagePlan   Stage = "PLAN"
	StageCode   Stage = "CODE"
	StageTest   Stage = "TEST"
	StageQA     Stage = "QA"
	StageCommit Stage = "COMMIT"
	StageDone   Stage = "DONE"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// PipelineRun records one pass through the pipeline. It is owned by the
// controller until it is finalized and read-only afterwards.
type PipelineRun struct {
	RunID    string `json:"run_id"`
	RepoPath string `json:"repo_path"`

	Ideas []schema.Idea `json:"ideas,omitempty"`
	Idea  *schema.Idea  `json:"idea,omitempty"`
	Plan  *schema.Plan  `json:"plan,omitempty"`

	CoderSummary  string `json:"coder_summary,omitempty"`
	TestSummary   string `json:"test_summary,omitempty"`
	QAVerdict     string `json:"qa_verdict,omitempty"`
	QAReason      string `json:"qa_reason,omitempty"`
	RetryCount    int    `json:"retry_count"`
	CommitMessage string `json:"commit_message,omitempty"`

	Status       Status `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	FinalState   Stage  `json:"final_state"`
	// FailedStage is the stage a failed run stopped in. It is empty for
	// successful runs and for failures before the first stage.
	FailedStage Stage `json:"failed_stage,omitempty"`

	// Deviations are tolerated departures from the expected model output.
	Deviations []string `json:"deviations,omitempty"`
	Notes      []string `json:"notes,omitempty"`

	StageDurations map[Stage]time.Duration `json:"stage_durations"`
	ToolCallCount  int                     `json:"tool_call_count"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at"`

	finalized bool
}

func newRun(id, repoPath string) *PipelineRun {
	return &PipelineRun{
		RunID:          id,
		RepoPath:       repoPath,
		Status:         StatusRunning,
		StageDurations: make(map[Stage]time.Duration),
		StartedAt:      time.Now(),
	}
}

// Succeeded reports whether the run finished with StatusSuccess.
func (r *PipelineRun) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Duration returns the wall time of the run.
func (r *PipelineRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasCodeChanges reports whether the run went through the coding stages.
func (r *PipelineRun) HasCodeChanges() bool {
	return r.Plan != nil && r.CoderSummary != ""
}

// finalize moves the run to DONE with its terminal status. Only the first
// call has an effect.
func (r *PipelineRun) finalize(err error) bool {
	if r.finalized {
		return false
	}
	r.finalized = true
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = StatusFailure
		r.ErrorKind = ErrorKind(err)
		r.ErrorMessage = err.Error()
		r.FailedStage = r.FinalState
	} else {
		r.Status = StatusSuccess
	}
	r.FinalState = StageDone
	return true
}
