// Package pipeline sequences the agent roles that turn a repository
// snapshot into a verified, committed improvement:
//
//	IDEATE -> FILTER -> PLAN -> CODE -> TEST -> QA -> COMMIT -> DONE
//
// A FAIL verdict from QA sends the run back to CODE with the QA reason,
// at most Config.MaxQARetries times. Every run ends in exactly one terminal
// PipelineRun, successful or not.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/evocode/pkg/agent"
	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/logging"
	"github.com/entrhq/evocode/pkg/schema"
	"github.com/entrhq/evocode/pkg/types"
)

var pipelineLog *logging.Logger

func init() {
	var err error
	pipelineLog, err = logging.NewLogger("pipeline")
	if err != nil {
		pipelineLog.Warnf("Failed to initialize pipeline logger, using stderr fallback: %v", err)
	}
}

// Defaults for Config.
const (
	DefaultMaxQARetries       = 3
	DefaultGenerationAttempts = 1
	DefaultMinIdeas           = 3
	DefaultMaxIdeas           = 5
)

// Config holds the run budgets and policies.
type Config struct {
	MaxQARetries int
	MaxTurns     int

	// GenerationAttempts is how many times a text stage is invoked when its
	// output fails validation. Transport errors are never retried.
	GenerationAttempts int

	// MinIdeas and MaxIdeas bound the expected ideator batch size. A batch
	// outside the range is a deviation, not an error.
	MinIdeas int
	MaxIdeas int

	// SkipCodeTypes lists idea types that end the run after FILTER.
	SkipCodeTypes []schema.IdeaType

	// RepositoryContext is added to the tool instructions of the roles
	// that write files.
	RepositoryContext string
}

func (c Config) withDefaults() Config {
	if c.MaxQARetries <= 0 {
		c.MaxQARetries = DefaultMaxQARetries
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = agent.DefaultMaxTurns
	}
	if c.GenerationAttempts <= 0 {
		c.GenerationAttempts = DefaultGenerationAttempts
	}
	if c.MinIdeas <= 0 {
		c.MinIdeas = DefaultMinIdeas
	}
	if c.MaxIdeas < c.MinIdeas {
		c.MaxIdeas = max(DefaultMaxIdeas, c.MinIdeas)
	}
	return c
}

func (c Config) skips(t schema.IdeaType) bool {
	for _, s := range c.SkipCodeTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Controller runs the pipeline against one repository. Runs are
// sequential per repository; concurrent Run calls on the same repository
// fail with *LockError.
type Controller struct {
	invoker     agent.Invoker
	prompts     *prompts.Registry
	registry    *tools.Registry
	snapshotter *Snapshotter
	cfg         Config
	hooks       Hooks
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig sets budgets and policies. Zero fields take their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.cfg = cfg.withDefaults()
	}
}

// WithHooks sets the progress hooks.
func WithHooks(h Hooks) Option {
	return func(c *Controller) {
		c.hooks = h
	}
}

// NewController creates a controller. The snapshotter's workspace is the
// repository the controller works on.
func NewController(invoker agent.Invoker, promptRegistry *prompts.Registry, registry *tools.Registry, snapshotter *Snapshotter, opts ...Option) *Controller {
	c := &Controller{
		invoker:     invoker,
		prompts:     promptRegistry,
		registry:    registry,
		snapshotter: snapshotter,
		cfg:         Config{}.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// RepoPath returns the repository the controller works on.
func (c *Controller) RepoPath() string {
	return c.snapshotter.guard.WorkspaceDir()
}

// Run executes one pipeline run. The returned PipelineRun is always
// non-nil and finalized; the error is the fatal error that ended a failed
// run, and nil on success.
func (c *Controller) Run(ctx context.Context) (*PipelineRun, error) {
	run := newRun(uuid.NewString(), c.RepoPath())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &runner{c: c, run: run, cancel: cancel}
	r.driver = agent.NewDriver(c.invoker, c.registry,
		agent.WithMaxTurns(c.cfg.MaxTurns),
		agent.WithEventHandler(r.emit),
	)

	pipelineLog.Infof("Run %s starting on %s", run.RunID, run.RepoPath)

	lock, err := AcquireLock(run.RepoPath, run.RunID)
	if err != nil {
		return r.complete(err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			pipelineLog.Warnf("Run %s: %v", run.RunID, err)
		}
	}()

	return r.complete(r.execute(ctx))
}

// runner carries the state of a single run.
type runner struct {
	c      *Controller
	run    *PipelineRun
	driver *agent.Driver
	cancel context.CancelFunc

	stage      Stage
	stageStart time.Time
}

func (r *runner) emit(e *types.Event) {
	h := r.c.hooks
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
	if e.Type == types.EventTypeFileActivity && h.OnFileActivity != nil {
		h.OnFileActivity(types.AgentRole(e.Role), e.FilePath, e.Content)
	}
	if h.cancelled() {
		r.cancel()
	}
}

// enter checks for cancellation and moves the run to stage.
func (r *runner) enter(ctx context.Context, stage Stage) error {
	if r.c.hooks.cancelled() {
		r.cancel()
	}
	if err := ctx.Err(); err != nil {
		pipelineLog.Infof("Run %s cancelled before %s", r.run.RunID, stage)
		return err
	}

	r.closeStage()
	r.stage = stage
	r.stageStart = time.Now()
	r.run.FinalState = stage

	pipelineLog.Infof("Run %s: entering %s", r.run.RunID, stage)
	if r.c.hooks.OnStageChange != nil {
		r.c.hooks.OnStageChange(stage)
	}
	r.emit(types.NewStageChangeEvent(string(stage)))
	return nil
}

func (r *runner) closeStage() {
	if r.stage != "" {
		r.run.StageDurations[r.stage] += time.Since(r.stageStart)
		r.stage = ""
	}
}

func (r *runner) deviate(stage Stage, format string, args ...interface{}) {
	note := fmt.Sprintf(format, args...)
	pipelineLog.Warnf("Run %s: deviation in %s: %s", r.run.RunID, stage, note)
	r.run.Deviations = append(r.run.Deviations, note)
	r.emit(types.NewDeviationEvent(string(stage), note))
}

func (r *runner) complete(err error) (*PipelineRun, error) {
	r.closeStage()
	if !r.run.finalize(err) {
		return r.run, err
	}

	if err != nil {
		pipelineLog.Errorf("Run %s failed in %s (%s): %v", r.run.RunID, r.run.FailedStage, r.run.ErrorKind, err)
		r.emit(types.NewErrorEvent(err))
	} else {
		pipelineLog.Infof("Run %s succeeded in %s", r.run.RunID, r.run.Duration().Round(time.Millisecond))
	}
	if r.c.hooks.OnStageChange != nil {
		r.c.hooks.OnStageChange(StageDone)
	}
	r.emit(types.NewStageChangeEvent(string(StageDone)))
	r.emit(types.NewRunCompleteEvent(string(r.run.Status), r.run))
	return r.run, err
}

func (r *runner) execute(ctx context.Context) error {
	snapshot, err := r.c.snapshotter.Snapshot()
	if err != nil {
		return err
	}

	if err := r.enter(ctx, StageIdeate); err != nil {
		return err
	}
	ideas, err := r.ideate(ctx, snapshot)
	if err != nil {
		return err
	}

	if err := r.enter(ctx, StageFilter); err != nil {
		return err
	}
	idea, err := r.filter(ctx, ideas)
	if err != nil {
		return err
	}
	if r.c.cfg.skips(idea.Type) {
		note := fmt.Sprintf("idea type %s does not require code changes; skipped planning and coding", idea.Type)
		pipelineLog.Infof("Run %s: %s", r.run.RunID, note)
		r.run.Notes = append(r.run.Notes, note)
		return nil
	}

	if err := r.enter(ctx, StagePlan); err != nil {
		return err
	}
	plan, err := r.plan(ctx, idea)
	if err != nil {
		return err
	}

	if err := r.implement(ctx, idea, plan, snapshot); err != nil {
		return err
	}

	if err := r.enter(ctx, StageCommit); err != nil {
		return err
	}
	return r.commit(ctx, idea)
}

func (r *runner) ideate(ctx context.Context, snapshot string) ([]schema.Idea, error) {
	ideas, err := generate(ctx, r, types.AgentIdeator, snapshot, schema.ValidateIdeas)
	if err != nil {
		return nil, err
	}
	r.run.Ideas = ideas
	r.emit(types.NewIdeasProposedEvent(ideas, len(ideas)))

	cfg := r.c.cfg
	if len(ideas) < cfg.MinIdeas || len(ideas) > cfg.MaxIdeas {
		r.deviate(StageIdeate, "ideator proposed %d ideas, expected %d to %d", len(ideas), cfg.MinIdeas, cfg.MaxIdeas)
	}
	return ideas, nil
}

func (r *runner) filter(ctx context.Context, ideas []schema.Idea) (schema.Idea, error) {
	selected, err := generate(ctx, r, types.AgentFilter, schema.JSON(ideas), schema.ValidateIdea)
	if err != nil {
		return schema.Idea{}, err
	}

	var original *schema.Idea
	known := make([]int, len(ideas))
	for i := range ideas {
		known[i] = ideas[i].ID
		if ideas[i].ID == selected.ID {
			original = &ideas[i]
		}
	}
	if original == nil {
		return schema.Idea{}, &FilterIntegrityError{ID: selected.ID, Known: known}
	}
	if changed := changedFields(*original, selected); len(changed) > 0 {
		r.deviate(StageFilter, "filter returned idea %d with changed fields: %v", selected.ID, changed)
	}

	r.run.Idea = &selected
	pipelineLog.Infof("Run %s: selected idea %d %q (%s)", r.run.RunID, selected.ID, selected.Title, selected.Type)
	if r.c.hooks.OnIdeaApproved != nil {
		r.c.hooks.OnIdeaApproved(selected)
	}
	r.emit(types.NewIdeaApprovedEvent(selected, selected.Title))
	return selected, nil
}

func changedFields(a, b schema.Idea) []string {
	var changed []string
	if a.Title != b.Title {
		changed = append(changed, "title")
	}
	if a.Description != b.Description {
		changed = append(changed, "description")
	}
	if a.Priority != b.Priority {
		changed = append(changed, "priority")
	}
	if a.Type != b.Type {
		changed = append(changed, "type")
	}
	return changed
}

func (r *runner) plan(ctx context.Context, idea schema.Idea) (schema.Plan, error) {
	plan, err := generate(ctx, r, types.AgentPlanner, schema.JSON(idea), schema.ValidatePlan)
	if err != nil {
		return schema.Plan{}, err
	}
	r.run.Plan = &plan
	if r.c.hooks.OnPlanApproved != nil {
		r.c.hooks.OnPlanApproved(plan)
	}
	r.emit(types.NewPlanApprovedEvent(plan, plan.Description))
	return plan, nil
}

// implement runs CODE -> TEST -> QA until QA passes or the retry budget
// is spent.
func (r *runner) implement(ctx context.Context, idea schema.Idea, plan schema.Plan, snapshot string) error {
	feedback := ""
	for {
		if err := r.enter(ctx, StageCode); err != nil {
			return err
		}
		coded, err := r.loop(ctx, types.AgentCoder, coderMessage(idea, plan, feedback, snapshot))
		if err != nil {
			return err
		}
		r.run.CoderSummary = coded.Summary

		if err := r.enter(ctx, StageTest); err != nil {
			return err
		}
		tested, err := r.loop(ctx, types.AgentTestWriter, testWriterMessage(idea, coded.Summary))
		if err != nil {
			return err
		}
		r.run.TestSummary = tested.Summary

		if err := r.enter(ctx, StageQA); err != nil {
			return err
		}
		verdict, err := r.loop(ctx, types.AgentQA, qaMessage(idea, coded.Summary, tested.Summary))
		if err != nil {
			return err
		}
		if verdict.Verdict == "" {
			return &MissingVerdictError{Summary: verdict.Summary}
		}
		r.run.QAVerdict = verdict.Verdict
		r.run.QAReason = verdict.Reason
		r.emit(types.NewQAVerdictEvent(verdict.Verdict, verdict.Reason))
		pipelineLog.Infof("Run %s: QA verdict %s: %s", r.run.RunID, verdict.Verdict, verdict.Reason)

		if verdict.Verdict == tools.VerdictPass {
			return nil
		}

		r.run.RetryCount++
		if r.run.RetryCount >= r.c.cfg.MaxQARetries {
			return &MaxRetriesExceededError{Retries: r.run.RetryCount, LastReason: verdict.Reason}
		}
		r.emit(types.NewRetryEvent(r.run.RetryCount, r.c.cfg.MaxQARetries, verdict.Reason))

		feedback = verdict.Reason
		if snapshot, err = r.c.snapshotter.Snapshot(); err != nil {
			return err
		}
	}
}

// loop runs role's tool-call loop on message and returns its finish call.
func (r *runner) loop(ctx context.Context, role types.AgentRole, message string) (*agent.Finish, error) {
	systemPrompt, err := r.c.prompts.SystemPrompt(role)
	if err != nil {
		return nil, err
	}
	userMessage, err := r.c.prompts.UserMessage(role, message)
	if err != nil {
		return nil, err
	}

	task := agent.Task{
		Role:         role,
		SystemPrompt: systemPrompt,
		UserMessage:  userMessage,
	}
	if role != types.AgentQA {
		task.RepositoryContext = r.c.cfg.RepositoryContext
	}

	res, err := r.driver.Run(ctx, task)
	r.run.ToolCallCount += res.ToolCalls
	if err != nil {
		return nil, fmt.Errorf("%s loop: %w", role, err)
	}
	return res.Finish, nil
}

func (r *runner) commit(ctx context.Context, idea schema.Idea) error {
	msg, err := generate(ctx, r, types.AgentCommitMessage, commitSynopsis(idea, r.run.CoderSummary, r.run.TestSummary), schema.ValidateCommitMessage)
	if err != nil {
		if !isOutputError(err) {
			return err
		}
		msg = schema.FallbackCommitMessage(idea)
		r.deviate(StageCommit, "commit message rejected (%v); using fallback %q", err, msg)
	}
	r.run.CommitMessage = msg
	return nil
}
