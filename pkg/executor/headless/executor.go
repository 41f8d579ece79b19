package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/evocode/pkg/agent"
	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/config"
	"github.com/entrhq/evocode/pkg/llm/tokenizer"
	"github.com/entrhq/evocode/pkg/logging"
	"github.com/entrhq/evocode/pkg/patch"
	"github.com/entrhq/evocode/pkg/pipeline"
	"github.com/entrhq/evocode/pkg/security/workspace"
	"github.com/entrhq/evocode/pkg/tools/coding"
	"github.com/entrhq/evocode/pkg/types"
)

var headlessLog *logging.Logger

func init() {
	var err error
	headlessLog, err = logging.NewLogger("headless")
	if err != nil {
		headlessLog.Warnf("Failed to initialize headless logger, using stderr fallback: %v", err)
	}
}

// Report is the outcome of every cycle the executor ran.
type Report struct {
	Cycles []*CycleReport `json:"cycles"`
}

// Succeeded reports whether at least one cycle ran and all of them
// succeeded.
func (r *Report) Succeeded() bool {
	if len(r.Cycles) == 0 {
		return false
	}
	for _, c := range r.Cycles {
		if !c.Run.Succeeded() {
			return false
		}
	}
	return true
}

// Executor runs the configured number of pipeline cycles against one
// repository, with git checkpoints around each cycle and artifacts after
// it.
type Executor struct {
	cfg        *config.Config
	repoPath   string
	controller *pipeline.Controller
	console    *Console
	git        *GitManager
	artifacts  *ArtifactWriter
	tracker    *ActivityTracker
	cancelled  func() bool

	tok    *tokenizer.Tokenizer
	tokSet bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithConsole sets the progress console. The default prints to stdout at
// the configured verbosity.
func WithConsole(c *Console) Option {
	return func(e *Executor) {
		e.console = c
	}
}

// WithTokenizer sets the tokenizer used to budget the project snapshot.
// A nil tokenizer estimates by length.
func WithTokenizer(tok *tokenizer.Tokenizer) Option {
	return func(e *Executor) {
		e.tok = tok
		e.tokSet = true
	}
}

// WithCancelCheck sets a function polled during each run; once it returns
// true the current cycle stops and no further cycles start.
func WithCancelCheck(fn func() bool) Option {
	return func(e *Executor) {
		e.cancelled = fn
	}
}

// NewExecutor wires the pipeline for the repository at cfg.Path.
func NewExecutor(cfg *config.Config, invoker agent.Invoker, promptRegistry *prompts.Registry, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	repoPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %s: %w", cfg.Path, err)
	}
	info, err := os.Stat(repoPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path %s: %w", cfg.Path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid path %s: not a directory", cfg.Path)
	}

	e := &Executor{
		cfg:      cfg,
		repoPath: repoPath,
		tracker:  NewActivityTracker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.console == nil {
		e.console = NewConsole(os.Stdout, ParseVerbosity(cfg.Verbosity))
	}
	if !e.tokSet {
		if e.tok, err = tokenizer.New(); err != nil {
			headlessLog.Warnf("Tokenizer unavailable, estimating snapshot size: %v", err)
		}
	}

	guard, err := workspace.NewGuard(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace guard: %w", err)
	}
	constraints, err := coding.NewConstraints(cfg.Constraints.AllowedPatterns, cfg.Constraints.DeniedPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid write constraints: %w", err)
	}
	registry, err := coding.NewRegistry(guard, coding.Options{
		Constraints: constraints,
		Patch:       patch.Options{MaxOffset: cfg.Patch.MaxOffset},
		Tests: coding.TestOptions{
			Command:         cfg.Tests.Command,
			Timeout:         cfg.Tests.Timeout,
			NoTestsExitCode: cfg.Tests.NoTestsExitCode,
			MaxOutputBytes:  cfg.Tests.MaxOutputBytes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tool registry: %w", err)
	}
	snapshotter, err := pipeline.NewSnapshotter(guard, pipeline.SnapshotOptions{
		Include:   cfg.Snapshot.Include,
		MaxTokens: cfg.Snapshot.MaxTokens,
	}, e.tok)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot configuration: %w", err)
	}

	e.controller = pipeline.NewController(invoker, promptRegistry, registry, snapshotter,
		pipeline.WithConfig(pipeline.Config{
			MaxQARetries:       cfg.Pipeline.MaxQARetries,
			MaxTurns:           cfg.Pipeline.MaxTurns,
			GenerationAttempts: cfg.Pipeline.GenerationAttempts,
			MinIdeas:           cfg.Pipeline.MinIdeas,
			MaxIdeas:           cfg.Pipeline.MaxIdeas,
			SkipCodeTypes:      cfg.SkipTypes(),
			RepositoryContext:  constraints.Describe(),
		}),
		pipeline.WithHooks(e.hooks()),
	)

	if cfg.Git.Enabled {
		e.git = NewGitManager(repoPath, cfg.Git)
	}

	outputDir := cfg.Artifacts.OutputDir
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(repoPath, outputDir)
	}
	e.artifacts = NewArtifactWriter(outputDir)

	return e, nil
}

func (e *Executor) hooks() pipeline.Hooks {
	return pipeline.Hooks{
		OnStageChange:  e.console.Stage,
		OnIdeaApproved: e.console.IdeaApproved,
		OnPlanApproved: e.console.PlanApproved,
		OnFileActivity: e.console.FileActivity,
		OnEvent: func(event *types.Event) {
			e.tracker.Observe(event)
			e.console.Event(event)
		},
		IsCancelled: e.isCancelled,
	}
}

func (e *Executor) isCancelled() bool {
	return e.cancelled != nil && e.cancelled()
}

// RepoPath returns the absolute path of the target repository.
func (e *Executor) RepoPath() string {
	return e.repoPath
}

// Run executes up to cfg.Cycles pipeline runs in sequence, stopping at the
// first failed cycle or on cancellation. The report holds every cycle
// that ran; the error is the reason execution stopped early.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	total := e.cfg.Cycles

	headlessLog.Infof("Starting %d cycle(s) on %s", total, e.repoPath)
	e.console.Infof("Repository: %s", e.repoPath)

	if e.git != nil {
		if err := e.preflight(ctx); err != nil {
			e.console.Errorf("%v", err)
			return report, err
		}
	}

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e.isCancelled() {
			return report, context.Canceled
		}

		e.console.CycleStart(n, total)
		cycle, err := e.runCycle(ctx, n)
		if cycle != nil {
			report.Cycles = append(report.Cycles, cycle)
		}
		if err != nil {
			headlessLog.Errorf("Cycle %d/%d stopped execution: %v", n, total, err)
			return report, err
		}
	}

	headlessLog.Infof("Completed %d cycle(s)", len(report.Cycles))
	return report, nil
}

func (e *Executor) preflight(ctx context.Context) error {
	if !e.git.IsRepository(ctx) {
		return fmt.Errorf("%s is not a git repository (set git.enabled to false to run without git)", e.repoPath)
	}
	committed, err := e.git.Preflight(ctx)
	if err != nil {
		return err
	}
	if committed {
		e.console.GitOperation("saved uncommitted changes", DirtyTreeCommitMessage)
		headlessLog.Infof("Committed pre-existing changes before the first cycle")
	}
	return nil
}

func (e *Executor) runCycle(ctx context.Context, n int) (*CycleReport, error) {
	e.tracker = NewActivityTracker()

	var gitInfo *GitInfo
	if e.git != nil {
		head, err := e.git.Head(ctx)
		if err != nil {
			return nil, err
		}
		gitInfo = &GitInfo{Checkpoint: head}
		e.console.GitOperation("checkpoint", head)
	}

	run, runErr := e.controller.Run(ctx)

	cycle := &CycleReport{
		Cycle:         n,
		Run:           run,
		FilesModified: e.tracker.Modified(),
		FilesRead:     e.tracker.Read(),
		Metrics:       e.tracker.Metrics(),
		Git:           gitInfo,
	}

	var gitErr error
	if e.git != nil {
		gitErr = e.settle(ctx, cycle, runErr)
	}

	dir, err := e.artifacts.WriteAll(cycle)
	if err != nil {
		headlessLog.Warnf("Run %s: %v", run.RunID, err)
		e.console.Warningf("failed to write artifacts: %v", err)
		dir = ""
	}
	e.console.CycleSummary(cycle, dir)

	return cycle, errors.Join(runErr, gitErr)
}

// settle commits a successful cycle's changes or rolls a failed cycle back
// to its checkpoint. It runs even when ctx is cancelled. A cycle that never
// acquired the repository lock is left alone: the tree belongs to the run
// holding it.
func (e *Executor) settle(ctx context.Context, cycle *CycleReport, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	run := cycle.Run
	info := cycle.Git

	var lockErr *pipeline.LockError
	if errors.As(runErr, &lockErr) {
		headlessLog.Warnf("Run %s: skipping git operations, %v", run.RunID, lockErr)
		return nil
	}

	if !run.Succeeded() {
		if err := e.git.Rollback(ctx, info.Checkpoint); err != nil {
			info.Error = err.Error()
			e.console.Errorf("rollback failed: %v", err)
			return err
		}
		info.RolledBack = true
		e.console.GitOperation("rolled back", info.Checkpoint)
		headlessLog.Infof("Run %s: rolled back to %s", run.RunID, info.Checkpoint)
		return nil
	}

	dirty, err := e.git.IsDirty(ctx)
	if err != nil {
		info.Error = err.Error()
		return err
	}
	if !dirty {
		e.console.GitOperation("nothing to commit", "")
		return nil
	}

	message := run.CommitMessage
	if message == "" {
		message = "chore: apply EvoCode changes"
	}
	hash, err := e.git.Commit(ctx, message)
	if err != nil {
		info.Error = err.Error()
		e.console.Errorf("commit failed: %v", err)
		return err
	}
	info.CommitHash = hash
	e.console.GitOperation("committed", hash)
	headlessLog.Infof("Run %s: committed %s", run.RunID, hash)
	return nil
}
