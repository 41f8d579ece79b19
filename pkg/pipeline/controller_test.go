package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/evocode/pkg/agent"
	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/llm/llmtest"
	"github.com/entrhq/evocode/pkg/schema"
	"github.com/entrhq/evocode/pkg/security/workspace"
	"github.com/entrhq/evocode/pkg/tools/coding"
	"github.com/entrhq/evocode/pkg/types"
)

const ideasJSON = `[
  {"id": 1, "title": "Add clamp helper", "description": "Introduce a clamp helper for page bounds.", "priority": 0.8, "type": "REFACTORING"},
  {"id": 2, "title": "Document pager", "description": "Add package documentation.", "priority": 0.4, "type": "DOCUMENTATION"},
  {"id": 3, "title": "Fix last page", "description": "Pages() is off by one for exact multiples.", "priority": 0.9, "type": "BUG_FIX"}
]`

const selectedJSON = `{"id": 1, "title": "Add clamp helper", "description": "Introduce a clamp helper for page bounds.", "priority": 0.8, "type": "REFACTORING"}`

const planJSON = `{"description": "Add clamp in util.go -> Use it in Pages", "code_diff": null}`

func toolXML(name, args string) string {
	return fmt.Sprintf("<tool>\n<server_name>local</server_name>\n<tool_name>%s</tool_name>\n<arguments>%s</arguments>\n</tool>", name, args)
}

func writeXML(path, content string) string {
	return toolXML("write_file", "<path>"+path+"</path><content><![CDATA["+content+"]]></content>")
}

func finishXML(summary string) string {
	return toolXML("finish", "<summary>"+summary+"</summary>")
}

func verdictXML(verdict, reason string) string {
	return toolXML("finish", "<verdict>"+verdict+"</verdict><reason>"+reason+"</reason>")
}

// roleModel answers each model call according to the role whose system
// prompt opens the conversation. Queued replies are used first; once a
// role's queue is empty its standing reply is used.
type roleModel struct {
	mu       sync.Mutex
	byPrompt map[string]types.AgentRole
	queued   map[types.AgentRole][]string
	standing map[types.AgentRole]string
	calls    map[types.AgentRole][][]*types.Message
}

func newRoleModel(t *testing.T, reg *prompts.Registry) *roleModel {
	t.Helper()
	m := &roleModel{
		byPrompt: make(map[string]types.AgentRole),
		queued:   make(map[types.AgentRole][]string),
		standing: make(map[types.AgentRole]string),
		calls:    make(map[types.AgentRole][][]*types.Message),
	}
	for _, role := range types.AgentRoles {
		p, err := reg.SystemPrompt(role)
		require.NoError(t, err)
		m.byPrompt[p] = role
	}
	return m
}

func (m *roleModel) queue(role types.AgentRole, replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[role] = append(m.queued[role], replies...)
}

func (m *roleModel) always(role types.AgentRole, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.standing[role] = reply
}

func (m *roleModel) callsFor(role types.AgentRole) [][]*types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[role]
}

func (m *roleModel) reply(messages []*types.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := m.byPrompt[messages[0].Content]
	if !ok {
		return "", errors.New("unknown role prompt")
	}
	m.calls[role] = append(m.calls[role], messages)

	if q := m.queued[role]; len(q) > 0 {
		m.queued[role] = q[1:]
		return q[0], nil
	}
	if s, ok := m.standing[role]; ok {
		return s, nil
	}
	return "", fmt.Errorf("no reply scripted for %s", role)
}

type pipelineFixture struct {
	dir    string
	model  *roleModel
	events []*types.Event
	stages []Stage
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pager.go"), []byte("package pager\n\nfunc Pages(n, size int) int { return n / size }\n"), 0644))

	reg, err := prompts.DefaultRegistry()
	require.NoError(t, err)
	return &pipelineFixture{dir: dir, model: newRoleModel(t, reg)}
}

func (f *pipelineFixture) controller(t *testing.T, cfg Config, hooks Hooks) *Controller {
	t.Helper()
	guard, err := workspace.NewGuard(f.dir)
	require.NoError(t, err)
	registry, err := coding.NewRegistry(guard, coding.Options{Tests: coding.TestOptions{Command: "exit 0"}})
	require.NoError(t, err)
	snap, err := NewSnapshotter(guard, SnapshotOptions{}, nil)
	require.NoError(t, err)
	reg, err := prompts.DefaultRegistry()
	require.NoError(t, err)

	provider := llmtest.NewScriptedProvider()
	provider.Fallback = f.model.reply

	userEvent := hooks.OnEvent
	hooks.OnEvent = func(e *types.Event) {
		f.events = append(f.events, e)
		if userEvent != nil {
			userEvent(e)
		}
	}
	userStage := hooks.OnStageChange
	hooks.OnStageChange = func(s Stage) {
		f.stages = append(f.stages, s)
		if userStage != nil {
			userStage(s)
		}
	}

	return NewController(llm.NewGateway(provider), reg, registry, snap, WithConfig(cfg), WithHooks(hooks))
}

func (f *pipelineFixture) scriptTextStages() {
	f.model.queue(types.AgentIdeator, "```json\n"+ideasJSON+"\n```")
	f.model.queue(types.AgentFilter, selectedJSON)
	f.model.queue(types.AgentPlanner, planJSON)
}

func (f *pipelineFixture) eventsOf(t types.EventType) []*types.Event {
	var out []*types.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestControllerSuccess(t *testing.T) {
	f := newPipelineFixture(t)
	f.scriptTextStages()
	f.model.queue(types.AgentCoder,
		toolXML("read_file", "<path>pager.go</path>"),
		writeXML("util.go", "package pager\n\nfunc clamp(v, lo, hi int) int { return min(max(v, lo), hi) }\n"),
		finishXML("Added clamp helper in util.go"),
	)
	f.model.queue(types.AgentTestWriter,
		writeXML("util_test.go", "package pager\n\nimport \"testing\"\n\nfunc TestClamp(t *testing.T) {}\n"),
		finishXML("Added TestClamp"),
	)
	f.model.queue(types.AgentQA,
		toolXML("run_tests", ""),
		verdictXML("PASS", "all tests pass"),
	)
	f.model.queue(types.AgentCommitMessage, "`refactor(pager): add clamp helper`")

	var approved []schema.Idea
	var files []string
	c := f.controller(t, Config{}, Hooks{
		OnIdeaApproved: func(i schema.Idea) { approved = append(approved, i) },
		OnFileActivity: func(role types.AgentRole, path, action string) {
			files = append(files, fmt.Sprintf("%s:%s:%s", role, action, path))
		},
	})

	run, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, StageDone, run.FinalState)
	assert.Equal(t, "refactor(pager): add clamp helper", run.CommitMessage)
	assert.True(t, strings.HasPrefix(run.CommitMessage, "refactor"))
	assert.Len(t, run.Ideas, 3)
	require.NotNil(t, run.Idea)
	assert.Equal(t, 1, run.Idea.ID)
	require.NotNil(t, run.Plan)
	assert.Equal(t, []string{"Add clamp in util.go", "Use it in Pages"}, run.Plan.Steps())
	assert.Equal(t, "Added clamp helper in util.go", run.CoderSummary)
	assert.Equal(t, "Added TestClamp", run.TestSummary)
	assert.Equal(t, "PASS", run.QAVerdict)
	assert.Equal(t, 0, run.RetryCount)
	assert.Equal(t, 7, run.ToolCallCount)
	assert.Empty(t, run.Deviations)
	assert.Empty(t, run.ErrorKind)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	assert.True(t, run.HasCodeChanges())

	assert.FileExists(t, filepath.Join(f.dir, "util.go"))
	assert.FileExists(t, filepath.Join(f.dir, "util_test.go"))
	assert.NoFileExists(t, filepath.Join(f.dir, LockFileName))

	assert.Equal(t, []Stage{StageIdeate, StageFilter, StagePlan, StageCode, StageTest, StageQA, StageCommit, StageDone}, f.stages)
	assert.Len(t, approved, 1)
	assert.Equal(t, []string{"coder:read:pager.go", "coder:write:util.go", "test_writer:write:util_test.go"}, files)

	for _, s := range []Stage{StageIdeate, StageFilter, StagePlan, StageCode, StageTest, StageQA, StageCommit} {
		assert.Contains(t, run.StageDurations, s)
	}

	complete := f.eventsOf(types.EventTypeRunComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, "SUCCESS", complete[0].Content)

	// The ideator sees the project snapshot.
	ideator := f.model.callsFor(types.AgentIdeator)
	require.Len(t, ideator, 1)
	assert.Contains(t, ideator[0][1].Content, "# --- File: pager.go ---")
}

func TestControllerRetriesUntilExhausted(t *testing.T) {
	f := newPipelineFixture(t)
	f.scriptTextStages()
	f.model.always(types.AgentCoder, writeXML("util.go", "package pager\n")+finishXML("wrote util.go"))
	f.model.always(types.AgentTestWriter, finishXML("no tests needed"))
	f.model.always(types.AgentQA, verdictXML("FAIL", "TestPages fails for n=10"))

	c := f.controller(t, Config{MaxQARetries: 2}, Hooks{})
	run, err := c.Run(context.Background())
	require.Error(t, err)

	var exceeded *MaxRetriesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 2, exceeded.Retries)

	assert.Equal(t, StatusFailure, run.Status)
	assert.Equal(t, 2, run.RetryCount)
	assert.Equal(t, c.Config().MaxQARetries, run.RetryCount)
	assert.Equal(t, "MaxRetriesExceededError", run.ErrorKind)
	assert.Equal(t, StageDone, run.FinalState)
	assert.Equal(t, StageQA, run.FailedStage)
	assert.Equal(t, []Stage{StageIdeate, StageFilter, StagePlan, StageCode, StageTest, StageQA, StageCode, StageTest, StageQA, StageDone}, f.stages)
	assert.Equal(t, "FAIL", run.QAVerdict)
	assert.Equal(t, "TestPages fails for n=10", run.QAReason)
	assert.Empty(t, run.CommitMessage)
	assert.Empty(t, f.model.callsFor(types.AgentCommitMessage))

	assert.Len(t, f.eventsOf(types.EventTypeRetry), 1)
	assert.Len(t, f.eventsOf(types.EventTypeQAVerdict), 2)

	coder := f.model.callsFor(types.AgentCoder)
	require.Len(t, coder, 2)
	first := coder[0][2].Content
	assert.NotContains(t, first, "QA report")
	retry := coder[1][2].Content
	assert.Contains(t, retry, "QA report: 'TestPages fails for n=10'")
	assert.Contains(t, retry, "CURRENT state of the code")
	assert.Contains(t, retry, "# --- File: util.go ---")
	assert.Contains(t, retry, "IDEA: Add clamp helper")
}

func TestControllerFilterIntegrity(t *testing.T) {
	f := newPipelineFixture(t)
	f.model.queue(types.AgentIdeator, ideasJSON)
	f.model.queue(types.AgentFilter, `{"id": 99, "title": "Invented", "description": "Not proposed.", "priority": 0.5, "type": "FEATURE"}`)

	c := f.controller(t, Config{}, Hooks{})
	run, err := c.Run(context.Background())

	var integrity *FilterIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, 99, integrity.ID)
	assert.Equal(t, []int{1, 2, 3}, integrity.Known)

	assert.Equal(t, StatusFailure, run.Status)
	assert.Equal(t, "FilterIntegrityError", run.ErrorKind)
	assert.Equal(t, StageDone, run.FinalState)
	assert.Equal(t, StageFilter, run.FailedStage)
	assert.Nil(t, run.Idea)
	assert.Nil(t, run.Plan)
	assert.Empty(t, f.model.callsFor(types.AgentPlanner))
	assert.Empty(t, f.model.callsFor(types.AgentCoder))
}

func TestControllerFilterDeviation(t *testing.T) {
	f := newPipelineFixture(t)
	f.model.queue(types.AgentIdeator, ideasJSON)
	f.model.queue(types.AgentFilter, `{"id": 2, "title": "Document the pager package", "description": "Add package documentation.", "priority": 0.4, "type": "DOCUMENTATION"}`)

	c := f.controller(t, Config{SkipCodeTypes: []schema.IdeaType{schema.TypeDocumentation}}, Hooks{})
	run, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, StageDone, run.FinalState)
	assert.Equal(t, "Document the pager package", run.Idea.Title)
	require.Len(t, run.Deviations, 1)
	assert.Contains(t, run.Deviations[0], "title")
	require.Len(t, run.Notes, 1)
	assert.Contains(t, run.Notes[0], "DOCUMENTATION")
	assert.Nil(t, run.Plan)
	assert.False(t, run.HasCodeChanges())
	assert.Empty(t, f.model.callsFor(types.AgentPlanner))
}

func TestControllerIdeaCountDeviation(t *testing.T) {
	f := newPipelineFixture(t)
	f.model.queue(types.AgentIdeator, `[{"id": 7, "title": "Only idea", "description": "One.", "priority": 0.5, "type": "STYLE"}]`)
	f.model.queue(types.AgentFilter, `{"id": 7, "title": "Only idea", "description": "One.", "priority": 0.5, "type": "STYLE"}`)

	c := f.controller(t, Config{SkipCodeTypes: []schema.IdeaType{schema.TypeStyle}}, Hooks{})
	run, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Deviations, 1)
	assert.Contains(t, run.Deviations[0], "proposed 1 ideas")
	assert.Len(t, f.eventsOf(types.EventTypeDeviation), 1)
}

func TestControllerGenerationAttempts(t *testing.T) {
	t.Run("single attempt fails on invalid output", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.model.queue(types.AgentIdeator, "Here are some ideas: refactor everything.")

		c := f.controller(t, Config{}, Hooks{})
		run, err := c.Run(context.Background())
		assert.True(t, schema.IsSchemaError(err))
		assert.Equal(t, "SchemaError", run.ErrorKind)
		assert.Equal(t, StageIdeate, run.FailedStage)
	})

	t.Run("second attempt sees the validation error", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.model.queue(types.AgentIdeator, "not json", ideasJSON)
		f.model.queue(types.AgentFilter, `{"id": 2, "title": "Document pager", "description": "Add package documentation.", "priority": 0.4, "type": "DOCUMENTATION"}`)

		c := f.controller(t, Config{GenerationAttempts: 2, SkipCodeTypes: []schema.IdeaType{schema.TypeDocumentation}}, Hooks{})
		run, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Len(t, run.Ideas, 3)

		calls := f.model.callsFor(types.AgentIdeator)
		require.Len(t, calls, 2)
		last := calls[1][len(calls[1])-1]
		assert.Equal(t, types.RoleUser, last.Role)
		assert.Contains(t, last.Content, "Your previous response was rejected")
	})
}

func TestControllerCommitFallback(t *testing.T) {
	f := newPipelineFixture(t)
	f.scriptTextStages()
	f.model.queue(types.AgentCoder, finishXML("nothing to do"))
	f.model.queue(types.AgentTestWriter, finishXML("nothing to test"))
	f.model.queue(types.AgentQA, verdictXML("PASS", "fine"))
	f.model.queue(types.AgentCommitMessage, "Here is your commit message:\nAdded a clamp helper")

	c := f.controller(t, Config{}, Hooks{})
	run, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "refactor: Apply 'Add clamp helper'", run.CommitMessage)
	require.Len(t, run.Deviations, 1)
	assert.Contains(t, run.Deviations[0], "fallback")
}

func TestControllerStageFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		f := newPipelineFixture(t)
		c := f.controller(t, Config{}, Hooks{})
		run, err := c.Run(context.Background())
		assert.True(t, llm.IsTransportError(err))
		assert.Equal(t, "TransportError", run.ErrorKind)
		assert.NotEmpty(t, run.ErrorMessage)
	})

	t.Run("loop exhausted", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.scriptTextStages()
		f.model.always(types.AgentCoder, toolXML("list_files", ""))

		c := f.controller(t, Config{MaxTurns: 2}, Hooks{})
		run, err := c.Run(context.Background())

		var exhausted *agent.LoopExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, "LoopExhaustedError", run.ErrorKind)
		assert.Equal(t, StageCode, run.FailedStage)
		assert.Equal(t, 2, run.ToolCallCount)
	})
}

func TestControllerCancellation(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		f := newPipelineFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := f.controller(t, Config{}, Hooks{})
		run, err := c.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, KindCancelled, run.ErrorKind)
		assert.Equal(t, StatusFailure, run.Status)
	})

	t.Run("hook cancels at the next stage", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.scriptTextStages()

		cancelled := false
		c := f.controller(t, Config{}, Hooks{
			OnIdeaApproved: func(schema.Idea) { cancelled = true },
			IsCancelled:    func() bool { return cancelled },
		})
		run, err := c.Run(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StageFilter, run.FailedStage)
		assert.Empty(t, f.model.callsFor(types.AgentPlanner))
	})
}

func TestControllerLockHeld(t *testing.T) {
	f := newPipelineFixture(t)
	c := f.controller(t, Config{}, Hooks{})

	lock, err := AcquireLock(f.dir, "other-run")
	require.NoError(t, err)
	defer lock.Release()

	run, err := c.Run(context.Background())
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "LockError", run.ErrorKind)
	assert.Empty(t, f.model.callsFor(types.AgentIdeator))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"typed", &FilterIntegrityError{ID: 1}, "FilterIntegrityError"},
		{"wrapped", fmt.Errorf("coder loop: %w", &agent.LoopExhaustedError{}), "LoopExhaustedError"},
		{"transport", &llm.TransportError{Err: errors.New("reset")}, "TransportError"},
		{"cancelled", fmt.Errorf("stage: %w", context.Canceled), KindCancelled},
		{"other", errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}

func TestPipelineRunFinalizeOnce(t *testing.T) {
	run := newRun("r1", "/repo")
	assert.True(t, run.finalize(errors.New("boom")))
	assert.False(t, run.finalize(nil))
	assert.Equal(t, StatusFailure, run.Status)
	assert.Equal(t, "boom", run.ErrorMessage)
}
