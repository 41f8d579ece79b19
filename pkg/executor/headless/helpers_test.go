package headless

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/config"
	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/types"
)

const ideasJSON = `[
  {"id": 1, "title": "Add clamp helper", "description": "Introduce a clamp helper for page bounds.", "priority": 0.8, "type": "REFACTORING"},
  {"id": 2, "title": "Document pager", "description": "Add package documentation.", "priority": 0.4, "type": "DOCUMENTATION"},
  {"id": 3, "title": "Fix last page", "description": "Pages() is off by one for exact multiples.", "priority": 0.9, "type": "BUG_FIX"}
]`

const refactorIdeaJSON = `{"id": 1, "title": "Add clamp helper", "description": "Introduce a clamp helper for page bounds.", "priority": 0.8, "type": "REFACTORING"}`

const docIdeaJSON = `{"id": 2, "title": "Document pager", "description": "Add package documentation.", "priority": 0.4, "type": "DOCUMENTATION"}`

const planJSON = `{"description": "Add clamp in util.go", "code_diff": null}`

const pagerSource = "package pager\n\nfunc Pages(n, size int) int { return n / size }\n"

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

// scriptedInvoker answers by role, recognising the role from the system
// prompt it is invoked with. Queued replies come first, then the role's
// standing reply or error.
type scriptedInvoker struct {
	mu       sync.Mutex
	roles    map[string]types.AgentRole
	queued   map[types.AgentRole][]string
	standing map[types.AgentRole]string
	failures map[types.AgentRole]error
}

func newScriptedInvoker(t *testing.T, reg *prompts.Registry) *scriptedInvoker {
	t.Helper()
	s := &scriptedInvoker{
		roles:    make(map[string]types.AgentRole),
		queued:   make(map[types.AgentRole][]string),
		standing: make(map[types.AgentRole]string),
		failures: make(map[types.AgentRole]error),
	}
	for _, role := range types.AgentRoles {
		p, err := reg.SystemPrompt(role)
		require.NoError(t, err)
		s.roles[p] = role
	}
	return s
}

func (s *scriptedInvoker) queue(role types.AgentRole, replies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[role] = append(s.queued[role], replies...)
}

func (s *scriptedInvoker) always(role types.AgentRole, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.standing[role] = reply
}

func (s *scriptedInvoker) fail(role types.AgentRole, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[role] = err
}

func (s *scriptedInvoker) Invoke(ctx context.Context, rolePrompt string, conversation []*types.Message) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[rolePrompt]
	if !ok {
		return nil, fmt.Errorf("unknown role prompt")
	}
	if err := s.failures[role]; err != nil {
		return nil, err
	}
	if q := s.queued[role]; len(q) > 0 {
		s.queued[role] = q[1:]
		return &llm.Response{Text: q[0], Model: "scripted", PromptTokens: 10, CompletionTokens: 5}, nil
	}
	if reply, ok := s.standing[role]; ok {
		return &llm.Response{Text: reply, Model: "scripted", PromptTokens: 10, CompletionTokens: 5}, nil
	}
	return nil, fmt.Errorf("no reply scripted for %s", role)
}

// scriptSuccessfulRun scripts one run in which the coder adds util.go and
// QA passes.
func (s *scriptedInvoker) scriptSuccessfulRun() {
	s.queue(types.AgentIdeator, "```json\n"+ideasJSON+"\n```")
	s.queue(types.AgentFilter, refactorIdeaJSON)
	s.queue(types.AgentPlanner, planJSON)
	s.queue(types.AgentCoder,
		writeXML("util.go", "package pager\n\nfunc clamp(v, lo, hi int) int { return min(max(v, lo), hi) }\n"),
		finishXML("Added clamp helper in util.go"),
	)
	s.queue(types.AgentTestWriter, finishXML("No new tests needed"))
	s.queue(types.AgentQA, toolXML("run_tests", ""), verdictXML("PASS", "all tests pass"))
	s.queue(types.AgentCommitMessage, "refactor: add clamp helper")
}

type executorFixture struct {
	dir     string
	cfg     *config.Config
	invoker *scriptedInvoker
	prompts *prompts.Registry
	out     *bytes.Buffer
}

func newExecutorFixture(t *testing.T, withGit bool) *executorFixture {
	t.Helper()
	var dir string
	if withGit {
		dir = setupGitRepo(t)
	} else {
		dir = t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pager.go"), []byte(pagerSource), 0644))
	}

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Path = dir
	cfg.Git.Enabled = withGit
	cfg.Tests.Command = "exit 0"

	reg, err := prompts.DefaultRegistry()
	require.NoError(t, err)

	return &executorFixture{
		dir:     dir,
		cfg:     cfg,
		invoker: newScriptedInvoker(t, reg),
		prompts: reg,
		out:     &bytes.Buffer{},
	}
}

func (f *executorFixture) executor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{
		WithConsole(NewConsole(f.out, ParseVerbosity(f.cfg.Verbosity))),
		WithTokenizer(nil),
	}, opts...)
	e, err := NewExecutor(f.cfg, f.invoker, f.prompts, opts...)
	require.NoError(t, err)
	return e
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// setupGitRepo creates a repository holding pager.go in one commit.
func setupGitRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "commit.gpgsign", "false")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pager.go"), []byte(pagerSource), 0644))
	runGit(t, dir, "add", "pager.go")
	runGit(t, dir, "commit", "-q", "-m", "Initial commit")
	return dir
}
