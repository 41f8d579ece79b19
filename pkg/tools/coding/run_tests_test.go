package coding

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunTestsTool_ExitCodes(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name        string
		command     string
		wantPassed  bool
		wantNoTests bool
		wantHeader  string
	}{
		{"pass", "echo ok", true, false, "PASSED"},
		{"fail", "echo 'FAIL: TestPages' && exit 1", false, false, "FAILED: tests failed (exit code 1)"},
		{"no tests", "exit 5", false, true, "NO TESTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewRunTestsTool(createWorkspaceGuard(t, t.TempDir()), TestOptions{
				Command:         tt.command,
				NoTestsExitCode: DefaultNoTestsExitCode,
			})

			result, metadata, err := tool.Execute(context.Background(), []byte(`<arguments></arguments>`))
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(result, tt.wantHeader), "got %q", result)
			assert.Equal(t, tt.wantPassed, metadata[MetaPassed])
			assert.Equal(t, tt.wantNoTests, metadata[MetaNoTests])
		})
	}
}

func TestRunTestsTool_CapturesOutput(t *testing.T) {
	requireShell(t)

	tool := NewRunTestsTool(createWorkspaceGuard(t, t.TempDir()), TestOptions{
		Command: "echo out-line; echo err-line >&2; exit 2",
	})

	result, metadata, err := tool.Execute(context.Background(), []byte(`<arguments></arguments>`))
	require.NoError(t, err)
	assert.Contains(t, result, "Stdout:\nout-line")
	assert.Contains(t, result, "Stderr:\nerr-line")
	assert.Equal(t, 2, metadata[MetaExitCode])
}

func TestRunTestsTool_PathPlaceholder(t *testing.T) {
	requireShell(t)

	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir+"/tests/test_pager.py", "")
	tool := NewRunTestsTool(createWorkspaceGuard(t, tmpDir), TestOptions{Command: "echo running {path}"})

	result, _, err := tool.Execute(context.Background(), []byte(`<arguments><path>tests</path></arguments>`))
	require.NoError(t, err)
	assert.Contains(t, result, "running tests")
	assert.Contains(t, result, "Command: echo running 'tests'")

	_, _, err = tool.Execute(context.Background(), []byte(`<arguments><path>../other</path></arguments>`))
	assert.Error(t, err)
}

func TestRunTestsTool_DirPlaceholder(t *testing.T) {
	requireShell(t)

	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir+"/pkg/pager/pager_test.go", "package pager\n")
	tool := NewRunTestsTool(createWorkspaceGuard(t, tmpDir), TestOptions{Command: "echo go test {dir}/..."})

	tests := []struct {
		name string
		args string
		want string
	}{
		{"no path", `<arguments></arguments>`, "go test ./..."},
		{"directory", `<arguments><path>pkg/pager</path></arguments>`, "go test ./pkg/pager/..."},
		{"file", `<arguments><path>pkg/pager/pager_test.go</path></arguments>`, "go test ./pkg/pager/..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := tool.Execute(context.Background(), []byte(tt.args))
			require.NoError(t, err)
			assert.Contains(t, result, "Stdout:\n"+tt.want)
		})
	}
}

func TestRunTestsTool_Timeout(t *testing.T) {
	requireShell(t)

	tool := NewRunTestsTool(createWorkspaceGuard(t, t.TempDir()), TestOptions{
		Command: "sleep 5",
		Timeout: 100 * time.Millisecond,
	})

	result, metadata, err := tool.Execute(context.Background(), []byte(`<arguments></arguments>`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, "FAILED: tests timed out"), "got %q", result)
	assert.Equal(t, false, metadata[MetaPassed])
	assert.Equal(t, true, metadata[MetaTimedOut])
}

func TestRunTestsTool_Cancelled(t *testing.T) {
	requireShell(t)

	tool := NewRunTestsTool(createWorkspaceGuard(t, t.TempDir()), TestOptions{Command: "sleep 5"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := tool.Execute(ctx, []byte(`<arguments></arguments>`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncateOutput(t *testing.T) {
	assert.Equal(t, "short", truncateOutput("short", 10))
	assert.Equal(t, "[... 6 bytes truncated ...]\n6789", truncateOutput("0123456789", 4))

	t.Run("multi-byte tail", func(t *testing.T) {
		// "é" is two bytes; a five-byte tail would start inside the first one.
		got := truncateOutput("ok ééé", 5)
		assert.Equal(t, "[... 5 bytes truncated ...]\néé", got)
		assert.True(t, utf8.ValidString(got))
	})
}

func TestRunTestsTool_Defaults(t *testing.T) {
	tool := NewRunTestsTool(createWorkspaceGuard(t, t.TempDir()), TestOptions{})
	assert.Equal(t, DefaultTestCommand, tool.opts.Command)
	assert.Equal(t, DefaultTestTimeout, tool.opts.Timeout)
	assert.Contains(t, tool.Description(), "go test {dir}/...")
}
