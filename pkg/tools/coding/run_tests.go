package coding

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/security/workspace"
)

// Test runner defaults.
const (
	DefaultTestCommand     = "go test {dir}/..."
	DefaultTestTimeout     = 5 * time.Minute
	DefaultNoTestsExitCode = 5
	DefaultMaxOutputBytes  = 16 * 1024
)

// TestOptions configures the run_tests tool.
type TestOptions struct {
	// Command runs through "sh -c" in the workspace. A {path} placeholder is
	// replaced with the shell-quoted path argument, and {dir} with the
	// shell-quoted "./"-prefixed directory holding it. Without an argument
	// both are ".".
	Command string
	Timeout time.Duration
	// NoTestsExitCode is the exit code meaning "no tests collected" (pytest
	// uses 5). Zero disables the mapping.
	NoTestsExitCode int
	// MaxOutputBytes bounds the captured output kept from each stream.
	MaxOutputBytes int
}

func (o TestOptions) withDefaults() TestOptions {
	if strings.TrimSpace(o.Command) == "" {
		o.Command = DefaultTestCommand
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTestTimeout
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return o
}

// Metadata keys set by run_tests.
const (
	MetaPassed   = "passed"
	MetaNoTests  = "no_tests"
	MetaExitCode = "exit_code"
	MetaTimedOut = "timed_out"
)

// RunTestsTool runs the project's test command and reports pass or fail
// with the captured logs. A failing suite is a successful tool call.
type RunTestsTool struct {
	guard *workspace.Guard
	opts  TestOptions
}

// NewRunTestsTool creates a RunTestsTool.
func NewRunTestsTool(guard *workspace.Guard, opts TestOptions) *RunTestsTool {
	return &RunTestsTool{guard: guard, opts: opts.withDefaults()}
}

func (t *RunTestsTool) Name() string {
	return "run_tests"
}

func (t *RunTestsTool) Description() string {
	return fmt.Sprintf("Run the project's test suite (%s) and return whether it passed with the test output.", t.opts.Command)
}

func (t *RunTestsTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Optional test file or directory relative to the repository root (default: the whole project)",
			},
		},
		nil,
	)
}

// Execute runs the test command.
func (t *RunTestsTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	var input struct {
		XMLName xml.Name `xml:"arguments"`
		Path    string   `xml:"path"`
	}
	if err := tools.UnmarshalXMLWithFallback(argsXML, &input); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	path := strings.TrimSpace(input.Path)
	if path == "" {
		path = "."
	}
	absPath, err := t.guard.Resolve(path)
	if err != nil {
		return "", nil, fmt.Errorf("invalid path: %w", err)
	}
	relPath, err := t.guard.MakeRelative(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("invalid path: %w", err)
	}

	dir := relPath
	if info, statErr := os.Stat(absPath); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(relPath)
	}
	command := strings.NewReplacer(
		"{path}", shellQuote(relPath),
		"{dir}", shellQuote(packageDir(dir)),
	).Replace(t.opts.Command)

	execCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.guard.WorkspaceDir()
	// Children of sh may hold the output pipes open after sh is killed.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return "", nil, ctx.Err()
	}

	exitCode := 0
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case timedOut:
			exitCode = -1
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return "", nil, fmt.Errorf("failed to run test command: %w", runErr)
		}
	}

	passed := exitCode == 0 && !timedOut
	noTests := !passed && !timedOut && t.opts.NoTestsExitCode != 0 && exitCode == t.opts.NoTestsExitCode

	var header string
	switch {
	case passed:
		header = fmt.Sprintf("PASSED: all tests passed in %s", duration.Round(time.Millisecond))
	case timedOut:
		header = fmt.Sprintf("FAILED: tests timed out after %s", t.opts.Timeout)
	case noTests:
		header = fmt.Sprintf("NO TESTS: no tests were found for '%s'", relPath)
	default:
		header = fmt.Sprintf("FAILED: tests failed (exit code %d)", exitCode)
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\nCommand: ")
	b.WriteString(command)
	b.WriteString("\n\nStdout:\n")
	b.WriteString(truncateOutput(stdout.String(), t.opts.MaxOutputBytes))
	if stderr.Len() > 0 {
		b.WriteString("\n\nStderr:\n")
		b.WriteString(truncateOutput(stderr.String(), t.opts.MaxOutputBytes))
	}

	metadata := map[string]interface{}{
		MetaPassed:    passed,
		MetaNoTests:   noTests,
		MetaExitCode:  exitCode,
		MetaTimedOut:  timedOut,
		"command":     command,
		"duration_ms": duration.Milliseconds(),
	}

	return b.String(), metadata, nil
}

func (t *RunTestsTool) IsLoopBreaking() bool {
	return false
}

// shellQuote quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// packageDir makes a relative directory explicit so tools such as go treat
// it as a path rather than an import path.
func packageDir(dir string) string {
	dir = filepath.ToSlash(dir)
	if dir == "." || strings.HasPrefix(dir, "./") {
		return dir
	}
	return "./" + dir
}

// truncateOutput keeps the tail of s, where test failures are reported. The
// cut never splits a UTF-8 sequence.
func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return fmt.Sprintf("[... %d bytes truncated ...]\n%s", cut, s[cut:])
}
