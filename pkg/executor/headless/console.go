package headless

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/config"
	"github.com/entrhq/evocode/pkg/pipeline"
	"github.com/entrhq/evocode/pkg/schema"
	"github.com/entrhq/evocode/pkg/types"
)

// Verbosity controls how much the console prints.
type Verbosity int

const (
	// VerbosityQuiet prints warnings, errors and the final summary.
	VerbosityQuiet Verbosity = iota
	// VerbosityNormal adds stages, the chosen idea and plan, and file writes.
	VerbosityNormal
	// VerbosityVerbose adds tool calls, file reads and highlighted patches.
	VerbosityVerbose
	// VerbosityDebug adds token usage and every other event.
	VerbosityDebug
)

// ParseVerbosity converts a config verbosity name. Unknown names map to
// VerbosityNormal.
func ParseVerbosity(name string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case config.VerbosityQuiet:
		return VerbosityQuiet
	case config.VerbosityVerbose:
		return VerbosityVerbose
	case config.VerbosityDebug:
		return VerbosityDebug
	default:
		return VerbosityNormal
	}
}

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	mintGreen   = lipgloss.Color("#A8E6CF")
	amber       = lipgloss.Color("#FFD59E")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
)

type consoleStyles struct {
	header  lipgloss.Style
	stage   lipgloss.Style
	info    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		header:  r.NewStyle().Foreground(salmonPink).Bold(true),
		stage:   r.NewStyle().Foreground(salmonPink),
		info:    r.NewStyle().Foreground(brightWhite),
		success: r.NewStyle().Foreground(mintGreen).Bold(true),
		warning: r.NewStyle().Foreground(amber),
		failure: r.NewStyle().Foreground(salmonPink).Bold(true),
		muted:   r.NewStyle().Foreground(mutedGray),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(salmonPink).Padding(0, 1),
	}
}

// Console reports pipeline progress to the terminal. It is separate from
// the file log: the console is for the operator, the log for debugging.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	level  Verbosity
	color  bool
	styles consoleStyles
}

// NewConsole creates a console writing to w. Colors are used only when w
// is a terminal.
func NewConsole(w io.Writer, level Verbosity) *Console {
	return &Console{
		w:      w,
		level:  level,
		color:  isTerminal(w),
		styles: newConsoleStyles(lipgloss.NewRenderer(w)),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// Level returns the console verbosity.
func (c *Console) Level() Verbosity {
	return c.level
}

func (c *Console) printf(min Verbosity, style lipgloss.Style, format string, args ...interface{}) {
	if c.level < min {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, style.Render(fmt.Sprintf(format, args...)))
}

// Header prints a boxed title.
func (c *Console) Header(title string) {
	if c.level < VerbosityNormal {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.styles.box.Render(c.styles.header.Render(title)))
}

// Infof prints an informational message
func (c *Console) Infof(format string, args ...interface{}) {
	c.printf(VerbosityNormal, c.styles.info, format, args...)
}

// Successf prints a success message with checkmark
func (c *Console) Successf(format string, args ...interface{}) {
	c.printf(VerbosityNormal, c.styles.success, "✓ "+format, args...)
}

// Warningf prints a warning at every verbosity.
func (c *Console) Warningf(format string, args ...interface{}) {
	c.printf(VerbosityQuiet, c.styles.warning, "⚠ "+format, args...)
}

// Errorf prints an error at every verbosity.
func (c *Console) Errorf(format string, args ...interface{}) {
	c.printf(VerbosityQuiet, c.styles.failure, "✗ "+format, args...)
}

// Verbosef prints detailed information (only in verbose mode)
func (c *Console) Verbosef(format string, args ...interface{}) {
	c.printf(VerbosityVerbose, c.styles.muted, "→ "+format, args...)
}

// Debugf prints debug information (only in debug mode)
func (c *Console) Debugf(format string, args ...interface{}) {
	c.printf(VerbosityDebug, c.styles.muted, "[DEBUG] "+format, args...)
}

// CycleStart announces cycle n of total.
func (c *Console) CycleStart(n, total int) {
	c.Header(fmt.Sprintf("EvoCode cycle %d/%d", n, total))
}

// Stage announces a pipeline stage.
func (c *Console) Stage(stage pipeline.Stage) {
	c.printf(VerbosityNormal, c.styles.stage, "▶ %s", stage)
}

// IdeaApproved prints the idea chosen by the filter.
func (c *Console) IdeaApproved(idea schema.Idea) {
	c.printf(VerbosityNormal, c.styles.info, "  Idea: %s [%s]", idea.Title, idea.Type)
	c.printf(VerbosityVerbose, c.styles.muted, "    %s", idea.Description)
}

// PlanApproved prints the plan's first line, or all of it when verbose.
func (c *Console) PlanApproved(plan schema.Plan) {
	desc := strings.TrimSpace(plan.Description)
	if c.level < VerbosityVerbose {
		desc, _, _ = strings.Cut(desc, "\n")
	}
	c.printf(VerbosityNormal, c.styles.info, "  Plan: %s", desc)
}

// FileActivity prints a tool touching a file. Writes show at normal
// verbosity, reads and listings only when verbose.
func (c *Console) FileActivity(role types.AgentRole, path, action string) {
	switch action {
	case "write", "patch":
		c.printf(VerbosityNormal, c.styles.success, "  📝 %s %s (%s)", action, path, role)
	default:
		c.printf(VerbosityVerbose, c.styles.muted, "  %s %s (%s)", action, path, role)
	}
}

// Event prints the events not covered by the dedicated hooks.
func (c *Console) Event(e *types.Event) {
	switch e.Type {
	case types.EventTypeToolCall:
		c.printf(VerbosityVerbose, c.styles.muted, "  • %s: %s", e.Role, e.ToolName)
	case types.EventTypeToolResult:
		if diff, ok := e.Metadata["diff"].(string); ok && diff != "" {
			c.Patch(diff)
		}
	case types.EventTypeToolResultError:
		c.printf(VerbosityVerbose, c.styles.warning, "  ✗ %s: %s failed: %v", e.Role, e.ToolName, e.Error)
	case types.EventTypeNoToolCall:
		c.printf(VerbosityVerbose, c.styles.warning, "  %s answered without a tool call", e.Role)
	case types.EventTypeQAVerdict:
		verdict, _ := e.Metadata["verdict"].(string)
		style := c.styles.success
		if verdict != tools.VerdictPass {
			style = c.styles.failure
		}
		c.printf(VerbosityNormal, style, "  QA %s: %s", verdict, e.Content)
	case types.EventTypeRetry:
		c.printf(VerbosityNormal, c.styles.warning, "  Retrying CODE (%v/%v)", e.Metadata["retry_count"], e.Metadata["max_retries"])
	case types.EventTypeDeviation:
		c.printf(VerbosityNormal, c.styles.warning, "  ⚠ %v: %s", e.Metadata["stage"], e.Content)
	case types.EventTypeTokenUsage:
		if e.TokenUsage != nil {
			c.printf(VerbosityDebug, c.styles.muted, "  [DEBUG] %s tokens: %d prompt, %d completion",
				e.Role, e.TokenUsage.PromptTokens, e.TokenUsage.CompletionTokens)
		}
	}
}

// Patch prints a unified diff, highlighted when the console has colors.
// Only shown in verbose mode.
func (c *Console) Patch(diff string) {
	if c.level < VerbosityVerbose {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	diff = strings.TrimRight(diff, "\n") + "\n"
	if c.color {
		if err := quick.Highlight(c.w, diff, "diff", "terminal256", "monokai"); err == nil {
			return
		}
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line != "" {
			fmt.Fprint(c.w, "    "+line)
		}
	}
}

// GitOperation prints a git step.
func (c *Console) GitOperation(operation, details string) {
	c.printf(VerbosityNormal, c.styles.stage, "  🔀 Git: %s", operation)
	if details != "" {
		c.printf(VerbosityVerbose, c.styles.muted, "    %s", details)
	}
}

// CycleSummary prints the outcome of a cycle. It is shown at every
// verbosity.
func (c *Console) CycleSummary(report *CycleReport, artifactsDir string) {
	run := report.Run
	var b strings.Builder

	status := c.styles.success.Render("✓ SUCCESS")
	if !run.Succeeded() {
		status = c.styles.failure.Render("✗ FAILED")
	}
	fmt.Fprintf(&b, "Cycle %d: %s\n", report.Cycle, status)
	fmt.Fprintf(&b, "Run: %s\n", run.RunID)
	fmt.Fprintf(&b, "Duration: %s\n", run.Duration().Round(time.Second))
	if run.Idea != nil {
		fmt.Fprintf(&b, "Idea: %s [%s]\n", run.Idea.Title, run.Idea.Type)
	}
	if run.QAVerdict != "" {
		fmt.Fprintf(&b, "QA: %s after %d retries\n", run.QAVerdict, run.RetryCount)
	}
	m := report.Metrics
	fmt.Fprintf(&b, "Files modified: %d (+%d/-%d)\n", len(report.FilesModified), m.TotalLinesAdded, m.TotalLinesRemoved)
	fmt.Fprintf(&b, "Tool calls: %d, tokens: %s\n", m.ToolCalls, formatNumber(m.TokensUsed()))
	if report.Git != nil && report.Git.CommitHash != "" {
		fmt.Fprintf(&b, "Commit: %s\n", shortHash(report.Git.CommitHash))
	}
	if report.Git != nil && report.Git.RolledBack {
		fmt.Fprintf(&b, "Rolled back to %s\n", shortHash(report.Git.Checkpoint))
	}
	if !run.Succeeded() {
		fmt.Fprintf(&b, "Error: %s: %s\n", run.ErrorKind, run.ErrorMessage)
	}
	if artifactsDir != "" {
		fmt.Fprintf(&b, "Artifacts: %s\n", artifactsDir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.styles.box.Render(strings.TrimRight(b.String(), "\n")))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// formatNumber formats large numbers with commas for readability
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
