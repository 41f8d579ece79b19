package headless

import (
	"sort"
	"sync"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/types"
)

// FileModification is the accumulated change to one file in a cycle.
type FileModification struct {
	Path         string   `json:"path"`
	Actions      []string `json:"actions"`
	Roles        []string `json:"roles"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
}

// ActivityTracker folds the events of a run into file modifications and
// metrics. Successful write and patch results count; failed tool calls do not.
type ActivityTracker struct {
	mu       sync.Mutex
	modified map[string]*FileModification
	read     map[string]bool
	metrics  ExecutionMetrics
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		modified: make(map[string]*FileModification),
		read:     make(map[string]bool),
	}
}

// Observe records event.
func (t *ActivityTracker) Observe(event *types.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Type {
	case types.EventTypeTokenUsage:
		if event.TokenUsage != nil {
			t.metrics.ModelCalls++
			t.metrics.PromptTokens += event.TokenUsage.PromptTokens
			t.metrics.CompletionTokens += event.TokenUsage.CompletionTokens
		}
	case types.EventTypeToolCall:
		t.metrics.ToolCalls++
	case types.EventTypeToolResultError:
		t.metrics.ToolErrors++
	case types.EventTypeNoToolCall:
		t.metrics.NoToolCallTurns++
	case types.EventTypeToolResult:
		t.recordResult(event)
	}
}

func (t *ActivityTracker) recordResult(event *types.Event) {
	path, _ := event.Metadata[tools.MetaFilePath].(string)
	action, _ := event.Metadata[tools.MetaFileAction].(string)
	if path == "" {
		return
	}

	switch action {
	case "read":
		t.read[path] = true
		return
	case "write", "patch":
	default:
		return
	}

	mod, ok := t.modified[path]
	if !ok {
		mod = &FileModification{Path: path}
		t.modified[path] = mod
	}
	mod.Actions = appendUnique(mod.Actions, action)
	mod.Roles = appendUnique(mod.Roles, event.Role)

	added, _ := event.Metadata[tools.MetaLinesAdded].(int)
	removed, _ := event.Metadata[tools.MetaLinesRemoved].(int)
	mod.LinesAdded += added
	mod.LinesRemoved += removed
	t.metrics.TotalLinesAdded += added
	t.metrics.TotalLinesRemoved += removed
}

// Modified returns the modified files sorted by path.
func (t *ActivityTracker) Modified() []FileModification {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]FileModification, 0, len(t.modified))
	for _, mod := range t.modified {
		out = append(out, *mod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Read returns the files read but never modified, sorted.
func (t *ActivityTracker) Read() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for path := range t.read {
		if _, ok := t.modified[path]; !ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Metrics returns the counters accumulated so far.
func (t *ActivityTracker) Metrics() ExecutionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
