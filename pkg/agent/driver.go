package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/logging"
	"github.com/entrhq/evocode/pkg/types"
)

// DefaultMaxTurns is the turn budget of a loop run.
const DefaultMaxTurns = 10

// maxParallelReads bounds concurrent read-only calls within one turn.
const maxParallelReads = 4

var driverLog *logging.Logger

func init() {
	var err error
	driverLog, err = logging.NewLogger("agent")
	if err != nil {
		driverLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

// Driver runs the tool-call loop for one role at a time. It holds no
// per-run state and may be reused across runs.
type Driver struct {
	invoker  Invoker
	registry *tools.Registry
	maxTurns int
	emit     func(*types.Event)
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithMaxTurns sets the turn budget.
func WithMaxTurns(max int) DriverOption {
	return func(d *Driver) {
		if max > 0 {
			d.maxTurns = max
		}
	}
}

// WithEventHandler sets the function receiving loop events.
func WithEventHandler(fn func(*types.Event)) DriverOption {
	return func(d *Driver) {
		if fn != nil {
			d.emit = fn
		}
	}
}

// NewDriver creates a driver calling the model through invoker and
// executing tools from registry.
func NewDriver(invoker Invoker, registry *tools.Registry, opts ...DriverOption) *Driver {
	d := &Driver{
		invoker:  invoker,
		registry: registry,
		maxTurns: DefaultMaxTurns,
		emit:     func(*types.Event) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives task to completion.
//
// The loop ends FINISHED when finish succeeds. It ends ABORTED with a
// *LoopExhaustedError when the turn budget runs out, with the context error
// when ctx is cancelled, or with the gateway error when a model call fails.
// The returned LoopResult is never nil.
func (d *Driver) Run(ctx context.Context, task Task) (*LoopResult, error) {
	result := &LoopResult{State: StateStart}

	toolset := d.registry.Tools(task.Role)
	if len(toolset) == 0 {
		result.State = StateAborted
		return result, fmt.Errorf("no tools registered for role %s", task.Role)
	}

	maxTurns := d.maxTurns
	if task.MaxTurns > 0 {
		maxTurns = task.MaxTurns
	}

	instructions := prompts.NewPromptBuilder().
		WithTools(toolset).
		WithRepositoryContext(task.RepositoryContext).
		Build()

	history := []*types.Message{types.NewUserMessage(task.UserMessage)}
	errorContext := ""

	driverLog.Infof("Starting %s loop (max %d turns, %d tools)", task.Role, maxTurns, len(toolset))

	for result.Turns < maxTurns {
		if err := ctx.Err(); err != nil {
			driverLog.Infof("%s loop cancelled after %d turns", task.Role, result.Turns)
			return d.abort(result, history), err
		}

		result.State = StateAwaitModel
		result.Turns++

		resp, err := d.invoker.Invoke(ctx, task.SystemPrompt, prompts.BuildMessages(instructions, history, errorContext))
		errorContext = ""
		if err != nil {
			driverLog.Errorf("%s turn %d: model call failed: %v", task.Role, result.Turns, err)
			return d.abort(result, history), err
		}
		d.emit(types.NewTokenUsageEvent(string(task.Role), resp.PromptTokens, resp.CompletionTokens))
		history = append(history, types.NewAssistantMessage(resp.Text))

		calls, parseErr := tools.ParseToolCalls(resp.Text)
		if len(calls) == 0 {
			errType := prompts.ErrorTypeNoToolCall
			if parseErr != nil {
				errType = prompts.ErrorTypeInvalidXML
			}
			driverLog.Warnf("%s turn %d: no usable tool call (parse error: %v)", task.Role, result.Turns, parseErr)
			d.emit(types.NewNoToolCallEvent(string(task.Role)))
			errorContext = prompts.BuildErrorRecoveryMessage(prompts.ErrorRecoveryContext{
				Type:           errType,
				Error:          parseErr,
				AvailableTools: toolset,
			})
			continue
		}

		result.State = StateExecuteTools
		calls = truncateAfterFinish(calls)
		results := d.executeCalls(ctx, task.Role, calls)
		result.ToolCalls += len(results)

		for _, res := range results {
			history = append(history, toolResultMessage(res, toolset))
			if res.LoopBreaking && res.ToolName() == tools.FinishToolName {
				result.State = StateFinished
				result.Finish = finishFromMetadata(res.Metadata)
				result.Transcript = history
				driverLog.Infof("%s loop finished after %d turns and %d tool calls", task.Role, result.Turns, result.ToolCalls)
				return result, nil
			}
		}

		if parseErr != nil {
			errorContext = prompts.BuildErrorRecoveryMessage(prompts.ErrorRecoveryContext{
				Type:           prompts.ErrorTypeInvalidXML,
				Error:          parseErr,
				AvailableTools: toolset,
			})
		}
	}

	driverLog.Warnf("%s loop exhausted %d turns without finish", task.Role, maxTurns)
	return d.abort(result, history), &LoopExhaustedError{Role: task.Role, MaxTurns: maxTurns}
}

func (d *Driver) abort(result *LoopResult, history []*types.Message) *LoopResult {
	result.State = StateAborted
	result.Transcript = history
	return result
}

// truncateAfterFinish drops calls that follow the first finish call.
func truncateAfterFinish(calls []*tools.ToolCall) []*tools.ToolCall {
	for i, call := range calls {
		if call.ToolName == tools.FinishToolName {
			return calls[:i+1]
		}
	}
	return calls
}

// executeCalls runs calls and returns their results in request order. A
// turn made only of read-only calls runs concurrently; any other turn runs
// sequentially and stops after a successful loop-breaking call.
func (d *Driver) executeCalls(ctx context.Context, role types.AgentRole, calls []*tools.ToolCall) []*tools.Result {
	readOnly := len(calls) > 1
	for _, call := range calls {
		if !d.registry.IsReadOnlyCall(role, call) {
			readOnly = false
			break
		}
	}

	for _, call := range calls {
		args, err := tools.XMLToMap(call.GetArgumentsXML())
		if err != nil {
			args = make(map[string]interface{})
		}
		d.emit(types.NewToolCallEvent(string(role), call.ToolName, args))
	}

	results := make([]*tools.Result, 0, len(calls))
	if readOnly {
		results = results[:len(calls)]
		var g errgroup.Group
		g.SetLimit(maxParallelReads)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = d.registry.Execute(ctx, role, call)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, call := range calls {
			res := d.registry.Execute(ctx, role, call)
			results = append(results, res)
			if res.LoopBreaking {
				break
			}
		}
	}

	for _, res := range results {
		d.report(role, res)
	}
	return results
}

func (d *Driver) report(role types.AgentRole, res *tools.Result) {
	name := res.ToolName()
	if !res.Success() {
		driverLog.Debugf("%s: %s failed: %v", role, name, res.Err)
		d.emit(types.NewToolResultErrorEvent(string(role), name, res.Err))
		return
	}

	driverLog.Debugf("%s: %s succeeded (%d bytes of output)", role, name, len(res.Output))
	event := types.NewToolResultEvent(string(role), name, res.Output)
	if len(res.Metadata) > 0 {
		maps.Copy(event.Metadata, res.Metadata)
	}
	d.emit(event)

	path, _ := res.Metadata[tools.MetaFilePath].(string)
	action, _ := res.Metadata[tools.MetaFileAction].(string)
	if path != "" && action != "" {
		d.emit(types.NewFileActivityEvent(string(role), name, path, action))
	}
}

func toolResultMessage(res *tools.Result, toolset []tools.Tool) *types.Message {
	name := res.ToolName()
	if !res.Success() {
		rc := prompts.ErrorRecoveryContext{
			Type:     prompts.ErrorTypeToolExecution,
			ToolName: name,
			Error:    res.Err,
		}
		var capErr *tools.CapabilityError
		if errors.As(res.Err, &capErr) {
			rc.Type = prompts.ErrorTypeUnknownTool
			rc.AvailableTools = toolset
		}
		text := prompts.BuildErrorRecoveryMessage(rc)
		return types.NewUserMessage(fmt.Sprintf("Tool '%s' error:\n%s", name, text))
	}
	return types.NewUserMessage(fmt.Sprintf("Tool '%s' result:\n%s", name, res.Output))
}

func finishFromMetadata(meta map[string]interface{}) *Finish {
	f := &Finish{}
	f.Summary, _ = meta[tools.MetaSummary].(string)
	f.Verdict, _ = meta[tools.MetaVerdict].(string)
	f.Reason, _ = meta[tools.MetaReason].(string)
	return f
}
