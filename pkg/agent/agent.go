// Package agent provides the tool-call loop Driver that runs the coder, test
// writer and QA roles.
//
// A Driver alternates between asking the model for its next move and
// executing the tool calls it returns until the role calls finish, the turn
// budget runs out, or the context is cancelled:
//
//	drv := agent.NewDriver(gateway, registry, agent.WithMaxTurns(10))
//	res, err := drv.Run(ctx, agent.Task{Role: types.AgentCoder, ...})
//
// Subpackages:
//   - prompts: role prompts, tool instructions and error recovery messages
//   - tools: the Tool interface, XML tool-call parsing, the role registry
//     and the finish tool
package agent

import (
	"context"
	"fmt"

	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/types"
)

// Invoker sends one conversation to the model. *llm.Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, rolePrompt string, conversation []*types.Message) (*llm.Response, error)
}

// State is a position in the loop's state machine.
type State int

const (
	StateStart State = iota
	StateAwaitModel
	StateExecuteTools
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateAwaitModel:
		return "AWAIT_MODEL"
	case StateExecuteTools:
		return "EXECUTE_TOOLS"
	case StateFinished:
		return "FINISHED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Task describes one loop run.
type Task struct {
	Role types.AgentRole

	// SystemPrompt is the role prompt, sent unchanged as the first message.
	SystemPrompt string

	// UserMessage is the stage input that opens the conversation.
	UserMessage string

	// RepositoryContext is included in the tool instructions, e.g. the
	// write constraints in force.
	RepositoryContext string

	// MaxTurns overrides the driver's turn budget when positive.
	MaxTurns int
}

// Finish holds the arguments of the role's finish call.
type Finish struct {
	Summary string
	Verdict string
	Reason  string
}

// LoopResult is the outcome of a loop run. It is returned alongside errors
// too, so callers can report how far the loop got.
type LoopResult struct {
	State     State
	Turns     int
	Finish    *Finish
	ToolCalls int

	// Transcript is the conversation without system messages.
	Transcript []*types.Message
}

// Finished reports whether the loop ended with a successful finish call.
func (r *LoopResult) Finished() bool {
	return r != nil && r.State == StateFinished && r.Finish != nil
}

// LoopExhaustedError is returned when a role uses its whole turn budget
// without calling finish.
type LoopExhaustedError struct {
	Role     types.AgentRole
	MaxTurns int
}

func (e *LoopExhaustedError) Error() string {
	return fmt.Sprintf("%s did not finish within %d turns", e.Role, e.MaxTurns)
}

// Kind returns the error taxonomy name.
func (e *LoopExhaustedError) Kind() string { return "LoopExhaustedError" }
