package pipeline

import (
	"github.com/entrhq/evocode/pkg/schema"
	"github.com/entrhq/evocode/pkg/types"
)

// Hooks lets callers follow a run. Every field is optional. Hooks are
// called synchronously from the run's goroutine and must not block.
type Hooks struct {
	OnStageChange  func(stage Stage)
	OnIdeaApproved func(idea schema.Idea)
	OnPlanApproved func(plan schema.Plan)
	OnFileActivity func(role types.AgentRole, path, action string)

	// OnEvent receives every event of the run, including the ones above.
	OnEvent func(event *types.Event)

	// IsCancelled is polled at stage boundaries and on every event; once it
	// returns true the run stops at the next stage or loop iteration.
	IsCancelled func() bool
}

func (h Hooks) cancelled() bool {
	return h.IsCancelled != nil && h.IsCancelled()
}
