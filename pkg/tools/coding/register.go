// Package coding provides the filesystem and test tools used by the coder,
// test writer and QA roles. Every path goes through a workspace.Guard.
package coding

import (
	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/patch"
	"github.com/entrhq/evocode/pkg/security/workspace"
	"github.com/entrhq/evocode/pkg/types"
)

// Options configures the coding toolset.
type Options struct {
	Constraints *Constraints
	Patch       patch.Options
	Tests       TestOptions
}

// NewRegistry returns a registry holding every role's toolset for the
// workspace behind guard.
func NewRegistry(guard *workspace.Guard, opts Options) (*tools.Registry, error) {
	reg := tools.NewRegistry()

	for _, role := range []types.AgentRole{types.AgentCoder, types.AgentTestWriter} {
		for _, t := range []tools.Tool{
			NewListFilesTool(guard),
			NewReadFileTool(guard),
			NewApplyPatchTool(guard, opts.Constraints, opts.Patch),
			NewWriteFileTool(guard, opts.Constraints),
			tools.NewFinishTool(),
		} {
			if err := reg.Register(role, t); err != nil {
				return nil, err
			}
		}
	}

	for _, t := range []tools.Tool{
		NewRunTestsTool(guard, opts.Tests),
		tools.NewVerdictFinishTool(),
	} {
		if err := reg.Register(types.AgentQA, t); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
