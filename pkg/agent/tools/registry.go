package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/entrhq/evocode/pkg/types"
)

// RoleCapabilities is the closed set of tool names each loop role may use.
// Roles not listed here have no tools.
var RoleCapabilities = map[types.AgentRole][]string{
	types.AgentCoder:      {"list_files", "read_file", "apply_patch", "write_file", FinishToolName},
	types.AgentTestWriter: {"read_file", "list_files", "write_file", "apply_patch", FinishToolName},
	types.AgentQA:         {"run_tests", FinishToolName},
}

// CapabilityError is returned when a role calls a tool outside its
// capability set, including names no role has.
type CapabilityError struct {
	Role    types.AgentRole
	Tool    string
	Allowed []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("tool %q is not available to the %s role (available: %s)",
		e.Tool, e.Role, strings.Join(e.Allowed, ", "))
}

// Kind returns the error taxonomy name.
func (e *CapabilityError) Kind() string { return "CapabilityError" }

// Registry holds the toolset of each role.
type Registry struct {
	mu       sync.RWMutex
	toolsets map[types.AgentRole]map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{toolsets: make(map[types.AgentRole]map[string]Tool)}
}

// Register adds tool to role's toolset. The tool's name must be in the
// role's capability set.
func (r *Registry) Register(role types.AgentRole, tool Tool) error {
	allowed := RoleCapabilities[role]
	if !slices.Contains(allowed, tool.Name()) {
		return &CapabilityError{Role: role, Tool: tool.Name(), Allowed: allowed}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.toolsets[role]
	if !ok {
		set = make(map[string]Tool)
		r.toolsets[role] = set
	}
	if _, exists := set[tool.Name()]; exists {
		return fmt.Errorf("tool %q already registered for %s", tool.Name(), role)
	}
	set[tool.Name()] = tool
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(role types.AgentRole, tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(role, t); err != nil {
			panic(err)
		}
	}
}

// Tools returns role's registered tools in capability order.
func (r *Registry) Tools(role types.AgentRole) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.toolsets[role]
	list := make([]Tool, 0, len(set))
	for _, name := range RoleCapabilities[role] {
		if t, ok := set[name]; ok {
			list = append(list, t)
		}
	}
	return list
}

// Lookup returns the tool named name if role may use it.
func (r *Registry) Lookup(role types.AgentRole, name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.toolsets[role][name]; ok {
		return t, nil
	}

	available := make([]string, 0, len(r.toolsets[role]))
	for _, n := range RoleCapabilities[role] {
		if _, ok := r.toolsets[role][n]; ok {
			available = append(available, n)
		}
	}
	return nil, &CapabilityError{Role: role, Tool: name, Allowed: available}
}

// Execute runs call on behalf of role. Errors never escape: a capability
// violation, malformed arguments or a failing tool yield a failed Result.
func (r *Registry) Execute(ctx context.Context, role types.AgentRole, call *ToolCall) *Result {
	result := &Result{Call: call}

	tool, err := r.Lookup(role, call.ToolName)
	if err != nil {
		result.Err = err
		return result
	}

	output, metadata, err := tool.Execute(ctx, call.GetArgumentsXML())
	if err != nil {
		result.Err = err
		return result
	}

	result.Output = output
	result.Metadata = metadata
	result.LoopBreaking = tool.IsLoopBreaking()
	return result
}

// IsReadOnlyCall reports whether call targets a read-only tool available
// to role. Unknown tools count as read-only since they never execute.
func (r *Registry) IsReadOnlyCall(role types.AgentRole, call *ToolCall) bool {
	tool, err := r.Lookup(role, call.ToolName)
	if err != nil {
		return true
	}
	return IsReadOnly(tool)
}
