package types

// AgentRole names one of the model roles the pipeline drives. Each role has
// its own prompt; the tool-using roles also have a fixed tool set.
type AgentRole string

const (
	AgentIdeator       AgentRole = "ideator"
	AgentFilter        AgentRole = "filter"
	AgentPlanner       AgentRole = "planner"
	AgentCoder         AgentRole = "coder"
	AgentTestWriter    AgentRole = "test_writer"
	AgentQA            AgentRole = "qa_agent"
	AgentCommitMessage AgentRole = "commit_message_generator"
)

// AgentRoles lists every role in pipeline order.
var AgentRoles = []AgentRole{
	AgentIdeator,
	AgentFilter,
	AgentPlanner,
	AgentCoder,
	AgentTestWriter,
	AgentQA,
	AgentCommitMessage,
}

// UsesTools reports whether the role runs inside the tool-call loop.
func (r AgentRole) UsesTools() bool {
	return r == AgentCoder || r == AgentTestWriter || r == AgentQA
}
