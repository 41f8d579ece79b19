package types

// EventType defines the type of event emitted during a pipeline run.
type EventType string

const (
	EventTypeStageChange     EventType = "stage_change"      // EventTypeStageChange indicates the controller entered a new stage.
	EventTypeIdeasProposed   EventType = "ideas_proposed"    // EventTypeIdeasProposed carries the validated ideator output.
	EventTypeIdeaApproved    EventType = "idea_approved"     // EventTypeIdeaApproved indicates the filter selected an idea.
	EventTypePlanApproved    EventType = "plan_approved"     // EventTypePlanApproved indicates the planner produced a valid plan.
	EventTypeToolCall        EventType = "tool_call"         // EventTypeToolCall indicates an agent is calling a tool.
	EventTypeToolResult      EventType = "tool_result"       // EventTypeToolResult indicates a successful tool call result.
	EventTypeToolResultError EventType = "tool_result_error" // EventTypeToolResultError indicates a tool call resulted in an error.
	EventTypeNoToolCall      EventType = "no_tool_call"      // EventTypeNoToolCall indicates a model turn without a tool call.
	EventTypeFileActivity    EventType = "file_activity"     // EventTypeFileActivity indicates a tool read or wrote a file.
	EventTypeQAVerdict       EventType = "qa_verdict"        // EventTypeQAVerdict carries the QA agent's verdict.
	EventTypeRetry           EventType = "retry"             // EventTypeRetry indicates a QA failure sent the run back to CODE.
	EventTypeDeviation       EventType = "deviation"         // EventTypeDeviation records a tolerated departure from the expected model output.
	EventTypeTokenUsage      EventType = "token_usage"       // EventTypeTokenUsage carries token counts of a model call.
	EventTypeError           EventType = "error"             // EventTypeError indicates a stage failed.
	EventTypeRunComplete     EventType = "run_complete"      // EventTypeRunComplete indicates the run reached a terminal state.
)

// Event represents something that happened during a pipeline run.
type Event struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// ToolInput is the input sent to the tool (for tool call events).
	ToolInput map[string]interface{}

	// ToolOutput is the result from the tool (for tool result events).
	ToolOutput interface{}

	// Error contains error information for error events.
	Error error

	// TokenUsage contains token usage information (for token usage events).
	TokenUsage *TokenUsage

	// Content holds free text: a stage name, a deviation note, a QA reason.
	Content string

	// ToolName is the name of the tool being called (for tool events).
	ToolName string

	// Role is the agent role that produced the event, when there is one.
	Role string

	// FilePath is the workspace-relative file touched (for file activity events).
	FilePath string

	// Type indicates the kind of event.
	Type EventType
}

// TokenUsage contains token usage statistics from a model call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func newEvent(t EventType) *Event {
	return &Event{
		Type:     t,
		Metadata: make(map[string]interface{}),
	}
}

// NewStageChangeEvent creates an event for entering stage.
func NewStageChangeEvent(stage string) *Event {
	e := newEvent(EventTypeStageChange)
	e.Content = stage
	return e
}

// NewIdeasProposedEvent creates an event carrying the ideator's candidates.
func NewIdeasProposedEvent(ideas interface{}, count int) *Event {
	e := newEvent(EventTypeIdeasProposed)
	e.ToolOutput = ideas
	e.Metadata["count"] = count
	return e
}

// NewIdeaApprovedEvent creates an event for the idea chosen by the filter.
func NewIdeaApprovedEvent(idea interface{}, title string) *Event {
	e := newEvent(EventTypeIdeaApproved)
	e.ToolOutput = idea
	e.Content = title
	return e
}

// NewPlanApprovedEvent creates an event for a validated plan.
func NewPlanApprovedEvent(plan interface{}, description string) *Event {
	e := newEvent(EventTypePlanApproved)
	e.ToolOutput = plan
	e.Content = description
	return e
}

// NewToolCallEvent creates a tool call event.
func NewToolCallEvent(role, toolName string, toolInput map[string]interface{}) *Event {
	e := newEvent(EventTypeToolCall)
	e.Role = role
	e.ToolName = toolName
	e.ToolInput = toolInput
	return e
}

// NewToolResultEvent creates a successful tool result event.
func NewToolResultEvent(role, toolName string, output interface{}) *Event {
	e := newEvent(EventTypeToolResult)
	e.Role = role
	e.ToolName = toolName
	e.ToolOutput = output
	return e
}

// NewToolResultErrorEvent creates a failed tool result event.
func NewToolResultErrorEvent(role, toolName string, err error) *Event {
	e := newEvent(EventTypeToolResultError)
	e.Role = role
	e.ToolName = toolName
	e.Error = err
	return e
}

// NewNoToolCallEvent creates an event for a model turn without a tool call.
func NewNoToolCallEvent(role string) *Event {
	e := newEvent(EventTypeNoToolCall)
	e.Role = role
	return e
}

// NewFileActivityEvent creates an event for a tool touching a file. action is
// "read", "write" or "patch".
func NewFileActivityEvent(role, toolName, path, action string) *Event {
	e := newEvent(EventTypeFileActivity)
	e.Role = role
	e.ToolName = toolName
	e.FilePath = path
	e.Content = action
	return e
}

// NewQAVerdictEvent creates an event carrying the QA verdict and reason.
func NewQAVerdictEvent(verdict, reason string) *Event {
	e := newEvent(EventTypeQAVerdict)
	e.Content = reason
	e.Metadata["verdict"] = verdict
	return e
}

// NewRetryEvent creates an event for a QA retry.
func NewRetryEvent(retryCount, maxRetries int, reason string) *Event {
	e := newEvent(EventTypeRetry)
	e.Content = reason
	e.Metadata["retry_count"] = retryCount
	e.Metadata["max_retries"] = maxRetries
	return e
}

// NewDeviationEvent creates an event recording a tolerated deviation in stage output.
func NewDeviationEvent(stage, note string) *Event {
	e := newEvent(EventTypeDeviation)
	e.Content = note
	e.Metadata["stage"] = stage
	return e
}

// NewTokenUsageEvent creates a token usage event.
func NewTokenUsageEvent(role string, promptTokens, completionTokens int) *Event {
	e := newEvent(EventTypeTokenUsage)
	e.Role = role
	e.TokenUsage = &TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	return e
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) *Event {
	e := newEvent(EventTypeError)
	e.Error = err
	return e
}

// NewRunCompleteEvent creates an event for a run reaching status.
func NewRunCompleteEvent(status string, run interface{}) *Event {
	e := newEvent(EventTypeRunComplete)
	e.Content = status
	e.ToolOutput = run
	return e
}

// WithMetadata adds a metadata key-value pair to the event and returns the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsToolEvent returns true if the event concerns a tool call or its result.
func (e *Event) IsToolEvent() bool {
	return e.Type == EventTypeToolCall ||
		e.Type == EventTypeToolResult ||
		e.Type == EventTypeToolResultError
}

// IsErrorEvent returns true if the event carries an error.
func (e *Event) IsErrorEvent() bool {
	return e.Type == EventTypeError || e.Type == EventTypeToolResultError
}
