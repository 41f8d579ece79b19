package types

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"    // RoleSystem carries role prompts and tool instructions.
	RoleUser      MessageRole = "user"      // RoleUser carries stage input and tool results.
	RoleAssistant MessageRole = "assistant" // RoleAssistant carries model output.
)

// Message is a single entry of a model conversation.
type Message struct {
	// Metadata holds optional additional information about the message.
	Metadata map[string]interface{}

	// Content is the message text.
	Content string

	// Role indicates who authored the message.
	Role MessageRole
}

// NewMessage creates a message with the given role and content.
func NewMessage(role MessageRole, content string) *Message {
	return &Message{
		Role:     role,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// WithMetadata adds a metadata key-value pair to the message and returns it.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}
