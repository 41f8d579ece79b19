package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/evocode/pkg/agent/tools"
	"github.com/entrhq/evocode/pkg/types"
)

// PromptBuilder constructs the tool instructions that accompany a role's
// system prompt in the tool-call loop.
type PromptBuilder struct {
	tools             []tools.Tool
	repositoryContext string
}

// NewPromptBuilder creates a new prompt builder with default settings
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		tools: []tools.Tool{},
	}
}

// WithTools sets the tools available to the role
func (pb *PromptBuilder) WithTools(toolsList []tools.Tool) *PromptBuilder {
	pb.tools = toolsList
	return pb
}

// WithRepositoryContext adds repository-specific context, such as the
// configured write constraints.
func (pb *PromptBuilder) WithRepositoryContext(context string) *PromptBuilder {
	pb.repositoryContext = context
	return pb
}

// Build assembles the tool instruction section.
func (pb *PromptBuilder) Build() string {
	var builder strings.Builder

	if pb.repositoryContext != "" {
		builder.WriteString("<repository_context>\n")
		builder.WriteString(pb.repositoryContext)
		builder.WriteString("\n</repository_context>\n\n")
	}

	builder.WriteString(AgentLoopPrompt)
	builder.WriteString("\n\n")

	builder.WriteString(ToolCallingPrompt)
	builder.WriteString("\n\n")

	if hasTool(pb.tools, "apply_patch") {
		builder.WriteString(PatchFormatPrompt)
		builder.WriteString("\n\n")
	}

	builder.WriteString("<available_tools>\n")
	builder.WriteString(FormatToolSchemas(pb.tools))
	builder.WriteString("</available_tools>\n\n")

	builder.WriteString(ToolUseRulesPrompt)

	return builder.String()
}

func hasTool(list []tools.Tool, name string) bool {
	for _, t := range list {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// BuildMessages creates the conversation for one model turn. The system
// prompt is not included; the gateway adds it. toolInstructions, when set,
// leads the conversation as a separate system message.
func BuildMessages(toolInstructions string, history []*types.Message, errorContext string) []*types.Message {
	messages := make([]*types.Message, 0, len(history)+2)

	if toolInstructions != "" {
		messages = append(messages, types.NewSystemMessage(toolInstructions))
	}

	for _, msg := range history {
		if msg.Role != types.RoleSystem {
			messages = append(messages, msg)
		}
	}

	// Ephemeral: used for this turn only, never stored in history.
	if errorContext != "" {
		messages = append(messages, types.NewUserMessage(errorContext))
	}

	return messages
}

// FormatToolSchema renders a single tool for the system prompt.
func FormatToolSchema(tool tools.Tool) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("## %s\n", tool.Name()))
	builder.WriteString(tool.Description())
	builder.WriteString("\n")
	if tool.IsLoopBreaking() {
		builder.WriteString("(loop-breaking: ends your turn sequence when it succeeds)\n")
	}

	builder.WriteString("\nParameters:\n")
	schema := tool.Schema()
	props, _ := schema["properties"].(map[string]interface{}) //nolint:errcheck
	if len(props) == 0 {
		builder.WriteString("- none\n")
	}
	required := requiredSet(schema)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, _ := props[name].(map[string]interface{}) //nolint:errcheck
		typ, _ := prop["type"].(string)                 //nolint:errcheck
		desc, _ := prop["description"].(string)         //nolint:errcheck
		req := "optional"
		if required[name] {
			req = "required"
		}
		builder.WriteString(fmt.Sprintf("- %s (%s, %s): %s\n", name, typ, req, desc))
	}

	builder.WriteString("\nExample:\n")
	if ex, ok := tool.(XMLExampleProvider); ok {
		builder.WriteString(ex.XMLExample())
	} else {
		builder.WriteString(GenerateXMLExample(schema, tool.Name()))
	}
	builder.WriteString("\n")

	return builder.String()
}

// FormatToolSchemas renders every tool under an AVAILABLE TOOLS header.
func FormatToolSchemas(toolsList []tools.Tool) string {
	if len(toolsList) == 0 {
		return "No tools available.\n"
	}

	var builder strings.Builder
	builder.WriteString("# AVAILABLE TOOLS\n\n")
	for _, tool := range toolsList {
		builder.WriteString(FormatToolSchema(tool))
		builder.WriteString("\n")
	}
	return builder.String()
}

// FormatToolForLLM converts a tool to a name/description/parameters map.
func FormatToolForLLM(tool tools.Tool) map[string]interface{} {
	return map[string]interface{}{
		"name":        tool.Name(),
		"description": tool.Description(),
		"parameters":  tool.Schema(),
	}
}

// SchemaToJSON renders a tool schema as indented JSON.
func SchemaToJSON(schema map[string]interface{}) (string, error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}

func requiredSet(schema map[string]interface{}) map[string]bool {
	set := make(map[string]bool)
	if req, ok := schema["required"].([]string); ok {
		for _, r := range req {
			set[r] = true
		}
	}
	return set
}
