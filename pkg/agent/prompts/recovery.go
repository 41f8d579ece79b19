package prompts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/evocode/pkg/agent/tools"
)

// ErrorType classifies a recoverable loop error.
type ErrorType int

const (
	// ErrorTypeNoToolCall means the response contained no tool call.
	ErrorTypeNoToolCall ErrorType = iota
	// ErrorTypeInvalidXML means a tool block could not be parsed.
	ErrorTypeInvalidXML
	// ErrorTypeUnknownTool means the tool is not available to the role.
	ErrorTypeUnknownTool
	// ErrorTypeToolExecution means the tool ran and failed.
	ErrorTypeToolExecution
)

// ErrorRecoveryContext carries what the model needs to correct itself.
type ErrorRecoveryContext struct {
	Type           ErrorType
	ToolName       string
	Error          error
	AvailableTools []tools.Tool
}

// BuildErrorRecoveryMessage builds the message fed back to the model after
// a recoverable error.
func BuildErrorRecoveryMessage(ctx ErrorRecoveryContext) string {
	var b strings.Builder
	b.WriteString("ERROR: ")

	switch ctx.Type {
	case ErrorTypeNoToolCall:
		b.WriteString("Your response did not contain a tool call. ")
		b.WriteString("Every response must contain at least one <tool> block. ")
		b.WriteString("If your work is complete, call finish.")
	case ErrorTypeInvalidXML:
		b.WriteString("Your tool call could not be parsed")
		if ctx.Error != nil {
			b.WriteString(": ")
			b.WriteString(ctx.Error.Error())
		}
		b.WriteString("\nCheck that every element is closed and that file contents or diffs are wrapped in CDATA.")
	case ErrorTypeUnknownTool:
		fmt.Fprintf(&b, "Tool '%s' is not available.", ctx.ToolName)
	case ErrorTypeToolExecution:
		fmt.Fprintf(&b, "Tool '%s' failed", ctx.ToolName)
		if ctx.Error != nil {
			b.WriteString(": ")
			b.WriteString(ctx.Error.Error())
		}
		var conflict interface{ Kind() string }
		if errors.As(ctx.Error, &conflict) && conflict.Kind() == "PatchConflictError" {
			b.WriteString("\nThe file was not changed. Read it again and send a patch whose context matches the current content.")
		}
	}

	if len(ctx.AvailableTools) > 0 {
		names := make([]string, 0, len(ctx.AvailableTools))
		for _, t := range ctx.AvailableTools {
			names = append(names, t.Name())
		}
		b.WriteString("\nAvailable tools: ")
		b.WriteString(strings.Join(names, ", "))
	}

	return b.String()
}
