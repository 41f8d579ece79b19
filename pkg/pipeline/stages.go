package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/schema"
	"github.com/entrhq/evocode/pkg/types"
)

// generate invokes a text role on input and validates its answer. When
// validation fails and attempts remain, the role is asked again with the
// validation error appended to the conversation.
func generate[T any](ctx context.Context, r *runner, role types.AgentRole, input string, validate func(string) (T, error)) (T, error) {
	var zero T

	systemPrompt, err := r.c.prompts.SystemPrompt(role)
	if err != nil {
		return zero, err
	}
	userMessage, err := r.c.prompts.UserMessage(role, input)
	if err != nil {
		return zero, err
	}
	conversation := []*types.Message{types.NewUserMessage(userMessage)}

	attempts := r.c.cfg.GenerationAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
		}

		resp, err := r.c.invoker.Invoke(ctx, systemPrompt, conversation)
		if err != nil {
			return zero, err
		}
		r.emit(types.NewTokenUsageEvent(string(role), resp.PromptTokens, resp.CompletionTokens))

		value, err := validate(resp.Text)
		if err == nil {
			return value, nil
		}
		lastErr = err
		pipelineLog.Warnf("Run %s: %s output rejected (attempt %d/%d): %v", r.run.RunID, role, attempt, attempts, err)

		conversation = append(conversation,
			types.NewAssistantMessage(resp.Text),
			types.NewUserMessage(fmt.Sprintf("Your previous response was rejected: %v\nRespond again, following the required format exactly.", err)),
		)
	}
	return zero, lastErr
}

// isOutputError reports whether err is about the content of a model answer
// rather than the model call itself.
func isOutputError(err error) bool {
	return schema.IsSchemaError(err) || llm.IsEmptyResponseError(err)
}

func ideaHeader(idea schema.Idea) string {
	return fmt.Sprintf("IDEA: %s - %s\nTYPE: %s", idea.Title, idea.Description, idea.Type)
}

func coderMessage(idea schema.Idea, plan schema.Plan, feedback, snapshot string) string {
	var b strings.Builder
	b.WriteString(ideaHeader(idea))
	b.WriteString("\nPLAN: ")
	b.WriteString(plan.Description)
	b.WriteString("\n")

	if steps := plan.Steps(); len(steps) > 1 {
		b.WriteString("\nSteps:\n")
		for i, s := range steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if plan.CodeDiff != nil && strings.TrimSpace(*plan.CodeDiff) != "" {
		b.WriteString("\nSuggested diff (a sketch; the files on disk are authoritative):\n")
		b.WriteString(strings.TrimRight(*plan.CodeDiff, "\n"))
		b.WriteString("\n")
	}

	if feedback == "" {
		b.WriteString("\nCarry out this plan with the tools. Prefer apply_patch for changes to existing files. ")
		b.WriteString("Call finish with a summary of what you changed.")
		return b.String()
	}

	fmt.Fprintf(&b, "\nYour previous attempt failed quality review. QA report: '%s'.\n\n", feedback)
	b.WriteString("Here is the CURRENT state of the code:\n")
	b.WriteString(snapshot)
	b.WriteString("\n\nFix the problem, then call finish with a summary of what you changed.")
	return b.String()
}

func testWriterMessage(idea schema.Idea, coderSummary string) string {
	return fmt.Sprintf("%s\n\nThe coder made these changes: '%s'.\n\n"+
		"Write or update tests that exercise them, following the project's test conventions. "+
		"Call finish with a summary of the tests you wrote.",
		ideaHeader(idea), coderSummary)
}

func qaMessage(idea schema.Idea, coderSummary, testSummary string) string {
	return fmt.Sprintf("%s\n\nThe coder made changes and the test writer added tests.\n"+
		"Coder summary: %s\nTest summary: %s\n\n"+
		"Run the tests and call finish with your verdict.",
		ideaHeader(idea), coderSummary, testSummary)
}

func commitSynopsis(idea schema.Idea, coderSummary, testSummary string) string {
	return fmt.Sprintf("Idea: %s (%s)\n%s\n\nChanges: %s\nTests: %s\n"+
		"Result: the changes were implemented and passed QA.",
		idea.Title, idea.Type, idea.Description, coderSummary, testSummary)
}
