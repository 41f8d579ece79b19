package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ValidateIdeas parses and validates an ideator response: a JSON array of
// ideas. Any invalid element rejects the whole batch.
func ValidateIdeas(text string) ([]Idea, error) {
	raw, serr := extractPayload(text, PayloadIdeas, '[')
	if serr != nil {
		return nil, serr
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &SchemaError{Payload: PayloadIdeas, Index: -1, Reason: "invalid array", Err: err}
	}
	if len(elems) == 0 {
		return nil, newError(PayloadIdeas, -1, "", "idea list is empty")
	}

	ideas := make([]Idea, 0, len(elems))
	seen := make(map[int]int, len(elems))
	for i, elem := range elems {
		idea, serr := decodeIdea(elem, PayloadIdeas, i)
		if serr != nil {
			return nil, serr
		}
		if prev, dup := seen[idea.ID]; dup {
			return nil, newError(PayloadIdeas, i, "id", fmt.Sprintf("duplicate id %d (also at index %d)", idea.ID, prev))
		}
		seen[idea.ID] = i
		ideas = append(ideas, idea)
	}
	return ideas, nil
}

// ValidateIdea parses and validates a single idea object, the filter's answer.
func ValidateIdea(text string) (Idea, error) {
	raw, serr := extractPayload(text, PayloadIdea, '{')
	if serr != nil {
		return Idea{}, serr
	}
	idea, serr := decodeIdea(raw, PayloadIdea, -1)
	if serr != nil {
		return Idea{}, serr
	}
	return idea, nil
}

func decodeIdea(raw json.RawMessage, payload string, index int) (Idea, *SchemaError) {
	fields, serr := decodeObject(raw, payload, index)
	if serr != nil {
		return Idea{}, serr
	}

	var idea Idea
	var typ string
	for _, f := range []struct {
		name string
		dst  interface{}
	}{
		{"id", &idea.ID},
		{"title", &idea.Title},
		{"description", &idea.Description},
		{"priority", &idea.Priority},
		{"type", &typ},
	} {
		if serr := field(fields, f.name, payload, index, f.dst); serr != nil {
			return Idea{}, serr
		}
	}

	if strings.TrimSpace(idea.Title) == "" {
		return Idea{}, newError(payload, index, "title", "must not be empty")
	}
	if strings.TrimSpace(idea.Description) == "" {
		return Idea{}, newError(payload, index, "description", "must not be empty")
	}
	if idea.Priority < 0 || idea.Priority > 1 {
		return Idea{}, newError(payload, index, "priority", fmt.Sprintf("%v is outside [0.0, 1.0]", idea.Priority))
	}
	idea.Type = IdeaType(typ)
	if !idea.Type.Valid() {
		return Idea{}, newError(payload, index, "type", fmt.Sprintf("unknown idea type %q", typ))
	}
	return idea, nil
}

// ValidatePlan parses and validates a planner response.
func ValidatePlan(text string) (Plan, error) {
	raw, serr := extractPayload(text, PayloadPlan, '{')
	if serr != nil {
		return Plan{}, serr
	}
	fields, serr := decodeObject(raw, PayloadPlan, -1)
	if serr != nil {
		return Plan{}, serr
	}

	var plan Plan
	if serr := field(fields, "description", PayloadPlan, -1, &plan.Description); serr != nil {
		return Plan{}, serr
	}
	if strings.TrimSpace(plan.Description) == "" {
		return Plan{}, newError(PayloadPlan, -1, "description", "must not be empty")
	}
	if strings.ContainsRune(plan.Description, '"') {
		return Plan{}, newError(PayloadPlan, -1, "description", "must not contain double quotes")
	}
	if strings.ContainsAny(plan.Description, "\r\n") {
		return Plan{}, newError(PayloadPlan, -1, "description", "must be a single line")
	}

	if diff, ok := fields["code_diff"]; ok && strings.TrimSpace(string(diff)) != "null" {
		var s string
		if err := json.Unmarshal(diff, &s); err != nil {
			return Plan{}, &SchemaError{Payload: PayloadPlan, Index: -1, Field: "code_diff", Reason: "must be a string or null", Err: err}
		}
		plan.CodeDiff = &s
	}
	return plan, nil
}

// CommitPrefixes are the accepted conventional commit prefixes.
var CommitPrefixes = []string{"feat", "fix", "refactor", "style", "docs", "test"}

var commitMessagePattern = regexp.MustCompile(`^(feat|fix|refactor|style|docs|test)(\([^()\s]+\))?!?: \S.*$`)

// ValidateCommitMessage normalizes and validates a generated commit message.
//
// Surrounding whitespace, a code fence and one pair of matching quotes or
// backticks are removed. The result must be a single line starting with one
// of CommitPrefixes.
func ValidateCommitMessage(text string) (string, error) {
	msg := NormalizeCommitMessage(text)
	if msg == "" {
		return "", newError(PayloadCommitMessage, -1, "", "commit message is empty")
	}
	if strings.ContainsAny(msg, "\r\n") {
		return "", newError(PayloadCommitMessage, -1, "", "commit message must be a single line")
	}
	if !commitMessagePattern.MatchString(msg) {
		return "", newError(PayloadCommitMessage, -1, "", fmt.Sprintf("commit message %q must start with one of %s followed by ': '", msg, strings.Join(CommitPrefixes, ", ")))
	}
	return msg, nil
}

// NormalizeCommitMessage strips decoration models commonly add around a
// commit message.
func NormalizeCommitMessage(text string) string {
	msg := strings.TrimSpace(text)
	if strings.HasPrefix(msg, "```") {
		msg = strings.TrimPrefix(msg, "```")
		if nl := strings.IndexByte(msg, '\n'); nl >= 0 && !strings.Contains(msg[:nl], " ") {
			msg = msg[nl+1:] // fence language tag
		}
		msg = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(msg), "```"))
	}
	for _, q := range []string{`"`, "'", "`"} {
		if len(msg) >= 2 && strings.HasPrefix(msg, q) && strings.HasSuffix(msg, q) {
			msg = strings.TrimSpace(msg[1 : len(msg)-1])
			break
		}
	}
	return msg
}

// FallbackCommitMessage builds the commit message used when the generator's
// output cannot be validated.
func FallbackCommitMessage(idea Idea) string {
	title := strings.Join(strings.Fields(idea.Title), " ")
	return fmt.Sprintf("%s: Apply '%s'", idea.Type.CommitPrefix(), title)
}
