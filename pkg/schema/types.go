// Package schema validates the structured output of the text-producing
// agent roles: idea batches, the selected idea, plans and commit messages.
//
// Model output is untrusted. Everything that leaves this package has passed
// strict checks; everything else is a *SchemaError.
package schema

import (
	"encoding/json"
	"strings"
)

// IdeaType classifies an improvement idea.
type IdeaType string

const (
	TypeRefactoring   IdeaType = "REFACTORING"
	TypeBugFix        IdeaType = "BUG_FIX"
	TypeFeature       IdeaType = "FEATURE"
	TypeTesting       IdeaType = "TESTING"
	TypeDocumentation IdeaType = "DOCUMENTATION"
	TypeStyle         IdeaType = "STYLE"
)

// IdeaTypes lists every valid idea type.
var IdeaTypes = []IdeaType{
	TypeRefactoring,
	TypeBugFix,
	TypeFeature,
	TypeTesting,
	TypeDocumentation,
	TypeStyle,
}

// Valid reports whether t is one of IdeaTypes.
func (t IdeaType) Valid() bool {
	for _, v := range IdeaTypes {
		if t == v {
			return true
		}
	}
	return false
}

// CommitPrefix returns the conventional commit prefix matching t.
func (t IdeaType) CommitPrefix() string {
	switch t {
	case TypeBugFix:
		return "fix"
	case TypeFeature:
		return "feat"
	case TypeTesting:
		return "test"
	case TypeDocumentation:
		return "docs"
	case TypeStyle:
		return "style"
	default:
		return "refactor"
	}
}

// ParseIdeaTypes converts names such as "testing" or "DOCUMENTATION" into
// idea types, skipping unknown names.
func ParseIdeaTypes(names []string) []IdeaType {
	var out []IdeaType
	for _, n := range names {
		t := IdeaType(strings.ToUpper(strings.TrimSpace(n)))
		if t.Valid() {
			out = append(out, t)
		}
	}
	return out
}

// Idea is a candidate improvement proposed by the ideator.
type Idea struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    float64  `json:"priority"`
	Type        IdeaType `json:"type"`
}

// Plan is the planner's implementation plan for one idea.
type Plan struct {
	// Description is a single line of steps separated by StepSeparator.
	Description string `json:"description"`
	// CodeDiff is an optional unified diff sketch; nil when absent or null.
	CodeDiff *string `json:"code_diff"`
}

// StepSeparator separates steps in Plan.Description.
const StepSeparator = " -> "

// Steps splits the plan description into its steps.
func (p Plan) Steps() []string {
	parts := strings.Split(p.Description, StepSeparator)
	steps := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// JSON returns the canonical JSON encoding used when passing v to the next
// agent role.
func JSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
