package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

// FinishToolName is the terminal tool every loop role has.
const FinishToolName = "finish"

// Verdicts the QA role can return.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

// Metadata keys set by the finish tool.
const (
	MetaSummary = "summary"
	MetaVerdict = "verdict"
	MetaReason  = "reason"
)

// FinishTool ends the tool-call loop. In summary form it carries the
// role's summary of its work; in verdict form (QA) it carries PASS or FAIL
// and a reason.
type FinishTool struct {
	verdict bool
}

// NewFinishTool creates the summary form used by the coder and test writer.
func NewFinishTool() *FinishTool {
	return &FinishTool{}
}

// NewVerdictFinishTool creates the verdict form used by QA.
func NewVerdictFinishTool() *FinishTool {
	return &FinishTool{verdict: true}
}

func (t *FinishTool) Name() string {
	return FinishToolName
}

func (t *FinishTool) Description() string {
	if t.verdict {
		return "Finish the review with a verdict. Use PASS only when the change is correct and the tests pass; " +
			"otherwise FAIL with a reason the coder can act on."
	}
	return "Finish your work and summarize what you changed and why. " +
		"Call this once every change is written; no further tool calls run after it."
}

func (t *FinishTool) Schema() map[string]interface{} {
	if t.verdict {
		return BaseToolSchema(
			map[string]interface{}{
				"verdict": map[string]interface{}{
					"type":        "string",
					"enum":        []string{VerdictPass, VerdictFail},
					"description": "PASS or FAIL",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Why the change passes or what must be fixed. Required for FAIL.",
				},
			},
			[]string{"verdict", "reason"},
		)
	}
	return BaseToolSchema(
		map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Summary of the changes made, naming the files touched.",
			},
		},
		[]string{"summary"},
	)
}

func (t *FinishTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	var args struct {
		XMLName xml.Name `xml:"arguments"`
		Summary string   `xml:"summary"`
		Verdict string   `xml:"verdict"`
		Reason  string   `xml:"reason"`
	}
	if err := UnmarshalXMLWithFallback(argsXML, &args); err != nil {
		return "", nil, fmt.Errorf("invalid arguments for %s: %w", FinishToolName, err)
	}

	if !t.verdict {
		summary := strings.TrimSpace(args.Summary)
		if summary == "" {
			return "", nil, fmt.Errorf("missing required parameter: summary")
		}
		return summary, map[string]interface{}{MetaSummary: summary}, nil
	}

	verdict := strings.ToUpper(strings.TrimSpace(args.Verdict))
	reason := strings.TrimSpace(args.Reason)
	switch verdict {
	case VerdictPass, VerdictFail:
	case "":
		return "", nil, fmt.Errorf("missing required parameter: verdict")
	default:
		return "", nil, fmt.Errorf("verdict must be %s or %s, got %q", VerdictPass, VerdictFail, args.Verdict)
	}
	if verdict == VerdictFail && reason == "" {
		return "", nil, fmt.Errorf("missing required parameter: reason (required for %s)", VerdictFail)
	}

	return fmt.Sprintf("%s: %s", verdict, reason), map[string]interface{}{
		MetaVerdict: verdict,
		MetaReason:  reason,
	}, nil
}

func (t *FinishTool) IsLoopBreaking() bool { return true }

func (t *FinishTool) IsReadOnly() bool { return true }
