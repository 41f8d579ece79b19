package schema

import (
	"errors"
	"fmt"
)

// Payload names used in SchemaError.Payload.
const (
	PayloadIdeas         = "ideas"
	PayloadIdea          = "idea"
	PayloadPlan          = "plan"
	PayloadCommitMessage = "commit_message"
)

// SchemaError reports model output that does not match the expected structure.
type SchemaError struct {
	// Payload is what was being validated, one of the Payload constants.
	Payload string
	// Field is the offending field, empty for whole-payload problems.
	Field string
	// Index is the element index within a batch, or -1.
	Index  int
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	loc := e.Payload
	if e.Index >= 0 {
		loc = fmt.Sprintf("%s[%d]", loc, e.Index)
	}
	if e.Field != "" {
		loc += "." + e.Field
	}
	if e.Err != nil {
		return fmt.Sprintf("schema error in %s: %s: %v", loc, e.Reason, e.Err)
	}
	return fmt.Sprintf("schema error in %s: %s", loc, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Kind returns the error taxonomy name.
func (e *SchemaError) Kind() string { return "SchemaError" }

// IsSchemaError reports whether err is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

func newError(payload string, index int, field, reason string) *SchemaError {
	return &SchemaError{Payload: payload, Index: index, Field: field, Reason: reason}
}
