package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FilterIntegrityError is returned when the filter selects an idea id that
// was not among the candidates.
type FilterIntegrityError struct {
	ID    int
	Known []int
}

func (e *FilterIntegrityError) Error() string {
	known := make([]string, len(e.Known))
	for i, id := range e.Known {
		known[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("filter selected idea %d, which is not one of the proposed ideas [%s]", e.ID, strings.Join(known, ", "))
}

// Kind returns the error taxonomy name.
func (e *FilterIntegrityError) Kind() string { return "FilterIntegrityError" }

// MaxRetriesExceededError is returned when QA fails more times than the
// retry budget allows.
type MaxRetriesExceededError struct {
	Retries    int
	LastReason string
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("QA failed %d times, giving up (last reason: %s)", e.Retries, e.LastReason)
}

// Kind returns the error taxonomy name.
func (e *MaxRetriesExceededError) Kind() string { return "MaxRetriesExceededError" }

// MissingVerdictError is returned when the QA loop finishes without a
// PASS or FAIL verdict.
type MissingVerdictError struct {
	Summary string
}

func (e *MissingVerdictError) Error() string {
	return fmt.Sprintf("QA finished without a verdict: %q", e.Summary)
}

// Kind returns the error taxonomy name.
func (e *MissingVerdictError) Kind() string { return "MissingVerdictError" }

// LockError is returned when another run holds the repository.
type LockError struct {
	Path   string
	Holder string
	Err    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("repository %s is locked by another run", e.Path)
	if e.Holder != "" {
		msg += " (" + e.Holder + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LockError) Unwrap() error { return e.Err }

// Kind returns the error taxonomy name.
func (e *LockError) Kind() string { return "LockError" }

// Error kinds for errors outside the typed taxonomy.
const (
	KindCancelled = "Cancelled"
	KindInternal  = "InternalError"
)

// ErrorKind returns the taxonomy name of err: the Kind of the first error
// in its chain that has one, KindCancelled for context errors, KindInternal
// otherwise. It returns "" for a nil error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}
