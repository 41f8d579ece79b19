package llm

import (
	"errors"
	"fmt"
)

// TransportError reports that the model could not be reached or did not
// answer within the request timeout.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("model request timed out: %v", e.Err)
	}
	return fmt.Sprintf("model request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind returns the error taxonomy name.
func (e *TransportError) Kind() string { return "TransportError" }

// EmptyResponseError reports that the model answered with no content.
type EmptyResponseError struct {
	Model string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("model %s returned an empty response", e.Model)
}

// Kind returns the error taxonomy name.
func (e *EmptyResponseError) Kind() string { return "EmptyResponseError" }

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsEmptyResponseError reports whether err is or wraps an EmptyResponseError.
func IsEmptyResponseError(err error) bool {
	var ee *EmptyResponseError
	return errors.As(err, &ee)
}
