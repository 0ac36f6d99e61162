package retry

import (
	"fmt"

	"github.com/agoodway/mulberry/pkg/failure"
)

type RetryErrorCause string

const (
	ErrZeroAttempt      RetryErrorCause = "max attempts below 1"
	ErrAttemptExhausted RetryErrorCause = "attempts exhausted"
	ErrAborted          RetryErrorCause = "aborted"
)

type RetryError struct {
	Message   string
	Cause     RetryErrorCause
	Attempts  int
	LastError failure.ClassifiedError
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry error: %s", e.Cause)
}

func (e *RetryError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *RetryError) Unwrap() error {
	if e.LastError == nil {
		return nil
	}
	return e.LastError
}
