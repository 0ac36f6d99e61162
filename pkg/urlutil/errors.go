package urlutil

import (
	"errors"
	"fmt"

	"github.com/agoodway/mulberry/pkg/failure"
)

// ErrInvalidURL is the sentinel matched by errors.Is for any URL that cannot
// be normalized or resolved.
var ErrInvalidURL = errors.New("invalid url")

type InvalidURLError struct {
	Raw    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.Raw, e.Reason)
}

func (e *InvalidURLError) Is(target error) bool {
	return target == ErrInvalidURL
}

func (e *InvalidURLError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}

// PatternError reports the first regex that failed to compile.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

func (e *PatternError) Severity() failure.Severity {
	return failure.SeverityFatal
}
