package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/agoodway/mulberry/pkg/failure"
)

// ErrorKind classifies retrieval failures from the worker's vantage point.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindDNS         ErrorKind = "dns"
	KindConnection  ErrorKind = "connection"
	KindHTTP4xx     ErrorKind = "http_4xx"
	KindHTTP5xx     ErrorKind = "http_5xx"
	KindRateLimited ErrorKind = "rate_limited_upstream"
	KindParse       ErrorKind = "parse"
)

// Error is the classified failure every Retriever returns. Retryability
// follows the taxonomy: network-layer kinds and upstream throttling warrant
// another attempt, client errors and parse failures do not.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Message    string
	wrapped    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fetch %s: %s: %s", e.URL, e.Kind, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindTimeout, KindDNS, KindConnection, KindHTTP5xx, KindRateLimited:
		return true
	}
	return false
}

func (e *Error) Severity() failure.Severity {
	if e.IsRetryable() {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// NewError builds an Error wrapping cause.
func NewError(kind ErrorKind, url string, cause error) *Error {
	e := &Error{Kind: kind, URL: url, wrapped: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// KindForStatus maps an HTTP status code to its error kind. Only call it for
// non-2xx codes.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindRateLimited
	case code >= 500:
		return KindHTTP5xx
	default:
		return KindHTTP4xx
	}
}

// ClassifyTransport maps a transport-layer error (http.Client.Do) to the
// taxonomy: deadline overruns are timeouts, resolver failures are dns,
// everything else at this layer is a connection problem.
func ClassifyTransport(rawURL string, err error) *Error {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, rawURL, err)
	case errors.As(err, &dnsErr):
		return NewError(KindDNS, rawURL, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, rawURL, err)
	}
	return NewError(KindConnection, rawURL, err)
}
