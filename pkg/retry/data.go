package retry

import (
	"time"

	"github.com/agoodway/mulberry/pkg/failure"
	"github.com/agoodway/mulberry/pkg/timeutil"
)

// RetryParam bundles everything the handler needs to decide how often and
// how long to wait between attempts.
type RetryParam struct {
	maxAttempts int
	jitter      time.Duration
	randomSeed  int64
	backoff     timeutil.BackoffParam
	sleeper     timeutil.Sleeper

	// scale stretches the computed backoff for specific errors (e.g. an
	// upstream 429 warrants a longer pause than a flaky connection).
	scale func(err failure.ClassifiedError) float64
}

func NewRetryParam(
	maxAttempts int,
	jitter time.Duration,
	randomSeed int64,
	backoff timeutil.BackoffParam,
) RetryParam {
	return RetryParam{
		maxAttempts: maxAttempts,
		jitter:      jitter,
		randomSeed:  randomSeed,
		backoff:     backoff,
		sleeper:     timeutil.NewRealSleeper(),
	}
}

func (p RetryParam) MaxAttempts() int {
	return p.maxAttempts
}

func (p RetryParam) Backoff() timeutil.BackoffParam {
	return p.backoff
}

// WithSleeper returns a copy using the given sleeper. Tests inject a
// no-wait sleeper here.
func (p RetryParam) WithSleeper(s timeutil.Sleeper) RetryParam {
	p.sleeper = s
	return p
}

// WithBackoffScale returns a copy whose per-error delay is multiplied by
// scale(err). A nil function or a result <= 0 means no scaling.
func (p RetryParam) WithBackoffScale(scale func(err failure.ClassifiedError) float64) RetryParam {
	p.scale = scale
	return p
}

// Result carries the final value, the terminal error (if any), and how many
// attempts were made.
type Result[T any] struct {
	value    T
	err      failure.ClassifiedError
	attempts int
}

func NewSuccessResult[T any](value T, attempts int) Result[T] {
	return Result[T]{value: value, attempts: attempts}
}

func NewFailureResult[T any](err failure.ClassifiedError, attempts int) Result[T] {
	return Result[T]{err: err, attempts: attempts}
}

func (r Result[T]) Value() T {
	return r.value
}

func (r Result[T]) Err() failure.ClassifiedError {
	return r.err
}

func (r Result[T]) Attempts() int {
	return r.attempts
}
