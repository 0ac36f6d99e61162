package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/agoodway/mulberry/pkg/failure"
	"github.com/agoodway/mulberry/pkg/timeutil"
)

// Retry executes fn up to MaxAttempts times, applying exponential backoff
// with jitter between attempts. Only errors declaring themselves retryable
// (failure.Retryable) trigger another attempt; anything else is returned
// as the terminal error together with the attempt count.
//
// The context bounds the waits between attempts: a cancelled context stops
// the loop and surfaces the last observed error.
func Retry[T any](ctx context.Context, param RetryParam, fn func() (T, failure.ClassifiedError)) Result[T] {
	if param.maxAttempts < 1 {
		return NewFailureResult[T](&RetryError{
			Message: "max attempts cannot be below 1",
			Cause:   ErrZeroAttempt,
		}, 0)
	}

	sleeper := param.sleeper
	if sleeper == nil {
		sleeper = timeutil.NewRealSleeper()
	}
	rng := rand.New(rand.NewSource(param.randomSeed))

	var lastErr failure.ClassifiedError
	for attempt := 1; attempt <= param.maxAttempts; attempt++ {
		value, err := fn()
		if err == nil {
			return NewSuccessResult(value, attempt)
		}
		lastErr = err

		if !failure.IsRetryable(err) {
			return NewFailureResult[T](err, attempt)
		}
		if attempt == param.maxAttempts {
			break
		}

		delay := timeutil.BackoffDelay(param.backoff, attempt)
		if param.scale != nil {
			if s := param.scale(err); s > 0 {
				delay = time.Duration(float64(delay) * s)
			}
		}
		if param.jitter > 0 {
			delay += time.Duration(rng.Int63n(int64(param.jitter)))
		}
		if sleepErr := sleeper.Sleep(ctx, delay); sleepErr != nil {
			return NewFailureResult[T](lastErr, attempt)
		}
	}

	return NewFailureResult[T](lastErr, param.maxAttempts)
}
