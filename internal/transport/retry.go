package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// Policy describes how transient failures are retried.
type Policy struct {
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	RetryableStatus map[int]struct{}
}

// DefaultPolicy returns three attempts with 500ms exponential backoff and
// retries on 429, 502, 503 and 504.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		RetryableStatus: map[int]struct{}{
			http.StatusTooManyRequests:    {},
			http.StatusBadGateway:         {},
			http.StatusServiceUnavailable: {},
			http.StatusGatewayTimeout:     {},
		},
	}
}

// IsRetryableStatus reports whether code is in the retryable set.
func (p Policy) IsRetryableStatus(code int) bool {
	_, ok := p.RetryableStatus[code]
	return ok
}

// Backoff returns the delay before the given retry (1-based): the base
// interval doubled per attempt, capped, with up to 50% jitter removed.
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < retry && delay < p.MaxBackoff; i++ {
		delay *= 2
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryableError marks a failure as transient. RetryAfter, when positive,
// overrides the computed backoff.
type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient.
func Retryable(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, retryAfter: retryAfter}
}

// IsRetryable reports whether err was marked transient.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Retry calls op until it succeeds, fails permanently, exhausts the attempt
// budget or would outlive ctx's deadline. op receives the 1-based attempt.
func (p Policy) Retry(ctx context.Context, sleep Sleeper, op func(attempt int) error) error {
	if sleep == nil {
		sleep = ContextSleep
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.NewTimeout("deadline reached before attempt", err)
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if re.retryAfter > 0 {
			wait = re.retryAfter
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return apperrors.NewTimeout("retry would exceed deadline", re.err)
		}
		if err := sleep(ctx, wait); err != nil {
			return apperrors.NewTimeout("canceled during backoff", err)
		}
	}

	var re *retryableError
	if errors.As(lastErr, &re) {
		lastErr = re.err
	}
	return apperrors.NewTransientError(fmt.Sprintf("retry budget exhausted after %d attempts", attempts), lastErr)
}

// ParseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
