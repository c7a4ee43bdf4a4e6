// Package retry defines the retry-strategy collaborator and a default
// exponential-backoff implementation with full jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
)

// Token tracks the attempt history of one logical request across retries.
type Token interface {
	// Attempts returns how many attempts have completed with an error.
	Attempts() int
}

// Strategy decides whether a failed request is retried and after how long.
type Strategy interface {
	// AcquireToken obtains a token for a new logical request. It may block
	// (e.g. token-bucket strategies) until ctx is done.
	AcquireToken(ctx context.Context) (Token, error)

	// RetryableError records a failed attempt and reports whether the request
	// should be retried, and the backoff to apply first.
	RetryableError(token Token, err error) (time.Duration, bool)

	// RecordSuccess returns the token after a successful attempt.
	RecordSuccess(token Token)
}

// Standard is the default Strategy: capped exponential backoff with full
// jitter, and transport-level error classification.
type Standard struct {
	// MaxAttempts is the total attempt ceiling, first try included.
	MaxAttempts int

	// InitialBackoff seeds the exponential schedule.
	InitialBackoff time.Duration

	// MaxBackoff caps the schedule.
	MaxBackoff time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewStandard returns a Standard strategy with the given attempt ceiling.
func NewStandard(maxAttempts int) *Standard {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Standard{
		MaxAttempts:    maxAttempts,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     20 * time.Second,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type standardToken struct {
	attempts int
}

func (t *standardToken) Attempts() int { return t.attempts }

// AcquireToken never blocks in the standard strategy.
func (s *Standard) AcquireToken(context.Context) (Token, error) {
	return &standardToken{}, nil
}

// RetryableError classifies err and computes the next backoff.
func (s *Standard) RetryableError(token Token, err error) (time.Duration, bool) {
	t, ok := token.(*standardToken)
	if !ok {
		return 0, false
	}
	t.attempts++
	if t.attempts >= s.MaxAttempts {
		return 0, false
	}
	if !IsRetryable(err) {
		return 0, false
	}

	backoff := s.InitialBackoff
	for i := 1; i < t.attempts; i++ {
		backoff *= 2
		if backoff >= s.MaxBackoff {
			backoff = s.MaxBackoff
			break
		}
	}

	s.mu.Lock()
	jittered := time.Duration(s.rand.Int63n(int64(backoff) + 1))
	s.mu.Unlock()
	return jittered, true
}

// RecordSuccess is a no-op for the standard strategy.
func (s *Standard) RecordSuccess(Token) {}

// IsRetryable determines whether an error warrants a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var respErr *s3errors.ResponseError
	if errors.As(err, &respErr) {
		return ShouldRetryStatus(respErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE, syscall.ETIMEDOUT, syscall.ECONNREFUSED:
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection reset") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "temporarily unavailable") || strings.Contains(lower, "eof") {
		return true
	}

	return false
}

// ShouldRetryStatus reports whether an HTTP status code should be retried.
func ShouldRetryStatus(status int) bool {
	if status == 0 {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500 && status <= 599
}
