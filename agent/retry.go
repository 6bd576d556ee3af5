package agent

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"slices"
	"time"

	"github.com/everydev1618/pmc/llm"
)

// RetryPolicy configures retry behavior for transient failures.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int

	// Backoff configures delay between retries
	Backoff BackoffConfig

	// RetryOn specifies which error classes to retry
	RetryOn []ErrorClass
}

// BackoffConfig configures retry delays.
type BackoffConfig struct {
	// Initial delay before first retry
	Initial time.Duration

	// Multiplier for exponential backoff
	Multiplier float64

	// Max delay between retries
	Max time.Duration

	// Jitter adds randomness (0.0-1.0)
	Jitter float64
}

// DefaultRetryPolicy retries transient model failures three times.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			Initial:    500 * time.Millisecond,
			Multiplier: 2,
			Max:        5 * time.Second,
			Jitter:     0.2,
		},
		RetryOn: []ErrorClass{ErrClassRateLimit, ErrClassOverloaded, ErrClassTimeout, ErrClassTemporary},
	}
}

// ErrorClass categorizes errors for retry decisions.
type ErrorClass int

const (
	ErrClassRateLimit ErrorClass = iota
	ErrClassOverloaded
	ErrClassTimeout
	ErrClassTemporary
	ErrClassInvalidRequest
	ErrClassAuthentication
	ErrClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassRateLimit:
		return "rate_limit"
	case ErrClassOverloaded:
		return "overloaded"
	case ErrClassTimeout:
		return "timeout"
	case ErrClassTemporary:
		return "temporary"
	case ErrClassInvalidRequest:
		return "invalid_request"
	case ErrClassAuthentication:
		return "authentication"
	case ErrClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ClassifyError maps a model call error to an ErrorClass.
func ClassifyError(err error) ErrorClass {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return ErrClassRateLimit
		case apiErr.StatusCode == 529 || apiErr.StatusCode == 503:
			return ErrClassOverloaded
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return ErrClassAuthentication
		case apiErr.StatusCode >= 500:
			return ErrClassTemporary
		default:
			return ErrClassInvalidRequest
		}
	}

	if errors.Is(err, context.Canceled) {
		return ErrClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrClassTimeout
	}
	return ErrClassTemporary
}

// ShouldRetry reports whether attempt (zero-based) may be followed by another.
func ShouldRetry(err error, policy *RetryPolicy, attempt int) bool {
	if policy == nil || attempt+1 >= policy.MaxAttempts {
		return false
	}
	return slices.Contains(policy.RetryOn, ClassifyError(err))
}

// delay computes the wait before the retry following attempt.
func (p *RetryPolicy) delay(attempt int) time.Duration {
	if p == nil || p.Backoff.Initial == 0 {
		return 0
	}

	multiplier := p.Backoff.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(p.Backoff.Initial) * math.Pow(multiplier, float64(attempt)))

	if p.Backoff.Max > 0 && delay > p.Backoff.Max {
		delay = p.Backoff.Max
	}

	if p.Backoff.Jitter > 0 {
		jitterRange := float64(delay) * p.Backoff.Jitter
		jitter := (rand.Float64()*2 - 1) * jitterRange
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
