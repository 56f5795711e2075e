package graph

import (
	"time"

	"github.com/c360studio/lisa/llm"
)

// RetryPolicy controls how a node is retried. RetryOn is a class-based
// predicate; the runtime never inspects error strings.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (1 = no retry).
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// RetryOn reports whether the error is worth another attempt.
	RetryOn func(error) bool
}

// DefaultRetryPolicy retries transient network failures with 1s, 2s,
// 4s backoff. Auth, rate-limit and quota errors surface as-is.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 1 * time.Second,
		MaxBackoff:  4 * time.Second,
		RetryOn:     llm.IsTransient,
	}
}

// NoRetry runs the node exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
