package sync

import (
	"math/rand"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy maps a retry count to a backoff delay and an exhaustion
// verdict. Delays double per retry; optional additive jitter is bounded
// below Base so the delay sequence never decreases.
type RetryPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// MaxRetries bounds redispatch attempts after the initial dispatch.
	MaxRetries int
	// Jitter, when positive, adds a random duration in [0, Jitter) to each
	// delay. Values >= Base are clamped to keep delays monotonic.
	Jitter time.Duration
}

// DefaultRetryPolicy matches the documented backoff: 1s base, 3 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: time.Second, MaxRetries: 3}
}

// Delay returns the backoff before redispatching an operation that has
// already failed retryCount+1 times.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	b := retry.NewExponential(p.Base)

	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d, _ = b.Next()
	}

	if p.Jitter > 0 {
		j := p.Jitter
		if j >= p.Base {
			j = p.Base - 1
		}
		d += time.Duration(rand.Int63n(int64(j) + 1))
	}
	return d
}

// IsExhausted reports whether an operation at the given retry count has used
// up its retry budget. Exhaustion is terminal: the entity transitions to
// error status and the operation leaves the queue.
func (p RetryPolicy) IsExhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
