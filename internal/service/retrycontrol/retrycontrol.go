// Package retrycontrol is the single source of truth for retry-vs-terminal
// decisions and backoff math (spec §4.11). It is deliberately pure: given
// an attempt number and a policy, it returns a delay, with no side effects
// and no I/O, so it can be golden-table tested without a clock.
package retrycontrol

import (
	"time"

	"github.com/formbridge/ingest/internal/domain/destination"
)

// DefaultPolicy is used whenever a destination leaves its RetryPolicy zero.
var DefaultPolicy = destination.RetryPolicy{
	MaxAttempts: 6,
	BaseDelay:   1 * time.Second,
	MaxDelay:    60 * time.Second,
}

// Jitter returns a value in [0.5, 1.5). Tests supply a deterministic
// implementation; production wires math/rand/v2.
type Jitter func() float64

// Decision is the result of evaluating one completed attempt against a
// policy.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// Evaluate decides whether attemptNumber (the attempt that just finished)
// should be retried, and if so the delay before the next attempt (spec
// §4.9 Invoking row, §4.11). attemptNumber is 1-based. jitter is called
// once if a retry is due.
func Evaluate(attemptNumber int, policy destination.RetryPolicy, jitter Jitter) Decision {
	p := effectivePolicy(policy)

	if attemptNumber >= p.MaxAttempts {
		return Decision{ShouldRetry: false}
	}

	nextAttempt := attemptNumber + 1
	return Decision{ShouldRetry: true, Delay: Delay(nextAttempt, p, jitter)}
}

// Delay computes the full-jitter exponential backoff delay for the
// upcoming attempt n (spec §4.9: "delay_n = min(max_delay, base_delay ×
// 2^(n-1)) × U(0.5, 1.5)").
func Delay(n int, policy destination.RetryPolicy, jitter Jitter) time.Duration {
	p := effectivePolicy(policy)

	pow := 1 << uint(clampExponent(n-1))
	capDelay := float64(p.MaxDelay)
	raw := float64(p.BaseDelay) * float64(pow)
	if raw > capDelay {
		raw = capDelay
	}

	j := 1.0
	if jitter != nil {
		j = jitter()
	}
	return time.Duration(raw * j)
}

// RateLimitedDelay computes the delay used when a task is deferred because
// its destination's rate bucket is exhausted (spec §4.9 "When rate-limited
// during delivery"): the remainder of the current minute plus U(0,5)s.
// This delay never consumes a retry attempt.
func RateLimitedDelay(now time.Time, jitter Jitter) time.Duration {
	secIntoMinute := now.Unix() % 60
	remainder := time.Duration(60-secIntoMinute) * time.Second

	j := 0.0
	if jitter != nil {
		j = jitter() - 0.5 // map the [0.5,1.5) jitter source onto [0,1)
		if j < 0 {
			j = 0
		}
	}
	return remainder + time.Duration(j*float64(5*time.Second))
}

func effectivePolicy(p destination.RetryPolicy) destination.RetryPolicy {
	out := DefaultPolicy
	if p.MaxAttempts > 0 {
		out.MaxAttempts = p.MaxAttempts
	}
	if p.BaseDelay > 0 {
		out.BaseDelay = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		out.MaxDelay = p.MaxDelay
	}
	return out
}

// clampExponent avoids overflow in 1<<n for pathologically large attempt
// counts; 30 already dwarfs any realistic max_delay.
func clampExponent(n int) int {
	if n < 0 {
		return 0
	}
	if n > 30 {
		return 30
	}
	return n
}
