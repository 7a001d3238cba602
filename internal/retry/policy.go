// Package retry decides whether a failed attempt is retried and how long the
// job waits before it becomes eligible again. Everything here is pure; jitter
// is an injected function so delays stay reproducible in tests.
package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Classification partitions attempt failures.
type Classification int

const (
	Retryable Classification = iota
	NonRetryable
)

func (c Classification) String() string {
	if c == NonRetryable {
		return "non_retryable"
	}
	return "retryable"
}

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 60 * time.Second
	DefaultMultiplier = 2.0
)

// ComputeDelay returns base * multiplier^retryCount. Results that would
// overflow time.Duration saturate at the maximum duration.
func ComputeDelay(retryCount int, base time.Duration, multiplier float64) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(base) * math.Pow(multiplier, float64(retryCount))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a failure with the given classification may be
// retried once more without exceeding maxRetries.
func ShouldRetry(retryCount, maxRetries int, class Classification) bool {
	return class == Retryable && retryCount < maxRetries
}

// JitterFunc perturbs a computed delay. It must return a non-negative value.
type JitterFunc func(time.Duration) time.Duration

// Policy is the immutable backoff configuration handed to the engine.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	// MaxDelay caps the delay before jitter; zero means uncapped.
	MaxDelay time.Duration
	Jitter   JitterFunc
}

// DefaultPolicy returns a policy with a 60s base, a multiplier of 2 and no
// jitter.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, Multiplier: DefaultMultiplier}
}

// Delay computes the wait before the attempt following retryCount failures.
func (p Policy) Delay(retryCount int) time.Duration {
	d := ComputeDelay(retryCount, p.BaseDelay, p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		d = p.Jitter(d)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Decision is the outcome of evaluating a failed attempt.
type Decision struct {
	Retry         bool
	Delay         time.Duration
	NextAttemptAt time.Time
}

// Decide evaluates a failure at now for a job that has already been retried
// retryCount times.
func (p Policy) Decide(retryCount, maxRetries int, class Classification, now time.Time) Decision {
	if !ShouldRetry(retryCount, maxRetries, class) {
		return Decision{}
	}
	d := p.Delay(retryCount)
	return Decision{Retry: true, Delay: d, NextAttemptAt: now.Add(d)}
}

// NewFullJitter returns a jitter picking uniformly from [0, d]. The source is
// guarded so the returned function is safe for concurrent use.
func NewFullJitter(src rand.Source) JitterFunc {
	r := &lockedRand{r: rand.New(src)}
	return func(d time.Duration) time.Duration {
		if d <= 0 {
			return 0
		}
		return time.Duration(r.float64() * float64(d))
	}
}

// NewProportionalJitter returns a jitter that spreads d by up to ±fraction.
func NewProportionalJitter(fraction float64, src rand.Source) JitterFunc {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	r := &lockedRand{r: rand.New(src)}
	return func(d time.Duration) time.Duration {
		if d <= 0 || fraction == 0 {
			return d
		}
		spread := (r.float64()*2 - 1) * fraction * float64(d)
		return d + time.Duration(spread)
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
