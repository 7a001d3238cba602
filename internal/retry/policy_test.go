package retry

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestComputeDelay(t *testing.T) {
	tests := []struct {
		retryCount int
		base       time.Duration
		multiplier float64
		want       time.Duration
	}{
		{retryCount: 0, base: 60 * time.Second, multiplier: 2, want: 60 * time.Second},
		{retryCount: 1, base: 60 * time.Second, multiplier: 2, want: 120 * time.Second},
		{retryCount: 2, base: 60 * time.Second, multiplier: 2, want: 240 * time.Second},
		{retryCount: 3, base: time.Second, multiplier: 3, want: 27 * time.Second},
		{retryCount: 5, base: time.Second, multiplier: 1, want: time.Second},
		{retryCount: -1, base: time.Second, multiplier: 2, want: time.Second},
	}
	for _, tt := range tests {
		got := ComputeDelay(tt.retryCount, tt.base, tt.multiplier)
		if got != tt.want {
			t.Fatalf("ComputeDelay(%d, %s, %v) = %s, want %s", tt.retryCount, tt.base, tt.multiplier, got, tt.want)
		}
	}
}

func TestComputeDelaySaturates(t *testing.T) {
	got := ComputeDelay(500, time.Hour, 10)
	if got <= 0 {
		t.Fatalf("expected saturated positive delay, got %s", got)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		class      Classification
		want       bool
	}{
		{name: "retryable under ceiling", retryCount: 0, maxRetries: 3, class: Retryable, want: true},
		{name: "retryable one below ceiling", retryCount: 2, maxRetries: 3, class: Retryable, want: true},
		{name: "retryable at ceiling", retryCount: 3, maxRetries: 3, class: Retryable, want: false},
		{name: "non retryable", retryCount: 0, maxRetries: 3, class: NonRetryable, want: false},
		{name: "zero ceiling", retryCount: 0, maxRetries: 0, class: Retryable, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.retryCount, tt.maxRetries, tt.class); got != tt.want {
				t.Fatalf("ShouldRetry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyDecide(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	d := p.Decide(1, 3, Retryable, now)
	if !d.Retry {
		t.Fatalf("expected retry decision")
	}
	if d.Delay != 120*time.Second {
		t.Fatalf("delay = %s, want 2m", d.Delay)
	}
	if !d.NextAttemptAt.Equal(now.Add(120 * time.Second)) {
		t.Fatalf("next attempt = %s", d.NextAttemptAt)
	}

	if got := p.Decide(3, 3, Retryable, now); got.Retry {
		t.Fatalf("exhausted retries must not retry")
	}
	if got := p.Decide(0, 3, NonRetryable, now); got.Retry {
		t.Fatalf("non-retryable failures must not retry")
	}
}

func TestPolicyMaxDelayCaps(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, Multiplier: 2, MaxDelay: 3 * time.Minute}
	if got := p.Delay(4); got != 3*time.Minute {
		t.Fatalf("Delay(4) = %s, want 3m", got)
	}
}

func TestFullJitterIsDeterministicForSeed(t *testing.T) {
	a := Policy{BaseDelay: time.Second, Multiplier: 2, Jitter: NewFullJitter(rand.NewPCG(1, 2))}
	b := Policy{BaseDelay: time.Second, Multiplier: 2, Jitter: NewFullJitter(rand.NewPCG(1, 2))}
	for i := 0; i < 5; i++ {
		da, db := a.Delay(i), b.Delay(i)
		if da != db {
			t.Fatalf("attempt %d: %s != %s", i, da, db)
		}
		limit := ComputeDelay(i, time.Second, 2)
		if da < 0 || da > limit {
			t.Fatalf("attempt %d: jittered delay %s outside [0, %s]", i, da, limit)
		}
	}
}

func TestProportionalJitterBounds(t *testing.T) {
	jitter := NewProportionalJitter(0.25, rand.NewPCG(7, 7))
	base := 100 * time.Second
	for i := 0; i < 100; i++ {
		got := jitter(base)
		if got < 75*time.Second || got > 125*time.Second {
			t.Fatalf("jittered delay %s outside ±25%%", got)
		}
	}
}
