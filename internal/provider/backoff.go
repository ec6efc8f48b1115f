package provider

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy controls retry behaviour for transient provider failures:
// exponential growth from BaseDelay, capped at MaxDelay, with full jitter.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoff returns the policy used when the config leaves retry
// tuning unset: 5 attempts, 1s base, 30s cap.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay computes the sleep before retry number attempt (1-based, i.e. the
// delay after the attempt-th failure). Full jitter: a uniform draw from
// [0, min(MaxDelay, BaseDelay*2^(attempt-1))].
func (p BackoffPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	ceiling := p.BaseDelay
	for i := 1; i < attempt; i++ {
		ceiling *= 2
		if p.MaxDelay > 0 && ceiling >= p.MaxDelay {
			ceiling = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && ceiling > p.MaxDelay {
		ceiling = p.MaxDelay
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(ceiling) + 1))
}

// SleepFunc waits for the given duration or until the context is done.
// Injected so retry logic is testable without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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
