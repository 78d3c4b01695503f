package pool

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SleepJitter waits a random duration in [min, max] or until ctx is done,
// whichever comes first. The randomized inter-request delay desynchronizes
// workers so the target site never sees request bursts. Returns ctx.Err()
// when the wait was aborted, nil when it completed.
func SleepJitter(ctx context.Context, min, max time.Duration) error {
	if max < min {
		max = min
	}
	delay := min
	if span := max - min; span > 0 {
		delay = min + time.Duration(rand.Int63n(int64(span)+1))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff computes the exponential retry delay for the given attempt:
// base doubling per attempt, capped at max, with +/-25% jitter to avoid
// synchronized retry storms. Attempt numbering starts at 1; attempts <= 1
// get the base delay.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	if attempt > 1 {
		scaled := float64(base) * math.Pow(2, float64(attempt-1))
		delay = time.Duration(scaled)
		if delay <= 0 || delay > max {
			delay = max
		}
	}

	// +/- 25% jitter
	jitterRange := int64(delay) / 2
	var jitter time.Duration
	if jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - delay/4
	}
	final := delay + jitter
	if final < 0 {
		final = 0
	}
	return final
}

// SleepBackoff waits the Backoff delay for attempt, abandoning the wait the
// moment ctx is cancelled rather than completing it.
func SleepBackoff(ctx context.Context, attempt int, base, max time.Duration) error {
	delay := Backoff(attempt, base, max)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
