package session

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Delay returns the wait before retry attempt N (1-based).
func (c BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || c.InitialDelay <= 0 {
		return max(c.InitialDelay, 0)
	}
	mult := c.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Sleep waits for the attempt's delay or until ctx ends.
func (c BackoffConfig) Sleep(ctx context.Context, attempt int, rng *rand.Rand) error {
	t := time.NewTimer(c.Delay(attempt, rng))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
