package client

import (
	"math/rand"
	"time"
)

// CalculateBackoff returns the exponential backoff delay for the given
// attempt with up to 25% jitter, capped at maxDelay. Jitter keeps many
// recovering loops from retrying in lockstep.
func CalculateBackoff(baseDelay time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	delay := baseDelay * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(rand.Int63n(quarter))
	}
	return delay
}
