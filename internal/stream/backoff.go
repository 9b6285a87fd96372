package stream

import "time"

const (
	// Reconnect backoff
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 10 * time.Second

	// DefaultMaxAttempts is the number of reconnects scheduled before giving up
	DefaultMaxAttempts = 5
)

// Backoff returns min(base × 2^attempt, max)
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
