// Package channels holds shared plumbing for the concrete ChannelAdapter
// implementations in internal/channels/telegram and internal/channels/discord.
package channels

import (
	"math"
	"math/rand"
	"time"
)

// StartBackoff computes the delay before the next reconnect attempt when a
// ChannelAdapter's Start loop hits a transient polling/gateway conflict
// (initial 2s, factor 1.8, cap 30s, ±25% jitter), following the same
// exponential-backoff-with-jitter shape as the teacher's
// internal/providers/retry.go computeDelay.
func StartBackoff(attempt int) time.Duration {
	const (
		initial  = 2 * time.Second
		factor   = 1.8
		capDelay = 30 * time.Second
		jitter   = 0.25
	)
	delay := float64(initial) * math.Pow(factor, float64(attempt))
	if time.Duration(delay) > capDelay {
		delay = float64(capDelay)
	}
	delay += (rand.Float64()*2 - 1) * delay * jitter
	if delay < 0 {
		delay = float64(initial)
	}
	return time.Duration(delay)
}
