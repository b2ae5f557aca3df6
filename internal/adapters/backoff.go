package adapters

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig tunes the reconnect loop every ChannelAdapter runs while
// Start is active (spec §4.6: initial 2s, factor 1.8, cap 30s, ±25%
// jitter). Unlike providers.RetryConfig (internal/provider borrows that
// shape for LLM-CLI subprocess retries), an adapter's reconnect loop never
// gives up — a dropped bot connection keeps retrying until Stop is called.
type BackoffConfig struct {
	Initial time.Duration
	Factor  float64
	Cap     time.Duration
	Jitter  float64
}

// DefaultBackoff matches spec §4.6's adapter reconnect policy.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 2 * time.Second, Factor: 1.8, Cap: 30 * time.Second, Jitter: 0.25}
}

func (c BackoffConfig) delay(attempt int) time.Duration {
	d := float64(c.Initial) * math.Pow(c.Factor, float64(attempt))
	if time.Duration(d) > c.Cap {
		d = float64(c.Cap)
	}
	if c.Jitter > 0 {
		span := d * c.Jitter
		d += (rand.Float64()*2 - 1) * span
	}
	if d < 0 {
		d = float64(c.Initial)
	}
	return time.Duration(d)
}

// RunWithReconnect calls connect in a loop until it returns nil (clean
// shutdown, e.g. Stop was called) or ctx is cancelled. Each failed attempt
// sleeps for an increasing, jittered backoff before retrying. Adapters call
// this from Start to drive their platform connection (long-poll, websocket,
// gateway session) without duplicating retry logic.
func RunWithReconnect(ctx context.Context, logger *slog.Logger, platform string, cfg BackoffConfig, connect func(ctx context.Context) error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := connect(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		wait := cfg.delay(attempt)
		logger.Warn("adapter connection dropped, reconnecting", "platform", platform, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		attempt++
	}
}
