// Package events breaks the router ↔ cron ↔ scheduler cycle (spec §9
// design note). The router publishes envelope lifecycle events; the
// one-shot scheduler and cron scheduler subscribe. Neither scheduler holds
// a reference to the other, or to the router beyond this interface.
package events

import "github.com/hiboss/hiboss/internal/model"

// EnvelopeEvents is the subscriber contract. Handlers run synchronously on
// the publishing goroutine (the router's insert/deliver path) and must not
// block; long work belongs on the subscriber's own goroutine.
type EnvelopeEvents interface {
	// OnEnvelopeCreated fires after a new envelope is durably inserted,
	// pending or not. The one-shot scheduler uses it to recompute its wake
	// timer (spec §4.4).
	OnEnvelopeCreated(env model.Envelope)
	// OnEnvelopeDone fires after an envelope transitions to done. The cron
	// scheduler uses it to advance a schedule's pending envelope (spec
	// §4.7).
	OnEnvelopeDone(env model.Envelope)
}

// Bus fans a single publisher out to any number of subscribers, added
// before the daemon starts serving traffic (no remove — subscriber set is
// fixed for the daemon's lifetime, matching the fixed scheduler/cron/router
// wiring in internal/daemon).
type Bus struct {
	subscribers []EnvelopeEvents
}

// Subscribe registers a subscriber. Not safe to call concurrently with
// Publish* — call only during daemon composition, before Start.
func (b *Bus) Subscribe(sub EnvelopeEvents) {
	b.subscribers = append(b.subscribers, sub)
}

// PublishCreated notifies every subscriber that env was created.
func (b *Bus) PublishCreated(env model.Envelope) {
	for _, sub := range b.subscribers {
		sub.OnEnvelopeCreated(env)
	}
}

// PublishDone notifies every subscriber that env reached status=done.
func (b *Bus) PublishDone(env model.Envelope) {
	for _, sub := range b.subscribers {
		sub.OnEnvelopeDone(env)
	}
}
