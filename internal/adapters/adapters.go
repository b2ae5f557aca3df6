// Package adapters defines the ChannelAdapter contract (spec §4.6) and a
// registry that dispatches by (adapter-type, adapter-token). The core
// consumes adapters; it never implements one — internal/channels/telegram
// and internal/channels/discord are concrete, ship-with-it implementations
// living outside this package.
package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/hiboss/hiboss/internal/model"
)

// Author identifies a channel message's sender.
type Author struct {
	ID          string
	Username    string // platform handle, no leading "@"
	DisplayName string
}

// Chat identifies a channel conversation.
type Chat struct {
	ID   string
	Name string
}

// ChannelMessage is what an adapter hands the router on inbound traffic
// (spec §4.6).
type ChannelMessage struct {
	ID        string
	Platform  string
	Author    Author
	InReplyTo string // upstream channelMessageId, if a reply
	Chat      Chat
	Content   model.Content
	Raw       any
}

// CommandName enumerates the boss-only control commands an adapter may
// surface (spec §4.6). Non-boss commands MUST be silently dropped by the
// adapter itself, before ever reaching the router.
type CommandName string

const (
	CommandNew    CommandName = "new"
	CommandStatus CommandName = "status"
	CommandAbort  CommandName = "abort"
)

// ChannelCommand is a boss-only control command.
type ChannelCommand struct {
	Name CommandName
	Chat Chat
	Args []string
}

// SendOptions modifies an outbound send (spec §4.6).
type SendOptions struct {
	ParseMode        string
	ReplyToMessageID string
}

// Router is the subset of router behavior an adapter calls into on inbound
// traffic — kept narrow so adapters don't import the router package
// directly (avoids an import cycle: router depends on adapters.Registry).
type Router interface {
	InboundFromChannel(ctx context.Context, adapterType, adapterToken string, msg ChannelMessage) error
	HandleCommand(ctx context.Context, adapterType, adapterToken string, cmd ChannelCommand) error
	// IsBoss lets an adapter silently drop a non-boss control command
	// before it ever reaches HandleCommand (spec §4.6).
	IsBoss(adapterType, username string) bool
}

// ChannelAdapter is the contract every platform connector satisfies (spec
// §4.6). The core holds this interface only; adapters own their platform
// SDK, retry/backoff, and formatting concerns.
type ChannelAdapter interface {
	Platform() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(ctx context.Context, chatID string, content model.Content, opts SendOptions) (channelMessageID string, err error)
	// SetReaction is optional; adapters that don't support reactions return
	// a DeliveryError-free no-op.
	SetReaction(ctx context.Context, chatID, channelMessageID, emoji string) error
}

// Registry dispatches by (adapterType, adapterToken) — one running
// ChannelAdapter instance per bot credential, potentially serving many
// bound agents of the same adapter type.
type Registry struct {
	mu       sync.RWMutex
	byToken  map[string]ChannelAdapter // key: adapterType + "\x00" + adapterToken
	byType   map[string][]ChannelAdapter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byToken: map[string]ChannelAdapter{}, byType: map[string][]ChannelAdapter{}}
}

func registryKey(adapterType, adapterToken string) string {
	return adapterType + "\x00" + adapterToken
}

// Load registers a started adapter instance under (adapterType,
// adapterToken). Replaces any previous instance for the same key without
// stopping it — callers are responsible for stopping a displaced adapter.
func (r *Registry) Load(adapterType, adapterToken string, a ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(adapterType, adapterToken)
	r.byToken[key] = a
	r.byType[adapterType] = append(r.byType[adapterType], a)
}

// Unload removes the adapter registered for (adapterType, adapterToken), if
// any, returning it so the caller can stop it.
func (r *Registry) Unload(adapterType, adapterToken string) (ChannelAdapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(adapterType, adapterToken)
	a, ok := r.byToken[key]
	if !ok {
		return nil, false
	}
	delete(r.byToken, key)
	kept := r.byType[adapterType][:0]
	for _, existing := range r.byType[adapterType] {
		if existing != a {
			kept = append(kept, existing)
		}
	}
	r.byType[adapterType] = kept
	return a, true
}

// Get resolves the loaded adapter for (adapterType, adapterToken). ok=false
// means "adapter-not-loaded" per spec §4.3 deliverEnvelope classification.
func (r *Registry) Get(adapterType, adapterToken string) (ChannelAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byToken[registryKey(adapterType, adapterToken)]
	return a, ok
}

// All returns every loaded adapter instance, one per distinct
// (adapterType, adapterToken) pair — used by the daemon shell to stop
// every adapter on shutdown.
func (r *Registry) All() []ChannelAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelAdapter, 0, len(r.byToken))
	for _, a := range r.byToken {
		out = append(out, a)
	}
	return out
}

// ErrAdapterNotLoaded is wrapped into the router's DeliveryError classification.
var ErrAdapterNotLoaded = fmt.Errorf("adapter not loaded")
