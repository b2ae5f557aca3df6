package methods

import (
	"context"
	"encoding/json"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
)

// ReactionMethods implements reaction.set.
type ReactionMethods struct {
	store    store.AgentStore
	adapters *adapters.Registry
}

// NewReactionMethods constructs ReactionMethods.
func NewReactionMethods(st store.AgentStore, reg *adapters.Registry) *ReactionMethods {
	return &ReactionMethods{store: st, adapters: reg}
}

// Register binds reaction.set onto router.
func (m *ReactionMethods) Register(router *rpc.MethodRouter) {
	router.Register("reaction.set", m.handleSet)
}

type reactionSetParams struct {
	AgentName        string `json:"agentName"`
	AdapterType      string `json:"adapterType"`
	ChatID           string `json:"chatId"`
	ChannelMessageID string `json:"channelMessageId"`
	Emoji            string `json:"emoji"`
}

func (m *ReactionMethods) handleSet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p reactionSetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	binding, found, err := m.store.GetBindingForAgent(ctx, p.AgentName, p.AdapterType)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, kerrors.Newf(kerrors.NotFound, "agent %s has no binding for %s", p.AgentName, p.AdapterType)
	}

	a, ok := m.adapters.Get(p.AdapterType, binding.AdapterToken)
	if !ok {
		return nil, kerrors.Newf(kerrors.NotFound, "adapter %s not loaded", p.AdapterType)
	}

	if err := a.SetReaction(ctx, p.ChatID, p.ChannelMessageID, p.Emoji); err != nil {
		return nil, kerrors.New(kerrors.DeliveryFailed, "set reaction failed").Wrap(err)
	}
	return map[string]bool{"set": true}, nil
}
