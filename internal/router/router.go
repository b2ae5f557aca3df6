// Package router implements the envelope routing kernel (spec §4.3):
// turning inbound channel traffic into envelopes, and delivering pending
// envelopes to their destination (an agent handler or a channel adapter).
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/store"
)

// dedupTTL and dedupSize bound the inbound-dedup cache: an adapter that
// redelivers the same channel message (reconnect replay, platform retry)
// within this window is dropped instead of creating a second envelope.
const (
	dedupTTL  = 20 * time.Minute
	dedupSize = 5000
)

// AgentHandler is invoked when an envelope addressed to an agent becomes
// due. Registered per agent name by internal/executor; absence of a
// handler (e.g. during startup, before the executor has wired its agents)
// leaves the envelope pending rather than erroring.
type AgentHandler func(ctx context.Context, env model.Envelope)

// CommandExecutor is the narrow slice of internal/executor that boss-only
// control commands (spec §4.6: /new, /status, /abort) drive. Wired once at
// daemon composition via SetCommandExecutor, after internal/executor (which
// already imports this package) has been constructed.
type CommandExecutor interface {
	RequestRefresh(agentName, reason string)
	Abort(agentName string)
	HasSession(agentName string) bool
}

// Router implements spec §4.3's inboundFromChannel / routeEnvelope /
// deliverEnvelope operations.
type Router struct {
	store     store.Store
	cfg       *config.LiveConfig
	adapters  *adapters.Registry
	events    *events.Bus
	clock     clock.Clock
	dedup     *expirable.LRU[string, struct{}]

	mu          sync.RWMutex
	handlers    map[string]AgentHandler
	cmdExecutor CommandExecutor
}

// New constructs a Router. bus is optional (nil disables lifecycle events,
// used only in narrow unit tests).
func New(st store.Store, cfg *config.LiveConfig, reg *adapters.Registry, bus *events.Bus, clk clock.Clock) *Router {
	if clk == nil {
		clk = clock.System{}
	}
	return &Router{
		store: st, cfg: cfg, adapters: reg, events: bus, clock: clk,
		dedup:    expirable.NewLRU[string, struct{}](dedupSize, nil, dedupTTL),
		handlers: map[string]AgentHandler{},
	}
}

// RegisterAgentHandler wires the executor's per-agent delivery callback.
func (r *Router) RegisterAgentHandler(agentName string, h AgentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[agentName] = h
}

// UnregisterAgentHandler removes a previously registered handler.
func (r *Router) UnregisterAgentHandler(agentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, agentName)
}

// SetCommandExecutor wires the executor that HandleCommand drives. Call
// once during daemon composition, before any adapter is started.
func (r *Router) SetCommandExecutor(exec CommandExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmdExecutor = exec
}

func (r *Router) commandExecutor() CommandExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cmdExecutor
}

func (r *Router) handlerFor(agentName string) (AgentHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[agentName]
	return h, ok
}

// IsBoss implements spec §4.3's isBoss: case-insensitive match of username
// (stripping one leading '@') against config.adapter_boss_id_<adapterType>.
func (r *Router) IsBoss(adapterType, username string) bool {
	bossID, ok := r.cfg.Snapshot().AdapterBossID[adapterType]
	if !ok || bossID == "" {
		return false
	}
	username = strings.TrimPrefix(username, "@")
	return strings.EqualFold(username, strings.TrimPrefix(bossID, "@"))
}

// InboundFromChannel implements spec §4.3's inboundFromChannel. It resolves
// the binding for (adapterType, adapterToken); an unbound message is
// dropped, with a one-line notice sent back if the sender is the boss.
func (r *Router) InboundFromChannel(ctx context.Context, adapterType, adapterToken string, msg adapters.ChannelMessage) error {
	binding, found, err := r.store.GetBindingByAdapterToken(ctx, adapterType, adapterToken)
	if err != nil {
		return kerrors.New(kerrors.Internal, "resolve binding").Wrap(err)
	}
	dedupKey := adapterType + "|" + msg.Chat.ID + "|" + msg.Author.ID + "|" + msg.ID
	if _, seen := r.dedup.Get(dedupKey); seen {
		return nil
	}
	r.dedup.Add(dedupKey, struct{}{})

	fromBoss := r.IsBoss(adapterType, msg.Author.Username)
	if !found {
		if fromBoss {
			if a, ok := r.adapters.Get(adapterType, adapterToken); ok {
				_, _ = a.SendMessage(ctx, msg.Chat.ID, model.Content{Text: "This channel is not bound to any agent."}, adapters.SendOptions{})
			}
		}
		return nil
	}

	metadata := model.Metadata{
		"platform":         msg.Platform,
		"channelMessageId": msg.ID,
		"author":           msg.Author.Username,
		"chat":             msg.Chat.ID,
	}
	if msg.InReplyTo != "" {
		metadata["inReplyTo"] = msg.InReplyTo
	}

	env, err := r.store.CreateEnvelope(ctx, store.CreateEnvelopeInput{
		From:      model.Address{Kind: model.KindChannel, AdapterType: adapterType, ChatID: msg.Chat.ID},
		To:        model.Address{Kind: model.KindAgent, AgentName: binding.AgentName},
		FromBoss:  fromBoss,
		Content:   msg.Content,
		DeliverAt: nil,
		Metadata:  metadata,
	})
	if err != nil {
		return kerrors.New(kerrors.Internal, "create inbound envelope").Wrap(err)
	}
	r.publishCreated(env)
	return r.deliverIfDue(ctx, env)
}

// HandleCommand implements the boss-only control commands of spec §4.6
// (/new, /status, /abort). Adapters have already filtered out non-boss
// senders before calling this; a command for an unbound adapter credential
// is silently ignored.
func (r *Router) HandleCommand(ctx context.Context, adapterType, adapterToken string, cmd adapters.ChannelCommand) error {
	binding, found, err := r.store.GetBindingByAdapterToken(ctx, adapterType, adapterToken)
	if err != nil {
		return kerrors.New(kerrors.Internal, "resolve binding for command").Wrap(err)
	}
	if !found {
		return nil
	}
	a, ok := r.adapters.Get(adapterType, adapterToken)
	if !ok {
		return nil
	}
	exec := r.commandExecutor()

	var reply string
	switch cmd.Name {
	case adapters.CommandNew:
		if exec != nil {
			exec.RequestRefresh(binding.AgentName, "manual /new command")
		}
		reply = "Session will refresh on the agent's next run."
	case adapters.CommandStatus:
		reply = "no active session"
		if exec != nil && exec.HasSession(binding.AgentName) {
			reply = "session active"
		}
	case adapters.CommandAbort:
		if exec != nil {
			exec.Abort(binding.AgentName)
		}
		reply = "Aborting the current run, if any."
	default:
		return nil
	}
	_, err = a.SendMessage(ctx, cmd.Chat.ID, model.Content{Text: reply}, adapters.SendOptions{})
	return err
}

// RouteEnvelope implements spec §4.3's routeEnvelope: insert then
// deliver-if-due. Used by the RPC envelope.send method and by the cron
// scheduler when materializing a schedule firing.
func (r *Router) RouteEnvelope(ctx context.Context, input store.CreateEnvelopeInput) (model.Envelope, error) {
	env, err := r.store.CreateEnvelope(ctx, input)
	if err != nil {
		return model.Envelope{}, kerrors.New(kerrors.Internal, "create envelope").Wrap(err)
	}
	r.publishCreated(env)
	if err := r.deliverIfDue(ctx, env); err != nil {
		return env, err
	}
	return env, nil
}

func (r *Router) deliverIfDue(ctx context.Context, env model.Envelope) error {
	if !env.IsDue(clock.NowMillis(r.clock)) {
		return nil
	}
	return r.DeliverEnvelope(ctx, env)
}

// DeliverEnvelope implements spec §4.3's deliverEnvelope.
func (r *Router) DeliverEnvelope(ctx context.Context, env model.Envelope) error {
	if env.Status == model.StatusDone {
		return nil
	}
	if env.To.IsAgent() {
		return r.deliverToAgent(ctx, env)
	}
	return r.deliverToChannel(ctx, env)
}

func (r *Router) deliverToAgent(ctx context.Context, env model.Envelope) error {
	h, ok := r.handlerFor(env.To.AgentName)
	if !ok {
		return nil // left pending; executor will pick it up once wired
	}
	h(ctx, env)
	return nil
}

func (r *Router) deliverToChannel(ctx context.Context, env model.Envelope) error {
	if !env.From.IsAgent() {
		return kerrors.Newf(kerrors.Validation, "envelope %s: sender %s is not an agent", env.ID, env.From)
	}
	senderName := env.From.AgentName
	adapterType := env.To.AdapterType

	binding, found, err := r.store.GetBindingForAgent(ctx, senderName, adapterType)
	if err != nil {
		return kerrors.New(kerrors.Internal, "lookup sender binding").Wrap(err)
	}
	if !found {
		return r.failDelivery(ctx, env, model.DeliveryError{
			Kind:      model.DeliveryErrNoBinding,
			Details:   "agent " + senderName + " has no binding for " + adapterType,
			Timestamp: clock.NowMillis(r.clock),
		})
	}

	a, ok := r.adapters.Get(adapterType, binding.AdapterToken)
	if !ok {
		return r.failDelivery(ctx, env, model.DeliveryError{
			Kind:      model.DeliveryErrAdapterNotLoaded,
			Details:   "adapter " + adapterType + " not loaded",
			Timestamp: clock.NowMillis(r.clock),
		})
	}

	opts := adapters.SendOptions{ParseMode: env.Metadata.ParseMode()}
	if replyTo, ok := r.resolveReplyTarget(ctx, env); ok {
		opts.ReplyToMessageID = replyTo
	}

	_, sendErr := a.SendMessage(ctx, env.To.ChatID, env.Content, opts)
	if sendErr != nil {
		return r.failDelivery(ctx, env, model.DeliveryError{
			Kind:      model.DeliveryErrSendFailed,
			Details:   sendErr.Error(),
			Timestamp: clock.NowMillis(r.clock),
		})
	}

	if err := r.store.UpdateEnvelopeStatus(ctx, env.ID, model.StatusDone); err != nil {
		return kerrors.New(kerrors.Internal, "mark envelope done").Wrap(err)
	}
	env.Status = model.StatusDone
	r.publishDone(env)
	return nil
}

// resolveReplyTarget resolves replyToEnvelopeId -> channelMessageId, only
// when the parent envelope's channel side landed in the same chat and
// adapter as the envelope being delivered now (spec §4.3: legacy
// metadata.replyToMessageId is never consulted by the core router). The
// parent is almost always the inbound message being replied to — its
// channel endpoint is From, not To (inbound envelopes are
// from=channel:..., to=agent:...) — so check whichever side of the
// parent is a channel address, not just parent.To.
func (r *Router) resolveReplyTarget(ctx context.Context, env model.Envelope) (string, bool) {
	parentID := env.Metadata.ReplyToEnvelopeID()
	if parentID == "" {
		return "", false
	}
	pid, err := uuid.Parse(parentID)
	if err != nil {
		return "", false
	}
	parent, err := r.store.GetEnvelope(ctx, pid)
	if err != nil {
		return "", false
	}
	parentChannel := parent.To
	if !parentChannel.IsChannel() {
		parentChannel = parent.From
	}
	if !parentChannel.IsChannel() || parentChannel.AdapterType != env.To.AdapterType || parentChannel.ChatID != env.To.ChatID {
		return "", false
	}
	cmid := parent.Metadata.ChannelMessageID()
	if cmid == "" {
		return "", false
	}
	return cmid, true
}

func (r *Router) failDelivery(ctx context.Context, env model.Envelope, de model.DeliveryError) error {
	metadata := env.Metadata.WithLastDeliveryError(de)
	if err := r.store.UpdateEnvelopeMetadata(ctx, env.ID, metadata); err != nil {
		return kerrors.New(kerrors.Internal, "record delivery error").Wrap(err)
	}
	return kerrors.Newf(kerrors.DeliveryFailed, "deliver envelope %s: %s", env.ID, de.Kind).WithData(de)
}

func (r *Router) publishCreated(env model.Envelope) {
	if r.events != nil {
		r.events.PublishCreated(env)
	}
}

func (r *Router) publishDone(env model.Envelope) {
	if r.events != nil {
		r.events.PublishDone(env)
	}
}
