package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
)

func newTestRouter(t *testing.T, reg *adapters.Registry, bus *events.Bus) (*Router, store.Store) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{AdapterBossID: map[string]string{"telegram": "boss_handle"}}
	if reg == nil {
		reg = adapters.NewRegistry()
	}
	r := New(st, config.NewLive(cfg, nil), reg, bus, clock.System{})
	return r, st
}

func TestIsBossCaseInsensitiveStripsAt(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	require.True(t, r.IsBoss("telegram", "@Boss_Handle"))
	require.True(t, r.IsBoss("telegram", "boss_handle"))
	require.False(t, r.IsBoss("telegram", "someone-else"))
	require.False(t, r.IsBoss("discord", "boss_handle"))
}

type recordingAdapter struct {
	sent []string
	fail bool
}

func (a *recordingAdapter) Platform() string                                { return "telegram" }
func (a *recordingAdapter) Start(context.Context) error                     { return nil }
func (a *recordingAdapter) Stop(context.Context) error                      { return nil }
func (a *recordingAdapter) SetReaction(context.Context, string, string, string) error { return nil }
func (a *recordingAdapter) SendMessage(ctx context.Context, chatID string, content model.Content, opts adapters.SendOptions) (string, error) {
	if a.fail {
		return "", kerrors.New(kerrors.Internal, "boom")
	}
	a.sent = append(a.sent, content.Text)
	return "upstream-id", nil
}

func TestInboundFromChannelDropsUnboundMessage(t *testing.T) {
	reg := adapters.NewRegistry()
	a := &recordingAdapter{}
	reg.Load("telegram", "tok-1", a)
	r, _ := newTestRouter(t, reg, nil)

	err := r.InboundFromChannel(context.Background(), "telegram", "tok-1", adapters.ChannelMessage{
		Platform: "telegram",
		Author:   adapters.Author{Username: "boss_handle"},
		Chat:     adapters.Chat{ID: "chat-1"},
		Content:  model.Content{Text: "hi"},
	})
	require.NoError(t, err)
	require.Len(t, a.sent, 1, "boss gets a not-configured notice")
}

func TestInboundFromChannelRoutesToBoundAgent(t *testing.T) {
	reg := adapters.NewRegistry()
	r, st := newTestRouter(t, reg, nil)

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "nex-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))
	require.NoError(t, st.SetBinding(context.Background(), model.AgentBinding{
		AgentName: "nex", AdapterType: "telegram", AdapterToken: "tok-1",
	}))

	var delivered model.Envelope
	r.RegisterAgentHandler("nex", func(ctx context.Context, env model.Envelope) {
		delivered = env
	})

	err := r.InboundFromChannel(context.Background(), "telegram", "tok-1", adapters.ChannelMessage{
		Platform: "telegram",
		ID:       "upstream-msg-1",
		Author:   adapters.Author{Username: "someone"},
		Chat:     adapters.Chat{ID: "chat-1"},
		Content:  model.Content{Text: "hello nex"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello nex", delivered.Content.Text)
	require.Equal(t, "agent:nex", delivered.To.String())
	require.Equal(t, "channel:telegram:chat-1", delivered.From.String())
	require.False(t, delivered.FromBoss)
}

func TestDeliverEnvelopeToChannelSuccessMarksDone(t *testing.T) {
	reg := adapters.NewRegistry()
	a := &recordingAdapter{}
	reg.Load("telegram", "tok-1", a)
	bus := &events.Bus{}
	r, st := newTestRouter(t, reg, bus)

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "nex-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))
	require.NoError(t, st.SetBinding(context.Background(), model.AgentBinding{
		AgentName: "nex", AdapterType: "telegram", AdapterToken: "tok-1",
	}))

	env, err := r.RouteEnvelope(context.Background(), store.CreateEnvelopeInput{
		From:    model.Address{Kind: model.KindAgent, AgentName: "nex"},
		To:      model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "chat-1"},
		Content: model.Content{Text: "reply"},
	})
	require.NoError(t, err)
	require.Len(t, a.sent, 1)

	got, err := st.GetEnvelope(context.Background(), env.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
}

func TestDeliverEnvelopeNoBindingRecordsErrorAndFails(t *testing.T) {
	reg := adapters.NewRegistry()
	r, st := newTestRouter(t, reg, nil)

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "nex-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))

	_, err := r.RouteEnvelope(context.Background(), store.CreateEnvelopeInput{
		From:    model.Address{Kind: model.KindAgent, AgentName: "nex"},
		To:      model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "chat-1"},
		Content: model.Content{Text: "reply"},
	})
	require.Error(t, err)
	require.True(t, kerrors.Of(err, kerrors.DeliveryFailed))
}

func TestDeliverEnvelopeAdapterNotLoaded(t *testing.T) {
	reg := adapters.NewRegistry() // nothing loaded
	r, st := newTestRouter(t, reg, nil)

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "nex-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))
	require.NoError(t, st.SetBinding(context.Background(), model.AgentBinding{
		AgentName: "nex", AdapterType: "telegram", AdapterToken: "tok-1",
	}))

	_, err := r.RouteEnvelope(context.Background(), store.CreateEnvelopeInput{
		From:    model.Address{Kind: model.KindAgent, AgentName: "nex"},
		To:      model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "chat-1"},
		Content: model.Content{Text: "reply"},
	})
	require.Error(t, err)
	require.True(t, kerrors.Of(err, kerrors.DeliveryFailed))
}

func TestDeliverEnvelopeNonAgentSenderIsValidationError(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	err := r.DeliverEnvelope(context.Background(), model.Envelope{
		From: model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "chat-1"},
		To:   model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "chat-2"},
	})
	require.True(t, kerrors.Of(err, kerrors.Validation))
}

func TestInboundFromChannelDedupsRepeatDelivery(t *testing.T) {
	reg := adapters.NewRegistry()
	r, st := newTestRouter(t, reg, nil)

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "nex-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))
	require.NoError(t, st.SetBinding(context.Background(), model.AgentBinding{
		AgentName: "nex", AdapterType: "telegram", AdapterToken: "tok-1",
	}))

	var deliveries int
	r.RegisterAgentHandler("nex", func(ctx context.Context, env model.Envelope) { deliveries++ })

	msg := adapters.ChannelMessage{
		Platform: "telegram",
		ID:       "upstream-msg-1",
		Author:   adapters.Author{Username: "someone"},
		Chat:     adapters.Chat{ID: "chat-1"},
		Content:  model.Content{Text: "hello nex"},
	}
	require.NoError(t, r.InboundFromChannel(context.Background(), "telegram", "tok-1", msg))
	require.NoError(t, r.InboundFromChannel(context.Background(), "telegram", "tok-1", msg))
	require.Equal(t, 1, deliveries, "redelivery of the same channel message must not create a second envelope")
}

type recordingExecutor struct {
	refreshedAgent string
	refreshReason  string
	abortedAgent   string
	hasSession     bool
}

func (e *recordingExecutor) RequestRefresh(agentName, reason string) {
	e.refreshedAgent, e.refreshReason = agentName, reason
}
func (e *recordingExecutor) Abort(agentName string)        { e.abortedAgent = agentName }
func (e *recordingExecutor) HasSession(string) bool         { return e.hasSession }

func TestHandleCommandNewRequestsRefresh(t *testing.T) {
	reg := adapters.NewRegistry()
	a := &recordingAdapter{}
	reg.Load("telegram", "tok-1", a)
	r, st := newTestRouter(t, reg, nil)

	require.NoError(t, st.SetBinding(context.Background(), model.AgentBinding{
		AgentName: "nex", AdapterType: "telegram", AdapterToken: "tok-1",
	}))
	exec := &recordingExecutor{}
	r.SetCommandExecutor(exec)

	err := r.HandleCommand(context.Background(), "telegram", "tok-1", adapters.ChannelCommand{
		Name: adapters.CommandNew, Chat: adapters.Chat{ID: "chat-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "nex", exec.refreshedAgent)
	require.Len(t, a.sent, 1)
}

func TestHandleCommandAbortDispatchesToExecutor(t *testing.T) {
	reg := adapters.NewRegistry()
	a := &recordingAdapter{}
	reg.Load("telegram", "tok-1", a)
	r, st := newTestRouter(t, reg, nil)

	require.NoError(t, st.SetBinding(context.Background(), model.AgentBinding{
		AgentName: "nex", AdapterType: "telegram", AdapterToken: "tok-1",
	}))
	exec := &recordingExecutor{}
	r.SetCommandExecutor(exec)

	err := r.HandleCommand(context.Background(), "telegram", "tok-1", adapters.ChannelCommand{
		Name: adapters.CommandAbort, Chat: adapters.Chat{ID: "chat-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "nex", exec.abortedAgent)
}

func TestHandleCommandUnboundAdapterIsNoop(t *testing.T) {
	reg := adapters.NewRegistry()
	r, _ := newTestRouter(t, reg, nil)
	err := r.HandleCommand(context.Background(), "telegram", "tok-unknown", adapters.ChannelCommand{
		Name: adapters.CommandStatus, Chat: adapters.Chat{ID: "chat-1"},
	})
	require.NoError(t, err)
}

func TestDeliverEnvelopeToAgentLeftPendingWithoutHandler(t *testing.T) {
	r, st := newTestRouter(t, nil, nil)
	env, err := r.RouteEnvelope(context.Background(), store.CreateEnvelopeInput{
		From: model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "chat-1"},
		To:   model.Address{Kind: model.KindAgent, AgentName: "nex"},
	})
	require.NoError(t, err)

	got, err := st.GetEnvelope(context.Background(), env.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}
