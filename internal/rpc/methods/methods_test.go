package methods

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/auth"
	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/cron"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
)

const testBossToken = "boss-secret"

type fakeExecutor struct {
	sessions map[string]bool
	refresh  map[string]string
	aborted  map[string]bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{sessions: map[string]bool{}, refresh: map[string]string{}, aborted: map[string]bool{}}
}

func (f *fakeExecutor) RegisterAgent(agentName string)   {}
func (f *fakeExecutor) UnregisterAgent(agentName string) {}
func (f *fakeExecutor) RequestRefresh(agentName, reason string) {
	f.refresh[agentName] = reason
}
func (f *fakeExecutor) Abort(agentName string) { f.aborted[agentName] = true }
func (f *fakeExecutor) HasSession(agentName string) bool {
	return f.sessions[agentName]
}

type fakeAdapter struct {
	reactions []string
}

func (a *fakeAdapter) Platform() string                     { return "fake" }
func (a *fakeAdapter) Start(ctx context.Context) error       { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error        { return nil }
func (a *fakeAdapter) SendMessage(ctx context.Context, chatID string, content model.Content, opts adapters.SendOptions) (string, error) {
	return "msg-1", nil
}
func (a *fakeAdapter) SetReaction(ctx context.Context, chatID, channelMessageID, emoji string) error {
	a.reactions = append(a.reactions, emoji)
	return nil
}

type fixture struct {
	t        *testing.T
	store    *sqlite.Store
	router   *rpc.MethodRouter
	executor *fakeExecutor
	cronSch  *cron.CronScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.SetConfig(ctx, "setup_completed", "true"))
	require.NoError(t, st.SetConfig(ctx, "boss_token_hash", store.HashBossToken(testBossToken)))

	cfg := config.NewLive(&config.Config{PermissionPolicy: map[string]config.PolicyEntry{}, AdapterBossID: map[string]string{}}, nil)
	authz, err := auth.New(st, cfg)
	require.NoError(t, err)

	reg := adapters.NewRegistry()
	bus := &events.Bus{}
	r := router.New(st, cfg, reg, bus, clock.System{})
	cronSch := cron.New(st, r, clock.System{}, nil)

	mrouter := rpc.NewMethodRouter(authz, nil)
	exec := newFakeExecutor()

	NewDaemonMethods(st, exec, fakeScheduler{}, clock.System{}, 0, nil).Register(mrouter)
	NewEnvelopeMethods(st, r, clock.System{}).Register(mrouter)
	NewAgentMethods(st, exec, clock.System{}).Register(mrouter)
	NewCronMethods(st, cronSch).Register(mrouter)
	NewReactionMethods(st, reg).Register(mrouter)
	NewSetupMethods(st).Register(mrouter)

	return &fixture{t: t, store: st, router: mrouter, executor: exec, cronSch: cronSch}
}

type fakeScheduler struct{}

func (fakeScheduler) NextWakeAtMs(ctx context.Context) (int64, bool) { return 0, false }

func (f *fixture) call(method string, params map[string]any) rpc.Response {
	f.t.Helper()
	if params == nil {
		params = map[string]any{}
	}
	params["token"] = testBossToken
	raw, err := json.Marshal(params)
	require.NoError(f.t, err)
	return f.router.Dispatch(context.Background(), rpc.Request{JSONRPC: "2.0", Method: method, Params: raw})
}

func TestDaemonPingAndTime(t *testing.T) {
	f := newFixture(t)
	resp := f.call("daemon.ping", nil)
	require.Nil(t, resp.Error)

	resp = f.call("daemon.time", nil)
	require.Nil(t, resp.Error)
}

func TestAgentRegisterListSetDelete(t *testing.T) {
	f := newFixture(t)

	resp := f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})
	require.Nil(t, resp.Error)

	resp = f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeAlreadyExists, resp.Error.Code)

	resp = f.call("agent.list", nil)
	require.Nil(t, resp.Error)
	list, ok := resp.Result.([]agentViewT)
	require.True(t, ok)
	require.Len(t, list, 1)
	require.Equal(t, "scout", list[0].Name)

	desc := "updated"
	resp = f.call("agent.set", map[string]any{"name": "scout", "description": desc})
	require.Nil(t, resp.Error)

	resp = f.call("agent.delete", map[string]any{"name": "scout"})
	require.Nil(t, resp.Error)

	resp = f.call("agent.status", map[string]any{"name": "scout"})
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeNotFound, resp.Error.Code)
}

func TestAgentAbortAndRefresh(t *testing.T) {
	f := newFixture(t)
	resp := f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})
	require.Nil(t, resp.Error)

	resp = f.call("agent.refresh", map[string]any{"name": "scout"})
	require.Nil(t, resp.Error)
	require.Equal(t, "agent.refresh", f.executor.refresh["scout"])

	resp = f.call("agent.abort", map[string]any{"name": "scout"})
	require.Nil(t, resp.Error)
	require.True(t, f.executor.aborted["scout"])
}

func TestAgentBindUnbind(t *testing.T) {
	f := newFixture(t)
	f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})

	resp := f.call("agent.bind", map[string]any{"agentName": "scout", "adapterType": "telegram", "adapterToken": "tok-1"})
	require.Nil(t, resp.Error)

	resp = f.call("agent.unbind", map[string]any{"agentName": "scout", "adapterType": "telegram"})
	require.Nil(t, resp.Error)
}

func TestEnvelopeSendListGet(t *testing.T) {
	f := newFixture(t)
	f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})

	resp := f.call("envelope.send", map[string]any{
		"from": "agent:scout", "to": "agent:scout",
		"content": map[string]any{"text": "hello"},
	})
	require.Nil(t, resp.Error)

	resp = f.call("envelope.list", map[string]any{})
	require.Nil(t, resp.Error)
	b, _ := json.Marshal(resp.Result)
	var views []envelopeViewT
	require.NoError(t, json.Unmarshal(b, &views))
	require.Len(t, views, 1)

	resp = f.call("envelope.get", map[string]any{"id": views[0].ShortID})
	require.Nil(t, resp.Error)

	resp = f.call("envelope.get", map[string]any{"id": "deadbeef"})
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeNotFound, resp.Error.Code)
}

func TestEnvelopeSendInvalidAddress(t *testing.T) {
	f := newFixture(t)
	resp := f.call("envelope.send", map[string]any{"from": "agent:scout", "to": "not-an-address"})
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
}

func TestCronCreateListEnableDisableDelete(t *testing.T) {
	f := newFixture(t)
	f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})

	resp := f.call("cron.create", map[string]any{
		"agentName": "scout", "cron": "@daily", "timezone": "UTC", "enabled": false,
		"to": "agent:scout", "content": map[string]any{"text": "daily check-in"},
	})
	require.Nil(t, resp.Error)
	b, _ := json.Marshal(resp.Result)
	var created cronViewT
	require.NoError(t, json.Unmarshal(b, &created))

	resp = f.call("cron.list", nil)
	require.Nil(t, resp.Error)

	resp = f.call("cron.get", map[string]any{"id": created.ShortID})
	require.Nil(t, resp.Error)

	resp = f.call("cron.enable", map[string]any{"id": created.ID})
	require.Nil(t, resp.Error)

	resp = f.call("cron.disable", map[string]any{"id": created.ID})
	require.Nil(t, resp.Error)

	resp = f.call("cron.delete", map[string]any{"id": created.ID})
	require.Nil(t, resp.Error)
}

func TestReactionSetNoBindingIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.call("agent.register", map[string]any{"name": "scout", "provider": "claude"})

	resp := f.call("reaction.set", map[string]any{
		"agentName": "scout", "adapterType": "telegram", "chatId": "123", "channelMessageId": "456", "emoji": "👍",
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeNotFound, resp.Error.Code)
}

func TestSetupCheckAndBossVerify(t *testing.T) {
	f := newFixture(t)
	resp := f.call("setup.check", nil)
	require.Nil(t, resp.Error)

	resp = f.call("boss.verify", nil)
	require.Nil(t, resp.Error)
}

func TestSetupExecuteAlreadyCompletedIsConflict(t *testing.T) {
	f := newFixture(t)
	resp := f.call("setup.execute", map[string]any{"bossToken": "whatever"})
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeAlreadyExists, resp.Error.Code)
}

func TestSetupExecuteBeforeCompletion(t *testing.T) {
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	cfg := config.NewLive(&config.Config{PermissionPolicy: map[string]config.PolicyEntry{}}, nil)
	authz, err := auth.New(st, cfg)
	require.NoError(t, err)
	mrouter := rpc.NewMethodRouter(authz, nil)
	NewSetupMethods(st).Register(mrouter)

	raw, _ := json.Marshal(map[string]any{"bossToken": "fresh-token"})
	resp := mrouter.Dispatch(context.Background(), rpc.Request{Method: "setup.execute", Params: raw})
	require.Nil(t, resp.Error)

	done, _, err := st.GetConfig(context.Background(), "setup_completed")
	require.NoError(t, err)
	require.Equal(t, "true", done)
}
