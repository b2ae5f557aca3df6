package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
)

func newTestAuthorizer(t *testing.T) (*Authorizer, store.Store) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.SetConfig(context.Background(), "setup_completed", "true"))
	require.NoError(t, st.SetConfig(context.Background(), "boss_token_hash", store.HashBossToken("boss-secret")))

	cfg := &config.Config{PermissionPolicy: map[string]config.PolicyEntry{
		"daemon.start":  {Level: model.LevelBoss},
		"envelope.send": {Level: model.LevelRestricted},
		"agent.bind":    {Level: model.LevelPrivileged, Expr: `principal == "ops-bot"`},
	}}
	a, err := New(st, config.NewLive(cfg, nil))
	require.NoError(t, err)
	return a, st
}

func TestAuthorizeBossToken(t *testing.T) {
	a, _ := newTestAuthorizer(t)
	p, err := a.Authorize(context.Background(), "daemon.start", "boss-secret")
	require.NoError(t, err)
	require.True(t, p.IsBoss())
}

func TestAuthorizeSetupRequired(t *testing.T) {
	a, st := newTestAuthorizer(t)
	require.NoError(t, st.SetConfig(context.Background(), "setup_completed", "false"))
	_, err := a.Authorize(context.Background(), "daemon.start", "boss-secret")
	require.Error(t, err)

	_, err = a.Authorize(context.Background(), "setup.begin", "anything")
	require.Error(t, err) // still fails (invalid token), but not for setup-required reasons
}

func TestAuthorizeAgentInsufficientLevel(t *testing.T) {
	a, st := newTestAuthorizer(t)
	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "nex-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelRestricted, CreatedAt: 1,
	}))

	_, err := a.Authorize(context.Background(), "daemon.start", "nex-tok")
	require.Error(t, err)

	p, err := a.Authorize(context.Background(), "envelope.send", "nex-tok")
	require.NoError(t, err)
	require.Equal(t, "nex", p.AgentName)
}

func TestAuthorizeCELGrantsBeyondLattice(t *testing.T) {
	a, st := newTestAuthorizer(t)
	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "ops-bot", Token: "ops-tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelRestricted, CreatedAt: 1,
	}))

	p, err := a.Authorize(context.Background(), "agent.bind", "ops-tok")
	require.NoError(t, err, "CEL expr should grant agent.bind to ops-bot despite restricted level")
	require.Equal(t, "ops-bot", p.AgentName)
}

func TestAuthorizeInvalidToken(t *testing.T) {
	a, _ := newTestAuthorizer(t)
	_, err := a.Authorize(context.Background(), "envelope.send", "garbage")
	require.Error(t, err)
}
