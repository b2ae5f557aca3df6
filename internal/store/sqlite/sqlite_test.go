package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/ids"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/store"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetEnvelope(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	agentTo, err := model.ParseAddress("agent:nex")
	require.NoError(t, err)
	from, err := model.ParseAddress("channel:telegram:123")
	require.NoError(t, err)

	env, err := s.CreateEnvelope(ctx, store.CreateEnvelopeInput{
		From:     from,
		To:       agentTo,
		FromBoss: true,
		Content:  model.Content{Text: "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, env.Status)

	got, err := s.GetEnvelope(ctx, env.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content.Text)
	require.True(t, got.FromBoss)
	require.Nil(t, got.DeliverAt)
}

func TestEnvelopeStatusIsTerminalOnceDone(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	to, _ := model.ParseAddress("agent:nex")
	from, _ := model.ParseAddress("agent:nex")
	env, err := s.CreateEnvelope(ctx, store.CreateEnvelopeInput{From: from, To: to})
	require.NoError(t, err)

	require.NoError(t, s.UpdateEnvelopeStatus(ctx, env.ID, model.StatusDone))
	got, err := s.GetEnvelope(ctx, env.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
}

func TestListDueChannelEnvelopesOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	to, _ := model.ParseAddress("channel:telegram:123")
	from, _ := model.ParseAddress("agent:nex")

	later := int64(2000)
	earlier := int64(1000)
	_, err := s.CreateEnvelope(ctx, store.CreateEnvelopeInput{From: from, To: to, DeliverAt: &later})
	require.NoError(t, err)
	_, err = s.CreateEnvelope(ctx, store.CreateEnvelopeInput{From: from, To: to, DeliverAt: &earlier})
	require.NoError(t, err)
	_, err = s.CreateEnvelope(ctx, store.CreateEnvelopeInput{From: from, To: to}) // due-now (nil deliverAt) sorts first
	require.NoError(t, err)

	due, err := s.ListDueChannelEnvelopes(ctx, 10000, 100)
	require.NoError(t, err)
	require.Len(t, due, 3)
	require.Nil(t, due[0].DeliverAt)
	require.Equal(t, earlier, *due[1].DeliverAt)
	require.Equal(t, later, *due[2].DeliverAt)
}

func TestListAgentNamesWithDueEnvelopes(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	to, _ := model.ParseAddress("agent:nex")
	from, _ := model.ParseAddress("channel:telegram:123")
	_, err := s.CreateEnvelope(ctx, store.CreateEnvelopeInput{From: from, To: to})
	require.NoError(t, err)

	names, err := s.ListAgentNamesWithDueEnvelopes(ctx, 10000)
	require.NoError(t, err)
	require.Equal(t, []string{"nex"}, names)
}

func TestAgentCRUDAndTokenLookup(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	a := model.Agent{
		Name:            "nex",
		Token:           "tok-abc",
		Workspace:       "/tmp/nex",
		Provider:        model.ProviderClaude,
		PermissionLevel: model.LevelStandard,
		CreatedAt:       1,
	}
	require.NoError(t, s.CreateAgent(ctx, a))

	got, err := s.GetAgent(ctx, "nex")
	require.NoError(t, err)
	require.Equal(t, a.Token, got.Token)

	byToken, ok, err := s.FindAgentByToken(ctx, "tok-abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "nex", byToken.Name)

	_, ok, err = s.FindAgentByToken(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBindingCacheServesAfterFirstLookupAndInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	agent := model.Agent{Name: "nex", Token: "t", Workspace: "/tmp", Provider: model.ProviderClaude, PermissionLevel: model.LevelStandard, CreatedAt: 1}
	require.NoError(t, s.CreateAgent(ctx, agent))
	require.NoError(t, s.SetBinding(ctx, model.AgentBinding{AgentName: "nex", AdapterType: "telegram", AdapterToken: "bot-tok"}))

	b, ok, err := s.GetBindingByAdapterToken(ctx, "telegram", "bot-tok")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "nex", b.AgentName)

	require.NoError(t, s.DeleteBinding(ctx, "nex", "telegram"))
	_, ok, err = s.GetBindingByAdapterToken(ctx, "telegram", "bot-tok")
	require.NoError(t, err)
	require.False(t, ok, "cache must be invalidated after delete, not serve a stale hit")
}

func TestCronSchedulePendingEnvelopeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	agent := model.Agent{Name: "nex", Token: "t", Workspace: "/tmp", Provider: model.ProviderClaude, PermissionLevel: model.LevelStandard, CreatedAt: 1}
	require.NoError(t, s.CreateAgent(ctx, agent))

	to, _ := model.ParseAddress("agent:nex")
	c := model.CronSchedule{ID: ids.New(), AgentName: "nex", Cron: "0 9 * * *", Enabled: true, To: to, CreatedAt: 1}
	require.NoError(t, s.CreateCronSchedule(ctx, c))

	env, err := s.CreateEnvelope(ctx, store.CreateEnvelopeInput{From: to, To: to})
	require.NoError(t, err)
	require.NoError(t, s.UpdateCronSchedulePendingEnvelopeID(ctx, c.ID, &env.ID))

	got, err := s.GetCronSchedule(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PendingEnvelopeID)
	require.Equal(t, env.ID, *got.PendingEnvelopeID)

	require.NoError(t, s.UpdateCronSchedulePendingEnvelopeID(ctx, c.ID, nil))
	got, err = s.GetCronSchedule(ctx, c.ID)
	require.NoError(t, err)
	require.Nil(t, got.PendingEnvelopeID)
}

func TestConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, ok, err := s.GetConfig(ctx, "setup_completed")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetConfig(ctx, "setup_completed", "true"))
	v, ok, err := s.GetConfig(ctx, "setup_completed")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)

	require.NoError(t, s.SetConfig(ctx, "setup_completed", "false"))
	v, _, err = s.GetConfig(ctx, "setup_completed")
	require.NoError(t, err)
	require.Equal(t, "false", v)
}

func TestBossTokenHash(t *testing.T) {
	h := store.HashBossToken("super-secret")
	require.True(t, store.VerifyBossToken("super-secret", h))
	require.False(t, store.VerifyBossToken("wrong", h))
}
