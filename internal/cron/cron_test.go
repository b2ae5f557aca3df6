package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
)

func newTestCron(t *testing.T) (*CronScheduler, store.Store) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))

	reg := adapters.NewRegistry()
	r := router.New(st, config.NewLive(&config.Config{}, nil), reg, &events.Bus{}, clock.System{})
	return New(st, r, clock.System{}, nil), st
}

func TestValidateExprAcceptsStandardAndTags(t *testing.T) {
	require.True(t, ValidateExpr("*/5 * * * *"))
	require.True(t, ValidateExpr("0 0 * * * *"))
	require.True(t, ValidateExpr("@daily"))
	require.True(t, ValidateExpr("@hourly"))
	require.False(t, ValidateExpr("not a cron"))
}

func TestCreateEnabledScheduleMaterializesPendingEnvelope(t *testing.T) {
	c, st := newTestCron(t)
	sched, err := c.CreateSchedule(context.Background(), CreateInput{
		AgentName: "nex",
		Cron:      "@daily",
		Enabled:   true,
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
		Content:   model.Content{Text: "good morning"},
	})
	require.NoError(t, err)
	require.NotNil(t, sched.PendingEnvelopeID)

	env, err := st.GetEnvelope(context.Background(), *sched.PendingEnvelopeID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, env.Status)
	require.Equal(t, sched.ID.String(), env.Metadata.CronScheduleID())
}

func TestCreateDisabledScheduleHasNoPending(t *testing.T) {
	c, _ := newTestCron(t)
	sched, err := c.CreateSchedule(context.Background(), CreateInput{
		AgentName: "nex",
		Cron:      "@daily",
		Enabled:   false,
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
	})
	require.NoError(t, err)
	require.Nil(t, sched.PendingEnvelopeID)
}

func TestOnEnvelopeDoneAdvancesSchedule(t *testing.T) {
	c, st := newTestCron(t)
	sched, err := c.CreateSchedule(context.Background(), CreateInput{
		AgentName: "nex",
		Cron:      "@daily",
		Enabled:   true,
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
	})
	require.NoError(t, err)
	firstPending := *sched.PendingEnvelopeID

	done, err := st.GetEnvelope(context.Background(), firstPending)
	require.NoError(t, err)
	done.Status = model.StatusDone
	c.OnEnvelopeDone(done)

	updated, err := st.GetCronSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.PendingEnvelopeID)
	require.NotEqual(t, firstPending, *updated.PendingEnvelopeID)
}

func TestOnEnvelopeDoneIgnoresStalePendingID(t *testing.T) {
	c, st := newTestCron(t)
	sched, err := c.CreateSchedule(context.Background(), CreateInput{
		AgentName: "nex",
		Cron:      "@daily",
		Enabled:   true,
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
	})
	require.NoError(t, err)
	firstPending := *sched.PendingEnvelopeID

	// Simulate a stale/duplicate completion notification for an envelope
	// that is no longer the schedule's current pending envelope.
	staleEnv := model.Envelope{
		ID:       firstPending,
		Status:   model.StatusDone,
		Metadata: model.Metadata{"cronScheduleId": sched.ID.String()},
	}
	// Advance once for real first.
	c.OnEnvelopeDone(staleEnv)
	afterFirstAdvance, err := st.GetCronSchedule(context.Background(), sched.ID)
	require.NoError(t, err)

	// Re-deliver the same (now stale) completion notification again.
	c.OnEnvelopeDone(staleEnv)
	afterSecondAdvance, err := st.GetCronSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	require.Equal(t, *afterFirstAdvance.PendingEnvelopeID, *afterSecondAdvance.PendingEnvelopeID)
}

func TestDisableScheduleCancelsPending(t *testing.T) {
	c, st := newTestCron(t)
	sched, err := c.CreateSchedule(context.Background(), CreateInput{
		AgentName: "nex",
		Cron:      "@daily",
		Enabled:   true,
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
	})
	require.NoError(t, err)
	pendingID := *sched.PendingEnvelopeID

	updated, err := c.DisableSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	require.False(t, updated.Enabled)
	require.Nil(t, updated.PendingEnvelopeID)

	env, err := st.GetEnvelope(context.Background(), pendingID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, env.Status)
}

func TestReconcileMaterializesMissingPending(t *testing.T) {
	c, st := newTestCron(t)
	sched, err := c.CreateSchedule(context.Background(), CreateInput{
		AgentName: "nex",
		Cron:      "@daily",
		Enabled:   true,
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
	})
	require.NoError(t, err)

	// Simulate a crash that lost the pending envelope without clearing the
	// schedule's reference to it.
	require.NoError(t, st.UpdateCronSchedulePendingEnvelopeID(context.Background(), sched.ID, nil))

	require.NoError(t, c.ReconcileAllSchedules(context.Background(), true))

	reconciled, err := st.GetCronSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	require.NotNil(t, reconciled.PendingEnvelopeID)
}
