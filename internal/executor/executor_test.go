package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/provider"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
)

// fakeSession is an in-memory provider.Session stand-in: no subprocess, just
// recorded calls and a scriptable response/error/block behavior.
type fakeSession struct {
	mu        sync.Mutex
	opened    int
	sent      []string
	result    provider.Result
	sendErr   error
	block     bool
	unblocked chan struct{}
	closed    bool
}

func newFakeSession() *fakeSession { return &fakeSession{unblocked: make(chan struct{})} }

func (f *fakeSession) OpenFresh(ctx context.Context, cfg provider.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return nil
}

func (f *fakeSession) OpenResume(ctx context.Context, cfg provider.Config, handle provider.Handle, prompt string) (provider.Result, error) {
	_ = f.OpenFresh(ctx, cfg)
	return f.Send(ctx, prompt)
}

func (f *fakeSession) Send(ctx context.Context, prompt string) (provider.Result, error) {
	f.mu.Lock()
	f.sent = append(f.sent, prompt)
	block := f.block
	result := f.result
	sendErr := f.sendErr
	f.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return provider.Result{}, ctx.Err()
		case <-f.unblocked:
			return result, sendErr
		}
	}
	return result, sendErr
}

func (f *fakeSession) HandleForResume() provider.Handle { return "handle" }
func (f *fakeSession) Cancel()                          {}
func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestExecutor(t *testing.T, fs *fakeSession) (*AgentExecutor, store.Store, *router.Router) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateAgent(context.Background(), model.Agent{
		Name: "nex", Token: "tok", Workspace: "/tmp", Provider: model.ProviderClaude,
		PermissionLevel: model.LevelStandard, CreatedAt: 1,
	}))

	reg := adapters.NewRegistry()
	bus := &events.Bus{}
	r := router.New(st, config.NewLive(&config.Config{}, nil), reg, bus, clock.System{})

	providers := provider.Registry{model.ProviderClaude: func() provider.Session { return fs }}
	exec := New(st, r, bus, providers, nil, clock.System{}, nil)
	return exec, st, r
}

func insertPendingEnvelope(t *testing.T, st store.Store, agentName, text string) model.Envelope {
	t.Helper()
	env, err := st.CreateEnvelope(context.Background(), store.CreateEnvelopeInput{
		From:      model.Address{Kind: model.KindChannel, AdapterType: "telegram", ChatID: "1"},
		To:        model.Address{Kind: model.KindAgent, AgentName: agentName},
		Content:   model.Content{Text: text},
		DeliverAt: nil,
	})
	require.NoError(t, err)
	return env
}

func TestCheckAndRunDrainsInboxAndMarksDone(t *testing.T) {
	fs := newFakeSession()
	fs.result = provider.Result{FinalResponse: "ack", Usage: model.Usage{ContextLength: 42}}
	exec, st, _ := newTestExecutor(t, fs)

	env := insertPendingEnvelope(t, st, "nex", "hello")
	exec.CheckAndRun("nex")

	require.Eventually(t, func() bool {
		got, err := st.GetEnvelope(context.Background(), env.ID)
		return err == nil && got.Status == model.StatusDone
	}, time.Second, 5*time.Millisecond)

	runs, err := st.ListRunsForAgent(context.Background(), "nex", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, model.RunCompleted, runs[0].Status)
	require.Equal(t, 42, runs[0].ContextLength)
	require.Equal(t, 1, fs.opened)
}

func TestCheckAndRunNoopWhenInboxEmpty(t *testing.T) {
	fs := newFakeSession()
	exec, _, _ := newTestExecutor(t, fs)
	exec.CheckAndRun("nex")
	require.Eventually(t, func() bool { return true }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 0, fs.opened)
}

func TestCheckAndRunProviderFailureLeavesEnvelopePending(t *testing.T) {
	fs := newFakeSession()
	fs.sendErr = require.AnError
	exec, st, _ := newTestExecutor(t, fs)

	env := insertPendingEnvelope(t, st, "nex", "hello")
	exec.CheckAndRun("nex")

	require.Eventually(t, func() bool {
		runs, err := st.ListRunsForAgent(context.Background(), "nex", 10)
		return err == nil && len(runs) == 1 && runs[0].Status == model.RunFailed
	}, time.Second, 5*time.Millisecond)

	got, err := st.GetEnvelope(context.Background(), env.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}

func TestAbortCancelsInFlightRunAndClearsInbox(t *testing.T) {
	fs := newFakeSession()
	fs.block = true
	exec, st, _ := newTestExecutor(t, fs)

	env := insertPendingEnvelope(t, st, "nex", "hello")
	go exec.CheckAndRun("nex")

	require.Eventually(t, func() bool {
		return len(fs.sent) == 1
	}, time.Second, 5*time.Millisecond)

	exec.Abort("nex")

	require.Eventually(t, func() bool {
		got, err := st.GetEnvelope(context.Background(), env.ID)
		if err != nil || got.Status != model.StatusDone {
			return false
		}
		cancelled, _ := got.Metadata["cancelled"].(bool)
		return cancelled
	}, time.Second, 5*time.Millisecond)

	runs, err := st.ListRunsForAgent(context.Background(), "nex", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, model.RunCancelled, runs[0].Status)
}

func TestAbortWithNoActiveRunClearsPendingAndClosesSession(t *testing.T) {
	fs := newFakeSession()
	exec, st, _ := newTestExecutor(t, fs)

	exec.mu.Lock()
	exec.sessions["nex"] = &session{handle: fs, createdAt: 1}
	exec.mu.Unlock()

	env := insertPendingEnvelope(t, st, "nex", "hello")
	exec.Abort("nex")

	got, err := st.GetEnvelope(context.Background(), env.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
	require.True(t, fs.closed)
}

func TestAbortPreservesCronOriginEnvelopes(t *testing.T) {
	fs := newFakeSession()
	exec, st, _ := newTestExecutor(t, fs)

	env, err := st.CreateEnvelope(context.Background(), store.CreateEnvelopeInput{
		From:      model.Address{Kind: model.KindAgent, AgentName: "nex"},
		To:        model.Address{Kind: model.KindAgent, AgentName: "nex"},
		Content:   model.Content{Text: "cron fire"},
		DeliverAt: nil,
		Metadata:  model.Metadata{"cronScheduleId": "sched-1"},
	})
	require.NoError(t, err)

	exec.Abort("nex")

	got, err := st.GetEnvelope(context.Background(), env.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}

func TestSessionPolicyDailyResetRefreshesSession(t *testing.T) {
	exec, _, _ := newTestExecutor(t, newFakeSession())
	now := time.Date(2026, 1, 2, 9, 5, 0, 0, time.Local)
	sessCreated := time.Date(2026, 1, 1, 23, 0, 0, 0, time.Local)

	agent := model.Agent{SessionPolicy: &model.SessionPolicy{DailyResetAt: "09:00"}}
	sess := &session{createdAt: clock.ToMillis(sessCreated)}

	require.True(t, exec.sessionPolicyRequiresRefresh(agent, sess, clock.ToMillis(now)))
}

func TestSessionPolicyDailyResetNoRefreshWhenAlreadyAfter(t *testing.T) {
	exec, _, _ := newTestExecutor(t, newFakeSession())
	now := time.Date(2026, 1, 2, 9, 5, 0, 0, time.Local)
	sessCreated := time.Date(2026, 1, 2, 9, 1, 0, 0, time.Local)

	agent := model.Agent{SessionPolicy: &model.SessionPolicy{DailyResetAt: "09:00"}}
	sess := &session{createdAt: clock.ToMillis(sessCreated)}

	require.False(t, exec.sessionPolicyRequiresRefresh(agent, sess, clock.ToMillis(now)))
}

func TestSessionPolicyIdleTimeout(t *testing.T) {
	exec, _, _ := newTestExecutor(t, newFakeSession())
	lastRun := int64(1000)
	agent := model.Agent{SessionPolicy: &model.SessionPolicy{IdleTimeoutMs: 500}}
	sess := &session{createdAt: 0, lastRunCompletedAt: &lastRun}

	require.True(t, exec.sessionPolicyRequiresRefresh(agent, sess, 1600))
	require.False(t, exec.sessionPolicyRequiresRefresh(agent, sess, 1400))
}

func TestSessionPolicyMaxContextLength(t *testing.T) {
	exec, _, _ := newTestExecutor(t, newFakeSession())
	agent := model.Agent{SessionPolicy: &model.SessionPolicy{MaxContextLength: 1000}}
	sess := &session{lastContextLength: 1200}
	require.True(t, exec.sessionPolicyRequiresRefresh(agent, sess, 0))

	sess.lastContextLength = 500
	require.False(t, exec.sessionPolicyRequiresRefresh(agent, sess, 0))
}

func TestRequestRefreshAppliesOnNextRun(t *testing.T) {
	fs := newFakeSession()
	fs.result = provider.Result{FinalResponse: "ok"}
	exec, st, _ := newTestExecutor(t, fs)

	insertPendingEnvelope(t, st, "nex", "first")
	exec.CheckAndRun("nex")
	require.Eventually(t, func() bool { return fs.opened == 1 }, time.Second, 5*time.Millisecond)

	exec.RequestRefresh("nex", "manual")

	insertPendingEnvelope(t, st, "nex", "second")
	exec.CheckAndRun("nex")
	require.Eventually(t, func() bool { return fs.opened == 2 }, time.Second, 5*time.Millisecond)
}

func TestRenderPromptJoinsEnvelopesAndAttachments(t *testing.T) {
	prompt := renderPrompt([]model.Envelope{
		{Content: model.Content{Text: "hi", Attachments: []model.Attachment{{Source: "/tmp/a.png"}}}},
		{Content: model.Content{Text: "bye"}},
	})
	require.Contains(t, prompt, "hi")
	require.Contains(t, prompt, "/tmp/a.png")
	require.Contains(t, prompt, "bye")
}
