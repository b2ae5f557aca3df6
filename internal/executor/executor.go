// Package executor implements the Agent Executor (spec §4.5): a
// per-agent, serialized provider run loop draining each agent's pending
// inbox, evaluating session-refresh policy, and advancing envelopes to
// done on success.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/events"
	"github.com/hiboss/hiboss/internal/ids"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/provider"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/store"
)

// Bootstrapper prepares an agent's workspace before a fresh provider
// session opens: rendering instruction files and syncing managed skills
// (spec §4.5 step 4, §4.6). Implemented by internal/bootstrap; nil is a
// valid no-op for tests and providers that need no workspace prep.
type Bootstrapper interface {
	Prepare(ctx context.Context, agent model.Agent) error
}

// session is the executor's in-memory record of an agent's open provider
// session (spec §4.5: sessions map<agentName, AgentSession>).
type session struct {
	handle              provider.Session
	createdAt           int64
	lastRunCompletedAt  *int64
	lastContextLength   int
}

type refreshRequest struct {
	reason      string
	requestedAt int64
}

type activeRun struct {
	runID  uuid.UUID
	cancel context.CancelFunc
}

// AgentExecutor implements spec §4.5's checkAndRun and abort operations.
type AgentExecutor struct {
	store      store.Store
	router     *router.Router
	events     *events.Bus
	providers  provider.Registry
	bootstrap  Bootstrapper
	clock      clock.Clock
	logger     *slog.Logger
	tokenizer  *tiktoken.Tiktoken

	mu             sync.Mutex
	locks          map[string]*sync.Mutex
	sessions       map[string]*session
	pendingRefresh map[string]refreshRequest
	activeRuns     map[string]activeRun
}

// New constructs an AgentExecutor. bootstrap and logger may be nil.
func New(st store.Store, r *router.Router, bus *events.Bus, providers provider.Registry, bootstrap Bootstrapper, clk clock.Clock, logger *slog.Logger) *AgentExecutor {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tok, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		tok = nil
	}
	return &AgentExecutor{
		store: st, router: r, events: bus, providers: providers, bootstrap: bootstrap,
		clock: clk, logger: logger, tokenizer: tok,
		locks: map[string]*sync.Mutex{}, sessions: map[string]*session{},
		pendingRefresh: map[string]refreshRequest{}, activeRuns: map[string]activeRun{},
	}
}

// RegisterAgent wires this executor into the router's immediate-dispatch
// path for agentName, on top of the scheduler's periodic reconciliation —
// an inbound envelope that arrives while the agent is idle triggers a
// check right away instead of waiting for the next scheduler tick.
func (e *AgentExecutor) RegisterAgent(agentName string) {
	e.router.RegisterAgentHandler(agentName, func(ctx context.Context, env model.Envelope) {
		go e.CheckAndRun(agentName)
	})
}

// UnregisterAgent removes agentName's router wiring and in-memory state
// (called when an agent is deleted).
func (e *AgentExecutor) UnregisterAgent(agentName string) {
	e.router.UnregisterAgentHandler(agentName)
	e.mu.Lock()
	delete(e.locks, agentName)
	delete(e.sessions, agentName)
	delete(e.pendingRefresh, agentName)
	delete(e.activeRuns, agentName)
	e.mu.Unlock()
}

// HasSession reports whether agentName currently has a cached provider
// session open, for daemon.status's per-agent presence surface.
func (e *AgentExecutor) HasSession(agentName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[agentName]
	return ok
}

func (e *AgentExecutor) lockFor(agentName string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[agentName]
	if !ok {
		m = &sync.Mutex{}
		e.locks[agentName] = m
	}
	return m
}

// RequestRefresh records a manual refresh request (from "/new" or
// agent.refresh), applied at the next run boundary (spec §4.5).
func (e *AgentExecutor) RequestRefresh(agentName, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingRefresh[agentName] = refreshRequest{reason: reason, requestedAt: clock.NowMillis(e.clock)}
}

func (e *AgentExecutor) takePendingRefresh(agentName string) (refreshRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.pendingRefresh[agentName]
	if ok {
		delete(e.pendingRefresh, agentName)
	}
	return r, ok
}

// CheckAndRun implements spec §4.5's checkAndRun. Safe to call
// concurrently and repeatedly; a held per-agent lock causes the call to
// return immediately (step 1).
func (e *AgentExecutor) CheckAndRun(agentName string) {
	lock := e.lockFor(agentName)
	if !lock.TryLock() {
		return
	}
	ctx := context.Background()
	moreDue := e.runOnce(ctx, agentName)
	lock.Unlock()

	if moreDue {
		go e.CheckAndRun(agentName)
	}
}

// runOnce executes steps 2-10 of checkAndRun, returning whether new due
// envelopes arrived during the run (step 11's "fire another checkAndRun").
func (e *AgentExecutor) runOnce(ctx context.Context, agentName string) bool {
	nowMs := clock.NowMillis(e.clock)

	inbox, err := e.store.ListPendingInboxForAgent(ctx, agentName, nowMs)
	if err != nil {
		e.logger.Error("executor: list pending inbox", "agent", agentName, "error", err)
		return false
	}
	if len(inbox) == 0 {
		return false
	}

	agent, err := e.store.GetAgent(ctx, agentName)
	if err != nil {
		e.logger.Error("executor: get agent", "agent", agentName, "error", err)
		return false
	}

	e.mu.Lock()
	sess := e.sessions[agentName]
	e.mu.Unlock()

	refreshReq, manualRefresh := e.takePendingRefresh(agentName)
	if sess != nil && (manualRefresh || e.sessionPolicyRequiresRefresh(agent, sess, nowMs)) {
		_ = sess.handle.Close()
		e.mu.Lock()
		delete(e.sessions, agentName)
		e.mu.Unlock()
		sess = nil
		if manualRefresh {
			e.logger.Debug("executor: session refreshed", "agent", agentName, "reason", refreshReq.reason)
		}
	}

	if sess == nil {
		if e.bootstrap != nil {
			if err := e.bootstrap.Prepare(ctx, agent); err != nil {
				e.logger.Error("executor: bootstrap failed", "agent", agentName, "error", err)
				return false
			}
		}
		handle, ok := e.providers.New(agent.Provider)
		if !ok {
			e.logger.Error("executor: no provider registered", "agent", agentName, "provider", agent.Provider)
			return false
		}
		cfg := provider.Config{AgentName: agent.Name, Workspace: agent.Workspace, Model: agent.Model, ReasoningEffort: agent.ReasoningEffort}
		if err := handle.OpenFresh(ctx, cfg); err != nil {
			e.logger.Error("executor: open provider session failed", "agent", agentName, "error", err)
			return false
		}
		sess = &session{handle: handle, createdAt: nowMs}
		e.mu.Lock()
		e.sessions[agentName] = sess
		e.mu.Unlock()
	}

	envelopeIDs := make([]uuid.UUID, len(inbox))
	for i, env := range inbox {
		envelopeIDs[i] = env.ID
	}

	runID := uuid.New()
	if err := e.store.CreateRun(ctx, model.AgentRun{
		ID: runID, AgentName: agentName, StartedAt: nowMs, EnvelopeIDs: envelopeIDs, Status: model.RunRunning,
	}); err != nil {
		e.logger.Error("executor: create run", "agent", agentName, "error", err)
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.activeRuns[agentName] = activeRun{runID: runID, cancel: cancel}
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.activeRuns, agentName)
		e.mu.Unlock()
	}()

	prompt := renderPrompt(inbox)
	result, sendErr := sess.handle.Send(runCtx, prompt)
	completedAt := clock.NowMillis(e.clock)

	switch {
	case errors.Is(sendErr, context.Canceled):
		if err := e.store.CompleteRun(ctx, runID, model.RunCancelled, completedAt, "", 0, "aborted"); err != nil {
			e.logger.Error("executor: complete cancelled run", "agent", agentName, "error", err)
		}
		e.clearDueNonCronInbox(ctx, agentName)

	case sendErr != nil:
		if err := e.store.CompleteRun(ctx, runID, model.RunFailed, completedAt, "", 0, sendErr.Error()); err != nil {
			e.logger.Error("executor: complete failed run", "agent", agentName, "error", err)
		}

	default:
		contextLength := result.Usage.ContextLength
		if contextLength == 0 {
			contextLength = e.estimateContextLength(prompt, result.FinalResponse)
		}
		for _, env := range inbox {
			if err := e.store.UpdateEnvelopeStatus(ctx, env.ID, model.StatusDone); err != nil {
				e.logger.Error("executor: mark envelope done", "envelope", env.ID, "error", err)
				continue
			}
			env.Status = model.StatusDone
			if e.events != nil {
				e.events.PublishDone(env)
			}
		}
		if err := e.store.CompleteRun(ctx, runID, model.RunCompleted, completedAt, result.FinalResponse, contextLength, ""); err != nil {
			e.logger.Error("executor: complete run", "agent", agentName, "error", err)
		}
		sess.lastRunCompletedAt = &completedAt
		sess.lastContextLength = contextLength
	}

	return e.hasMoreDue(ctx, agentName)
}

func (e *AgentExecutor) hasMoreDue(ctx context.Context, agentName string) bool {
	inbox, err := e.store.ListPendingInboxForAgent(ctx, agentName, clock.NowMillis(e.clock))
	if err != nil {
		return false
	}
	return len(inbox) > 0
}

// Abort implements spec §4.5's abort(agentName).
func (e *AgentExecutor) Abort(agentName string) {
	e.mu.Lock()
	run, running := e.activeRuns[agentName]
	e.mu.Unlock()

	if running {
		run.cancel()
		// runOnce's cancellation branch persists status=cancelled and clears
		// the due non-cron inbox once Send observes ctx.Done().
		return
	}

	ctx := context.Background()
	e.clearDueNonCronInbox(ctx, agentName)

	e.mu.Lock()
	sess, ok := e.sessions[agentName]
	delete(e.sessions, agentName)
	e.mu.Unlock()
	if ok {
		_ = sess.handle.Close()
	}
}

// clearDueNonCronInbox implements spec §4.5 step 3 / step 9: mark due,
// non-cron-origin pending envelopes done with an audit cancellation
// marker. Cron-origin envelopes are left pending for the schedule's next
// occurrence.
func (e *AgentExecutor) clearDueNonCronInbox(ctx context.Context, agentName string) {
	nowMs := clock.NowMillis(e.clock)
	inbox, err := e.store.ListPendingInboxForAgent(ctx, agentName, nowMs)
	if err != nil {
		e.logger.Error("executor: clear due inbox: list", "agent", agentName, "error", err)
		return
	}
	for _, env := range inbox {
		if env.Metadata.CronScheduleID() != "" {
			continue
		}
		if err := e.store.UpdateEnvelopeMetadata(ctx, env.ID, env.Metadata.WithCancelled()); err != nil {
			e.logger.Error("executor: clear due inbox: metadata", "envelope", env.ID, "error", err)
			continue
		}
		if err := e.store.UpdateEnvelopeStatus(ctx, env.ID, model.StatusDone); err != nil {
			e.logger.Error("executor: clear due inbox: status", "envelope", env.ID, "error", err)
		}
	}
}

// sessionPolicyRequiresRefresh implements spec §4.5's session policy
// evaluation.
func (e *AgentExecutor) sessionPolicyRequiresRefresh(agent model.Agent, sess *session, nowMs int64) bool {
	if agent.SessionPolicy == nil {
		return false
	}
	pol := agent.SessionPolicy
	now := clock.FromMillis(nowMs)

	if pol.DailyResetAt != "" {
		if occurredSinceSessionStart(pol.DailyResetAt, sess.createdAt, nowMs, now) {
			return true
		}
	}
	if pol.IdleTimeoutMs > 0 && sess.lastRunCompletedAt != nil {
		if nowMs-*sess.lastRunCompletedAt > pol.IdleTimeoutMs {
			return true
		}
	}
	if pol.MaxContextLength > 0 && sess.lastContextLength > pol.MaxContextLength {
		return true
	}
	return false
}

// occurredSinceSessionStart reports whether the most recent host-local
// occurrence of clock time hhmm ("HH:MM") lies in (sessionCreatedAt, now].
func occurredSinceSessionStart(hhmm string, sessionCreatedAtMs, nowMs int64, now time.Time) bool {
	h, m, ok := parseHHMM(hhmm)
	if !ok {
		return false
	}
	local := now.Local()
	occurrence := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, local.Location())
	if occurrence.After(local) {
		occurrence = occurrence.AddDate(0, 0, -1)
	}
	occMs := clock.ToMillis(occurrence)
	return occMs > sessionCreatedAtMs && occMs <= nowMs
}

func parseHHMM(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// renderPrompt concatenates a drained inbox into a single turn prompt, one
// rendered envelope block per message (spec §6 envelope instruction
// rendering).
func renderPrompt(inbox []model.Envelope) string {
	var b strings.Builder
	for i, env := range inbox {
		if i > 0 {
			b.WriteString("\n\n")
		}
		renderEnvelope(&b, env)
	}
	return b.String()
}

func renderEnvelope(b *strings.Builder, env model.Envelope) {
	b.WriteString("from: ")
	b.WriteString(env.From.String())
	b.WriteString("\n")

	if env.From.IsChannel() {
		sender := env.Metadata.Author()
		if sender == "" {
			sender = "unknown"
		}
		b.WriteString("sender: ")
		b.WriteString(sender)
		if env.FromBoss {
			b.WriteString(" [boss]")
		}
		b.WriteString(" in chat \"")
		b.WriteString(env.From.ChatID)
		b.WriteString("\"\n")
		if cmid := env.Metadata.ChannelMessageID(); cmid != "" {
			b.WriteString("channel-message-id: ")
			b.WriteString(cmid)
			b.WriteString("\n")
		}
	}

	b.WriteString("created-at: ")
	b.WriteString(clock.FormatOffset(clock.FromMillis(env.CreatedAt), nil))
	b.WriteString("\n")

	if env.DeliverAt != nil {
		b.WriteString("deliver-at: ")
		b.WriteString(clock.FormatOffset(clock.FromMillis(*env.DeliverAt), nil))
		b.WriteString("\n")
	}
	if cronID := env.Metadata.CronScheduleID(); cronID != "" {
		if parsed, err := uuid.Parse(cronID); err == nil {
			b.WriteString("cron-id: ")
			b.WriteString(ids.Short(parsed))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if env.Content.Text == "" {
		b.WriteString("(none)")
	} else {
		b.WriteString(env.Content.Text)
	}

	if len(env.Content.Attachments) > 0 {
		b.WriteString("\nattachments:\n")
		for _, a := range env.Content.Attachments {
			b.WriteString("- [")
			b.WriteString(string(a.Kind()))
			b.WriteString("] ")
			b.WriteString(a.Filename)
			b.WriteString(" (")
			b.WriteString(a.Source)
			b.WriteString(")\n")
		}
	}
}

// estimateContextLength is the audit-only token estimate used when a
// provider doesn't report contextLength directly (spec §9 Open Question:
// only contextLength is persisted, so this estimate is what lands in
// agent_runs for those providers).
func (e *AgentExecutor) estimateContextLength(prompt, response string) int {
	if e.tokenizer == nil {
		return (len(prompt) + len(response)) / 4
	}
	return len(e.tokenizer.Encode(prompt, nil, nil)) + len(e.tokenizer.Encode(response, nil, nil))
}
