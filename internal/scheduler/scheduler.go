// Package scheduler implements the one-shot EnvelopeScheduler (spec §4.4):
// a single timer that drains due envelopes and wakes per-agent executor
// runs, re-evaluating its own wake time after every tick and every newly
// created envelope.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/store"
)

// drainCap is N in spec §4.4 step 1: at most this many due channel
// envelopes are delivered per tick before re-queuing another tick.
const drainCap = 100

// state is the tick reentrancy flag (spec §4.4: "at most one tick in
// progress; additional triggers set a queued flag").
type state int

const (
	stateIdle state = iota
	stateRunning
	stateQueued
)

// Executor is the narrow slice of internal/executor the scheduler drives.
// checkAndRun is fire-and-forget: the scheduler never waits on it.
type Executor interface {
	CheckAndRun(agentName string)
}

// EnvelopeScheduler drives envelope delivery on a single timer.
type EnvelopeScheduler struct {
	store    store.EnvelopeStore
	router   *router.Router
	executor Executor
	clock    clock.Clock
	logger   *slog.Logger

	mu    sync.Mutex
	st    state
	timer *time.Timer
	stop  chan struct{}
}

// New constructs a scheduler. logger may be nil.
func New(st store.EnvelopeStore, r *router.Router, exec Executor, clk clock.Clock, logger *slog.Logger) *EnvelopeScheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EnvelopeScheduler{store: st, router: r, executor: exec, clock: clk, logger: logger}
}

// Start triggers an immediate "startup" tick and begins honoring the
// internal wake timer. Call once, before the daemon starts accepting RPC
// traffic.
func (s *EnvelopeScheduler) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	s.triggerTick(ctx, "startup")
}

// Stop halts the timer. Any in-flight tick runs to completion.
func (s *EnvelopeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// NextWakeAtMs reports the scheduler's next planned wake instant, for
// daemon.status's introspection surface. ok is false when no envelope is
// currently pending.
func (s *EnvelopeScheduler) NextWakeAtMs(ctx context.Context) (wakeAtMs int64, ok bool) {
	env, found, err := s.store.GetNextScheduledEnvelope(ctx)
	if err != nil || !found {
		return 0, false
	}
	if env.DeliverAt == nil {
		return clock.NowMillis(s.clock), true
	}
	return *env.DeliverAt, true
}

// OnEnvelopeCreated implements events.EnvelopeEvents: a newly created
// envelope may move the next wake time earlier.
func (s *EnvelopeScheduler) OnEnvelopeCreated(env model.Envelope) {
	s.scheduleNextWake(context.Background())
}

// OnEnvelopeDone implements events.EnvelopeEvents. The scheduler itself has
// nothing to do on completion (that's the cron scheduler's job) beyond
// letting the next wake recompute normally on the next tick.
func (s *EnvelopeScheduler) OnEnvelopeDone(env model.Envelope) {}

// triggerTick runs a tick if idle, or marks one queued if a tick is already
// in flight (spec §4.4 reentrancy rule).
func (s *EnvelopeScheduler) triggerTick(ctx context.Context, reason string) {
	s.mu.Lock()
	switch s.st {
	case stateIdle:
		s.st = stateRunning
		s.mu.Unlock()
		go s.runTick(ctx, reason)
		return
	default:
		s.st = stateQueued
		s.mu.Unlock()
	}
}

func (s *EnvelopeScheduler) runTick(ctx context.Context, reason string) {
	capped := s.tick(ctx, reason)

	s.mu.Lock()
	queued := s.st == stateQueued
	s.st = stateIdle
	s.mu.Unlock()

	if capped || queued {
		s.triggerTick(ctx, "drain-continuation")
		return
	}
	s.scheduleNextWake(ctx)
}

// tick implements spec §4.4 steps 1-3. Returns true if the drain cap was
// reached (more work may remain).
func (s *EnvelopeScheduler) tick(ctx context.Context, reason string) bool {
	nowMs := clock.NowMillis(s.clock)

	due, err := s.store.ListDueChannelEnvelopes(ctx, nowMs, drainCap)
	if err != nil {
		s.logger.Error("scheduler: list due channel envelopes", "reason", reason, "error", err)
	}
	for _, env := range due {
		if err := s.router.DeliverEnvelope(ctx, env); err != nil {
			s.logger.Error("scheduler: deliver envelope failed", "envelope", env.ID, "error", err)
		}
	}

	agents, err := s.store.ListAgentNamesWithDueEnvelopes(ctx, nowMs)
	if err != nil {
		s.logger.Error("scheduler: list agents with due envelopes", "error", err)
	}
	for _, agent := range agents {
		go s.executor.CheckAndRun(agent)
	}

	return len(due) >= drainCap
}

// scheduleNextWake implements spec §4.4 step 4: compute next wake from
// getNextScheduledEnvelope().deliverAt, clamp, and (re)arm the timer.
func (s *EnvelopeScheduler) scheduleNextWake(ctx context.Context) {
	env, ok, err := s.store.GetNextScheduledEnvelope(ctx)
	if err != nil {
		s.logger.Error("scheduler: get next scheduled envelope", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if !ok {
		s.timer = nil
		return
	}

	nowMs := clock.NowMillis(s.clock)
	var wait time.Duration
	if env.DeliverAt == nil || *env.DeliverAt <= nowMs {
		wait = 0
	} else {
		wait = clock.ClampTimer(time.Duration(*env.DeliverAt-nowMs) * time.Millisecond)
	}

	s.timer = time.AfterFunc(wait, func() {
		s.triggerTick(context.Background(), "timer")
	})
}
