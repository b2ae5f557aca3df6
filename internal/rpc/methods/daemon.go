package methods

import (
	"context"
	"encoding/json"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
)

// Executor is the narrow slice of *executor.AgentExecutor daemon.status
// needs to report per-agent session presence.
type Executor interface {
	HasSession(agentName string) bool
}

// Scheduler is the narrow slice of *scheduler.EnvelopeScheduler
// daemon.status needs to report the next planned wake instant.
type Scheduler interface {
	NextWakeAtMs(ctx context.Context) (wakeAtMs int64, ok bool)
}

// DaemonMethods implements daemon.{ping,status,stop,time}.
type DaemonMethods struct {
	store     store.AgentStore
	executor  Executor
	scheduler Scheduler
	clock     clock.Clock
	startedAt int64
	shutdown  func()
}

// NewDaemonMethods constructs DaemonMethods. shutdown is invoked by
// daemon.stop to begin graceful shutdown; it must return promptly (the
// response is written before shutdown actually completes).
func NewDaemonMethods(st store.AgentStore, exec Executor, sched Scheduler, clk clock.Clock, startedAtMs int64, shutdown func()) *DaemonMethods {
	return &DaemonMethods{store: st, executor: exec, scheduler: sched, clock: clk, startedAt: startedAtMs, shutdown: shutdown}
}

// Register binds every daemon.* operation onto router.
func (m *DaemonMethods) Register(router *rpc.MethodRouter) {
	router.Register("daemon.ping", m.handlePing)
	router.Register("daemon.status", m.handleStatus)
	router.Register("daemon.stop", m.handleStop)
	router.Register("daemon.time", m.handleTime)
}

func (m *DaemonMethods) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]bool{"pong": true}, nil
}

type agentStatusEntry struct {
	Name       string `json:"name"`
	HasSession bool   `json:"hasSession"`
}

func (m *DaemonMethods) handleStatus(ctx context.Context, params json.RawMessage) (any, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]agentStatusEntry, len(agents))
	for i, a := range agents {
		entries[i] = agentStatusEntry{Name: a.Name, HasSession: m.executor.HasSession(a.Name)}
	}

	nowMs := clock.NowMillis(m.clock)
	result := map[string]any{
		"uptimeMs": nowMs - m.startedAt,
		"agents":   entries,
	}
	if wakeAtMs, ok := m.scheduler.NextWakeAtMs(ctx); ok {
		result["nextWakeAtMs"] = wakeAtMs
	}
	return result, nil
}

func (m *DaemonMethods) handleStop(ctx context.Context, params json.RawMessage) (any, error) {
	if m.shutdown != nil {
		go m.shutdown()
	}
	return map[string]bool{"stopping": true}, nil
}

func (m *DaemonMethods) handleTime(ctx context.Context, params json.RawMessage) (any, error) {
	nowMs := clock.NowMillis(m.clock)
	return map[string]any{
		"nowMs": nowMs,
		"iso":   clock.FormatOffset(clock.FromMillis(nowMs), nil),
	}, nil
}
