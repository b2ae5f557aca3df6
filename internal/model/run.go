package model

import "github.com/google/uuid"

// RunStatus is an agent_runs row's lifecycle state (spec §3).
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Usage is the provider's reported token accounting for a single run.
// Per spec §9 Open Question, only ContextLength is persisted to agent_runs;
// the rest stay audit-only (never written to the store, only surfaced on
// the in-flight RunResult / telemetry spans).
type Usage struct {
	Input         int
	Output        int
	Total         int
	CacheRead     int
	CacheWrite    int
	ContextLength int
}

// AgentRun is one invocation of a provider session draining an agent's due
// inbox (spec §3). Exactly one `running` row exists per agent at a time
// (spec §8, invariant 3).
type AgentRun struct {
	ID            uuid.UUID
	AgentName     string
	StartedAt     int64
	CompletedAt   *int64
	EnvelopeIDs   []uuid.UUID
	FinalResponse string
	ContextLength int
	Status        RunStatus
	Error         string
}
