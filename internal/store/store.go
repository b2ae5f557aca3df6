// Package store defines the durable persistence contract (spec §4.1):
// agents, agent_bindings, envelopes, cron_schedules, agent_runs, config.
// All writes that cross entities are transactional; readers return value
// objects, never row handles.
package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/model"
)

// CreateEnvelopeInput is the caller-supplied portion of a new envelope; the
// store assigns ID, Status=pending, and CreatedAt.
type CreateEnvelopeInput struct {
	From      model.Address
	To        model.Address
	FromBoss  bool
	Content   model.Content
	DeliverAt *int64
	Metadata  model.Metadata
}

// EnvelopeStore persists and queries Envelope rows.
type EnvelopeStore interface {
	CreateEnvelope(ctx context.Context, in CreateEnvelopeInput) (model.Envelope, error)
	GetEnvelope(ctx context.Context, id uuid.UUID) (model.Envelope, error)
	UpdateEnvelopeStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	UpdateEnvelopeMetadata(ctx context.Context, id uuid.UUID, md model.Metadata) error

	// ListDueChannelEnvelopes returns up to limit pending envelopes addressed
	// to a channel that are due now, ordered (deliverAt NULLS FIRST, createdAt).
	ListDueChannelEnvelopes(ctx context.Context, nowMs int64, limit int) ([]model.Envelope, error)
	// ListAgentNamesWithDueEnvelopes returns distinct agent names with at
	// least one pending envelope addressed to them that is due now.
	ListAgentNamesWithDueEnvelopes(ctx context.Context, nowMs int64) ([]string, error)
	// GetNextScheduledEnvelope returns the pending envelope with the
	// soonest future deliverAt (NULL treated as due-now), or ok=false if
	// none pending.
	GetNextScheduledEnvelope(ctx context.Context) (env model.Envelope, ok bool, err error)
	// ListPendingInboxForAgent returns due-now pending envelopes addressed
	// to agent:<agentName>, ordered (deliverAt NULLS FIRST, createdAt).
	ListPendingInboxForAgent(ctx context.Context, agentName string, nowMs int64) ([]model.Envelope, error)
	// ListEnvelopes supports envelope.list with optional filters; any zero
	// field is unconstrained.
	ListEnvelopes(ctx context.Context, f EnvelopeFilter) ([]model.Envelope, error)

	// ClearOrphanChannelEnvelopes marks done up to cap due channel
	// envelopes whose sender binding cannot be resolved, returning how
	// many were cleared (spec §4.7 cap semantics, reused at startup).
	ClearOrphanChannelEnvelopes(ctx context.Context, nowMs int64, cap int, bindingExists func(adapterType, agentName string) bool) (int, error)
}

// EnvelopeFilter narrows ListEnvelopes; empty fields are unconstrained.
type EnvelopeFilter struct {
	Status    model.Status
	AgentName string
	Limit     int
}

// AgentStore persists Agent and AgentBinding rows.
type AgentStore interface {
	CreateAgent(ctx context.Context, a model.Agent) error
	GetAgent(ctx context.Context, name string) (model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	UpdateAgent(ctx context.Context, a model.Agent) error
	DeleteAgent(ctx context.Context, name string) error
	TouchAgentLastSeen(ctx context.Context, name string, atMs int64) error
	FindAgentByToken(ctx context.Context, token string) (model.Agent, bool, error)

	SetBinding(ctx context.Context, b model.AgentBinding) error
	DeleteBinding(ctx context.Context, agentName, adapterType string) error
	GetBindingByAdapterToken(ctx context.Context, adapterType, adapterToken string) (model.AgentBinding, bool, error)
	GetBindingForAgent(ctx context.Context, agentName, adapterType string) (model.AgentBinding, bool, error)
	ListBindings(ctx context.Context) ([]model.AgentBinding, error)
}

// CronStore persists CronSchedule rows.
type CronStore interface {
	CreateCronSchedule(ctx context.Context, c model.CronSchedule) error
	GetCronSchedule(ctx context.Context, id uuid.UUID) (model.CronSchedule, error)
	ListCronSchedules(ctx context.Context) ([]model.CronSchedule, error)
	ListEnabledCronSchedules(ctx context.Context) ([]model.CronSchedule, error)
	UpdateCronSchedule(ctx context.Context, c model.CronSchedule) error
	UpdateCronSchedulePendingEnvelopeID(ctx context.Context, id uuid.UUID, envID *uuid.UUID) error
	DeleteCronSchedule(ctx context.Context, id uuid.UUID) error
}

// RunStore persists AgentRun rows.
type RunStore interface {
	CreateRun(ctx context.Context, r model.AgentRun) error
	CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, completedAt int64, finalResponse string, contextLength int, errMsg string) error
	GetRun(ctx context.Context, id uuid.UUID) (model.AgentRun, error)
	ListRunsForAgent(ctx context.Context, agentName string, limit int) ([]model.AgentRun, error)
}

// ConfigStore persists the flat config key/value table (spec §3).
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	AllConfig(ctx context.Context) (map[string]string, error)
}

// Store is the full persistence surface the daemon composes against.
type Store interface {
	EnvelopeStore
	AgentStore
	CronStore
	RunStore
	ConfigStore

	Close() error
}

// MarshalMetadata renders envelope/cron metadata for storage, nil-safe.
func MarshalMetadata(m model.Metadata) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// UnmarshalMetadata parses a stored metadata blob back into a Metadata map.
func UnmarshalMetadata(raw []byte) (model.Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m model.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
