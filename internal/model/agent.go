package model

import "encoding/json"

// Provider identifies which external LLM-CLI provider an agent uses.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
)

// ReasoningEffort is an optional per-agent hint to the provider. Empty/nil
// means "provider default".
type ReasoningEffort string

const (
	ReasoningNone   ReasoningEffort = "none"
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
	ReasoningXHigh  ReasoningEffort = "xhigh"
)

// PermissionLevel is the four-level lattice the Authorizer compares against
// (spec §4.2): restricted < standard < privileged < boss.
type PermissionLevel string

const (
	LevelRestricted PermissionLevel = "restricted"
	LevelStandard   PermissionLevel = "standard"
	LevelPrivileged PermissionLevel = "privileged"
	LevelBoss       PermissionLevel = "boss"
)

var levelRank = map[PermissionLevel]int{
	LevelRestricted: 0,
	LevelStandard:   1,
	LevelPrivileged: 2,
	LevelBoss:       3,
}

// Meets reports whether level satisfies a required level (>=).
func (level PermissionLevel) Meets(required PermissionLevel) bool {
	return levelRank[level] >= levelRank[required]
}

// SessionPolicy governs when the executor refreshes (disposes) a cached
// provider session before the next run (spec §4.5).
type SessionPolicy struct {
	DailyResetAt    string `json:"dailyResetAt,omitempty"`    // "HH:MM" host-local
	IdleTimeoutMs   int64  `json:"idleTimeoutMs,omitempty"`
	MaxContextLength int   `json:"maxContextLength,omitempty"`
}

// Agent is a registered agent (spec §3).
type Agent struct {
	Name             string
	Token            string
	Description      string
	Workspace        string
	Provider         Provider
	Model            string
	ReasoningEffort  ReasoningEffort
	PermissionLevel  PermissionLevel
	SessionPolicy    *SessionPolicy
	Metadata         json.RawMessage
	CreatedAt        int64
	LastSeenAt       *int64
}

// AgentBinding associates an agent with an adapter credential (spec §3):
// unique per (adapterType, adapterToken) and unique per (agentName,
// adapterType) — one binding per adapter type per agent.
type AgentBinding struct {
	AgentName    string `db:"agent_name"`
	AdapterType  string `db:"adapter_type"`
	AdapterToken string `db:"adapter_token"`
}
