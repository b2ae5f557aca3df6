// Package provider implements the abstract ProviderSession capability
// (spec §9 design note): {openFresh(cfg), openResume(handle, prompt),
// cancel(), close()} against an external LLM-CLI subprocess. Claude and
// Codex get their own Session implementation; the executor holds only the
// Session interface.
package provider

import (
	"context"

	"github.com/hiboss/hiboss/internal/model"
)

// Config is the per-agent, per-run configuration a Session opens with.
type Config struct {
	AgentName       string
	Workspace       string
	Model           string
	ReasoningEffort model.ReasoningEffort
	ExtraArgs       string // operator-configured extra CLI flags, shell-quoted
}

// Result is what a single prompt turn produces.
type Result struct {
	FinalResponse string
	Usage         model.Usage
}

// Handle opaquely identifies a resumable session (a provider-assigned
// session/conversation ID). Implementations decide its shape; callers
// never parse it.
type Handle string

// Session is the abstract capability every provider subprocess
// implementation satisfies. No global state: one Session per agent,
// opened and closed by internal/executor across the agent's lifetime.
type Session interface {
	// OpenFresh starts a brand-new provider session (no prior context).
	OpenFresh(ctx context.Context, cfg Config) error
	// OpenResume resumes a previously closed session via its Handle,
	// immediately submitting prompt as the first turn.
	OpenResume(ctx context.Context, cfg Config, handle Handle, prompt string) (Result, error)
	// Send submits prompt as a turn on an already-open session and blocks
	// for the provider's response.
	Send(ctx context.Context, prompt string) (Result, error)
	// HandleForResume returns the opaque identifier this session can later
	// be resumed from.
	HandleForResume() Handle
	// Cancel aborts an in-flight turn (spec §4.5 abort: child terminated,
	// bounded wait, then force-kill).
	Cancel()
	// Close tears the session down, releasing the subprocess.
	Close() error
}

// Factory constructs a fresh, unopened Session for the named provider.
type Factory func() Session

// Registry resolves a model.Provider to its Factory. Built once at daemon
// composition; internal/executor never imports the concrete claude/codex
// packages directly.
type Registry map[model.Provider]Factory

// New builds a Session for provider via its registered Factory.
func (r Registry) New(p model.Provider) (Session, bool) {
	f, ok := r[p]
	if !ok {
		return nil, false
	}
	return f(), true
}
