package methods

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
)

// AgentExecutor is the narrow slice of *executor.AgentExecutor the agent.*
// methods drive.
type AgentExecutor interface {
	RegisterAgent(agentName string)
	UnregisterAgent(agentName string)
	RequestRefresh(agentName, reason string)
	Abort(agentName string)
	HasSession(agentName string) bool
}

// AgentMethods implements agent.{register,list,set,delete,status,refresh,
// abort,session-policy.set,bind,unbind}.
type AgentMethods struct {
	store    store.Store
	executor AgentExecutor
	clock    clock.Clock
}

// NewAgentMethods constructs AgentMethods.
func NewAgentMethods(st store.Store, exec AgentExecutor, clk clock.Clock) *AgentMethods {
	return &AgentMethods{store: st, executor: exec, clock: clk}
}

// Register binds every agent.* operation onto router.
func (m *AgentMethods) Register(router *rpc.MethodRouter) {
	router.Register("agent.register", m.handleRegister)
	router.Register("agent.list", m.handleList)
	router.Register("agent.set", m.handleSet)
	router.Register("agent.delete", m.handleDelete)
	router.Register("agent.status", m.handleStatus)
	router.Register("agent.refresh", m.handleRefresh)
	router.Register("agent.abort", m.handleAbort)
	router.Register("agent.session-policy.set", m.handleSessionPolicySet)
	router.Register("agent.bind", m.handleBind)
	router.Register("agent.unbind", m.handleUnbind)
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type registerParams struct {
	Name            string                `json:"name"`
	Token           string                `json:"token"`
	Description     string                `json:"description"`
	Workspace       string                `json:"workspace"`
	Provider        model.Provider        `json:"provider"`
	Model           string                `json:"model"`
	ReasoningEffort model.ReasoningEffort `json:"reasoningEffort"`
	PermissionLevel model.PermissionLevel `json:"permissionLevel"`
	SessionPolicy   *model.SessionPolicy  `json:"sessionPolicy"`
}

func (m *AgentMethods) handleRegister(ctx context.Context, raw json.RawMessage) (any, error) {
	var p registerParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if !model.ValidAgentName(p.Name) {
		return nil, kerrors.Newf(kerrors.Validation, "invalid agent name %q", p.Name)
	}
	if _, err := m.store.GetAgent(ctx, p.Name); err == nil {
		return nil, kerrors.Newf(kerrors.Conflict, "agent %q already exists", p.Name)
	}

	token := p.Token
	if token == "" {
		generated, err := generateToken()
		if err != nil {
			return nil, kerrors.New(kerrors.Internal, "generate agent token").Wrap(err)
		}
		token = generated
	}
	level := p.PermissionLevel
	if level == "" {
		level = model.LevelStandard
	}

	agent := model.Agent{
		Name: p.Name, Token: token, Description: p.Description, Workspace: p.Workspace,
		Provider: p.Provider, Model: p.Model, ReasoningEffort: p.ReasoningEffort,
		PermissionLevel: level, SessionPolicy: p.SessionPolicy,
		CreatedAt: clock.NowMillis(m.clock),
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	m.executor.RegisterAgent(p.Name)
	return agentView(agent), nil
}

func (m *AgentMethods) handleList(ctx context.Context, raw json.RawMessage) (any, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]agentViewT, len(agents))
	for i, a := range agents {
		views[i] = agentView(a)
	}
	return views, nil
}

type setParams struct {
	Name            string                `json:"name"`
	Description     *string               `json:"description"`
	Workspace       *string               `json:"workspace"`
	Model           *string               `json:"model"`
	ReasoningEffort *model.ReasoningEffort `json:"reasoningEffort"`
	PermissionLevel *model.PermissionLevel `json:"permissionLevel"`
}

func (m *AgentMethods) handleSet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p setParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	agent, err := m.store.GetAgent(ctx, p.Name)
	if err != nil {
		return nil, kerrors.New(kerrors.NotFound, "agent not found").Wrap(err)
	}
	if p.Description != nil {
		agent.Description = *p.Description
	}
	if p.Workspace != nil {
		agent.Workspace = *p.Workspace
	}
	if p.Model != nil {
		agent.Model = *p.Model
	}
	if p.ReasoningEffort != nil {
		agent.ReasoningEffort = *p.ReasoningEffort
	}
	if p.PermissionLevel != nil {
		agent.PermissionLevel = *p.PermissionLevel
	}
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agentView(agent), nil
}

type nameParams struct {
	Name string `json:"name"`
}

func (m *AgentMethods) handleDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var p nameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := m.store.DeleteAgent(ctx, p.Name); err != nil {
		return nil, err
	}
	m.executor.UnregisterAgent(p.Name)
	return map[string]bool{"deleted": true}, nil
}

func (m *AgentMethods) handleStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	var p nameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	agent, err := m.store.GetAgent(ctx, p.Name)
	if err != nil {
		return nil, kerrors.New(kerrors.NotFound, "agent not found").Wrap(err)
	}
	result := map[string]any{
		"agent":      agentView(agent),
		"hasSession": m.executor.HasSession(p.Name),
	}
	runs, err := m.store.ListRunsForAgent(ctx, p.Name, 1)
	if err == nil && len(runs) > 0 {
		result["lastRun"] = runs[0]
	}
	return result, nil
}

func (m *AgentMethods) handleRefresh(ctx context.Context, raw json.RawMessage) (any, error) {
	var p nameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	m.executor.RequestRefresh(p.Name, "agent.refresh")
	return map[string]bool{"refreshed": true}, nil
}

func (m *AgentMethods) handleAbort(ctx context.Context, raw json.RawMessage) (any, error) {
	var p nameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	m.executor.Abort(p.Name)
	return map[string]bool{"aborted": true}, nil
}

type sessionPolicySetParams struct {
	Name          string               `json:"name"`
	SessionPolicy *model.SessionPolicy `json:"sessionPolicy"`
}

func (m *AgentMethods) handleSessionPolicySet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionPolicySetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	agent, err := m.store.GetAgent(ctx, p.Name)
	if err != nil {
		return nil, kerrors.New(kerrors.NotFound, "agent not found").Wrap(err)
	}
	agent.SessionPolicy = p.SessionPolicy
	if err := m.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agentView(agent), nil
}

type bindParams struct {
	AgentName    string `json:"agentName"`
	AdapterType  string `json:"adapterType"`
	AdapterToken string `json:"adapterToken"`
}

func (m *AgentMethods) handleBind(ctx context.Context, raw json.RawMessage) (any, error) {
	var p bindParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := m.store.SetBinding(ctx, model.AgentBinding{
		AgentName: p.AgentName, AdapterType: p.AdapterType, AdapterToken: p.AdapterToken,
	}); err != nil {
		return nil, err
	}
	return map[string]bool{"bound": true}, nil
}

type unbindParams struct {
	AgentName   string `json:"agentName"`
	AdapterType string `json:"adapterType"`
}

func (m *AgentMethods) handleUnbind(ctx context.Context, raw json.RawMessage) (any, error) {
	var p unbindParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := m.store.DeleteBinding(ctx, p.AgentName, p.AdapterType); err != nil {
		return nil, err
	}
	return map[string]bool{"unbound": true}, nil
}

type agentViewT struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Workspace       string                `json:"workspace"`
	Provider        model.Provider        `json:"provider"`
	Model           string                `json:"model"`
	ReasoningEffort model.ReasoningEffort `json:"reasoningEffort,omitempty"`
	PermissionLevel model.PermissionLevel `json:"permissionLevel"`
	SessionPolicy   *model.SessionPolicy  `json:"sessionPolicy,omitempty"`
	CreatedAt       int64                 `json:"createdAt"`
	LastSeenAt      *int64                `json:"lastSeenAt,omitempty"`
}

func agentView(a model.Agent) agentViewT {
	return agentViewT{
		Name: a.Name, Description: a.Description, Workspace: a.Workspace,
		Provider: a.Provider, Model: a.Model, ReasoningEffort: a.ReasoningEffort,
		PermissionLevel: a.PermissionLevel, SessionPolicy: a.SessionPolicy,
		CreatedAt: a.CreatedAt, LastSeenAt: a.LastSeenAt,
	}
}
