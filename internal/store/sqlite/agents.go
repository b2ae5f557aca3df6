package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hiboss/hiboss/internal/model"
)

type agentRow struct {
	Name            string         `db:"name"`
	Token           string         `db:"token"`
	Description     sql.NullString `db:"description"`
	Workspace       string         `db:"workspace"`
	Provider        string         `db:"provider"`
	Model           sql.NullString `db:"model"`
	ReasoningEffort sql.NullString `db:"reasoning_effort"`
	PermissionLevel string         `db:"permission_level"`
	SessionPolicy   sql.NullString `db:"session_policy"`
	Metadata        sql.NullString `db:"metadata"`
	CreatedAt       int64          `db:"created_at"`
	LastSeenAt      sql.NullInt64  `db:"last_seen_at"`
}

func (r agentRow) toModel() (model.Agent, error) {
	a := model.Agent{
		Name:            r.Name,
		Token:           r.Token,
		Description:     r.Description.String,
		Workspace:       r.Workspace,
		Provider:        model.Provider(r.Provider),
		Model:           r.Model.String,
		ReasoningEffort: model.ReasoningEffort(r.ReasoningEffort.String),
		PermissionLevel: model.PermissionLevel(r.PermissionLevel),
		CreatedAt:       r.CreatedAt,
	}
	if r.SessionPolicy.Valid {
		var sp model.SessionPolicy
		if err := json.Unmarshal([]byte(r.SessionPolicy.String), &sp); err != nil {
			return model.Agent{}, fmt.Errorf("unmarshal session policy: %w", err)
		}
		a.SessionPolicy = &sp
	}
	if r.Metadata.Valid {
		a.Metadata = json.RawMessage(r.Metadata.String)
	}
	if r.LastSeenAt.Valid {
		v := r.LastSeenAt.Int64
		a.LastSeenAt = &v
	}
	return a, nil
}

func agentArgs(a model.Agent) (sessionPolicy, metadata any, err error) {
	if a.SessionPolicy != nil {
		b, err := json.Marshal(a.SessionPolicy)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal session policy: %w", err)
		}
		sessionPolicy = string(b)
	}
	if len(a.Metadata) > 0 {
		metadata = string(a.Metadata)
	}
	return sessionPolicy, metadata, nil
}

func (s *Store) CreateAgent(ctx context.Context, a model.Agent) error {
	sp, md, err := agentArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (name, token, description, workspace, provider, model, reasoning_effort, permission_level, session_policy, metadata, created_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Token, nullEmpty(a.Description), a.Workspace, string(a.Provider), nullEmpty(a.Model),
		nullEmpty(string(a.ReasoningEffort)), string(a.PermissionLevel), sp, md, a.CreatedAt, a.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, name string) (model.Agent, error) {
	var r agentRow
	err := s.db.GetContext(ctx, &r,
		`SELECT name, token, description, workspace, provider, model, reasoning_effort, permission_level, session_policy, metadata, created_at, last_seen_at
		 FROM agents WHERE name = ?`, name)
	if isNoRows(err) {
		return model.Agent{}, fmt.Errorf("agent %s: %w", name, sql.ErrNoRows)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return r.toModel()
}

func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var rows []agentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT name, token, description, workspace, provider, model, reasoning_effort, permission_level, session_policy, metadata, created_at, last_seen_at
		 FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	out := make([]model.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) UpdateAgent(ctx context.Context, a model.Agent) error {
	sp, md, err := agentArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE agents SET token=?, description=?, workspace=?, provider=?, model=?, reasoning_effort=?, permission_level=?, session_policy=?, metadata=?
		 WHERE name=?`,
		a.Token, nullEmpty(a.Description), a.Workspace, string(a.Provider), nullEmpty(a.Model),
		nullEmpty(string(a.ReasoningEffort)), string(a.PermissionLevel), sp, md, a.Name,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, name string) error {
	// agent_bindings and cron_schedules/agent_runs cascade via FK.
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	s.invalidateBindingCache()
	return nil
}

func (s *Store) TouchAgentLastSeen(ctx context.Context, name string, atMs int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen_at = ? WHERE name = ?`, atMs, name)
	if err != nil {
		return fmt.Errorf("touch agent last seen: %w", err)
	}
	return nil
}

func (s *Store) FindAgentByToken(ctx context.Context, token string) (model.Agent, bool, error) {
	var r agentRow
	err := s.db.GetContext(ctx, &r,
		`SELECT name, token, description, workspace, provider, model, reasoning_effort, permission_level, session_policy, metadata, created_at, last_seen_at
		 FROM agents WHERE token = ?`, token)
	if isNoRows(err) {
		return model.Agent{}, false, nil
	}
	if err != nil {
		return model.Agent{}, false, fmt.Errorf("find agent by token: %w", err)
	}
	a, err := r.toModel()
	if err != nil {
		return model.Agent{}, false, err
	}
	return a, true, nil
}

func (s *Store) SetBinding(ctx context.Context, b model.AgentBinding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_bindings (agent_name, adapter_type, adapter_token)
		 VALUES (?, ?, ?)
		 ON CONFLICT (agent_name, adapter_type) DO UPDATE SET adapter_token = excluded.adapter_token`,
		b.AgentName, b.AdapterType, b.AdapterToken,
	)
	if err != nil {
		return fmt.Errorf("set binding: %w", err)
	}
	s.invalidateBindingCache()
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, agentName, adapterType string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_bindings WHERE agent_name = ? AND adapter_type = ?`, agentName, adapterType)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	s.invalidateBindingCache()
	return nil
}

func (s *Store) GetBindingByAdapterToken(ctx context.Context, adapterType, adapterToken string) (model.AgentBinding, bool, error) {
	key := adapterType + "\x00" + adapterToken
	if b, ok := s.bindings.Get(key); ok {
		return b, true, nil
	}
	var b model.AgentBinding
	err := s.db.GetContext(ctx, &b,
		`SELECT agent_name, adapter_type, adapter_token FROM agent_bindings WHERE adapter_type = ? AND adapter_token = ?`,
		adapterType, adapterToken)
	if isNoRows(err) {
		return model.AgentBinding{}, false, nil
	}
	if err != nil {
		return model.AgentBinding{}, false, fmt.Errorf("get binding by adapter token: %w", err)
	}
	s.bindings.Add(key, b)
	return b, true, nil
}

func (s *Store) GetBindingForAgent(ctx context.Context, agentName, adapterType string) (model.AgentBinding, bool, error) {
	var b model.AgentBinding
	err := s.db.GetContext(ctx, &b,
		`SELECT agent_name, adapter_type, adapter_token FROM agent_bindings WHERE agent_name = ? AND adapter_type = ?`,
		agentName, adapterType)
	if isNoRows(err) {
		return model.AgentBinding{}, false, nil
	}
	if err != nil {
		return model.AgentBinding{}, false, fmt.Errorf("get binding for agent: %w", err)
	}
	return b, true, nil
}

func (s *Store) ListBindings(ctx context.Context) ([]model.AgentBinding, error) {
	var out []model.AgentBinding
	err := s.db.SelectContext(ctx, &out,
		`SELECT agent_name, adapter_type, adapter_token FROM agent_bindings ORDER BY agent_name, adapter_type`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return out, nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
