package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/model"
)

type runRow struct {
	ID            string         `db:"id"`
	AgentName     string         `db:"agent_name"`
	StartedAt     int64          `db:"started_at"`
	CompletedAt   sql.NullInt64  `db:"completed_at"`
	EnvelopeIDs   string         `db:"envelope_ids"`
	FinalResponse sql.NullString `db:"final_response"`
	ContextLength sql.NullInt64  `db:"context_length"`
	Status        string         `db:"status"`
	Error         sql.NullString `db:"error"`
}

func (r runRow) toModel() (model.AgentRun, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("parse id: %w", err)
	}
	var rawIDs []string
	if err := json.Unmarshal([]byte(r.EnvelopeIDs), &rawIDs); err != nil {
		return model.AgentRun{}, fmt.Errorf("unmarshal envelope ids: %w", err)
	}
	envIDs := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		eid, err := uuid.Parse(raw)
		if err != nil {
			return model.AgentRun{}, fmt.Errorf("parse envelope id: %w", err)
		}
		envIDs = append(envIDs, eid)
	}
	run := model.AgentRun{
		ID:            id,
		AgentName:     r.AgentName,
		StartedAt:     r.StartedAt,
		EnvelopeIDs:   envIDs,
		FinalResponse: r.FinalResponse.String,
		ContextLength: int(r.ContextLength.Int64),
		Status:        model.RunStatus(r.Status),
		Error:         r.Error.String,
	}
	if r.CompletedAt.Valid {
		v := r.CompletedAt.Int64
		run.CompletedAt = &v
	}
	return run, nil
}

func (s *Store) CreateRun(ctx context.Context, r model.AgentRun) error {
	ids := make([]string, 0, len(r.EnvelopeIDs))
	for _, id := range r.EnvelopeIDs {
		ids = append(ids, id.String())
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal envelope ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, agent_name, started_at, completed_at, envelope_ids, final_response, context_length, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.AgentName, r.StartedAt, r.CompletedAt, string(idsJSON),
		nullEmpty(r.FinalResponse), nullZero(r.ContextLength), string(r.Status), nullEmpty(r.Error),
	)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, completedAt int64, finalResponse string, contextLength int, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status=?, completed_at=?, final_response=?, context_length=?, error=? WHERE id=?`,
		string(status), completedAt, nullEmpty(finalResponse), nullZero(contextLength), nullEmpty(errMsg), id.String(),
	)
	if err != nil {
		return fmt.Errorf("complete agent run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (model.AgentRun, error) {
	var r runRow
	err := s.db.GetContext(ctx, &r,
		`SELECT id, agent_name, started_at, completed_at, envelope_ids, final_response, context_length, status, error
		 FROM agent_runs WHERE id = ?`, id.String())
	if isNoRows(err) {
		return model.AgentRun{}, fmt.Errorf("agent run %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("get agent run: %w", err)
	}
	return r.toModel()
}

func (s *Store) ListRunsForAgent(ctx context.Context, agentName string, limit int) ([]model.AgentRun, error) {
	query := `SELECT id, agent_name, started_at, completed_at, envelope_ids, final_response, context_length, status, error
		FROM agent_runs WHERE agent_name = ? ORDER BY started_at DESC`
	args := []any{agentName}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list runs for agent: %w", err)
	}
	out := make([]model.AgentRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func nullZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
