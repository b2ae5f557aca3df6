package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/model"
)

type cronRow struct {
	ID                string         `db:"id"`
	AgentName         string         `db:"agent_name"`
	Cron              string         `db:"cron"`
	Timezone          sql.NullString `db:"timezone"`
	Enabled           bool           `db:"enabled"`
	ToAddr            string         `db:"to_addr"`
	Content           string         `db:"content"`
	Metadata          sql.NullString `db:"metadata"`
	PendingEnvelopeID sql.NullString `db:"pending_envelope_id"`
	CreatedAt         int64          `db:"created_at"`
	UpdatedAt         sql.NullInt64  `db:"updated_at"`
}

func (r cronRow) toModel() (model.CronSchedule, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.CronSchedule{}, fmt.Errorf("parse id: %w", err)
	}
	to, err := model.ParseAddress(r.ToAddr)
	if err != nil {
		return model.CronSchedule{}, fmt.Errorf("parse to address: %w", err)
	}
	var content model.Content
	if err := json.Unmarshal([]byte(r.Content), &content); err != nil {
		return model.CronSchedule{}, fmt.Errorf("unmarshal content: %w", err)
	}
	c := model.CronSchedule{
		ID:        id,
		AgentName: r.AgentName,
		Cron:      r.Cron,
		Timezone:  r.Timezone.String,
		Enabled:   r.Enabled,
		To:        to,
		Content:   content,
		CreatedAt: r.CreatedAt,
	}
	if r.Metadata.Valid {
		c.Metadata = json.RawMessage(r.Metadata.String)
	}
	if r.PendingEnvelopeID.Valid {
		pid, err := uuid.Parse(r.PendingEnvelopeID.String)
		if err != nil {
			return model.CronSchedule{}, fmt.Errorf("parse pending envelope id: %w", err)
		}
		c.PendingEnvelopeID = &pid
	}
	if r.UpdatedAt.Valid {
		v := r.UpdatedAt.Int64
		c.UpdatedAt = &v
	}
	return c, nil
}

func (s *Store) CreateCronSchedule(ctx context.Context, c model.CronSchedule) error {
	contentJSON, err := json.Marshal(c.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cron_schedules (id, agent_name, cron, timezone, enabled, to_addr, content, metadata, pending_envelope_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.AgentName, c.Cron, nullEmpty(c.Timezone), c.Enabled, c.To.String(),
		string(contentJSON), nullableJSON(c.Metadata), pendingIDArg(c.PendingEnvelopeID), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cron schedule: %w", err)
	}
	return nil
}

func (s *Store) GetCronSchedule(ctx context.Context, id uuid.UUID) (model.CronSchedule, error) {
	var r cronRow
	err := s.db.GetContext(ctx, &r,
		`SELECT id, agent_name, cron, timezone, enabled, to_addr, content, metadata, pending_envelope_id, created_at, updated_at
		 FROM cron_schedules WHERE id = ?`, id.String())
	if isNoRows(err) {
		return model.CronSchedule{}, fmt.Errorf("cron schedule %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return model.CronSchedule{}, fmt.Errorf("get cron schedule: %w", err)
	}
	return r.toModel()
}

func (s *Store) ListCronSchedules(ctx context.Context) ([]model.CronSchedule, error) {
	return s.queryCronSchedules(ctx,
		`SELECT id, agent_name, cron, timezone, enabled, to_addr, content, metadata, pending_envelope_id, created_at, updated_at
		 FROM cron_schedules ORDER BY created_at`)
}

func (s *Store) ListEnabledCronSchedules(ctx context.Context) ([]model.CronSchedule, error) {
	return s.queryCronSchedules(ctx,
		`SELECT id, agent_name, cron, timezone, enabled, to_addr, content, metadata, pending_envelope_id, created_at, updated_at
		 FROM cron_schedules WHERE enabled = 1 ORDER BY created_at`)
}

func (s *Store) queryCronSchedules(ctx context.Context, query string, args ...any) ([]model.CronSchedule, error) {
	var rows []cronRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list cron schedules: %w", err)
	}
	out := make([]model.CronSchedule, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) UpdateCronSchedule(ctx context.Context, c model.CronSchedule) error {
	contentJSON, err := json.Marshal(c.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE cron_schedules SET cron=?, timezone=?, enabled=?, to_addr=?, content=?, metadata=?, pending_envelope_id=?, updated_at=?
		 WHERE id=?`,
		c.Cron, nullEmpty(c.Timezone), c.Enabled, c.To.String(), string(contentJSON),
		nullableJSON(c.Metadata), pendingIDArg(c.PendingEnvelopeID), c.UpdatedAt, c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update cron schedule: %w", err)
	}
	return nil
}

func (s *Store) UpdateCronSchedulePendingEnvelopeID(ctx context.Context, id uuid.UUID, envID *uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_schedules SET pending_envelope_id = ? WHERE id = ?`, pendingIDArg(envID), id.String())
	if err != nil {
		return fmt.Errorf("update cron schedule pending envelope id: %w", err)
	}
	return nil
}

func (s *Store) DeleteCronSchedule(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cron_schedules WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete cron schedule: %w", err)
	}
	return nil
}

func pendingIDArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
