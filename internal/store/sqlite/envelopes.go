package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/ids"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/store"
)

type envelopeRow struct {
	ID        string         `db:"id"`
	FromAddr  string         `db:"from_addr"`
	ToAddr    string         `db:"to_addr"`
	FromBoss  bool           `db:"from_boss"`
	Content   string         `db:"content"`
	DeliverAt sql.NullInt64  `db:"deliver_at"`
	Status    string         `db:"status"`
	CreatedAt int64          `db:"created_at"`
	Metadata  sql.NullString `db:"metadata"`
}

func (r envelopeRow) toModel() (model.Envelope, error) {
	from, err := model.ParseAddress(r.FromAddr)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("parse from address: %w", err)
	}
	to, err := model.ParseAddress(r.ToAddr)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("parse to address: %w", err)
	}
	var content model.Content
	if err := json.Unmarshal([]byte(r.Content), &content); err != nil {
		return model.Envelope{}, fmt.Errorf("unmarshal content: %w", err)
	}
	var md model.Metadata
	if r.Metadata.Valid {
		if md, err = store.UnmarshalMetadata([]byte(r.Metadata.String)); err != nil {
			return model.Envelope{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("parse id: %w", err)
	}
	var deliverAt *int64
	if r.DeliverAt.Valid {
		v := r.DeliverAt.Int64
		deliverAt = &v
	}
	return model.Envelope{
		ID:        id,
		From:      from,
		To:        to,
		FromBoss:  r.FromBoss,
		Content:   content,
		DeliverAt: deliverAt,
		Status:    model.Status(r.Status),
		CreatedAt: r.CreatedAt,
		Metadata:  md,
	}, nil
}

func (s *Store) CreateEnvelope(ctx context.Context, in store.CreateEnvelopeInput) (model.Envelope, error) {
	contentJSON, err := json.Marshal(in.Content)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("marshal content: %w", err)
	}
	mdJSON, err := store.MarshalMetadata(in.Metadata)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("marshal metadata: %w", err)
	}

	env := model.Envelope{
		ID:        ids.New(),
		From:      in.From,
		To:        in.To,
		FromBoss:  in.FromBoss,
		Content:   in.Content,
		DeliverAt: in.DeliverAt,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UnixMilli(),
		Metadata:  in.Metadata,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, from_addr, to_addr, from_boss, content, deliver_at, status, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID.String(), env.From.String(), env.To.String(), env.FromBoss,
		string(contentJSON), env.DeliverAt, string(env.Status), env.CreatedAt, nullableJSON(mdJSON),
	)
	if err != nil {
		s.logger.Error("sqlite: create envelope failed", "id", env.ID, "error", err)
		return model.Envelope{}, fmt.Errorf("insert envelope: %w", err)
	}
	s.logger.Debug("sqlite: create envelope ok", "id", env.ID, "to", env.To.String())
	return env, nil
}

func (s *Store) GetEnvelope(ctx context.Context, id uuid.UUID) (model.Envelope, error) {
	var r envelopeRow
	err := s.db.GetContext(ctx, &r,
		`SELECT id, from_addr, to_addr, from_boss, content, deliver_at, status, created_at, metadata
		 FROM envelopes WHERE id = ?`, id.String())
	if isNoRows(err) {
		return model.Envelope{}, fmt.Errorf("envelope %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return model.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}
	return r.toModel()
}

func (s *Store) UpdateEnvelopeStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE envelopes SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("update envelope status: %w", err)
	}
	return nil
}

func (s *Store) UpdateEnvelopeMetadata(ctx context.Context, id uuid.UUID, md model.Metadata) error {
	mdJSON, err := store.MarshalMetadata(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE envelopes SET metadata = ? WHERE id = ?`, nullableJSON(mdJSON), id.String())
	if err != nil {
		return fmt.Errorf("update envelope metadata: %w", err)
	}
	return nil
}

func (s *Store) ListDueChannelEnvelopes(ctx context.Context, nowMs int64, limit int) ([]model.Envelope, error) {
	var rows []envelopeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, from_addr, to_addr, from_boss, content, deliver_at, status, created_at, metadata
		 FROM envelopes
		 WHERE status = ? AND to_addr LIKE 'channel:%' AND (deliver_at IS NULL OR deliver_at <= ?)
		 ORDER BY (deliver_at IS NOT NULL), deliver_at, created_at
		 LIMIT ?`,
		string(model.StatusPending), nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("list due channel envelopes: %w", err)
	}
	return toEnvelopes(rows)
}

func (s *Store) ListAgentNamesWithDueEnvelopes(ctx context.Context, nowMs int64) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT DISTINCT substr(to_addr, 7)
		 FROM envelopes
		 WHERE status = ? AND to_addr LIKE 'agent:%' AND (deliver_at IS NULL OR deliver_at <= ?)`,
		string(model.StatusPending), nowMs)
	if err != nil {
		return nil, fmt.Errorf("list agent names with due envelopes: %w", err)
	}
	return names, nil
}

func (s *Store) GetNextScheduledEnvelope(ctx context.Context) (model.Envelope, bool, error) {
	var r envelopeRow
	err := s.db.GetContext(ctx, &r,
		`SELECT id, from_addr, to_addr, from_boss, content, deliver_at, status, created_at, metadata
		 FROM envelopes
		 WHERE status = ?
		 ORDER BY (deliver_at IS NOT NULL), deliver_at, created_at
		 LIMIT 1`,
		string(model.StatusPending))
	if isNoRows(err) {
		return model.Envelope{}, false, nil
	}
	if err != nil {
		return model.Envelope{}, false, fmt.Errorf("get next scheduled envelope: %w", err)
	}
	env, err := r.toModel()
	if err != nil {
		return model.Envelope{}, false, err
	}
	return env, true, nil
}

func (s *Store) ListPendingInboxForAgent(ctx context.Context, agentName string, nowMs int64) ([]model.Envelope, error) {
	var rows []envelopeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, from_addr, to_addr, from_boss, content, deliver_at, status, created_at, metadata
		 FROM envelopes
		 WHERE status = ? AND to_addr = ? AND (deliver_at IS NULL OR deliver_at <= ?)
		 ORDER BY (deliver_at IS NOT NULL), deliver_at, created_at`,
		string(model.StatusPending), "agent:"+agentName, nowMs)
	if err != nil {
		return nil, fmt.Errorf("list pending inbox for agent: %w", err)
	}
	return toEnvelopes(rows)
}

func (s *Store) ListEnvelopes(ctx context.Context, f store.EnvelopeFilter) ([]model.Envelope, error) {
	query := `SELECT id, from_addr, to_addr, from_boss, content, deliver_at, status, created_at, metadata FROM envelopes WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.AgentName != "" {
		query += ` AND (to_addr = ? OR from_addr = ?)`
		args = append(args, "agent:"+f.AgentName, "agent:"+f.AgentName)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []envelopeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	return toEnvelopes(rows)
}

func (s *Store) ClearOrphanChannelEnvelopes(ctx context.Context, nowMs int64, cap int, bindingExists func(adapterType, agentName string) bool) (int, error) {
	due, err := s.ListDueChannelEnvelopes(ctx, nowMs, cap)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, env := range due {
		if !env.From.IsAgent() {
			continue
		}
		if bindingExists(env.To.AdapterType, env.From.AgentName) {
			continue
		}
		md := env.Metadata.WithLastDeliveryError(model.DeliveryError{
			Kind:      model.DeliveryErrNoBinding,
			Details:   fmt.Sprintf("no %s binding for agent %s", env.To.AdapterType, env.From.AgentName),
			Timestamp: nowMs,
		})
		if err := s.UpdateEnvelopeMetadata(ctx, env.ID, md); err != nil {
			return cleared, err
		}
		if err := s.UpdateEnvelopeStatus(ctx, env.ID, model.StatusDone); err != nil {
			return cleared, err
		}
		cleared++
		if cleared >= cap {
			break
		}
	}
	s.logger.Debug("sqlite: clear orphan channel envelopes", "cleared", cleared)
	return cleared, nil
}

func toEnvelopes(rows []envelopeRow) ([]model.Envelope, error) {
	out := make([]model.Envelope, 0, len(rows))
	for _, r := range rows {
		env, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
