package methods

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/cron"
	"github.com/hiboss/hiboss/internal/ids"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
)

// CronMethods implements cron.{create,list,get,enable,disable,delete}.
type CronMethods struct {
	store     store.CronStore
	scheduler *cron.CronScheduler
}

// NewCronMethods constructs CronMethods.
func NewCronMethods(st store.CronStore, sched *cron.CronScheduler) *CronMethods {
	return &CronMethods{store: st, scheduler: sched}
}

// Register binds every cron.* operation onto router.
func (m *CronMethods) Register(router *rpc.MethodRouter) {
	router.Register("cron.create", m.handleCreate)
	router.Register("cron.list", m.handleList)
	router.Register("cron.get", m.handleGet)
	router.Register("cron.enable", m.handleEnable)
	router.Register("cron.disable", m.handleDisable)
	router.Register("cron.delete", m.handleDelete)
}

type cronCreateParams struct {
	AgentName string         `json:"agentName"`
	Cron      string         `json:"cron"`
	Timezone  string         `json:"timezone"`
	Enabled   bool           `json:"enabled"`
	To        string         `json:"to"`
	Content   model.Content  `json:"content"`
	Metadata  model.Metadata `json:"metadata"`
}

func (m *CronMethods) handleCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cronCreateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	to, err := model.ParseAddress(p.To)
	if err != nil {
		return nil, err
	}
	sched, err := m.scheduler.CreateSchedule(ctx, cron.CreateInput{
		AgentName: p.AgentName, Cron: p.Cron, Timezone: p.Timezone, Enabled: p.Enabled,
		To: to, Content: p.Content, Metadata: p.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return cronView(sched), nil
}

func (m *CronMethods) handleList(ctx context.Context, raw json.RawMessage) (any, error) {
	scheds, err := m.store.ListCronSchedules(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]cronViewT, len(scheds))
	for i, s := range scheds {
		views[i] = cronView(s)
	}
	return views, nil
}

type cronIDParams struct {
	ID string `json:"id"`
}

func (m *CronMethods) resolveID(ctx context.Context, raw string) (uuid.UUID, error) {
	if full, err := uuid.Parse(raw); err == nil {
		return full, nil
	}
	scheds, err := m.store.ListCronSchedules(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	candidates := make([]uuid.UUID, len(scheds))
	for i, s := range scheds {
		candidates[i] = s.ID
	}
	lookup := ids.FindByPrefix(candidates, raw)
	switch {
	case lookup.Unique:
		return lookup.Match, nil
	case len(lookup.Candidates) > 0:
		full := make([]string, len(lookup.Candidates))
		for i, c := range lookup.Candidates {
			full[i] = c.String()
		}
		return uuid.Nil, kerrors.New(kerrors.AmbiguousPrefix, "ambiguous cron schedule id prefix").WithData(map[string]any{
			"candidates": full,
			"matchCount": len(lookup.Candidates),
		})
	default:
		return uuid.Nil, kerrors.New(kerrors.NotFound, "cron schedule not found")
	}
}

func (m *CronMethods) handleGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cronIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	id, err := m.resolveID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	sched, err := m.store.GetCronSchedule(ctx, id)
	if err != nil {
		return nil, kerrors.New(kerrors.NotFound, "cron schedule not found").Wrap(err)
	}
	return cronView(sched), nil
}

func (m *CronMethods) handleEnable(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cronIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	id, err := m.resolveID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	sched, err := m.scheduler.EnableSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	return cronView(sched), nil
}

func (m *CronMethods) handleDisable(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cronIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	id, err := m.resolveID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	sched, err := m.scheduler.DisableSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	return cronView(sched), nil
}

func (m *CronMethods) handleDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var p cronIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	id, err := m.resolveID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := m.scheduler.DeleteSchedule(ctx, id); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

type cronViewT struct {
	ID        string         `json:"id"`
	ShortID   string         `json:"shortId"`
	AgentName string         `json:"agentName"`
	Cron      string         `json:"cron"`
	Timezone  string         `json:"timezone"`
	Enabled   bool           `json:"enabled"`
	To        string         `json:"to"`
	Content   model.Content  `json:"content"`
	CreatedAt int64          `json:"createdAt"`
}

func cronView(s model.CronSchedule) cronViewT {
	return cronViewT{
		ID: s.ID.String(), ShortID: ids.Short(s.ID), AgentName: s.AgentName,
		Cron: s.Cron, Timezone: s.Timezone, Enabled: s.Enabled,
		To: s.To.String(), Content: s.Content, CreatedAt: s.CreatedAt,
	}
}
