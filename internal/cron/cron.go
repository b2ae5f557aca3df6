// Package cron implements the Cron Scheduler (spec §4.7): recurring
// envelope templates materialized into exactly one pending envelope at a
// time while enabled, advanced on envelope completion and reconciled at
// daemon startup.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/store"
)

// CreateInput is the caller-supplied portion of a new CronSchedule.
type CreateInput struct {
	AgentName string
	Cron      string
	Timezone  string
	Enabled   bool
	To        model.Address
	Content   model.Content
	Metadata  model.Metadata
}

// CronScheduler implements spec §4.7's createSchedule / enableSchedule /
// disableSchedule / deleteSchedule / onEnvelopeDone / reconcileAllSchedules.
type CronScheduler struct {
	store  store.Store
	router *router.Router
	clock  clock.Clock
	logger *slog.Logger
}

// New constructs a CronScheduler. logger may be nil.
func New(st store.Store, r *router.Router, clk clock.Clock, logger *slog.Logger) *CronScheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CronScheduler{store: st, router: r, clock: clk, logger: logger}
}

// ValidateExpr reports whether expr is a valid 5/6-field cron expression or
// one of the @daily/@hourly/@weekly/@monthly/@yearly tags (spec §4.7).
func ValidateExpr(expr string) bool {
	return gronx.IsValid(expr)
}

func (c *CronScheduler) nextOccurrence(expr string, loc *time.Location, after time.Time) (time.Time, error) {
	ref := after
	if loc != nil {
		ref = ref.In(loc)
	}
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid cron expression %q: %v", expr, err)
	}
	return next.UTC(), nil
}

// CreateSchedule implements spec §4.7's createSchedule: normalize timezone,
// validate + derive next occurrence, insert, and (if enabled) materialize.
func (c *CronScheduler) CreateSchedule(ctx context.Context, in CreateInput) (model.CronSchedule, error) {
	if !ValidateExpr(in.Cron) {
		return model.CronSchedule{}, kerrors.Newf(kerrors.Validation, "invalid cron expression %q", in.Cron)
	}
	loc, err := clock.LoadZone(in.Timezone)
	if err != nil {
		return model.CronSchedule{}, kerrors.Newf(kerrors.Validation, "invalid timezone %q: %v", in.Timezone, err)
	}

	metaJSON, err := store.MarshalMetadata(in.Metadata)
	if err != nil {
		return model.CronSchedule{}, kerrors.New(kerrors.Internal, "marshal cron metadata").Wrap(err)
	}

	sched := model.CronSchedule{
		ID:        uuid.New(),
		AgentName: in.AgentName,
		Cron:      in.Cron,
		Timezone:  in.Timezone,
		Enabled:   in.Enabled,
		To:        in.To,
		Content:   in.Content,
		Metadata:  metaJSON,
		CreatedAt: clock.NowMillis(c.clock),
	}
	if err := c.store.CreateCronSchedule(ctx, sched); err != nil {
		return model.CronSchedule{}, kerrors.New(kerrors.Internal, "create cron schedule").Wrap(err)
	}

	if sched.Enabled {
		if err := c.materialize(ctx, &sched, loc); err != nil {
			return model.CronSchedule{}, err
		}
	}
	return sched, nil
}

// EnableSchedule implements spec §4.7's enableSchedule: dispose any pending
// envelope, recompute next, materialize.
func (c *CronScheduler) EnableSchedule(ctx context.Context, id uuid.UUID) (model.CronSchedule, error) {
	sched, err := c.store.GetCronSchedule(ctx, id)
	if err != nil {
		return model.CronSchedule{}, kerrors.New(kerrors.NotFound, "cron schedule not found").Wrap(err)
	}
	if err := c.cancelPending(ctx, &sched); err != nil {
		return model.CronSchedule{}, err
	}
	sched.Enabled = true
	loc, _ := clock.LoadZone(sched.Timezone)
	if err := c.materialize(ctx, &sched, loc); err != nil {
		return model.CronSchedule{}, err
	}
	if err := c.store.UpdateCronSchedule(ctx, sched); err != nil {
		return model.CronSchedule{}, kerrors.New(kerrors.Internal, "update cron schedule").Wrap(err)
	}
	return sched, nil
}

// DisableSchedule implements spec §4.7's disableSchedule: cancel pending
// envelope, then update the row.
func (c *CronScheduler) DisableSchedule(ctx context.Context, id uuid.UUID) (model.CronSchedule, error) {
	sched, err := c.store.GetCronSchedule(ctx, id)
	if err != nil {
		return model.CronSchedule{}, kerrors.New(kerrors.NotFound, "cron schedule not found").Wrap(err)
	}
	if err := c.cancelPending(ctx, &sched); err != nil {
		return model.CronSchedule{}, err
	}
	sched.Enabled = false
	if err := c.store.UpdateCronSchedule(ctx, sched); err != nil {
		return model.CronSchedule{}, kerrors.New(kerrors.Internal, "update cron schedule").Wrap(err)
	}
	return sched, nil
}

// DeleteSchedule implements spec §4.7's deleteSchedule: cancel pending
// envelope, then remove the row.
func (c *CronScheduler) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	sched, err := c.store.GetCronSchedule(ctx, id)
	if err != nil {
		return kerrors.New(kerrors.NotFound, "cron schedule not found").Wrap(err)
	}
	if err := c.cancelPending(ctx, &sched); err != nil {
		return err
	}
	if err := c.store.DeleteCronSchedule(ctx, id); err != nil {
		return kerrors.New(kerrors.Internal, "delete cron schedule").Wrap(err)
	}
	return nil
}

// OnEnvelopeDone implements events.EnvelopeEvents: advance the owning
// schedule's pending envelope to the next occurrence strictly after now.
// Matching against PendingEnvelopeID prevents double-advancing when two
// completions race.
func (c *CronScheduler) OnEnvelopeDone(env model.Envelope) {
	scheduleID := env.Metadata.CronScheduleID()
	if scheduleID == "" {
		return
	}
	id, err := uuid.Parse(scheduleID)
	if err != nil {
		return
	}
	ctx := context.Background()
	sched, err := c.store.GetCronSchedule(ctx, id)
	if err != nil {
		return
	}
	if sched.PendingEnvelopeID == nil || *sched.PendingEnvelopeID != env.ID {
		return
	}
	if !sched.Enabled {
		return
	}
	loc, _ := clock.LoadZone(sched.Timezone)
	if err := c.materialize(ctx, &sched, loc); err != nil {
		c.logger.Error("cron: failed to materialize next occurrence", "schedule", id, "error", err)
		return
	}
	if err := c.store.UpdateCronSchedule(ctx, sched); err != nil {
		c.logger.Error("cron: failed to persist advanced schedule", "schedule", id, "error", err)
	}
}

// OnEnvelopeCreated implements events.EnvelopeEvents; the cron scheduler has
// nothing to do when an envelope is created.
func (c *CronScheduler) OnEnvelopeCreated(env model.Envelope) {}

// ReconcileAllSchedules implements spec §4.7's reconcileAllSchedules,
// called once at daemon startup.
func (c *CronScheduler) ReconcileAllSchedules(ctx context.Context, skipMisfires bool) error {
	schedules, err := c.store.ListCronSchedules(ctx)
	if err != nil {
		return kerrors.New(kerrors.Internal, "list cron schedules").Wrap(err)
	}
	nowMs := clock.NowMillis(c.clock)

	for _, sched := range schedules {
		if !sched.Enabled {
			if sched.PendingEnvelopeID != nil {
				if err := c.cancelPending(ctx, &sched); err != nil {
					c.logger.Error("cron: reconcile: clean stray pending", "schedule", sched.ID, "error", err)
					continue
				}
				if err := c.store.UpdateCronSchedule(ctx, sched); err != nil {
					c.logger.Error("cron: reconcile: persist disabled schedule", "schedule", sched.ID, "error", err)
				}
			}
			continue
		}

		needsFresh := sched.PendingEnvelopeID == nil
		if !needsFresh {
			pending, err := c.store.GetEnvelope(ctx, *sched.PendingEnvelopeID)
			if err != nil {
				needsFresh = true
			} else if skipMisfires && pending.DeliverAt != nil && *pending.DeliverAt < nowMs {
				if err := c.cancelPending(ctx, &sched); err != nil {
					c.logger.Error("cron: reconcile: cancel misfired pending", "schedule", sched.ID, "error", err)
					continue
				}
				needsFresh = true
			}
		}
		if !needsFresh {
			continue
		}

		loc, _ := clock.LoadZone(sched.Timezone)
		if err := c.materialize(ctx, &sched, loc); err != nil {
			c.logger.Error("cron: reconcile: materialize", "schedule", sched.ID, "error", err)
			continue
		}
		if err := c.store.UpdateCronSchedule(ctx, sched); err != nil {
			c.logger.Error("cron: reconcile: persist reconciled schedule", "schedule", sched.ID, "error", err)
		}
	}
	return nil
}

// materialize inserts a fresh pending envelope for sched's next occurrence
// strictly after now, and updates sched.PendingEnvelopeID in memory
// (callers persist the schedule row).
func (c *CronScheduler) materialize(ctx context.Context, sched *model.CronSchedule, loc *time.Location) error {
	next, err := c.nextOccurrence(sched.Cron, loc, clock.FromMillis(clock.NowMillis(c.clock)))
	if err != nil {
		return err
	}
	deliverAt := clock.ToMillis(next)

	metadata, err := store.UnmarshalMetadata(sched.Metadata)
	if err != nil {
		return kerrors.New(kerrors.Internal, "unmarshal cron metadata").Wrap(err)
	}
	if metadata == nil {
		metadata = model.Metadata{}
	}
	metadata["cronScheduleId"] = sched.ID.String()

	env, err := c.router.RouteEnvelope(ctx, store.CreateEnvelopeInput{
		From:      model.Address{Kind: model.KindAgent, AgentName: sched.AgentName},
		To:        sched.To,
		Content:   sched.Content,
		DeliverAt: &deliverAt,
		Metadata:  metadata,
	})
	if err != nil {
		return kerrors.New(kerrors.Internal, "materialize cron envelope").Wrap(err)
	}
	sched.PendingEnvelopeID = &env.ID
	return nil
}

// cancelPending marks sched's current pending envelope done (cancelled,
// never delivered) and clears PendingEnvelopeID in memory. Callers persist
// the schedule row.
func (c *CronScheduler) cancelPending(ctx context.Context, sched *model.CronSchedule) error {
	if sched.PendingEnvelopeID == nil {
		return nil
	}
	id := *sched.PendingEnvelopeID
	env, err := c.store.GetEnvelope(ctx, id)
	if err == nil {
		if uErr := c.store.UpdateEnvelopeMetadata(ctx, id, env.Metadata.WithCancelled()); uErr != nil {
			return kerrors.New(kerrors.Internal, "mark cron envelope cancelled").Wrap(uErr)
		}
		if uErr := c.store.UpdateEnvelopeStatus(ctx, id, model.StatusDone); uErr != nil {
			return kerrors.New(kerrors.Internal, "cancel pending cron envelope").Wrap(uErr)
		}
	}
	sched.PendingEnvelopeID = nil
	return nil
}
