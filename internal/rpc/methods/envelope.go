package methods

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/ids"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/router"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
)

// EnvelopeMethods implements envelope.{send,list,get}.
type EnvelopeMethods struct {
	store  store.EnvelopeStore
	router *router.Router
	clock  clock.Clock
}

// NewEnvelopeMethods constructs EnvelopeMethods.
func NewEnvelopeMethods(st store.EnvelopeStore, r *router.Router, clk clock.Clock) *EnvelopeMethods {
	return &EnvelopeMethods{store: st, router: r, clock: clk}
}

// Register binds every envelope.* operation onto router.
func (m *EnvelopeMethods) Register(router *rpc.MethodRouter) {
	router.Register("envelope.send", m.handleSend)
	router.Register("envelope.list", m.handleList)
	router.Register("envelope.get", m.handleGet)
}

type sendParams struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Content   model.Content  `json:"content"`
	DeliverAt string         `json:"deliverAt"`
	Metadata  model.Metadata `json:"metadata"`
}

func (m *EnvelopeMethods) handleSend(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sendParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	principal, _ := rpc.PrincipalFromContext(ctx)
	fromRaw := p.From
	if !principal.IsBoss() {
		// Agents may only ever speak as themselves (spec §4.3: from is not
		// caller-supplied data an agent principal can forge).
		fromRaw = "agent:" + principal.AgentName
	}
	if fromRaw == "" {
		return nil, kerrors.New(kerrors.Validation, "from is required")
	}

	from, err := model.ParseAddress(fromRaw)
	if err != nil {
		return nil, err
	}
	to, err := model.ParseAddress(p.To)
	if err != nil {
		return nil, err
	}

	var deliverAt *int64
	if p.DeliverAt != "" {
		t, err := clock.ParseDeliverAt(p.DeliverAt, m.clock.Now())
		if err != nil {
			return nil, err
		}
		ms := clock.ToMillis(t)
		deliverAt = &ms
	}

	env, err := m.router.RouteEnvelope(ctx, store.CreateEnvelopeInput{
		From:      from,
		To:        to,
		FromBoss:  principal.IsBoss(),
		Content:   p.Content,
		DeliverAt: deliverAt,
		Metadata:  p.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return envelopeView(env), nil
}

type listParams struct {
	Status    string `json:"status"`
	AgentName string `json:"agentName"`
	Limit     int    `json:"limit"`
}

func (m *EnvelopeMethods) handleList(ctx context.Context, raw json.RawMessage) (any, error) {
	var p listParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	principal, _ := rpc.PrincipalFromContext(ctx)
	agentName := p.AgentName
	if !principal.IsBoss() {
		agentName = principal.AgentName
	}

	envs, err := m.store.ListEnvelopes(ctx, store.EnvelopeFilter{
		Status:    model.Status(p.Status),
		AgentName: agentName,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}
	views := make([]envelopeViewT, len(envs))
	for i, env := range envs {
		views[i] = envelopeView(env)
	}
	return views, nil
}

type getParams struct {
	ID string `json:"id"`
}

func (m *EnvelopeMethods) handleGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, kerrors.New(kerrors.Validation, "id is required")
	}

	if full, err := uuid.Parse(p.ID); err == nil {
		env, err := m.store.GetEnvelope(ctx, full)
		if err != nil {
			return nil, kerrors.New(kerrors.NotFound, "envelope not found").Wrap(err)
		}
		return envelopeView(env), nil
	}

	all, err := m.store.ListEnvelopes(ctx, store.EnvelopeFilter{})
	if err != nil {
		return nil, err
	}
	candidates := make([]uuid.UUID, len(all))
	byID := make(map[uuid.UUID]model.Envelope, len(all))
	for i, env := range all {
		candidates[i] = env.ID
		byID[env.ID] = env
	}

	lookup := ids.FindByPrefix(candidates, p.ID)
	switch {
	case lookup.Unique:
		return envelopeView(byID[lookup.Match]), nil
	case len(lookup.Candidates) > 0:
		full := make([]string, len(lookup.Candidates))
		for i, c := range lookup.Candidates {
			full[i] = c.String()
		}
		return nil, kerrors.New(kerrors.AmbiguousPrefix, "ambiguous envelope id prefix").WithData(map[string]any{
			"candidates": full,
			"matchCount": len(lookup.Candidates),
		})
	default:
		return nil, kerrors.New(kerrors.NotFound, "envelope not found")
	}
}

type envelopeViewT struct {
	ID        string         `json:"id"`
	ShortID   string         `json:"shortId"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	FromBoss  bool           `json:"fromBoss"`
	Content   model.Content  `json:"content"`
	DeliverAt *int64         `json:"deliverAt,omitempty"`
	Status    model.Status   `json:"status"`
	CreatedAt int64          `json:"createdAt"`
	Metadata  model.Metadata `json:"metadata,omitempty"`
}

func envelopeView(env model.Envelope) envelopeViewT {
	return envelopeViewT{
		ID: env.ID.String(), ShortID: ids.Short(env.ID),
		From: env.From.String(), To: env.To.String(), FromBoss: env.FromBoss,
		Content: env.Content, DeliverAt: env.DeliverAt, Status: env.Status,
		CreatedAt: env.CreatedAt, Metadata: env.Metadata,
	}
}
