package methods

import (
	"context"
	"encoding/json"

	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/rpc"
	"github.com/hiboss/hiboss/internal/store"
)

// SetupMethods implements setup.{check,execute} and boss.verify. These are
// the only operations the Authorizer allows before setup_completed is set
// (spec §4.2 rule 1), plus the token self-check every CLI invocation opens
// with.
type SetupMethods struct {
	store store.ConfigStore
}

// NewSetupMethods constructs SetupMethods.
func NewSetupMethods(st store.ConfigStore) *SetupMethods {
	return &SetupMethods{store: st}
}

// Register binds setup.check, setup.execute, and boss.verify onto router.
func (m *SetupMethods) Register(router *rpc.MethodRouter) {
	router.Register("setup.check", m.handleCheck)
	router.Register("setup.execute", m.handleExecute)
	router.Register("boss.verify", m.handleBossVerify)
}

func (m *SetupMethods) handleCheck(ctx context.Context, raw json.RawMessage) (any, error) {
	done, _, err := m.store.GetConfig(ctx, "setup_completed")
	if err != nil {
		return nil, err
	}
	return map[string]bool{"setupCompleted": done == "true"}, nil
}

type setupExecuteParams struct {
	BossToken string `json:"bossToken"`
}

func (m *SetupMethods) handleExecute(ctx context.Context, raw json.RawMessage) (any, error) {
	var p setupExecuteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	done, _, err := m.store.GetConfig(ctx, "setup_completed")
	if err != nil {
		return nil, err
	}
	if done == "true" {
		return nil, kerrors.New(kerrors.Conflict, "setup already completed")
	}
	if p.BossToken == "" {
		return nil, kerrors.New(kerrors.Validation, "bossToken is required")
	}

	if err := m.store.SetConfig(ctx, "boss_token_hash", store.HashBossToken(p.BossToken)); err != nil {
		return nil, err
	}
	if err := m.store.SetConfig(ctx, "setup_completed", "true"); err != nil {
		return nil, err
	}
	return map[string]bool{"setupCompleted": true}, nil
}

func (m *SetupMethods) handleBossVerify(ctx context.Context, raw json.RawMessage) (any, error) {
	// Reaching this handler at all means the Authorizer already resolved
	// the caller to the boss principal (boss.verify's policy requires
	// Boss level); nothing further to check.
	return map[string]bool{"isBoss": true}, nil
}
