// Package auth implements the Authorizer (spec §4.2): maps an RPC token to
// a Principal and checks it against the configurable per-operation policy.
package auth

import (
	"context"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
	"github.com/hiboss/hiboss/internal/store"
)

// PrincipalKind distinguishes the boss from a registered agent.
type PrincipalKind string

const (
	PrincipalBoss  PrincipalKind = "boss"
	PrincipalAgent PrincipalKind = "agent"
)

// Principal is the result of a successful token check.
type Principal struct {
	Kind      PrincipalKind
	AgentName string // set when Kind == PrincipalAgent
	Level     model.PermissionLevel
}

// IsBoss reports whether p is the boss principal.
func (p Principal) IsBoss() bool { return p.Kind == PrincipalBoss }

// Authorizer gates every RPC operation (spec §4.2 rules 1-5).
type Authorizer struct {
	store store.Store
	cfg   *config.LiveConfig

	mu      sync.Mutex
	celEnv  *cel.Env
	cePrograms map[string]cel.Program
}

// New constructs an Authorizer. cfg supplies the hot-reloadable
// permission_policy table; st supplies setup_completed/boss_token_hash and
// agent token lookups.
func New(st store.Store, cfg *config.LiveConfig) (*Authorizer, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.StringType),
		cel.Variable("isBoss", cel.BoolType),
		cel.Variable("operation", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	return &Authorizer{store: st, cfg: cfg, celEnv: env, cePrograms: map[string]cel.Program{}}, nil
}

// Authorize implements spec §4.2 rules 1-5. operation is the RPC method
// name (e.g. "envelope.send"); token is the raw bearer token.
func (a *Authorizer) Authorize(ctx context.Context, operation, token string) (Principal, error) {
	setupDone, _, err := a.store.GetConfig(ctx, "setup_completed")
	if err != nil {
		return Principal{}, kerrors.New(kerrors.Internal, "load setup_completed").Wrap(err)
	}
	if setupDone != "true" {
		if !isSetupOp(operation) {
			return Principal{}, kerrors.New(kerrors.SetupRequired, "setup not complete")
		}
		// No boss_token_hash exists yet to verify token against: the wizard
		// caller is trusted as boss for the duration of setup.* calls only.
		return Principal{Kind: PrincipalBoss, Level: model.LevelBoss}, nil
	}

	principal, err := a.resolvePrincipal(ctx, token)
	if err != nil {
		return Principal{}, err
	}

	if principal.IsBoss() {
		return principal, nil
	}

	required := a.requiredLevel(operation)
	if principal.Level.Meets(required.Level) {
		return principal, nil
	}
	if required.Expr != "" {
		allowed, evalErr := a.evalExpr(required.Expr, principal, operation)
		if evalErr == nil && allowed {
			return principal, nil
		}
	}
	return Principal{}, kerrors.Newf(kerrors.Unauthorized, "access denied: %s requires %s", operation, required.Level)
}

func isSetupOp(operation string) bool {
	return len(operation) >= 6 && operation[:6] == "setup."
}

func (a *Authorizer) resolvePrincipal(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, kerrors.New(kerrors.Unauthorized, "invalid token")
	}
	hash, ok, err := a.store.GetConfig(ctx, "boss_token_hash")
	if err != nil {
		return Principal{}, kerrors.New(kerrors.Internal, "load boss_token_hash").Wrap(err)
	}
	if ok && store.VerifyBossToken(token, hash) {
		return Principal{Kind: PrincipalBoss, Level: model.LevelBoss}, nil
	}

	agent, found, err := a.store.FindAgentByToken(ctx, token)
	if err != nil {
		return Principal{}, kerrors.New(kerrors.Internal, "find agent by token").Wrap(err)
	}
	if !found {
		return Principal{}, kerrors.New(kerrors.Unauthorized, "invalid token")
	}
	return Principal{Kind: PrincipalAgent, AgentName: agent.Name, Level: agent.PermissionLevel}, nil
}

func (a *Authorizer) requiredLevel(operation string) config.PolicyEntry {
	policy := a.cfg.Snapshot().PermissionPolicy
	if entry, ok := policy[operation]; ok {
		return entry
	}
	return config.PolicyEntry{Level: model.LevelBoss}
}

func (a *Authorizer) evalExpr(expr string, p Principal, operation string) (bool, error) {
	prog, err := a.compile(expr)
	if err != nil {
		return false, err
	}
	principalName := p.AgentName
	if p.IsBoss() {
		principalName = "boss"
	}
	out, _, err := prog.Eval(map[string]any{
		"principal": principalName,
		"isBoss":    p.IsBoss(),
		"operation": operation,
	})
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed, nil
}

func (a *Authorizer) compile(expr string) (cel.Program, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prog, ok := a.cePrograms[expr]; ok {
		return prog, nil
	}
	ast, iss := a.celEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prog, err := a.celEnv.Program(ast)
	if err != nil {
		return nil, err
	}
	a.cePrograms[expr] = prog
	return prog, nil
}
