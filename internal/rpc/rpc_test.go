package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/auth"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/store"
	"github.com/hiboss/hiboss/internal/store/sqlite"
)

func newTestAuthorizer(t *testing.T) *auth.Authorizer {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.SetConfig(context.Background(), "setup_completed", "true"))
	require.NoError(t, st.SetConfig(context.Background(), "boss_token_hash", store.HashBossToken("boss-secret")))

	a, err := auth.New(st, config.NewLive(&config.Config{PermissionPolicy: map[string]config.PolicyEntry{}}, nil))
	require.NoError(t, err)
	return a
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatchMethodNotFound(t *testing.T) {
	authz := newTestAuthorizer(t)
	router := NewMethodRouter(authz, nil)

	resp := router.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "nope.nope"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchUnauthorizedInvalidToken(t *testing.T) {
	authz := newTestAuthorizer(t)
	router := NewMethodRouter(authz, nil)
	router.Register("daemon.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]bool{"pong": true}, nil
	})

	resp := router.Dispatch(context.Background(), Request{
		JSONRPC: "2.0", Method: "daemon.ping", Params: mustRaw(t, map[string]string{"token": "wrong"}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeUnauthorized, resp.Error.Code)
}

func TestDispatchSuccessPassesPrincipalAndResult(t *testing.T) {
	authz := newTestAuthorizer(t)
	router := NewMethodRouter(authz, nil)

	var sawBoss bool
	router.Register("daemon.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		p, ok := PrincipalFromContext(ctx)
		sawBoss = ok && p.IsBoss()
		return map[string]bool{"pong": true}, nil
	})

	resp := router.Dispatch(context.Background(), Request{
		JSONRPC: "2.0", ID: mustRaw(t, 1), Method: "daemon.ping", Params: mustRaw(t, map[string]string{"token": "boss-secret"}),
	})
	require.Nil(t, resp.Error)
	require.True(t, sawBoss)
	require.Equal(t, json.RawMessage(`1`), resp.ID)
}

func TestDispatchHandlerErrorMapsKerrorsKindToCode(t *testing.T) {
	authz := newTestAuthorizer(t)
	router := NewMethodRouter(authz, nil)
	router.Register("envelope.get", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, kerrors.New(kerrors.NotFound, "envelope not found")
	})

	resp := router.Dispatch(context.Background(), Request{
		Method: "envelope.get", Params: mustRaw(t, map[string]string{"token": "boss-secret"}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestDispatchPlainHandlerErrorBecomesInternal(t *testing.T) {
	authz := newTestAuthorizer(t)
	router := NewMethodRouter(authz, nil)
	router.Register("daemon.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, require_anError{}
	})

	resp := router.Dispatch(context.Background(), Request{
		Method: "daemon.ping", Params: mustRaw(t, map[string]string{"token": "boss-secret"}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInternal, resp.Error.Code)
}

type require_anError struct{}

func (require_anError) Error() string { return "boom" }
