package rpc

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hiboss/hiboss/internal/auth"
	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/telemetry"
)

// HandlerFunc implements one RPC method. params is the request's raw
// "params" field (nil if omitted); the returned value, on success, becomes
// the response's "result". A handler that needs the caller's identity
// reads it from ctx via PrincipalFromContext.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type principalKey struct{}

// PrincipalFromContext returns the authenticated caller passed to a
// handler by MethodRouter.Dispatch.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// tokenParams extracts the "token" field every authenticated method
// requires (spec §4.8), without requiring each handler to redeclare it.
type tokenParams struct {
	Token string `json:"token"`
}

// MethodRouter holds the method-name -> handler dispatch table and gates
// every call through the Authorizer before invoking it.
type MethodRouter struct {
	authz *auth.Authorizer
	tel   *telemetry.Telemetry

	handlers map[string]HandlerFunc
}

// NewMethodRouter constructs an empty MethodRouter. tel may be nil
// (telemetry disabled).
func NewMethodRouter(authz *auth.Authorizer, tel *telemetry.Telemetry) *MethodRouter {
	return &MethodRouter{authz: authz, tel: tel, handlers: map[string]HandlerFunc{}}
}

// Register binds a method name to its handler. Each domain's *Methods type
// calls this once per operation it implements, from its own Register
// method (internal/rpc/methods).
func (m *MethodRouter) Register(method string, h HandlerFunc) {
	m.handlers[method] = h
}

// Dispatch authorizes and invokes req, returning the response frame to
// write back. It never panics: an unknown method, a bad token, or a
// handler error all become a well-formed JSON-RPC error response.
func (m *MethodRouter) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	code := "ok"
	resp := m.dispatch(ctx, req)
	if resp.Error != nil {
		code = httpishCode(resp.Error.Code)
	}
	if m.tel != nil {
		m.tel.RecordRPC(req.Method, code, time.Since(start))
	}
	return resp
}

func (m *MethodRouter) dispatch(ctx context.Context, req Request) Response {
	handler, ok := m.handlers[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}

	var tp tokenParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &tp); err != nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
		}
	}

	principal, err := m.authz.Authorize(ctx, req.Method, tp.Token)
	if err != nil {
		return ErrorFromErr(req.ID, err)
	}

	var span trace.Span
	if m.tel != nil {
		var tctx context.Context
		tctx, span = m.tel.StartSpan(ctx, "rpc."+req.Method)
		ctx = tctx
	}
	ctx = context.WithValue(ctx, principalKey{}, principal)

	result, err := handler(ctx, req.Params)
	if span != nil {
		telemetry.EndSpanWithError(span, err)
	}
	if err != nil {
		if _, ok := kerrors.As(err); !ok {
			err = kerrors.New(kerrors.Internal, err.Error())
		}
		return ErrorFromErr(req.ID, err)
	}
	return NewOKResponse(req.ID, result)
}

// httpishCode buckets a JSON-RPC numeric code into a short label for the
// rpc_requests_total metric, avoiding one time-series per distinct code.
func httpishCode(code int) string {
	switch code {
	case CodeUnauthorized:
		return "unauthorized"
	case CodeNotFound:
		return "not-found"
	case CodeAlreadyExists:
		return "conflict"
	case CodeInvalidParams, CodeInvalidRequest, CodeParseError:
		return "bad-request"
	case CodeMethodNotFound:
		return "not-found"
	case CodeDeliveryFailed:
		return "delivery-failed"
	default:
		return "internal"
	}
}
