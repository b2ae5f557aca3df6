// Package rpc implements the RPC Server (spec §4.8): newline-delimited
// JSON-RPC 2.0 frames over a Unix-domain socket, method dispatch gated by
// internal/auth, and the numeric error-code mapping every kerrors.Kind
// reduces to exactly once, at this boundary.
package rpc

import (
	"encoding/json"

	"github.com/hiboss/hiboss/internal/kerrors"
)

// protocolVersion is the "jsonrpc" field every frame carries.
const protocolVersion = "2.0"

// Request is one newline-delimited JSON-RPC 2.0 request frame. ID is kept
// as raw JSON so it round-trips into the response verbatim regardless of
// whether the caller used a string, a number, or omitted it.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one newline-delimited JSON-RPC 2.0 response frame. Exactly
// one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Numeric error codes (spec §4.8).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeUnauthorized   = -32001
	CodeNotFound       = -32002
	CodeAlreadyExists  = -32003
	CodeDeliveryFailed = -32010
)

var kindToCode = map[kerrors.Kind]int{
	kerrors.Validation:      CodeInvalidParams,
	kerrors.Unauthorized:    CodeUnauthorized,
	kerrors.SetupRequired:   CodeUnauthorized,
	kerrors.NotFound:        CodeNotFound,
	kerrors.AmbiguousPrefix: CodeNotFound,
	kerrors.Conflict:        CodeAlreadyExists,
	kerrors.DeliveryFailed:  CodeDeliveryFailed,
	kerrors.Internal:        CodeInternal,
}

// NewOKResponse builds a successful response frame.
func NewOKResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: protocolVersion, ID: id, Result: result}
}

// NewErrorResponse builds an error response frame with an explicit code.
func NewErrorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: protocolVersion, ID: id, Error: &Error{Code: code, Message: message}}
}

// ErrorFromErr maps err to a response error, reducing a *kerrors.Error to
// its numeric code and surfacing Data verbatim; any other error becomes a
// plain CodeInternal with no data.
func ErrorFromErr(id json.RawMessage, err error) Response {
	if ke, ok := kerrors.As(err); ok {
		code, known := kindToCode[ke.Kind]
		if !known {
			code = CodeInternal
		}
		return Response{JSONRPC: protocolVersion, ID: id, Error: &Error{Code: code, Message: ke.Message, Data: ke.Data}}
	}
	return NewErrorResponse(id, CodeInternal, err.Error())
}
