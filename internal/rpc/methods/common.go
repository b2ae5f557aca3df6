// Package methods implements the concrete RPC method handlers, one
// "*Methods" type per domain, each registering its operations onto an
// *rpc.MethodRouter — the same split the daemon composition root wires
// together.
package methods

import (
	"encoding/json"

	"github.com/hiboss/hiboss/internal/kerrors"
)

// decodeParams unmarshals raw into dst, wrapping a parse failure as a
// kerrors.Validation error so it maps to CodeInvalidParams at the RPC
// boundary instead of CodeInternal.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return kerrors.Newf(kerrors.Validation, "invalid params: %v", err)
	}
	return nil
}
