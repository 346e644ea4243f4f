/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Response shapes that are not already wire types. Ledger entries go out
  as ledger.WireEntry (integer amounts), account, product, and mapping
  records marshal their domain structs directly.
*/
package api

import (
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/schema"
)

// ErrorResponse is the JSON body for all error statuses. Violations is
// populated only for schema validation failures.
type ErrorResponse struct {
	Error      string              `json:"error"`
	Details    string              `json:"details,omitempty"`
	Violations []schema.FieldError `json:"violations,omitempty"`
}

// BalanceResponse reports an account's running balance. The balance is
// the transaction_result of the latest entry, zero when the account has
// no entries yet.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status string `json:"status"`
}

func toWireEntries(entries []ledger.Entry) []ledger.WireEntry {
	wire := make([]ledger.WireEntry, len(entries))
	for i, e := range entries {
		wire[i] = ledger.EncodeEntry(e)
	}
	return wire
}
