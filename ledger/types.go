/*
Package ledger implements the transaction ledger core.

PURPOSE:
  The ledger is the immutable source of truth for all account balance
  changes. Every deposit, withdrawal, and purchase is recorded as an
  append-only entry carrying the running balance after it was applied.
  The balance of an account is the result of its most recent entry -
  there is no separate balance field that can drift out of sync.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger record with amount and running result
  - Action: What kind of balance change an entry represents
  - ProductSnapshot: A verbatim copy of a catalog record at purchase time
  - SubmitRequest: The decoded form of an external transaction request

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never updated or deleted. Corrections are
     new CANCEL / INCONSISTENCY_CORRECTION entries with negated amounts.
  2. PREFIX SUM: result(entry) = result(previous entry, or 0) + amount(entry).
  3. ORDERED: For one account, entries are totally ordered by Timestamp.
  4. SNAPSHOT: entry.Product is a copy, stable even if the catalog changes.

SEE ALSO:
  - processor.go: Validates requests and appends entries
  - balance.go: Resolves the current balance of an account
  - store.go: Persistence interface with conditional append
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionDeposit    Action = "DEPOSIT"
	ActionWithdraw   Action = "WITHDRAW"
	ActionBuyProduct Action = "BUY_PRODUCT"

	// Internal corrective actions. Never creatable through the external
	// request surface; schema validation rejects them there.
	ActionCancel                  Action = "CANCEL"
	ActionInconsistencyCorrection Action = "INCONSISTENCY_CORRECTION"
)

// ExternalActions are the actions a caller may submit.
var ExternalActions = []Action{ActionDeposit, ActionWithdraw, ActionBuyProduct}

// Internal reports whether the action is reserved for corrective use.
func (a Action) Internal() bool {
	return a == ActionCancel || a == ActionInconsistencyCorrection
}

// Known reports whether the action is part of the ledger's enum at all.
func (a Action) Known() bool {
	switch a {
	case ActionDeposit, ActionWithdraw, ActionBuyProduct,
		ActionCancel, ActionInconsistencyCorrection:
		return true
	}
	return false
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type AccountID string

// =============================================================================
// PRODUCT SNAPSHOT
// =============================================================================

// ProductSnapshot is a copy of a product record captured at transaction
// time. Historical entries stay stable even if the catalog later changes
// or deletes the product.
type ProductSnapshot struct {
	EAN         string
	Name        string
	Description string
	Images      []string
	Price       decimal.Decimal // strictly positive
}

// Clone returns a deep copy so stored entries never alias caller slices.
func (p *ProductSnapshot) Clone() *ProductSnapshot {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Images = append([]string(nil), p.Images...)
	return &cp
}

// =============================================================================
// ENTRY - Immutable ledger record
// =============================================================================

type Entry struct {
	ID        EntryID
	AccountID AccountID

	// Timestamp orders entries within one account. Strictly increasing
	// per account, assigned at creation. Unix nanoseconds.
	Timestamp int64

	Action Action

	// Amount is the signed delta applied to the balance. Sign is
	// constrained by Action.
	Amount decimal.Decimal

	// Result is the account balance immediately after this entry.
	// Computed by the processor, never supplied by callers.
	Result decimal.Decimal

	// Product is set if and only if Action == ActionBuyProduct.
	Product *ProductSnapshot

	CreatedAt time.Time
}

// =============================================================================
// SUBMIT REQUEST - Decoded external transaction request
// =============================================================================

// SubmitRequest is the typed form of a validated transaction payload.
type SubmitRequest struct {
	AccountID AccountID
	Action    Action

	// Amount is nil when the caller did not supply transaction_amount.
	// Forbidden for BUY_PRODUCT; required for DEPOSIT and WITHDRAW.
	Amount *decimal.Decimal

	// ProductEAN is the identifying key of the product to buy. Only the
	// key is honored; any other product fields the caller supplies are
	// overridden by the catalog snapshot.
	ProductEAN string
}
