/*
balance.go - Balance resolution

PURPOSE:
  Answers "what is this account's balance right now?". The balance is
  the transaction_result of the account's most recent entry, read under
  the store's strongly consistent latest-by-timestamp query. Accounts
  with no entries have balance 0.

  Resolution never replays the full history: the prefix-sum invariant
  guarantees the latest result already is the running total.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Resolver resolves account balances from the entry store. Read-only.
type Resolver struct {
	Store EntryStore
}

func NewResolver(store EntryStore) *Resolver {
	return &Resolver{Store: store}
}

// CurrentBalance returns the balance of the account: the result of its
// latest entry, or 0 when no entries exist.
func (r *Resolver) CurrentBalance(ctx context.Context, accountID AccountID) (decimal.Decimal, error) {
	balance, _, err := r.current(ctx, accountID)
	return balance, err
}

// current returns the balance together with the Position of the latest
// entry, for use as the conditional-append predicate.
func (r *Resolver) current(ctx context.Context, accountID AccountID) (decimal.Decimal, Position, error) {
	latest, err := r.Store.Latest(ctx, accountID)
	if err != nil {
		return decimal.Zero, Position{}, WrapStore("read latest entry", err)
	}
	if latest == nil {
		return decimal.Zero, Position{}, nil
	}
	return latest.Result, Position{LatestID: latest.ID, LatestTimestamp: latest.Timestamp}, nil
}

// History returns all entries for the account in timestamp order.
func (r *Resolver) History(ctx context.Context, accountID AccountID) ([]Entry, error) {
	entries, err := r.Store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, WrapStore("list entries", err)
	}
	return entries, nil
}
