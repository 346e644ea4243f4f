/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the contract between the ledger core and the ordered key-value
  store that persists entries. Implementations live under store/ (memory,
  sqlite, redis).

APPEND-ONLY CONTRACT:
  - AppendIf() is the ONLY write operation
  - No Update() or Delete() methods exist
  - Corrections are new entries with corrective actions

CONDITIONAL APPEND:
  AppendIf carries the Position (latest entry id + timestamp) the caller
  observed when it read the balance. The store must reject the append
  with ErrConflict if the account's latest entry has moved since, or if
  an entry with the same id already exists. This compare-and-swap on the
  "latest entry" pointer is what makes balance-read-then-append safe
  under concurrent writers.

CONSISTENCY:
  Latest() must be strongly consistent: it observes every append that
  completed before the read began. A stale read here loses updates.
*/
package ledger

import "context"

// Position identifies the latest entry observed for an account at
// balance-read time. The zero value means "account had no entries".
type Position struct {
	LatestID        EntryID
	LatestTimestamp int64
}

// EntryStore persists ledger entries. Append-only.
type EntryStore interface {
	// AppendIf persists entry only if the account's current latest entry
	// matches prev and no entry with the same id exists. Returns an
	// error wrapping ErrConflict otherwise.
	AppendIf(ctx context.Context, entry Entry, prev Position) error

	// Latest returns the entry with the greatest timestamp for the
	// account, under a strongly consistent read. Returns (nil, nil)
	// when the account has no entries.
	Latest(ctx context.Context, accountID AccountID) (*Entry, error)

	// GetEntry returns the entry with the given id, or an error
	// wrapping ErrNotFound.
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)

	// ListByAccount returns all entries for the account in ascending
	// timestamp order.
	ListByAccount(ctx context.Context, accountID AccountID) ([]Entry, error)

	// ListEntries returns up to limit entries across all accounts.
	// limit <= 0 means no limit.
	ListEntries(ctx context.Context, limit int) ([]Entry, error)
}
