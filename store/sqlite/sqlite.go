/*
Package sqlite provides the SQLite-backed store implementation.

PURPOSE:
  Implements every store interface (ledger.EntryStore, accounts.Store,
  products.Store, mappings.Store) on one SQLite database. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the entries table.
  Corrections are new corrective entries.

CONDITIONAL APPEND:
  AppendIf runs inside a single transaction: read the account's current
  latest entry, compare against the caller's Position, insert. A writer
  mutex serializes appends so the read-compare-insert is atomic; the
  UNIQUE(account_id, timestamp) constraint and the id primary key back
  the same guarantee at the schema level.

WAL MODE:
  The database is opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/kiosk.db")  // ":memory:" for tests
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes conditional appends
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		action TEXT NOT NULL,
		amount INTEGER NOT NULL,
		result INTEGER NOT NULL,
		product_json TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(account_id, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_account_timestamp
		ON entries(account_id, timestamp);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		fullname TEXT NOT NULL,
		street TEXT NOT NULL,
		post_code TEXT NOT NULL,
		city TEXT NOT NULL,
		pin TEXT NOT NULL,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS products (
		ean TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		images_json TEXT,
		price INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS media_mappings (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		media_type TEXT NOT NULL,
		media_identification TEXT NOT NULL,
		device_type TEXT,
		device_name TEXT,
		created_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_mappings_media
		ON media_mappings(media_identification, media_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER ENTRIES - ledger.EntryStore
// =============================================================================

func (s *Store) AppendIf(ctx context.Context, entry ledger.Entry, prev ledger.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var headID string
	var headTimestamp int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, timestamp FROM entries WHERE account_id = ? ORDER BY timestamp DESC LIMIT 1`,
		string(entry.AccountID)).Scan(&headID, &headTimestamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if prev != (ledger.Position{}) {
			return fmt.Errorf("%w: account %s has no entries but position expected %s",
				ledger.ErrConflict, entry.AccountID, prev.LatestID)
		}
	case err != nil:
		return err
	default:
		if headID != string(prev.LatestID) || headTimestamp != prev.LatestTimestamp {
			return fmt.Errorf("%w: latest entry for account %s moved from %s to %s",
				ledger.ErrConflict, entry.AccountID, prev.LatestID, headID)
		}
	}

	productJSON, err := marshalProduct(entry.Product)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, account_id, timestamp, action, amount, result, product_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entry.ID), string(entry.AccountID), entry.Timestamp, string(entry.Action),
		entry.Amount.IntPart(), entry.Result.IntPart(), productJSON,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		// The id primary key doubles as the collision safety net.
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) Latest(ctx context.Context, accountID ledger.AccountID) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, timestamp, action, amount, result, product_json, created_at
		 FROM entries WHERE account_id = ? ORDER BY timestamp DESC LIMIT 1`,
		string(accountID))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, timestamp, action, amount, result, product_json, created_at
		 FROM entries WHERE id = ?`, string(id))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "entry", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	return s.queryEntries(ctx,
		`SELECT id, account_id, timestamp, action, amount, result, product_json, created_at
		 FROM entries WHERE account_id = ? ORDER BY timestamp ASC`, string(accountID))
}

func (s *Store) ListEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		return s.queryEntries(ctx,
			`SELECT id, account_id, timestamp, action, amount, result, product_json, created_at
			 FROM entries ORDER BY timestamp ASC`)
	}
	return s.queryEntries(ctx,
		`SELECT id, account_id, timestamp, action, amount, result, product_json, created_at
		 FROM entries ORDER BY timestamp ASC LIMIT ?`, limit)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *entry)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		id, accountID, action, createdAt string
		timestamp, amount, result        int64
		productJSON                      sql.NullString
	)
	if err := row.Scan(&id, &accountID, &timestamp, &action, &amount, &result, &productJSON, &createdAt); err != nil {
		return nil, err
	}

	entry := ledger.Entry{
		ID:        ledger.EntryID(id),
		AccountID: ledger.AccountID(accountID),
		Timestamp: timestamp,
		Action:    ledger.Action(action),
		Amount:    decimal.NewFromInt(amount),
		Result:    decimal.NewFromInt(result),
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = ts
	}
	if productJSON.Valid {
		product, err := unmarshalProduct(productJSON.String)
		if err != nil {
			return nil, err
		}
		entry.Product = product
	}
	return &entry, nil
}

// Product snapshots ride through the wire codec so the stored form stays
// identical across backends.
func marshalProduct(p *ledger.ProductSnapshot) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ledger.WireProduct{
		EAN:         p.EAN,
		Name:        p.Name,
		Description: p.Description,
		Images:      p.Images,
		Price:       p.Price.IntPart(),
	})
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalProduct(data string) (*ledger.ProductSnapshot, error) {
	var w ledger.WireProduct
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, err
	}
	return &ledger.ProductSnapshot{
		EAN:         w.EAN,
		Name:        w.Name,
		Description: w.Description,
		Images:      w.Images,
		Price:       decimal.NewFromInt(w.Price),
	}, nil
}

// =============================================================================
// ACCOUNTS - accounts.Store
// =============================================================================

func (s *Store) PutAccount(ctx context.Context, account accounts.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, fullname, street, post_code, city, pin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.FullName, account.Street, account.PostCode,
		account.City, account.PIN, account.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	}
	return err
}

func (s *Store) UpdateAccount(ctx context.Context, account accounts.Account) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET fullname = ?, street = ?, post_code = ?, city = ?, pin = ?
		 WHERE id = ?`,
		account.FullName, account.Street, account.PostCode, account.City,
		account.PIN, account.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ledger.NotFoundError{Kind: "account", Key: account.ID}
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*accounts.Account, error) {
	var account accounts.Account
	var createdAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, fullname, street, post_code, city, pin, created_at FROM accounts WHERE id = ?`,
		id).Scan(&account.ID, &account.FullName, &account.Street, &account.PostCode,
		&account.City, &account.PIN, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "account", Key: id}
	}
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
			account.CreatedAt = ts
		}
	}
	return &account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]accounts.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fullname, street, post_code, city, pin, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []accounts.Account
	for rows.Next() {
		var account accounts.Account
		var createdAt sql.NullString
		if err := rows.Scan(&account.ID, &account.FullName, &account.Street,
			&account.PostCode, &account.City, &account.PIN, &createdAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
				account.CreatedAt = ts
			}
		}
		result = append(result, account)
	}
	return result, rows.Err()
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ledger.NotFoundError{Kind: "account", Key: id}
	}
	return nil
}

// =============================================================================
// PRODUCTS - products.Store
// =============================================================================

func (s *Store) PutProduct(ctx context.Context, product products.Product) error {
	imagesJSON, err := json.Marshal(product.Images)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (ean, name, description, images_json, price) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(ean) DO UPDATE SET name = excluded.name, description = excluded.description,
		 images_json = excluded.images_json, price = excluded.price`,
		product.EAN, product.Name, product.Description, string(imagesJSON), product.Price.IntPart())
	return err
}

func (s *Store) GetProduct(ctx context.Context, ean string) (*products.Product, error) {
	var product products.Product
	var imagesJSON sql.NullString
	var price int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ean, name, description, images_json, price FROM products WHERE ean = ?`,
		ean).Scan(&product.EAN, &product.Name, &product.Description, &imagesJSON, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "product", Key: ean}
	}
	if err != nil {
		return nil, err
	}
	product.Price = decimal.NewFromInt(price)
	if imagesJSON.Valid && imagesJSON.String != "" {
		if err := json.Unmarshal([]byte(imagesJSON.String), &product.Images); err != nil {
			return nil, err
		}
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]products.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ean, name, description, images_json, price FROM products ORDER BY ean`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []products.Product
	for rows.Next() {
		var product products.Product
		var imagesJSON sql.NullString
		var price int64
		if err := rows.Scan(&product.EAN, &product.Name, &product.Description, &imagesJSON, &price); err != nil {
			return nil, err
		}
		product.Price = decimal.NewFromInt(price)
		if imagesJSON.Valid && imagesJSON.String != "" {
			if err := json.Unmarshal([]byte(imagesJSON.String), &product.Images); err != nil {
				return nil, err
			}
		}
		result = append(result, product)
	}
	return result, rows.Err()
}

func (s *Store) DeleteProduct(ctx context.Context, ean string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE ean = ?`, ean)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ledger.NotFoundError{Kind: "product", Key: ean}
	}
	return nil
}

// =============================================================================
// MEDIA MAPPINGS - mappings.Store
// =============================================================================

func (s *Store) PutMapping(ctx context.Context, mapping mappings.MediaMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_mappings (id, account_id, media_type, media_identification, device_type, device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mapping.ID, mapping.AccountID, mapping.MediaType, mapping.MediaIdentification,
		mapping.DeviceType, mapping.DeviceName, mapping.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	}
	return err
}

func (s *Store) GetMapping(ctx context.Context, id string) (*mappings.MediaMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, media_type, media_identification, device_type, device_name, created_at
		 FROM media_mappings WHERE id = ?`, id)
	mapping, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "mapping", Key: id}
	}
	return mapping, err
}

func (s *Store) FindByMedia(ctx context.Context, mediaType, mediaIdentification string) (*mappings.MediaMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, media_type, media_identification, device_type, device_name, created_at
		 FROM media_mappings WHERE media_identification = ? AND media_type = ? LIMIT 1`,
		mediaIdentification, mediaType)
	mapping, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "mapping", Key: mediaType + "/" + mediaIdentification}
	}
	return mapping, err
}

func (s *Store) ListMappings(ctx context.Context) ([]mappings.MediaMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, media_type, media_identification, device_type, device_name, created_at
		 FROM media_mappings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []mappings.MediaMapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *mapping)
	}
	return result, rows.Err()
}

func (s *Store) DeleteMapping(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_mappings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ledger.NotFoundError{Kind: "mapping", Key: id}
	}
	return nil
}

func scanMapping(row rowScanner) (*mappings.MediaMapping, error) {
	var mapping mappings.MediaMapping
	var deviceType, deviceName, createdAt sql.NullString
	if err := row.Scan(&mapping.ID, &mapping.AccountID, &mapping.MediaType,
		&mapping.MediaIdentification, &deviceType, &deviceName, &createdAt); err != nil {
		return nil, err
	}
	mapping.DeviceType = deviceType.String
	mapping.DeviceName = deviceName.String
	if createdAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
			mapping.CreatedAt = ts
		}
	}
	return &mapping, nil
}
