/*
Package accounts manages the account collection and exposes the
existence probe the ledger core depends on.

The ledger never owns accounts: it only needs to know whether an
account_id refers to a real account before accepting a transaction.
Everything else here is the thin CRUD surface around the same store.
*/
package accounts

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/schema"
)

// Account is a kiosk customer record.
type Account struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullname"`
	Street    string    `json:"street"`
	PostCode  string    `json:"post_code"`
	City      string    `json:"city"`
	PIN       string    `json:"pin"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Store persists accounts. Implementations live under store/.
type Store interface {
	// PutAccount creates the account. Fails with a conflict when the id
	// already exists.
	PutAccount(ctx context.Context, account Account) error

	// UpdateAccount replaces the account only if it already exists;
	// otherwise returns an error wrapping ledger.ErrNotFound.
	UpdateAccount(ctx context.Context, account Account) error

	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// =============================================================================
// SCHEMA
// =============================================================================

var pinPattern = regexp.MustCompile(`^[0-9]{4,8}$`)

// PutSchema validates account create/update payloads. A caller-supplied
// id is tolerated on create but always overridden by a generated uuid.
var PutSchema = &schema.Schema{
	Fields: map[string]schema.Field{
		"id":        {Type: schema.TypeString},
		"fullname":  {Type: schema.TypeString, Required: true},
		"street":    {Type: schema.TypeString, Required: true},
		"post_code": {Type: schema.TypeString, Required: true},
		"city":      {Type: schema.TypeString, Required: true},
		"pin":       {Type: schema.TypeString, Required: true, Pattern: pinPattern},
	},
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the CRUD surface consumed by the API layer.
type Service struct {
	Store Store
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

// Create validates the payload and stores a new account under a fresh id.
func (s *Service) Create(ctx context.Context, payload map[string]any) (Account, error) {
	if violations := PutSchema.Validate(payload); len(violations) > 0 {
		return Account{}, &ledger.SchemaError{Violations: violations}
	}

	account := decodeAccount(payload)
	account.ID = uuid.NewString()
	account.CreatedAt = time.Now().UTC()

	if err := s.Store.PutAccount(ctx, account); err != nil {
		return Account{}, ledger.WrapStore("create account", err)
	}
	return account, nil
}

// Update replaces an existing account. Unknown ids fail with NotFound.
func (s *Service) Update(ctx context.Context, id string, payload map[string]any) (Account, error) {
	if violations := PutSchema.Validate(payload); len(violations) > 0 {
		return Account{}, &ledger.SchemaError{Violations: violations}
	}

	account := decodeAccount(payload)
	account.ID = id

	if err := s.Store.UpdateAccount(ctx, account); err != nil {
		if ledger.IsNotFound(err) {
			return Account{}, &ledger.NotFoundError{Kind: "account", Key: id}
		}
		return Account{}, ledger.WrapStore("update account", err)
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	account, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, &ledger.NotFoundError{Kind: "account", Key: id}
		}
		return nil, ledger.WrapStore("get account", err)
	}
	return account, nil
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	list, err := s.Store.ListAccounts(ctx)
	if err != nil {
		return nil, ledger.WrapStore("list accounts", err)
	}
	return list, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Store.DeleteAccount(ctx, id); err != nil {
		if ledger.IsNotFound(err) {
			return &ledger.NotFoundError{Kind: "account", Key: id}
		}
		return ledger.WrapStore("delete account", err)
	}
	return nil
}

func decodeAccount(payload map[string]any) Account {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	return Account{
		FullName: str("fullname"),
		Street:   str("street"),
		PostCode: str("post_code"),
		City:     str("city"),
		PIN:      str("pin"),
	}
}

// =============================================================================
// DIRECTORY - Existence adapter for the ledger core
// =============================================================================

// Directory adapts the account store to ledger.AccountChecker. Read-only.
type Directory struct {
	Store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{Store: store}
}

func (d *Directory) Exists(ctx context.Context, id ledger.AccountID) (bool, error) {
	_, err := d.Store.GetAccount(ctx, string(id))
	if err != nil {
		if ledger.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
