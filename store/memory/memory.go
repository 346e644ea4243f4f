/*
Package memory provides the in-memory store implementation (tests/dev).

Implements every store interface the domain packages define
(ledger.EntryStore, accounts.Store, products.Store, mappings.Store) the
same way the durable backends do, guarded by one RWMutex. The mutex also
makes the conditional append atomic, which is exactly the contract the
ledger's optimistic concurrency relies on.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
)

type Store struct {
	mu sync.RWMutex

	entriesByAccount map[ledger.AccountID][]ledger.Entry
	entriesByID      map[ledger.EntryID]ledger.Entry

	accounts map[string]accounts.Account
	products map[string]products.Product
	mappings map[string]mappings.MediaMapping
}

func New() *Store {
	return &Store{
		entriesByAccount: make(map[ledger.AccountID][]ledger.Entry),
		entriesByID:      make(map[ledger.EntryID]ledger.Entry),
		accounts:         make(map[string]accounts.Account),
		products:         make(map[string]products.Product),
		mappings:         make(map[string]mappings.MediaMapping),
	}
}

// =============================================================================
// LEDGER ENTRIES - ledger.EntryStore
// =============================================================================

func (s *Store) AppendIf(_ context.Context, entry ledger.Entry, prev ledger.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entriesByID[entry.ID]; exists {
		return fmt.Errorf("%w: entry id %s already exists", ledger.ErrConflict, entry.ID)
	}

	list := s.entriesByAccount[entry.AccountID]
	if len(list) == 0 {
		if prev != (ledger.Position{}) {
			return fmt.Errorf("%w: account %s has no entries but position expected %s",
				ledger.ErrConflict, entry.AccountID, prev.LatestID)
		}
	} else {
		head := list[len(list)-1]
		if head.ID != prev.LatestID || head.Timestamp != prev.LatestTimestamp {
			return fmt.Errorf("%w: latest entry for account %s moved from %s to %s",
				ledger.ErrConflict, entry.AccountID, prev.LatestID, head.ID)
		}
	}

	stored := cloneEntry(entry)
	s.entriesByAccount[entry.AccountID] = append(list, stored)
	s.entriesByID[entry.ID] = stored
	return nil
}

func (s *Store) Latest(_ context.Context, accountID ledger.AccountID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entriesByAccount[accountID]
	if len(list) == 0 {
		return nil, nil
	}
	entry := cloneEntry(list[len(list)-1])
	return &entry, nil
}

func (s *Store) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entriesByID[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "entry", Key: string(id)}
	}
	cp := cloneEntry(entry)
	return &cp, nil
}

func (s *Store) ListByAccount(_ context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entriesByAccount[accountID]
	result := make([]ledger.Entry, len(list))
	for i, entry := range list {
		result[i] = cloneEntry(entry)
	}
	return result, nil
}

func (s *Store) ListEntries(_ context.Context, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, 0, len(s.entriesByID))
	for _, entry := range s.entriesByID {
		result = append(result, cloneEntry(entry))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneEntry(e ledger.Entry) ledger.Entry {
	e.Product = e.Product.Clone()
	return e
}

// =============================================================================
// ACCOUNTS - accounts.Store
// =============================================================================

func (s *Store) PutAccount(_ context.Context, account accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account id %s already exists", ledger.ErrConflict, account.ID)
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) UpdateAccount(_ context.Context, account accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; !exists {
		return &ledger.NotFoundError{Kind: "account", Key: account.ID}
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "account", Key: id}
	}
	return &account, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]accounts.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return &ledger.NotFoundError{Kind: "account", Key: id}
	}
	delete(s.accounts, id)
	return nil
}

// =============================================================================
// PRODUCTS - products.Store
// =============================================================================

func (s *Store) PutProduct(_ context.Context, product products.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Images = append([]string(nil), product.Images...)
	s.products[product.EAN] = product
	return nil
}

func (s *Store) GetProduct(_ context.Context, ean string) (*products.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[ean]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "product", Key: ean}
	}
	product.Images = append([]string(nil), product.Images...)
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]products.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]products.Product, 0, len(s.products))
	for _, product := range s.products {
		product.Images = append([]string(nil), product.Images...)
		result = append(result, product)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EAN < result[j].EAN })
	return result, nil
}

func (s *Store) DeleteProduct(_ context.Context, ean string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[ean]; !ok {
		return &ledger.NotFoundError{Kind: "product", Key: ean}
	}
	delete(s.products, ean)
	return nil
}

// =============================================================================
// MEDIA MAPPINGS - mappings.Store
// =============================================================================

func (s *Store) PutMapping(_ context.Context, mapping mappings.MediaMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mappings[mapping.ID]; exists {
		return fmt.Errorf("%w: mapping id %s already exists", ledger.ErrConflict, mapping.ID)
	}
	s.mappings[mapping.ID] = mapping
	return nil
}

func (s *Store) GetMapping(_ context.Context, id string) (*mappings.MediaMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapping, ok := s.mappings[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "mapping", Key: id}
	}
	return &mapping, nil
}

func (s *Store) FindByMedia(_ context.Context, mediaType, mediaIdentification string) (*mappings.MediaMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, mapping := range s.mappings {
		if mapping.MediaType == mediaType && mapping.MediaIdentification == mediaIdentification {
			cp := mapping
			return &cp, nil
		}
	}
	return nil, &ledger.NotFoundError{Kind: "mapping", Key: mediaType + "/" + mediaIdentification}
}

func (s *Store) ListMappings(_ context.Context) ([]mappings.MediaMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]mappings.MediaMapping, 0, len(s.mappings))
	for _, mapping := range s.mappings {
		result = append(result, mapping)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteMapping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[id]; !ok {
		return &ledger.NotFoundError{Kind: "mapping", Key: id}
	}
	delete(s.mappings, id)
	return nil
}
