/*
Package redis provides the Redis-backed store implementation.

PURPOSE:
  Maps the store interfaces onto an ordered key-value layout:

    entry:<id>                      JSON entry body (wire codec form)
    account-entries:<account_id>    lex-ordered zset of "timestamp:id"
    entries:index                   lex-ordered zset across all accounts
    account:<id>, product:<ean>,
    mapping:<id>                    JSON record bodies
    mapping-media:<type>:<ident>    medium -> mapping id pointer

ORDERING:
  Entry members are zero-padded "timestamp:id" strings in a score-0
  sorted set, so lexicographic order is exact timestamp order. Scores
  are not used for timestamps because zset scores are doubles and lose
  nanosecond precision.

CONDITIONAL APPEND:
  AppendIf runs a Lua script that compares the current head of the
  account's sorted set against the caller's Position and inserts only on
  a match. Scripts execute atomically, which gives the compare-and-swap
  the ledger's optimistic concurrency requires. Reads against a single
  Redis node observe all completed writes, satisfying the
  strongly-consistent Latest contract.
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewFromAddr dials a Redis server and verifies the connection.
func NewFromAddr(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// =============================================================================
// KEYS
// =============================================================================

func entryKey(id ledger.EntryID) string            { return "entry:" + string(id) }
func accountEntriesKey(id ledger.AccountID) string { return "account-entries:" + string(id) }
func accountKey(id string) string                  { return "account:" + id }
func productKey(ean string) string                 { return "product:" + ean }
func mappingKey(id string) string                  { return "mapping:" + id }
func mediaKey(mediaType, ident string) string      { return "mapping-media:" + mediaType + ":" + ident }

const (
	entriesIndexKey  = "entries:index"
	accountsIndexKey = "accounts:index"
	productsIndexKey = "products:index"
	mappingsIndexKey = "mappings:index"
)

// entryMember encodes timestamp order into the zset member itself.
func entryMember(timestamp int64, id ledger.EntryID) string {
	return fmt.Sprintf("%020d:%s", timestamp, id)
}

func memberEntryID(member string) ledger.EntryID {
	if i := strings.IndexByte(member, ':'); i >= 0 {
		return ledger.EntryID(member[i+1:])
	}
	return ledger.EntryID(member)
}

// =============================================================================
// LEDGER ENTRIES - ledger.EntryStore
// =============================================================================

// appendScript: head-compare, id-uniqueness, insert. Atomic.
var appendScript = redis.NewScript(`
local head = redis.call('ZRANGE', KEYS[1], -1, -1)
if #head == 0 then
  if ARGV[1] ~= '' then return 0 end
else
  if head[1] ~= ARGV[1] then return 0 end
end
if redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
redis.call('ZADD', KEYS[1], 0, ARGV[2])
redis.call('ZADD', KEYS[3], 0, ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
return 1
`)

func (s *Store) AppendIf(ctx context.Context, entry ledger.Entry, prev ledger.Position) error {
	body, err := ledger.MarshalEntry(entry)
	if err != nil {
		return err
	}

	expectedHead := ""
	if prev != (ledger.Position{}) {
		expectedHead = entryMember(prev.LatestTimestamp, prev.LatestID)
	}

	ok, err := appendScript.Run(ctx, s.client,
		[]string{accountEntriesKey(entry.AccountID), entryKey(entry.ID), entriesIndexKey},
		expectedHead, entryMember(entry.Timestamp, entry.ID), string(body)).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: latest entry for account %s moved", ledger.ErrConflict, entry.AccountID)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, accountID ledger.AccountID) (*ledger.Entry, error) {
	members, err := s.client.ZRange(ctx, accountEntriesKey(accountID), -1, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	return s.GetEntry(ctx, memberEntryID(members[0]))
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	body, err := s.client.Get(ctx, entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &ledger.NotFoundError{Kind: "entry", Key: string(id)}
	}
	if err != nil {
		return nil, err
	}
	entry, err := ledger.UnmarshalEntry(body)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	members, err := s.client.ZRange(ctx, accountEntriesKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchEntries(ctx, members)
}

func (s *Store) ListEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := s.client.ZRange(ctx, entriesIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchEntries(ctx, members)
}

func (s *Store) fetchEntries(ctx context.Context, members []string) ([]ledger.Entry, error) {
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = entryKey(memberEntryID(member))
	}
	bodies, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]ledger.Entry, 0, len(bodies))
	for _, body := range bodies {
		str, ok := body.(string)
		if !ok {
			continue // index member without a body; skip
		}
		entry, err := ledger.UnmarshalEntry([]byte(str))
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}

// =============================================================================
// ACCOUNTS - accounts.Store
// =============================================================================

func (s *Store) PutAccount(ctx context.Context, account accounts.Account) error {
	body, err := json.Marshal(account)
	if err != nil {
		return err
	}
	created, err := s.client.SetNX(ctx, accountKey(account.ID), body, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: account id %s already exists", ledger.ErrConflict, account.ID)
	}
	return s.client.SAdd(ctx, accountsIndexKey, account.ID).Err()
}

func (s *Store) UpdateAccount(ctx context.Context, account accounts.Account) error {
	body, err := json.Marshal(account)
	if err != nil {
		return err
	}
	updated, err := s.client.SetXX(ctx, accountKey(account.ID), body, 0).Result()
	if err != nil {
		return err
	}
	if !updated {
		return &ledger.NotFoundError{Kind: "account", Key: account.ID}
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*accounts.Account, error) {
	var account accounts.Account
	if err := s.getJSON(ctx, accountKey(id), "account", id, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]accounts.Account, error) {
	ids, err := s.client.SMembers(ctx, accountsIndexKey).Result()
	if err != nil {
		return nil, err
	}
	result := make([]accounts.Account, 0, len(ids))
	for _, id := range ids {
		account, err := s.GetAccount(ctx, id)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		result = append(result, *account)
	}
	return result, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, accountKey(id)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return &ledger.NotFoundError{Kind: "account", Key: id}
	}
	return s.client.SRem(ctx, accountsIndexKey, id).Err()
}

// =============================================================================
// PRODUCTS - products.Store
// =============================================================================

func (s *Store) PutProduct(ctx context.Context, product products.Product) error {
	body, err := json.Marshal(product)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, productKey(product.EAN), body, 0).Err(); err != nil {
		return err
	}
	return s.client.SAdd(ctx, productsIndexKey, product.EAN).Err()
}

func (s *Store) GetProduct(ctx context.Context, ean string) (*products.Product, error) {
	var product products.Product
	if err := s.getJSON(ctx, productKey(ean), "product", ean, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]products.Product, error) {
	eans, err := s.client.SMembers(ctx, productsIndexKey).Result()
	if err != nil {
		return nil, err
	}
	result := make([]products.Product, 0, len(eans))
	for _, ean := range eans {
		product, err := s.GetProduct(ctx, ean)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		result = append(result, *product)
	}
	return result, nil
}

func (s *Store) DeleteProduct(ctx context.Context, ean string) error {
	deleted, err := s.client.Del(ctx, productKey(ean)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return &ledger.NotFoundError{Kind: "product", Key: ean}
	}
	return s.client.SRem(ctx, productsIndexKey, ean).Err()
}

// =============================================================================
// MEDIA MAPPINGS - mappings.Store
// =============================================================================

// mappingScript rejects the insert when either the id or the medium is
// already taken, atomically with both writes.
var mappingScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
return 1
`)

func (s *Store) PutMapping(ctx context.Context, mapping mappings.MediaMapping) error {
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	ok, err := mappingScript.Run(ctx, s.client,
		[]string{
			mappingKey(mapping.ID),
			mediaKey(mapping.MediaType, mapping.MediaIdentification),
			mappingsIndexKey,
		},
		string(body), mapping.ID).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: mapping %s or its medium already exists", ledger.ErrConflict, mapping.ID)
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, id string) (*mappings.MediaMapping, error) {
	var mapping mappings.MediaMapping
	if err := s.getJSON(ctx, mappingKey(id), "mapping", id, &mapping); err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *Store) FindByMedia(ctx context.Context, mediaType, mediaIdentification string) (*mappings.MediaMapping, error) {
	id, err := s.client.Get(ctx, mediaKey(mediaType, mediaIdentification)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &ledger.NotFoundError{Kind: "mapping", Key: mediaType + "/" + mediaIdentification}
	}
	if err != nil {
		return nil, err
	}
	return s.GetMapping(ctx, id)
}

func (s *Store) ListMappings(ctx context.Context) ([]mappings.MediaMapping, error) {
	ids, err := s.client.SMembers(ctx, mappingsIndexKey).Result()
	if err != nil {
		return nil, err
	}
	result := make([]mappings.MediaMapping, 0, len(ids))
	for _, id := range ids {
		mapping, err := s.GetMapping(ctx, id)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		result = append(result, *mapping)
	}
	return result, nil
}

func (s *Store) DeleteMapping(ctx context.Context, id string) error {
	mapping, err := s.GetMapping(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, mappingKey(id),
		mediaKey(mapping.MediaType, mapping.MediaIdentification)).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, mappingsIndexKey, id).Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) getJSON(ctx context.Context, key, kind, id string, dest any) error {
	body, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &ledger.NotFoundError{Kind: kind, Key: id}
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}
