package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
	"github.com/warp/kiosk-ledger/store/memory"
)

func entry(id, account string, ts int64, amount int64, result int64) ledger.Entry {
	return ledger.Entry{
		ID:        ledger.EntryID(id),
		AccountID: ledger.AccountID(account),
		Timestamp: ts,
		Action:    ledger.ActionDeposit,
		Amount:    decimal.NewFromInt(amount),
		Result:    decimal.NewFromInt(result),
		CreatedAt: time.Now().UTC(),
	}
}

// =============================================================================
// CONDITIONAL APPEND
// =============================================================================

func TestAppendIf_EmptyAccount_ZeroPosition(t *testing.T) {
	// GIVEN: An account with no entries
	// THEN: Only the zero Position is accepted

	store := memory.New()
	ctx := context.Background()

	err := store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{})
	assert.NoError(t, err)

	err = store.AppendIf(ctx, entry("e2", "acc2", 10, 100, 100),
		ledger.Position{LatestID: "ghost", LatestTimestamp: 5})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestAppendIf_StalePosition_Rejected(t *testing.T) {
	// GIVEN: Two writers that both observed e1 as the head
	// WHEN: The second appends after the first succeeded
	// THEN: The second is rejected

	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{}))

	head := ledger.Position{LatestID: "e1", LatestTimestamp: 10}
	require.NoError(t, store.AppendIf(ctx, entry("e2", "acc", 20, 50, 150), head))

	err := store.AppendIf(ctx, entry("e3", "acc", 21, 50, 150), head)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestAppendIf_DuplicateID_Rejected(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{}))
	err := store.AppendIf(ctx, entry("e1", "other", 10, 100, 100), ledger.Position{})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

// =============================================================================
// READS
// =============================================================================

func TestLatest_EmptyAccount_NilNoError(t *testing.T) {
	store := memory.New()
	latest, err := store.Latest(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLatest_ReturnsHead(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{}))
	require.NoError(t, store.AppendIf(ctx, entry("e2", "acc", 20, 50, 150),
		ledger.Position{LatestID: "e1", LatestTimestamp: 10}))

	latest, err := store.Latest(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryID("e2"), latest.ID)
	assert.True(t, latest.Result.Equal(decimal.NewFromInt(150)))
}

func TestGetEntry_Missing_NotFound(t *testing.T) {
	store := memory.New()
	_, err := store.GetEntry(context.Background(), "ghost")
	assert.True(t, ledger.IsNotFound(err))
}

func TestListEntries_OrderedWithLimit(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("a1", "accA", 10, 1, 1), ledger.Position{}))
	require.NoError(t, store.AppendIf(ctx, entry("b1", "accB", 5, 2, 2), ledger.Position{}))
	require.NoError(t, store.AppendIf(ctx, entry("a2", "accA", 30, 3, 4),
		ledger.Position{LatestID: "a1", LatestTimestamp: 10}))

	all, err := store.ListEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.EntryID("b1"), all[0].ID)
	assert.Equal(t, ledger.EntryID("a1"), all[1].ID)
	assert.Equal(t, ledger.EntryID("a2"), all[2].ID)

	limited, err := store.ListEntries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStoredEntry_DoesNotAliasCallerProduct(t *testing.T) {
	// GIVEN: An appended entry whose snapshot the caller keeps mutating
	// THEN: The stored copy is unaffected

	store := memory.New()
	ctx := context.Background()

	e := entry("e1", "acc", 10, -250, -250)
	e.Action = ledger.ActionBuyProduct
	e.Product = &ledger.ProductSnapshot{
		EAN: "12345678", Name: "Club Mate",
		Images: []string{"a.png"}, Price: decimal.NewFromInt(250),
	}
	require.NoError(t, store.AppendIf(ctx, e, ledger.Position{}))

	e.Product.Name = "mutated"
	e.Product.Images[0] = "mutated"

	stored, err := store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Club Mate", stored.Product.Name)
	assert.Equal(t, "a.png", stored.Product.Images[0])
}

// =============================================================================
// ACCOUNTS / PRODUCTS / MAPPINGS
// =============================================================================

func TestAccounts_CRUD(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	acc := accounts.Account{ID: "a1", FullName: "Jo Doe", Street: "Main 1",
		PostCode: "12345", City: "Springfield", PIN: "0000"}
	require.NoError(t, store.PutAccount(ctx, acc))

	// Duplicate id is a conflict
	assert.ErrorIs(t, store.PutAccount(ctx, acc), ledger.ErrConflict)

	// Update replaces
	acc.City = "Shelbyville"
	require.NoError(t, store.UpdateAccount(ctx, acc))
	got, err := store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville", got.City)

	// Update of unknown id
	assert.True(t, ledger.IsNotFound(store.UpdateAccount(ctx,
		accounts.Account{ID: "ghost"})))

	require.NoError(t, store.DeleteAccount(ctx, "a1"))
	assert.True(t, ledger.IsNotFound(store.DeleteAccount(ctx, "a1")))
}

func TestProducts_UpsertReplaces(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.PutProduct(ctx, products.Product{
		EAN: "12345678", Name: "Mate", Price: decimal.NewFromInt(250)}))
	require.NoError(t, store.PutProduct(ctx, products.Product{
		EAN: "12345678", Name: "Mate", Price: decimal.NewFromInt(300)}))

	got, err := store.GetProduct(ctx, "12345678")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(300)))

	list, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMappings_FindByMedia(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	m := mappings.MediaMapping{ID: "m1", AccountID: "a1",
		MediaType: "RFID_ID", MediaIdentification: "04:A3:1B"}
	require.NoError(t, store.PutMapping(ctx, m))

	found, err := store.FindByMedia(ctx, "RFID_ID", "04:A3:1B")
	require.NoError(t, err)
	assert.Equal(t, "m1", found.ID)

	// Same identification under a different media type is a different medium
	_, err = store.FindByMedia(ctx, "QR_CODE_EXACT_MATCH", "04:A3:1B")
	assert.True(t, ledger.IsNotFound(err))

	require.NoError(t, store.DeleteMapping(ctx, "m1"))
	_, err = store.FindByMedia(ctx, "RFID_ID", "04:A3:1B")
	assert.True(t, ledger.IsNotFound(err))
}
