package sqlite_test

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
	"github.com/warp/kiosk-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

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

func TestAppendIf_HeadCompare(t *testing.T) {
	// GIVEN: An account whose head is e1
	// THEN: Appends conditioned on e1 succeed once; stale positions fail

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{}))

	head := ledger.Position{LatestID: "e1", LatestTimestamp: 10}
	require.NoError(t, store.AppendIf(ctx, entry("e2", "acc", 20, 50, 150), head))

	err := store.AppendIf(ctx, entry("e3", "acc", 21, 50, 150), head)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestAppendIf_EmptyAccountRejectsNonZeroPosition(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendIf(context.Background(), entry("e1", "acc", 10, 100, 100),
		ledger.Position{LatestID: "ghost", LatestTimestamp: 5})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestAppendIf_DuplicateID_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{}))
	err := store.AppendIf(ctx, entry("e1", "other", 10, 100, 100), ledger.Position{})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

// =============================================================================
// PERSISTENCE ROUND-TRIP
// =============================================================================

func TestEntry_ProductSnapshotSurvivesStorage(t *testing.T) {
	// GIVEN: A purchase entry with a full snapshot
	// THEN: It reads back field for field

	store := newTestStore(t)
	ctx := context.Background()

	e := entry("e1", "acc", 10, -250, -250)
	e.Action = ledger.ActionBuyProduct
	e.Product = &ledger.ProductSnapshot{
		EAN:         "12345678",
		Name:        "Club Mate",
		Description: "0.5l bottle",
		Images:      []string{"a.png", "b.png"},
		Price:       decimal.NewFromInt(250),
	}
	require.NoError(t, store.AppendIf(ctx, e, ledger.Position{}))

	got, err := store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionBuyProduct, got.Action)
	require.NotNil(t, got.Product)
	assert.Equal(t, "Club Mate", got.Product.Name)
	assert.Equal(t, []string{"a.png", "b.png"}, got.Product.Images)
	assert.True(t, got.Product.Price.Equal(decimal.NewFromInt(250)))
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(-250)))
}

func TestLatest_EmptyAccount_NilNoError(t *testing.T) {
	store := newTestStore(t)
	latest, err := store.Latest(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestListByAccount_OrderedByTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendIf(ctx, entry("e1", "acc", 10, 100, 100), ledger.Position{}))
	require.NoError(t, store.AppendIf(ctx, entry("e2", "acc", 20, 50, 150),
		ledger.Position{LatestID: "e1", LatestTimestamp: 10}))
	require.NoError(t, store.AppendIf(ctx, entry("x1", "other", 15, 1, 1), ledger.Position{}))

	list, err := store.ListByAccount(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ledger.EntryID("e1"), list[0].ID)
	assert.Equal(t, ledger.EntryID("e2"), list[1].ID)

	all, err := store.ListEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ledger.EntryID("e1"), all[0].ID)
	assert.Equal(t, ledger.EntryID("x1"), all[1].ID)
}

// =============================================================================
// ACCOUNTS / PRODUCTS / MAPPINGS
// =============================================================================

func TestAccounts_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acc := accounts.Account{ID: "a1", FullName: "Jo Doe", Street: "Main 1",
		PostCode: "12345", City: "Springfield", PIN: "0000",
		CreatedAt: time.Now().UTC()}
	require.NoError(t, store.PutAccount(ctx, acc))
	assert.ErrorIs(t, store.PutAccount(ctx, acc), ledger.ErrConflict)

	acc.City = "Shelbyville"
	require.NoError(t, store.UpdateAccount(ctx, acc))
	got, err := store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville", got.City)
	assert.Equal(t, "0000", got.PIN)

	assert.True(t, ledger.IsNotFound(store.UpdateAccount(ctx, accounts.Account{ID: "ghost"})))

	list, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteAccount(ctx, "a1"))
	assert.True(t, ledger.IsNotFound(store.DeleteAccount(ctx, "a1")))
}

func TestProducts_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutProduct(ctx, products.Product{
		EAN: "12345678", Name: "Mate", Images: []string{"a.png"},
		Price: decimal.NewFromInt(250)}))
	require.NoError(t, store.PutProduct(ctx, products.Product{
		EAN: "12345678", Name: "Mate", Price: decimal.NewFromInt(300)}))

	got, err := store.GetProduct(ctx, "12345678")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(300)))

	_, err = store.GetProduct(ctx, "00000000")
	assert.True(t, ledger.IsNotFound(err))
}

func TestMappings_CRUDAndFindByMedia(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := mappings.MediaMapping{ID: "m1", AccountID: "a1",
		MediaType: "RFID_ID", MediaIdentification: "04:A3:1B",
		DeviceType: "TERMINAL", DeviceName: "kitchen",
		CreatedAt: time.Now().UTC()}
	require.NoError(t, store.PutMapping(ctx, m))
	assert.ErrorIs(t, store.PutMapping(ctx, m), ledger.ErrConflict)

	found, err := store.FindByMedia(ctx, "RFID_ID", "04:A3:1B")
	require.NoError(t, err)
	assert.Equal(t, "m1", found.ID)
	assert.Equal(t, "kitchen", found.DeviceName)

	_, err = store.FindByMedia(ctx, "QR_CODE_EXACT_MATCH", "04:A3:1B")
	assert.True(t, ledger.IsNotFound(err))

	require.NoError(t, store.DeleteMapping(ctx, "m1"))
	assert.True(t, ledger.IsNotFound(store.DeleteMapping(ctx, "m1")))
}
