package products_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/products"
	"github.com/warp/kiosk-ledger/store/memory"
)

func validPayload() map[string]any {
	return map[string]any{
		"ean":         "12345678",
		"name":        "Club Mate",
		"description": "0.5l bottle",
		"images":      []any{"https://img.example/mate.png"},
		"price":       json.Number("250"),
	}
}

func TestUpsert_StoresProduct(t *testing.T) {
	svc := products.NewService(memory.New())
	ctx := context.Background()

	product, err := svc.Upsert(ctx, validPayload())
	require.NoError(t, err)
	assert.Equal(t, "12345678", product.EAN)
	assert.True(t, product.Price.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, []string{"https://img.example/mate.png"}, product.Images)

	got, err := svc.Get(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, "Club Mate", got.Name)
}

func TestUpsert_SameEAN_Replaces(t *testing.T) {
	svc := products.NewService(memory.New())
	ctx := context.Background()

	_, err := svc.Upsert(ctx, validPayload())
	require.NoError(t, err)

	payload := validPayload()
	payload["price"] = json.Number("300")
	_, err = svc.Upsert(ctx, payload)
	require.NoError(t, err)

	got, err := svc.Get(ctx, "12345678")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(300)))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpsert_NonPositivePrice_Rejected(t *testing.T) {
	// Prices are strictly positive integers; the sign of a purchase comes
	// from the ledger, never the catalog.
	svc := products.NewService(memory.New())

	for _, price := range []string{"0", "-250"} {
		payload := validPayload()
		payload["price"] = json.Number(price)

		_, err := svc.Upsert(context.Background(), payload)

		var schemaErr *ledger.SchemaError
		require.ErrorAs(t, err, &schemaErr, "price %s", price)
		assert.Equal(t, "price", schemaErr.Violations[0].Field)
		assert.Equal(t, "range", schemaErr.Violations[0].Code)
	}
}

func TestUpsert_BadEAN_Rejected(t *testing.T) {
	svc := products.NewService(memory.New())

	payload := validPayload()
	payload["ean"] = "12ab"

	_, err := svc.Upsert(context.Background(), payload)

	var schemaErr *ledger.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "ean", schemaErr.Violations[0].Field)
	assert.Equal(t, "pattern", schemaErr.Violations[0].Code)
}

func TestGet_Unknown_NotFound(t *testing.T) {
	svc := products.NewService(memory.New())
	_, err := svc.Get(context.Background(), "00000000")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// ORACLE
// =============================================================================

func TestOracle_Lookup_ReturnsSnapshotCopy(t *testing.T) {
	// The snapshot the oracle hands out must not alias catalog state.
	store := memory.New()
	svc := products.NewService(store)
	oracle := products.NewOracle(store)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, validPayload())
	require.NoError(t, err)

	snapshot, err := oracle.Lookup(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, "Club Mate", snapshot.Name)
	assert.True(t, snapshot.Price.Equal(decimal.NewFromInt(250)))

	snapshot.Images[0] = "mutated"
	got, err := svc.Get(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/mate.png", got.Images[0])
}

func TestOracle_Lookup_Unknown_NotFound(t *testing.T) {
	oracle := products.NewOracle(memory.New())
	_, err := oracle.Lookup(context.Background(), "00000000")
	assert.True(t, ledger.IsNotFound(err))
}
