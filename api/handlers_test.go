/*
handlers_test.go - End-to-end tests for the HTTP surface

Exercises the full stack (router, handlers, domain services, ledger
processor) against the in-memory store, checking status codes and
response bodies for the happy paths and every error status the taxonomy
maps.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/api"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
	"github.com/warp/kiosk-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	processor := ledger.NewProcessor(
		store,
		accounts.NewDirectory(store),
		products.NewOracle(store),
		ledger.SubmitSchema,
	)
	handler := api.NewHandler(processor, store,
		accounts.NewService(store), products.NewService(store),
		mappings.NewService(store), zerolog.Nop())

	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		_ = dec.Decode(&decoded)
	}
	return resp, decoded
}

func createAccount(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/accounts", map[string]any{
		"fullname":  "Jo Doe",
		"street":    "Main St 1",
		"post_code": "12345",
		"city":      "Springfield",
		"pin":       "4711",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func createProduct(t *testing.T, server *httptest.Server, ean string, price int64) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/products", map[string]any{
		"ean":   ean,
		"name":  "Club Mate",
		"price": price,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func number(t *testing.T, body map[string]any, key string) int64 {
	t.Helper()
	n, ok := body[key].(json.Number)
	require.True(t, ok, "field %s should be a number, got %T", key, body[key])
	v, err := n.Int64()
	require.NoError(t, err)
	return v
}

// =============================================================================
// TRANSACTION FLOW
// =============================================================================

func TestAPI_DepositWithdrawBalance(t *testing.T) {
	// GIVEN: A registered account
	// WHEN: Depositing 1000 and withdrawing 300 over the API
	// THEN: Entries carry running results and the balance endpoint agrees

	server := newTestServer(t)
	accountID := createAccount(t, server)

	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID, "action": "DEPOSIT", "transaction_amount": 1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1000), number(t, body, "transaction_amount"))
	assert.Equal(t, int64(1000), number(t, body, "transaction_result"))
	assert.NotEmpty(t, body["id"])

	resp, body = doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID, "action": "WITHDRAW", "transaction_amount": -300,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(700), number(t, body, "transaction_result"))

	resp, body = doJSON(t, http.MethodGet,
		server.URL+"/api/transactions/account/"+accountID+"/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(700), number(t, body, "balance"))
	assert.Equal(t, accountID, body["account_id"])
}

func TestAPI_BuyProduct(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)
	createProduct(t, server, "12345678", 250)

	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID, "action": "DEPOSIT", "transaction_amount": 1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID,
		"action":     "BUY_PRODUCT",
		"product":    map[string]any{"ean": "12345678"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(-250), number(t, body, "transaction_amount"))
	assert.Equal(t, int64(750), number(t, body, "transaction_result"))

	product, ok := body["product"].(map[string]any)
	require.True(t, ok, "purchase entry should embed the product snapshot")
	assert.Equal(t, "Club Mate", product["name"])
	assert.Equal(t, int64(250), number(t, product, "price"))
}

func TestAPI_AccountHistory(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	for _, amount := range []int64{100, 200, 300} {
		resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
			"account_id": accountID, "action": "DEPOSIT", "transaction_amount": amount,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(server.URL + "/api/transactions/account/" + accountID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&entries))
	require.Len(t, entries, 3)
	assert.Equal(t, int64(600), number(t, entries[2], "transaction_result"))
}

// =============================================================================
// ERROR STATUSES
// =============================================================================

func TestAPI_SchemaViolation_422WithViolations(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id":         accountID,
		"action":             "DEPOSIT",
		"transaction_amount": 100,
		"transaction_result": 999999,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	violations, ok := body["violations"].([]any)
	require.True(t, ok, "422 body should list violations")
	require.Len(t, violations, 1)
	first := violations[0].(map[string]any)
	assert.Equal(t, "transaction_result", first["field"])
	assert.Equal(t, "forbidden", first["code"])
}

func TestAPI_WrongSign_406(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID, "action": "DEPOSIT", "transaction_amount": -100,
	})
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestAPI_UnknownAccount_404(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id":         "00000000-0000-4000-8000-000000000000",
		"action":             "DEPOSIT",
		"transaction_amount": 100,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Balance_UnknownAccount_404(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet,
		server.URL+"/api/transactions/account/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Balance_NoEntries_Zero(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	resp, body := doJSON(t, http.MethodGet,
		server.URL+"/api/transactions/account/"+accountID+"/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), number(t, body, "balance"))
}

func TestAPI_BuyProduct_UnknownEAN_404(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID,
		"action":     "BUY_PRODUCT",
		"product":    map[string]any{"ean": "99999999"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DeleteTransaction_501(t *testing.T) {
	// Ledger entries cannot be deleted, even ones that exist.
	server := newTestServer(t)
	accountID := createAccount(t, server)

	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/transactions", map[string]any{
		"account_id": accountID, "action": "DEPOSIT", "transaction_amount": 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entryID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodDelete,
		fmt.Sprintf("%s/api/transactions/%s", server.URL, entryID), nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAPI_MalformedJSON_400(t *testing.T) {
	server := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/transactions",
		bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// REGISTRY SURFACES
// =============================================================================

func TestAPI_AccountLifecycle(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	// Update
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/accounts/"+accountID, map[string]any{
		"fullname":  "Jo Doe",
		"street":    "Side St 2",
		"post_code": "54321",
		"city":      "Shelbyville",
		"pin":       "4711",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Shelbyville", body["city"])

	// Get reflects the update
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/accounts/"+accountID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Side St 2", body["street"])

	// Delete, then 404
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/accounts/"+accountID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/accounts/"+accountID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_MediaMappingLifecycle(t *testing.T) {
	server := newTestServer(t)
	accountID := createAccount(t, server)

	payload := map[string]any{
		"account_id":           accountID,
		"media_type":           "RFID_ID",
		"media_identification": "04:A3:1B:22",
	}
	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/media-mappings", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	mappingID := body["id"].(string)

	// Binding the same medium again is rejected
	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/media-mappings", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// A kiosk scan resolves the medium to its account
	resp, body = doJSON(t, http.MethodGet,
		server.URL+"/api/media-mappings/resolve?media_type=RFID_ID&media_identification=04:A3:1B:22", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, accountID, body["account_id"])
	assert.Equal(t, mappingID, body["id"])

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/media-mappings/"+mappingID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_ProductValidation_422(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, server.URL+"/api/products", map[string]any{
		"ean": "12345678", "name": "Freebie", "price": 0,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_Health(t *testing.T) {
	server := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, server.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
