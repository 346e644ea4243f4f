/*
handlers.go - HTTP API handlers for the kiosk ledger

PURPOSE:
  Exposes the transaction ledger and its registries via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Transactions:
    PUT    /api/transactions                         Submit a transaction
    GET    /api/transactions                         List all entries
    GET    /api/transactions/{id}                    Get one entry
    DELETE /api/transactions/{id}                    Always 501
    GET    /api/transactions/account/{accountID}     Account history
    GET    /api/transactions/account/{id}/balance    Running balance

  Accounts:
    PUT    /api/accounts           Create account
    POST   /api/accounts/{id}      Update account
    GET    /api/accounts           List accounts
    GET    /api/accounts/{id}      Get account
    DELETE /api/accounts/{id}      Delete account

  Products:
    PUT    /api/products           Create or replace product
    GET    /api/products           List products
    GET    /api/products/{ean}     Get product
    DELETE /api/products/{ean}     Delete product

  Media mappings:
    PUT    /api/media-mappings           Bind a medium to an account
    GET    /api/media-mappings           List mappings
    GET    /api/media-mappings/resolve   Resolve a medium to its account
    GET    /api/media-mappings/{id}      Get mapping
    DELETE /api/media-mappings/{id}      Delete mapping

REQUEST FLOW:
  1. Decode body into a raw payload (json.Number preserved, so the
     schema layer can distinguish integers from floats)
  2. Call domain logic
  3. Map domain errors to HTTP status
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with the status the error taxonomy maps to:
  - 422: Schema violations, duplicate media bindings
  - 404: Unknown account, product, entry, or mapping
  - 406: Transaction amount sign contradicts the action
  - 409: Concurrent append conflict after retries
  - 501: Ledger entry deletion (append-only)
  - 500: Store failures and everything else

SEE ALSO:
  - dto.go: Response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/kiosk-ledger/accounts"
	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/mappings"
	"github.com/warp/kiosk-ledger/products"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Processor
	Resolver *ledger.Resolver
	Entries  ledger.EntryStore
	Accounts *accounts.Service
	Products *products.Service
	Mappings *mappings.Service
	Log      zerolog.Logger
}

// NewHandler wires the handler from its collaborators.
func NewHandler(proc *ledger.Processor, entries ledger.EntryStore, acc *accounts.Service, prod *products.Service, maps *mappings.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Ledger:   proc,
		Resolver: ledger.NewResolver(entries),
		Entries:  entries,
		Accounts: acc,
		Products: prod,
		Mappings: maps,
		Log:      log,
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// SubmitTransaction appends a new ledger entry.
// PUT /api/transactions
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Ledger.Submit(r.Context(), payload)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ledger.EncodeEntry(entry))
}

// ListTransactions returns entries across all accounts, in timestamp order.
// GET /api/transactions?limit=N
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Entries.ListEntries(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, ledger.WrapStore("list entries", err))
		return
	}

	writeJSON(w, http.StatusOK, toWireEntries(entries))
}

// GetTransaction returns a single entry by id.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.Entries.GetEntry(r.Context(), ledger.EntryID(id))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ledger.EncodeEntry(*entry))
}

// DeleteTransaction rejects deletion. The ledger is append-only, so this
// endpoint exists only to answer 501 instead of 404.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.writeDomainError(w, r, h.Ledger.Delete(r.Context(), ledger.EntryID(id)))
}

// ListAccountTransactions returns an account's full history, oldest first.
// GET /api/transactions/account/{accountID}
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "accountID"))

	entries, err := h.Resolver.History(r.Context(), accountID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toWireEntries(entries))
}

// GetBalance returns the account's running balance. Unknown accounts are
// a 404; an existing account with no entries has balance 0.
// GET /api/transactions/account/{accountID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "accountID"))

	if _, err := h.Accounts.Get(r.Context(), string(accountID)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	balance, err := h.Resolver.CurrentBalance(r.Context(), accountID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		AccountID: string(accountID),
		Balance:   balance.IntPart(),
	})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount registers a new account. The server assigns the id.
// PUT /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Accounts.Create(r.Context(), payload)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// UpdateAccount replaces an existing account's fields.
// POST /api/accounts/{id}
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	payload, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Accounts.Update(r.Context(), id, payload)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// GetAccount returns a single account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListAccounts returns all registered accounts.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Accounts.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteAccount removes an account record. Ledger entries referencing it
// are kept; history survives the account.
// DELETE /api/accounts/{id}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// PutProduct creates or replaces a product, keyed by EAN.
// PUT /api/products
func (h *Handler) PutProduct(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	product, err := h.Products.Upsert(r.Context(), payload)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, product)
}

// GetProduct returns a single product.
// GET /api/products/{ean}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.Products.Get(r.Context(), chi.URLParam(r, "ean"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// ListProducts returns the full catalog.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Products.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteProduct removes a product from the catalog. Snapshots embedded in
// past entries are unaffected.
// DELETE /api/products/{ean}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Products.Delete(r.Context(), chi.URLParam(r, "ean")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MEDIA MAPPING HANDLERS
// =============================================================================

// CreateMapping binds a physical medium to an account. A medium already
// bound elsewhere is rejected with 422.
// PUT /api/media-mappings
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	mapping, err := h.Mappings.Create(r.Context(), payload)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapping)
}

// GetMapping returns a single mapping by id.
// GET /api/media-mappings/{id}
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := h.Mappings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

// ResolveMapping looks a mapping up by medium, the read path kiosks use
// when a card or code is scanned.
// GET /api/media-mappings/resolve?media_type=...&media_identification=...
func (h *Handler) ResolveMapping(w http.ResponseWriter, r *http.Request) {
	mediaType := r.URL.Query().Get("media_type")
	mediaIdent := r.URL.Query().Get("media_identification")
	if mediaType == "" || mediaIdent == "" {
		writeError(w, http.StatusBadRequest, "media_type and media_identification are required", nil)
		return
	}

	mapping, err := h.Mappings.Resolve(r.Context(), mediaType, mediaIdent)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

// ListMappings returns all mappings.
// GET /api/media-mappings
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Mappings.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteMapping unbinds a medium.
// DELETE /api/media-mappings/{id}
func (h *Handler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	if err := h.Mappings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health answers liveness probes.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeBody reads the request body as a raw payload. UseNumber keeps
// numeric fields as json.Number so integral amounts survive intact.
func decodeBody(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func parsePositiveInt(raw string) (int, error) {
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, errors.New("must be a positive integer")
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}

// writeDomainError maps the ledger error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var schemaErr *ledger.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "Validation failed",
			Violations: schemaErr.Violations,
		})
	case errors.Is(err, mappings.ErrDuplicateMedia):
		writeError(w, http.StatusUnprocessableEntity, "Medium is already mapped to an account", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrInvalidAmountSign):
		writeError(w, http.StatusNotAcceptable, "Transaction amount not acceptable", err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, retry the request", err)
	case errors.Is(err, ledger.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, "Ledger entries cannot be deleted", nil)
	default:
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
