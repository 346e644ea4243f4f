/*
processor.go - Ledger command processor

PURPOSE:
  Turns a validated transaction request into exactly one immutable ledger
  entry. The processor owns the full derivation sequence: schema check,
  account existence, action-specific amount rules, product price
  resolution, prior balance, prefix-sum result, id and timestamp
  assignment, conditional append.

VALIDATION SEQUENCE (each failure short-circuits the rest):
  1. Structural validation via the schema collaborator
  2. Account existence (unknown account -> NotFound)
  3. Amount derivation:
       DEPOSIT      amount must be strictly positive
       WITHDRAW     amount must be strictly negative
       BUY_PRODUCT  amount forced to -price from the catalog; the full
                    product snapshot overrides anything the caller sent
  4. Prior balance via the Resolver (0 when no entries exist)
  5. result = prior balance + amount
  6. Fresh uuid, timestamp greater than the account's latest
  7. Conditional append

CONCURRENCY:
  Optimistic append with recheck. The append condition is the Position
  of the latest entry observed at the balance read; if another writer
  appended in between, the store rejects and Submit retries the whole
  sequence from step 4, bounded, with jittered backoff. Exhaustion
  surfaces ErrConflict. Different accounts never contend.

SEE ALSO:
  - balance.go: Prior balance resolution
  - store.go: Conditional append contract
  - schema.go: The request schema the validator evaluates
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/kiosk-ledger/schema"
)

const (
	// maxSubmitRetries bounds conflict retries before ErrConflict is
	// surfaced to the caller.
	maxSubmitRetries = 5

	retryBaseDelay = 4 * time.Millisecond
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// AccountChecker probes the external account collaborator for existence.
type AccountChecker interface {
	Exists(ctx context.Context, id AccountID) (bool, error)
}

// ProductOracle resolves a product by its identifying key. Unknown keys
// return an error wrapping ErrNotFound.
type ProductOracle interface {
	Lookup(ctx context.Context, ean string) (*ProductSnapshot, error)
}

// PayloadValidator is the external schema validation collaborator.
// Stateless and synchronous; *schema.Schema satisfies it.
type PayloadValidator interface {
	Validate(payload map[string]any) []schema.FieldError
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	store     EntryStore
	resolver  *Resolver
	accounts  AccountChecker
	products  ProductOracle
	validator PayloadValidator

	log   zerolog.Logger
	now   func() time.Time
	newID func() EntryID
}

func NewProcessor(store EntryStore, accounts AccountChecker, products ProductOracle, validator PayloadValidator) *Processor {
	return &Processor{
		store:     store,
		resolver:  NewResolver(store),
		accounts:  accounts,
		products:  products,
		validator: validator,
		log:       zerolog.Nop(),
		now:       time.Now,
		newID:     func() EntryID { return EntryID(uuid.NewString()) },
	}
}

// WithLogger attaches a logger for conflict/retry diagnostics.
func (p *Processor) WithLogger(log zerolog.Logger) *Processor {
	p.log = log
	return p
}

// WithClock overrides the timestamp source. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// =============================================================================
// SUBMIT - External transaction surface
// =============================================================================

// Submit validates the raw request payload, derives the entry, and
// appends it. On success exactly one entry has been persisted; on any
// failure none has.
func (p *Processor) Submit(ctx context.Context, payload map[string]any) (Entry, error) {
	if violations := p.validator.Validate(payload); len(violations) > 0 {
		return Entry{}, &SchemaError{Violations: violations}
	}

	req, err := decodeSubmit(payload)
	if err != nil {
		return Entry{}, &SchemaError{Violations: []schema.FieldError{
			{Field: "(payload)", Code: "type", Message: err.Error()},
		}}
	}

	exists, err := p.accounts.Exists(ctx, req.AccountID)
	if err != nil {
		return Entry{}, WrapStore("account existence check", err)
	}
	if !exists {
		return Entry{}, &NotFoundError{Kind: "account", Key: string(req.AccountID)}
	}

	amount, product, err := p.deriveAmount(ctx, req)
	if err != nil {
		return Entry{}, err
	}

	return p.append(ctx, req.AccountID, req.Action, amount, product)
}

// deriveAmount applies the action-specific amount rules and, for
// purchases, resolves the authoritative product snapshot.
func (p *Processor) deriveAmount(ctx context.Context, req SubmitRequest) (decimal.Decimal, *ProductSnapshot, error) {
	// A product payload belongs to BUY_PRODUCT alone.
	if req.Action != ActionBuyProduct && req.ProductEAN != "" {
		return decimal.Zero, nil, &SchemaError{Violations: []schema.FieldError{
			{Field: "product", Code: "forbidden", Message: fmt.Sprintf("must not be supplied for %s", req.Action)},
		}}
	}

	switch req.Action {
	case ActionDeposit:
		if req.Amount == nil || !req.Amount.IsPositive() {
			return decimal.Zero, nil, &AmountSignError{
				Action: req.Action,
				Reason: "transaction_amount must be a strictly positive integer",
			}
		}
		return *req.Amount, nil, nil

	case ActionWithdraw:
		if req.Amount == nil || !req.Amount.IsNegative() {
			return decimal.Zero, nil, &AmountSignError{
				Action: req.Action,
				Reason: "transaction_amount must be a strictly negative integer",
			}
		}
		return *req.Amount, nil, nil

	case ActionBuyProduct:
		if req.Amount != nil {
			// Price is authoritative from the catalog; a caller-supplied
			// amount is a structural failure, not a business one.
			return decimal.Zero, nil, &SchemaError{Violations: []schema.FieldError{
				{Field: "transaction_amount", Code: "forbidden", Message: "must not be supplied for BUY_PRODUCT"},
			}}
		}
		if req.ProductEAN == "" {
			return decimal.Zero, nil, &AmountSignError{
				Action: req.Action,
				Reason: "no valid value for product.ean was found",
			}
		}
		snapshot, err := p.products.Lookup(ctx, req.ProductEAN)
		if err != nil {
			if IsNotFound(err) {
				return decimal.Zero, nil, &NotFoundError{Kind: "product", Key: req.ProductEAN}
			}
			return decimal.Zero, nil, WrapStore("product lookup", err)
		}
		return snapshot.Price.Neg(), snapshot.Clone(), nil
	}

	// Unreachable after schema validation; kept for internal callers.
	return decimal.Zero, nil, &SchemaError{Violations: []schema.FieldError{
		{Field: "action", Code: "enum", Message: fmt.Sprintf("unknown action %q", req.Action)},
	}}
}

// =============================================================================
// REVERSE - Internal corrective surface
// =============================================================================

// Reverse appends a corrective entry negating the amount of a previous
// entry. action must be one of the internal corrective actions. Not
// reachable from the external request surface.
func (p *Processor) Reverse(ctx context.Context, entryID EntryID, action Action) (Entry, error) {
	if !action.Internal() {
		return Entry{}, fmt.Errorf("%w: %s is not a corrective action", ErrNotImplemented, action)
	}

	original, err := p.store.GetEntry(ctx, entryID)
	if err != nil {
		if IsNotFound(err) {
			return Entry{}, &NotFoundError{Kind: "entry", Key: string(entryID)}
		}
		return Entry{}, WrapStore("read entry", err)
	}

	return p.append(ctx, original.AccountID, action, original.Amount.Neg(), nil)
}

// Delete rejects deletion: entries are append-only, and reversals are
// new corrective entries, never removals.
func (p *Processor) Delete(ctx context.Context, entryID EntryID) error {
	return fmt.Errorf("%w: ledger entries cannot be deleted", ErrNotImplemented)
}

// =============================================================================
// CONDITIONAL APPEND WITH RETRY
// =============================================================================

func (p *Processor) append(ctx context.Context, accountID AccountID, action Action, amount decimal.Decimal, product *ProductSnapshot) (Entry, error) {
	for attempt := 0; ; attempt++ {
		entry, err := p.tryAppend(ctx, accountID, action, amount, product)
		if err == nil {
			return entry, nil
		}
		if !IsRetryable(err) {
			return Entry{}, err
		}
		if attempt >= maxSubmitRetries {
			p.log.Warn().
				Str("account_id", string(accountID)).
				Int("attempts", attempt+1).
				Msg("append conflict retries exhausted")
			return Entry{}, &ConflictError{AccountID: accountID, Attempts: attempt + 1}
		}
		p.log.Debug().
			Str("account_id", string(accountID)).
			Int("attempt", attempt+1).
			Msg("append conflict, retrying from balance read")
		if err := sleepBackoff(ctx, attempt); err != nil {
			return Entry{}, err
		}
	}
}

func (p *Processor) tryAppend(ctx context.Context, accountID AccountID, action Action, amount decimal.Decimal, product *ProductSnapshot) (Entry, error) {
	prior, pos, err := p.resolver.current(ctx, accountID)
	if err != nil {
		return Entry{}, err
	}

	now := p.now()
	ts := now.UnixNano()
	if ts <= pos.LatestTimestamp {
		// Wall clocks can stall or step backwards; per-account ordering
		// must not.
		ts = pos.LatestTimestamp + 1
	}

	entry := Entry{
		ID:        p.newID(),
		AccountID: accountID,
		Timestamp: ts,
		Action:    action,
		Amount:    amount,
		Result:    prior.Add(amount),
		Product:   product,
		CreatedAt: now.UTC(),
	}

	if err := p.store.AppendIf(ctx, entry, pos); err != nil {
		return Entry{}, WrapStore("append entry", err)
	}
	return entry, nil
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << uint(attempt)
	delay += time.Duration(rand.Int63n(int64(retryBaseDelay)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// PAYLOAD DECODING
// =============================================================================

// decodeSubmit converts a schema-validated payload into its typed form.
func decodeSubmit(payload map[string]any) (SubmitRequest, error) {
	req := SubmitRequest{}

	id, _ := payload["account_id"].(string)
	req.AccountID = AccountID(id)

	action, _ := payload["action"].(string)
	req.Action = Action(action)

	if raw, ok := payload["transaction_amount"]; ok {
		amount, err := decodeAmount(raw)
		if err != nil {
			return SubmitRequest{}, fmt.Errorf("transaction_amount: %w", err)
		}
		req.Amount = &amount
	}

	if raw, ok := payload["product"]; ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			return SubmitRequest{}, errors.New("product: expected an object")
		}
		ean, _ := obj["ean"].(string)
		req.ProductEAN = ean
	}

	return req, nil
}

func decodeAmount(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return decimal.Zero, errors.New("expected an integer")
		}
		return decimal.NewFromInt(n), nil
	case float64:
		if v != float64(int64(v)) {
			return decimal.Zero, errors.New("expected an integer")
		}
		return decimal.NewFromInt(int64(v)), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return decimal.Zero, errors.New("expected an integer")
}
