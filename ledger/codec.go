/*
codec.go - Wire <-> stored representation of ledger entries

PURPOSE:
  The wire form carries amounts as plain JSON integers and timestamps as
  unix nanoseconds, matching the external contract. Internally amounts
  are decimals. The codec is the single place where the two meet; the
  API layer and the durable stores both go through it.
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// WireEntry is the JSON representation of a ledger entry.
type WireEntry struct {
	ID                string       `json:"id"`
	AccountID         string       `json:"account_id"`
	Timestamp         int64        `json:"timestamp"`
	Action            string       `json:"action"`
	TransactionAmount int64        `json:"transaction_amount"`
	TransactionResult int64        `json:"transaction_result"`
	Product           *WireProduct `json:"product,omitempty"`
	CreatedAt         string       `json:"created_at,omitempty"`
}

// WireProduct is the JSON representation of a product snapshot.
type WireProduct struct {
	EAN         string   `json:"ean"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images,omitempty"`
	Price       int64    `json:"price"`
}

// =============================================================================
// CODEC
// =============================================================================

// EncodeEntry converts an entry to its wire representation. Amounts are
// integral by construction, so the integer narrowing is lossless.
func EncodeEntry(e Entry) WireEntry {
	w := WireEntry{
		ID:                string(e.ID),
		AccountID:         string(e.AccountID),
		Timestamp:         e.Timestamp,
		Action:            string(e.Action),
		TransactionAmount: e.Amount.IntPart(),
		TransactionResult: e.Result.IntPart(),
	}
	if !e.CreatedAt.IsZero() {
		w.CreatedAt = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if e.Product != nil {
		w.Product = &WireProduct{
			EAN:         e.Product.EAN,
			Name:        e.Product.Name,
			Description: e.Product.Description,
			Images:      append([]string(nil), e.Product.Images...),
			Price:       e.Product.Price.IntPart(),
		}
	}
	return w
}

// DecodeEntry converts a wire entry back to the stored form.
func DecodeEntry(w WireEntry) (Entry, error) {
	e := Entry{
		ID:        EntryID(w.ID),
		AccountID: AccountID(w.AccountID),
		Timestamp: w.Timestamp,
		Action:    Action(w.Action),
		Amount:    decimal.NewFromInt(w.TransactionAmount),
		Result:    decimal.NewFromInt(w.TransactionResult),
	}
	if !e.Action.Known() {
		return Entry{}, fmt.Errorf("unknown action %q", w.Action)
	}
	if w.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
		if err != nil {
			return Entry{}, fmt.Errorf("created_at: %w", err)
		}
		e.CreatedAt = ts
	}
	if w.Product != nil {
		e.Product = &ProductSnapshot{
			EAN:         w.Product.EAN,
			Name:        w.Product.Name,
			Description: w.Product.Description,
			Images:      append([]string(nil), w.Product.Images...),
			Price:       decimal.NewFromInt(w.Product.Price),
		}
	}
	return e, nil
}

// MarshalEntry serializes an entry for stores that keep JSON bodies.
func MarshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(EncodeEntry(e))
}

// UnmarshalEntry is the inverse of MarshalEntry.
func UnmarshalEntry(data []byte) (Entry, error) {
	var w WireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return Entry{}, err
	}
	return DecodeEntry(w)
}
