/*
Package products manages the product catalog and exposes the price
oracle the ledger core uses to resolve purchases.

Prices are authoritative here: a BUY_PRODUCT transaction always carries
the catalog price at purchase time, snapshotted into the entry so later
catalog edits never rewrite history.
*/
package products

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/schema"
)

// Product is a catalog record, keyed by its EAN.
type Product struct {
	EAN         string          `json:"ean"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Images      []string        `json:"images,omitempty"`
	Price       decimal.Decimal `json:"price"` // strictly positive integer
}

// Store persists catalog records.
type Store interface {
	// PutProduct creates or replaces the product under its EAN.
	PutProduct(ctx context.Context, product Product) error

	GetProduct(ctx context.Context, ean string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	DeleteProduct(ctx context.Context, ean string) error
}

// =============================================================================
// SCHEMA
// =============================================================================

var eanPattern = regexp.MustCompile(`^[0-9]{8,14}$`)

var PutSchema = &schema.Schema{
	Fields: map[string]schema.Field{
		"ean":         {Type: schema.TypeString, Required: true, Pattern: eanPattern},
		"name":        {Type: schema.TypeString, Required: true},
		"description": {Type: schema.TypeString},
		"images":      {Type: schema.TypeArray, Items: schema.TypeString},
		"price":       {Type: schema.TypeInteger, Required: true},
	},
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store Store
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

// Upsert validates the payload and writes the catalog record. The
// original surface is PUT-only: the EAN in the body is the key.
func (s *Service) Upsert(ctx context.Context, payload map[string]any) (Product, error) {
	violations := PutSchema.Validate(payload)
	if len(violations) == 0 {
		// Positive-price rule rides on the structural pass so callers
		// get one consolidated violation list.
		if price, err := decodePrice(payload["price"]); err != nil || !price.IsPositive() {
			violations = append(violations, schema.FieldError{
				Field: "price", Code: "range", Message: "must be a strictly positive integer",
			})
		}
	}
	if len(violations) > 0 {
		return Product{}, &ledger.SchemaError{Violations: violations}
	}

	product := decodeProduct(payload)
	if err := s.Store.PutProduct(ctx, product); err != nil {
		return Product{}, ledger.WrapStore("put product", err)
	}
	return product, nil
}

func (s *Service) Get(ctx context.Context, ean string) (*Product, error) {
	product, err := s.Store.GetProduct(ctx, ean)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, &ledger.NotFoundError{Kind: "product", Key: ean}
		}
		return nil, ledger.WrapStore("get product", err)
	}
	return product, nil
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	list, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, ledger.WrapStore("list products", err)
	}
	return list, nil
}

func (s *Service) Delete(ctx context.Context, ean string) error {
	if err := s.Store.DeleteProduct(ctx, ean); err != nil {
		if ledger.IsNotFound(err) {
			return &ledger.NotFoundError{Kind: "product", Key: ean}
		}
		return ledger.WrapStore("delete product", err)
	}
	return nil
}

func decodeProduct(payload map[string]any) Product {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	price, _ := decodePrice(payload["price"])
	product := Product{
		EAN:         str("ean"),
		Name:        str("name"),
		Description: str("description"),
		Price:       price,
	}
	if raw, ok := payload["images"].([]any); ok {
		for _, item := range raw {
			if img, ok := item.(string); ok {
				product.Images = append(product.Images, img)
			}
		}
	}
	return product
}

func decodePrice(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromInt(int64(v)), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return decimal.Zero, &schema.FieldError{Field: "price", Code: "type", Message: "expected an integer"}
}

// =============================================================================
// ORACLE - Price resolution adapter for the ledger core
// =============================================================================

// Oracle adapts the catalog to ledger.ProductOracle. Read-only; the
// snapshot it returns is a copy the ledger may keep forever.
type Oracle struct {
	Store Store
}

func NewOracle(store Store) *Oracle {
	return &Oracle{Store: store}
}

func (o *Oracle) Lookup(ctx context.Context, ean string) (*ledger.ProductSnapshot, error) {
	product, err := o.Store.GetProduct(ctx, ean)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, &ledger.NotFoundError{Kind: "product", Key: ean}
		}
		return nil, ledger.WrapStore("product lookup", err)
	}
	return &ledger.ProductSnapshot{
		EAN:         product.EAN,
		Name:        product.Name,
		Description: product.Description,
		Images:      append([]string(nil), product.Images...),
		Price:       product.Price,
	}, nil
}
