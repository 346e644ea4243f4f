/*
Package mappings links physical media (RFID chips, QR codes) to accounts
so a kiosk can resolve a scanned medium to the account it charges.

One medium maps to at most one account: creating a second mapping for
the same (media_type, media_identification) pair is rejected.
*/
package mappings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/warp/kiosk-ledger/ledger"
	"github.com/warp/kiosk-ledger/schema"
)

// ErrDuplicateMedia is returned when the medium is already mapped.
var ErrDuplicateMedia = errors.New("media already mapped")

// MediaMapping ties one physical medium to an account.
type MediaMapping struct {
	ID                  string    `json:"id"`
	AccountID           string    `json:"account_id"`
	MediaType           string    `json:"media_type"`
	MediaIdentification string    `json:"media_identification"`
	DeviceType          string    `json:"device_type,omitempty"`
	DeviceName          string    `json:"device_name,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
}

// Store persists media mappings.
type Store interface {
	// PutMapping creates the mapping. Fails with a conflict when the id
	// already exists.
	PutMapping(ctx context.Context, mapping MediaMapping) error

	GetMapping(ctx context.Context, id string) (*MediaMapping, error)

	// FindByMedia returns the mapping for the (media_type,
	// media_identification) pair, or an error wrapping
	// ledger.ErrNotFound.
	FindByMedia(ctx context.Context, mediaType, mediaIdentification string) (*MediaMapping, error)

	ListMappings(ctx context.Context) ([]MediaMapping, error)
	DeleteMapping(ctx context.Context, id string) error
}

// =============================================================================
// SCHEMA
// =============================================================================

var PutSchema = &schema.Schema{
	Fields: map[string]schema.Field{
		"account_id":           {Type: schema.TypeString, Required: true},
		"media_identification": {Type: schema.TypeString, Required: true},
		"media_type": {
			Type:     schema.TypeString,
			Required: true,
			Enum:     []string{"RFID_ID", "QR_CODE_EXACT_MATCH"},
		},
		"device_type": {Type: schema.TypeString},
		"device_name": {Type: schema.TypeString},
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

// Create validates the payload, rejects duplicate media, and stores the
// mapping under a fresh id.
func (s *Service) Create(ctx context.Context, payload map[string]any) (MediaMapping, error) {
	if violations := PutSchema.Validate(payload); len(violations) > 0 {
		return MediaMapping{}, &ledger.SchemaError{Violations: violations}
	}

	mapping := decodeMapping(payload)

	existing, err := s.Store.FindByMedia(ctx, mapping.MediaType, mapping.MediaIdentification)
	if err != nil && !ledger.IsNotFound(err) {
		return MediaMapping{}, ledger.WrapStore("media conflict check", err)
	}
	if existing != nil {
		return MediaMapping{}, ErrDuplicateMedia
	}

	mapping.ID = uuid.NewString()
	mapping.CreatedAt = time.Now().UTC()

	if err := s.Store.PutMapping(ctx, mapping); err != nil {
		return MediaMapping{}, ledger.WrapStore("create mapping", err)
	}
	return mapping, nil
}

func (s *Service) Get(ctx context.Context, id string) (*MediaMapping, error) {
	mapping, err := s.Store.GetMapping(ctx, id)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, &ledger.NotFoundError{Kind: "mapping", Key: id}
		}
		return nil, ledger.WrapStore("get mapping", err)
	}
	return mapping, nil
}

// Resolve finds the mapping for a scanned medium.
func (s *Service) Resolve(ctx context.Context, mediaType, mediaIdentification string) (*MediaMapping, error) {
	mapping, err := s.Store.FindByMedia(ctx, mediaType, mediaIdentification)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, &ledger.NotFoundError{Kind: "mapping", Key: mediaType + "/" + mediaIdentification}
		}
		return nil, ledger.WrapStore("resolve mapping", err)
	}
	return mapping, nil
}

func (s *Service) List(ctx context.Context) ([]MediaMapping, error) {
	list, err := s.Store.ListMappings(ctx)
	if err != nil {
		return nil, ledger.WrapStore("list mappings", err)
	}
	return list, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Store.DeleteMapping(ctx, id); err != nil {
		if ledger.IsNotFound(err) {
			return &ledger.NotFoundError{Kind: "mapping", Key: id}
		}
		return ledger.WrapStore("delete mapping", err)
	}
	return nil
}

func decodeMapping(payload map[string]any) MediaMapping {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	return MediaMapping{
		AccountID:           str("account_id"),
		MediaType:           str("media_type"),
		MediaIdentification: str("media_identification"),
		DeviceType:          str("device_type"),
		DeviceName:          str("device_name"),
	}
}
