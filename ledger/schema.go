// schema.go - Declarative shape of the external transaction request.
//
// The action enum deliberately lists only the externally creatable
// actions: CANCEL and INCONSISTENCY_CORRECTION are part of the stored
// enum but rejected here as a structural failure when supplied.
package ledger

import (
	"regexp"

	"github.com/warp/kiosk-ledger/schema"
)

var (
	uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	eanPattern  = regexp.MustCompile(`^[0-9]{8,14}$`)
)

// SubmitSchema validates the transaction submit payload. Conditional
// rules (amount sign per action, product presence for BUY_PRODUCT) are
// enforced by the processor after this structural pass.
var SubmitSchema = &schema.Schema{
	Fields: map[string]schema.Field{
		"account_id": {
			Type:     schema.TypeString,
			Required: true,
			Pattern:  uuidPattern,
		},
		"action": {
			Type:     schema.TypeString,
			Required: true,
			Enum: []string{
				string(ActionDeposit),
				string(ActionWithdraw),
				string(ActionBuyProduct),
			},
		},
		"transaction_amount": {
			Type: schema.TypeInteger,
		},
		// Computed by the processor, never accepted from callers.
		"transaction_result": {
			Forbidden: true,
		},
		"id": {
			Forbidden: true,
		},
		"timestamp": {
			Forbidden: true,
		},
		"product": {
			Type: schema.TypeObject,
			Object: &schema.Schema{
				Fields: map[string]schema.Field{
					"ean": {
						Type:     schema.TypeString,
						Required: true,
						Pattern:  eanPattern,
					},
				},
				// Callers may echo full product records; everything but
				// the ean is overridden by the catalog snapshot anyway.
				AdditionalFields: true,
			},
		},
	},
}
