// Package tax computes the GST breakdown for an order.
package tax

import (
	"github.com/shopspring/decimal"
	"storefront-service/internal/entity"
	"strings"
)

// GSTRate is the flat GST percentage applied to apparel.
var GSTRate = decimal.NewFromInt(18)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")
)

type Result struct {
	TaxAmount decimal.Decimal     `json:"tax_amount"`
	Breakdown entity.TaxBreakdown `json:"tax_breakdown"`
}

// Compute returns 18% of amountBeforeTax, split into CGST/SGST when the destination
// state matches the business state and charged as IGST otherwise. No rounding is applied.
func Compute(amountBeforeTax decimal.Decimal, destinationState, businessState string) Result {
	taxAmount := amountBeforeTax.Mul(GSTRate).Div(hundred)

	if sameState(destinationState, businessState) {
		share := taxAmount.Mul(half)
		return Result{
			TaxAmount: taxAmount,
			Breakdown: entity.IntrastateBreakdown(share, share, GSTRate),
		}
	}

	return Result{
		TaxAmount: taxAmount,
		Breakdown: entity.InterstateBreakdown(taxAmount, GSTRate),
	}
}

func sameState(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
