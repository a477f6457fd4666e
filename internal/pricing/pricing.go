// Package pricing composes an order's payable amount from its parts.
package pricing

import (
	"github.com/shopspring/decimal"
	"storefront-service/internal/entity"
	"storefront-service/internal/tax"
)

type Calculation struct {
	Subtotal           decimal.Decimal       `json:"subtotal"`
	DiscountAmount     decimal.Decimal       `json:"discount_amount"`
	ShippingCost       decimal.Decimal       `json:"shipping_cost"`
	CustomCharges      []entity.CustomCharge `json:"custom_charges"`
	CustomChargesTotal decimal.Decimal       `json:"custom_charges_total"`
	AmountBeforeTax    decimal.Decimal       `json:"amount_before_tax"`
	TaxAmount          decimal.Decimal       `json:"tax_amount"`
	TaxBreakdown       entity.TaxBreakdown   `json:"tax_breakdown"`
	Total              decimal.Decimal       `json:"total"`
}

// Calculate applies, in order: subtotal, shipping, custom charges, discount, then tax on the result.
// A discount larger than everything it can offset is capped so the taxable amount never goes negative.
func Calculate(items []entity.OrderItem, destinationState string, discount decimal.Decimal, charges []entity.CustomCharge, cfg *entity.StoreConfig) Calculation {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	shipping := cfg.DefaultShippingCost
	if cfg.FreeShippingEnabled {
		shipping = decimal.Zero
	}

	var applied []entity.CustomCharge
	chargesTotal := decimal.Zero
	if cfg.ExtraChargesEnabled {
		for _, charge := range charges {
			applied = append(applied, charge)
			chargesTotal = chargesTotal.Add(charge.Amount)
		}
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	gross := subtotal.Add(shipping).Add(chargesTotal)
	if discount.GreaterThan(gross) {
		discount = gross
	}

	amountBeforeTax := subtotal.Sub(discount).Add(shipping).Add(chargesTotal)
	if amountBeforeTax.IsNegative() {
		amountBeforeTax = decimal.Zero
	}

	taxResult := tax.Compute(amountBeforeTax, destinationState, cfg.BusinessState)

	return Calculation{
		Subtotal:           subtotal,
		DiscountAmount:     discount,
		ShippingCost:       shipping,
		CustomCharges:      applied,
		CustomChargesTotal: chargesTotal,
		AmountBeforeTax:    amountBeforeTax,
		TaxAmount:          taxResult.TaxAmount,
		TaxBreakdown:       taxResult.Breakdown,
		Total:              amountBeforeTax.Add(taxResult.TaxAmount),
	}
}

// RoundToPaise rounds a calculation to two decimal places for storage and payment.
// Components are rounded first and tax is recomputed on the rounded taxable amount, so
// the stored amount before tax plus tax always equals the stored total. The intrastate
// split gives SGST the rounded half and CGST the remainder.
func RoundToPaise(c Calculation, destinationState, businessState string) Calculation {
	out := c
	out.Subtotal = c.Subtotal.Round(2)
	out.DiscountAmount = c.DiscountAmount.Round(2)
	out.ShippingCost = c.ShippingCost.Round(2)
	out.CustomChargesTotal = c.CustomChargesTotal.Round(2)

	out.AmountBeforeTax = out.Subtotal.Sub(out.DiscountAmount).Add(out.ShippingCost).Add(out.CustomChargesTotal)
	if out.AmountBeforeTax.IsNegative() {
		out.AmountBeforeTax = decimal.Zero
	}

	res := tax.Compute(out.AmountBeforeTax, destinationState, businessState)
	out.TaxAmount = res.TaxAmount.Round(2)
	if res.Breakdown.Intrastate() {
		sgst := out.TaxAmount.Div(decimal.NewFromInt(2)).Round(2)
		out.TaxBreakdown = entity.IntrastateBreakdown(out.TaxAmount.Sub(sgst), sgst, res.Breakdown.Rate)
	} else {
		out.TaxBreakdown = entity.InterstateBreakdown(out.TaxAmount, res.Breakdown.Rate)
	}
	out.Total = out.AmountBeforeTax.Add(out.TaxAmount)
	return out
}

// ToMinorUnits converts a major-unit amount to the integer subunit the gateway expects, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts a gateway subunit amount back to major units.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
