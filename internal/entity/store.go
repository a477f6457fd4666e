package entity

import (
	"github.com/shopspring/decimal"
	"time"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

const DefaultAbandonedOrderTimeoutMinutes = 15

// StoreConfig is the singleton settings row edited from the admin panel.
type StoreConfig struct {
	ID              int64  `json:"id"`
	BusinessName    string `json:"business_name"`
	BusinessEmail   string `json:"business_email"`
	BusinessPhone   string `json:"business_phone"`
	BusinessAddress string `json:"business_address"`
	GSTIN           string `json:"gstin"`
	BusinessState   string `json:"business_state"`
	StateCode       string `json:"state_code"`

	ExtraChargesEnabled   bool            `json:"extra_charges_enabled"`
	CustomCharges         []CustomCharge  `json:"custom_charges"`
	FreeShippingEnabled   bool            `json:"free_shipping_enabled"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
	DefaultShippingCost   decimal.Decimal `json:"default_shipping_cost"`
	CODCharges            decimal.Decimal `json:"cod_charges"`

	ReferralEnabled       bool            `json:"is_referral_enabled"`
	ReferralDiscountType  DiscountType    `json:"referral_discount_type"`
	ReferralDiscountValue decimal.Decimal `json:"referral_discount_value"`
	ReferralCreditAmount  decimal.Decimal `json:"referral_credit_amount"`
	MinOrderForReferral   decimal.Decimal `json:"min_order_for_referral"`

	RequireUnboxingVideo         bool `json:"require_unboxing_video"`
	AbandonedOrderTimeoutMinutes int  `json:"abandoned_order_timeout_minutes"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (c *StoreConfig) AbandonedTimeout() time.Duration {
	if c.AbandonedOrderTimeoutMinutes <= 0 {
		return DefaultAbandonedOrderTimeoutMinutes * time.Minute
	}
	return time.Duration(c.AbandonedOrderTimeoutMinutes) * time.Minute
}

// BlockedPincode disallows COD for a postal code.
type BlockedPincode struct {
	ID        int64     `json:"id"`
	Pincode   string    `json:"pincode"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductVariant struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Stock     int    `json:"stock"`
}
