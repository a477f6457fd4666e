package entity

import (
	"github.com/shopspring/decimal"
	"time"
)

type PaymentType string

const (
	PaymentTypePrepaid PaymentType = "prepaid"
	PaymentTypeCOD     PaymentType = "cod"
)

func (t PaymentType) Valid() bool {
	return t == PaymentTypePrepaid || t == PaymentTypeCOD
}

type Order struct {
	ID          int64  `json:"id"`
	OrderNumber string `json:"order_number"`

	CustomerEmail   string  `json:"customer_email"`
	CustomerName    string  `json:"customer_name"`
	CustomerPhone   string  `json:"customer_phone"`
	ShippingAddress Address `json:"shipping_address"`
	BillingAddress  Address `json:"billing_address"`

	Items []OrderItem `json:"items"`

	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	CustomCharges    []CustomCharge  `json:"custom_charges"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	TaxBreakdown     TaxBreakdown    `json:"tax_breakdown"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	ReferralCodeUsed string          `json:"referral_code_used,omitempty"`
	ReferralDiscount decimal.Decimal `json:"referral_discount"`

	PaymentType        PaymentType        `json:"payment_type"`
	PaymentStatus      PaymentStatus      `json:"payment_status"`
	ShippingStatus     ShippingStatus     `json:"shipping_status"`
	VerificationStatus VerificationStatus `json:"verification_status"`

	GatewayOrderID   string `json:"razorpay_order_id,omitempty"`
	GatewayPaymentID string `json:"razorpay_payment_id,omitempty"`
	GatewaySignature string `json:"-"`

	CarrierOrderID    string `json:"shiprocket_order_id,omitempty"`
	CarrierShipmentID string `json:"shiprocket_shipment_id,omitempty"`
	CarrierName       string `json:"courier_name,omitempty"`
	TrackingNumber    string `json:"tracking_number,omitempty"`

	RequiresUnboxingVideo    bool   `json:"requires_unboxing_video"`
	NeedsStockReconciliation bool   `json:"needs_stock_reconciliation"`
	Notes                    string `json:"notes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	AbandonedAt *time.Time `json:"abandoned_at,omitempty"`
}

// Statuses returns the order's current status triple.
func (o *Order) Statuses() Statuses {
	return Statuses{
		Payment:      o.PaymentStatus,
		Shipping:     o.ShippingStatus,
		Verification: o.VerificationStatus,
	}
}

func (o *Order) SetStatuses(s Statuses) {
	o.PaymentStatus = s.Payment
	o.ShippingStatus = s.Shipping
	o.VerificationStatus = s.Verification
}

type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// OrderItem is a snapshot of a cart line taken at order creation.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CustomCharge struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// TaxBreakdown holds either CGST+SGST (intrastate) or IGST (interstate), never both.
type TaxBreakdown struct {
	CGST *decimal.Decimal `json:"cgst,omitempty"`
	SGST *decimal.Decimal `json:"sgst,omitempty"`
	IGST *decimal.Decimal `json:"igst,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

func IntrastateBreakdown(cgst, sgst, rate decimal.Decimal) TaxBreakdown {
	return TaxBreakdown{CGST: &cgst, SGST: &sgst, Rate: rate}
}

func InterstateBreakdown(igst, rate decimal.Decimal) TaxBreakdown {
	return TaxBreakdown{IGST: &igst, Rate: rate}
}

func (b TaxBreakdown) Intrastate() bool {
	return b.CGST != nil && b.SGST != nil && b.IGST == nil
}

func (b TaxBreakdown) Interstate() bool {
	return b.IGST != nil && b.CGST == nil && b.SGST == nil
}

/*
Mysql Table

CREATE TABLE orders (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	order_number VARCHAR(32) NOT NULL UNIQUE,
	...
	payment_status VARCHAR(20) NOT NULL,
	shipping_status VARCHAR(20) NOT NULL,
	verification_status VARCHAR(20) NOT NULL,
	razorpay_order_id VARCHAR(64) NULL UNIQUE,
	...
);

CREATE TABLE order_items (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	order_id BIGINT NOT NULL REFERENCES orders(id),
	product_id BIGINT NOT NULL,
	title VARCHAR(255) NOT NULL,
	size VARCHAR(32) NOT NULL,
	quantity INT NOT NULL,
	price DECIMAL(12,2) NOT NULL,
	image VARCHAR(512) NOT NULL DEFAULT ''
);

*/
