package entity

import (
	"github.com/shopspring/decimal"
	"time"
)

type ReferralCode struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	OwnerEmail string     `json:"owner_email"`
	OwnerName  string     `json:"owner_name"`
	UsesCount  int        `json:"uses_count"`
	MaxUses    int        `json:"max_uses"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (r *ReferralCode) Exhausted() bool {
	return r.UsesCount >= r.MaxUses
}

func (r *ReferralCode) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

type CustomerWallet struct {
	ID                  int64           `json:"id"`
	Email               string          `json:"customer_email"`
	Name                string          `json:"customer_name"`
	Balance             decimal.Decimal `json:"balance"`
	TotalEarned         decimal.Decimal `json:"total_earned"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	ReferralCode        string          `json:"referral_code"`
	SuccessfulReferrals int             `json:"successful_referrals"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type WalletTransactionType string

const (
	WalletCredit WalletTransactionType = "credit"
	WalletDebit  WalletTransactionType = "debit"
)

type WalletTransaction struct {
	ID          int64                 `json:"id"`
	WalletID    int64                 `json:"wallet_id"`
	Type        WalletTransactionType `json:"type"`
	Amount      decimal.Decimal       `json:"amount"`
	Description string                `json:"description"`
	OrderID     *int64                `json:"order_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ReferralResult is the outcome of validating a code against an order amount.
type ReferralResult struct {
	Valid          bool            `json:"valid"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OwnerEmail     string          `json:"owner_email,omitempty"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
}
