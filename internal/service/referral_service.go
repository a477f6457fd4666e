package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"math/big"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/repository"
	"strings"
	"time"
)

const (
	defaultReferralMaxUses = 10
	maxReferralCodeTries   = 3
)

type ReferralStore interface {
	GetReferralCode(ctx context.Context, code string) (*entity.ReferralCode, error)
	GetWalletByEmail(ctx context.Context, email string) (*entity.CustomerWallet, error)
	CreateWallet(ctx context.Context, w *entity.CustomerWallet, code *entity.ReferralCode) (*entity.CustomerWallet, error)
	CreditReferralReward(ctx context.Context, walletID int64, amount decimal.Decimal, description string, orderID int64) error
}

type ReferralService struct {
	repo       ReferralStore
	config     StoreConfigProvider
	codePrefix string
	now        func() time.Time
}

func NewReferralService(repo ReferralStore, config StoreConfigProvider, codePrefix string) *ReferralService {
	if codePrefix == "" {
		codePrefix = "INTRU"
	}
	return &ReferralService{repo: repo, config: config, codePrefix: codePrefix, now: time.Now}
}

// Validate checks a code against the current settings. It never consumes a use.
func (s *ReferralService) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*entity.ReferralResult, error) {
	cfg, err := s.config.GetStoreConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s.ValidateWithConfig(ctx, code, orderAmount, cfg)
}

func (s *ReferralService) ValidateWithConfig(ctx context.Context, code string, orderAmount decimal.Decimal, cfg *entity.StoreConfig) (*entity.ReferralResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	if !cfg.ReferralEnabled {
		return invalidReferral("Referral system is disabled"), nil
	}
	if orderAmount.LessThan(cfg.MinOrderForReferral) {
		return invalidReferral(fmt.Sprintf("Minimum order amount ₹%s required for referral", cfg.MinOrderForReferral.String())), nil
	}

	rc, err := s.repo.GetReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalidReferral("Invalid referral code"), nil
		}
		return nil, err
	}
	// a code is deactivated by its last use, so exhaustion is reported first
	if rc.Exhausted() {
		return invalidReferral("Referral code limit reached"), nil
	}
	if !rc.IsActive {
		return invalidReferral("Invalid referral code"), nil
	}
	if rc.Expired(s.now()) {
		return invalidReferral("Referral code expired"), nil
	}

	discount := cfg.ReferralDiscountValue
	if cfg.ReferralDiscountType == entity.DiscountPercentage {
		discount = orderAmount.Mul(cfg.ReferralDiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	}

	return &entity.ReferralResult{
		Valid:          true,
		DiscountAmount: discount,
		OwnerEmail:     rc.OwnerEmail,
		Code:           rc.Code,
	}, nil
}

func invalidReferral(msg string) *entity.ReferralResult {
	return &entity.ReferralResult{Valid: false, DiscountAmount: decimal.Zero, Error: msg}
}

// GetOrCreateWallet returns the customer's wallet, creating it and its referral code on first use.
func (s *ReferralService) GetOrCreateWallet(ctx context.Context, email, name string) (*entity.CustomerWallet, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.Validation("Email is required")
	}

	wallet, err := s.repo.GetWalletByEmail(ctx, email)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	for i := 0; i < maxReferralCodeTries; i++ {
		code := &entity.ReferralCode{
			Code:       s.newReferralCode(),
			OwnerEmail: email,
			OwnerName:  name,
			MaxUses:    defaultReferralMaxUses,
			IsActive:   true,
		}
		wallet, err = s.repo.CreateWallet(ctx, &entity.CustomerWallet{Email: email, Name: name}, code)
		if err == nil {
			logger.Info().Str("referral_code", code.Code).Msg("Wallet created")
			return wallet, nil
		}
		if errors.Is(err, repository.ErrDuplicateReferral) {
			continue
		}
		// a concurrent request may have created the wallet first
		if existing, getErr := s.repo.GetWalletByEmail(ctx, email); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	return nil, fmt.Errorf("could not allocate a unique referral code for %s", email)
}

func (s *ReferralService) newReferralCode() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:6])
	return s.codePrefix + strings.ToUpper(n.Text(36))
}

// RewardReferrer credits the owner of the code used on order. Crediting twice for the same
// order is a no-op.
func (s *ReferralService) RewardReferrer(ctx context.Context, order *entity.Order) error {
	if order.ReferralCodeUsed == "" {
		return nil
	}

	cfg, err := s.config.GetStoreConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.ReferralCreditAmount.IsPositive() {
		return nil
	}

	rc, err := s.repo.GetReferralCode(ctx, order.ReferralCodeUsed)
	if err != nil {
		return err
	}

	wallet, err := s.GetOrCreateWallet(ctx, rc.OwnerEmail, rc.OwnerName)
	if err != nil {
		return err
	}

	err = s.repo.CreditReferralReward(ctx, wallet.ID, cfg.ReferralCreditAmount,
		fmt.Sprintf("Referral reward for order %s", order.OrderNumber), order.ID)
	if errors.Is(err, repository.ErrDuplicateReward) {
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info().Int64("order_id", order.ID).Int64("wallet_id", wallet.ID).Str("amount", cfg.ReferralCreditAmount.String()).Msg("Referral reward credited")
	return nil
}
