package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"net/url"
	"regexp"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/repository"
	"strings"
)

var pincodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)

var hundredPercent = decimal.NewFromInt(100)

type StoreSettingsStore interface {
	GetStoreConfig(ctx context.Context) (*entity.StoreConfig, error)
	UpdateStoreConfig(ctx context.Context, cfg *entity.StoreConfig) (*entity.StoreConfig, error)
	GetBlockedPincode(ctx context.Context, pincode string) (*entity.BlockedPincode, error)
	ListBlockedPincodes(ctx context.Context) ([]entity.BlockedPincode, error)
	AddBlockedPincode(ctx context.Context, p *entity.BlockedPincode) (*entity.BlockedPincode, error)
	RemoveBlockedPincode(ctx context.Context, pincode string) error
}

type StockWriter interface {
	SetStock(ctx context.Context, v entity.ProductVariant) error
}

type WhatsAppConfig struct {
	Number string
	Brand  string
}

// StoreService serves settings, COD pincode rules and the WhatsApp confirmation link.
type StoreService struct {
	repo     StoreSettingsStore
	stock    StockWriter
	whatsapp WhatsAppConfig
}

func NewStoreService(repo StoreSettingsStore, stock StockWriter, whatsapp WhatsAppConfig) *StoreService {
	return &StoreService{repo: repo, stock: stock, whatsapp: whatsapp}
}

func (s *StoreService) GetStoreConfig(ctx context.Context) (*entity.StoreConfig, error) {
	cfg, err := s.repo.GetStoreConfig(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Configuration("Store settings are missing")
		}
		logger.Error().Err(err).Msg("Error loading store config")
		return nil, err
	}
	return cfg, nil
}

func (s *StoreService) UpdateStoreConfig(ctx context.Context, cfg *entity.StoreConfig) (*entity.StoreConfig, error) {
	if strings.TrimSpace(cfg.BusinessState) == "" {
		return nil, apperror.Validation("Business state is required")
	}
	if cfg.ReferralDiscountType != entity.DiscountPercentage && cfg.ReferralDiscountType != entity.DiscountFixed {
		return nil, apperror.Validation("Referral discount type must be percentage or fixed")
	}
	if cfg.ReferralDiscountType == entity.DiscountPercentage && cfg.ReferralDiscountValue.GreaterThan(hundredPercent) {
		return nil, apperror.Validation("Referral percentage cannot exceed 100")
	}
	for _, d := range []struct {
		name  string
		value interface{ IsNegative() bool }
	}{
		{"Referral discount value", cfg.ReferralDiscountValue},
		{"Referral credit amount", cfg.ReferralCreditAmount},
		{"Minimum order for referral", cfg.MinOrderForReferral},
		{"Default shipping cost", cfg.DefaultShippingCost},
		{"Free shipping threshold", cfg.FreeShippingThreshold},
		{"COD charges", cfg.CODCharges},
	} {
		if d.value.IsNegative() {
			return nil, apperror.Validationf("%s cannot be negative", d.name)
		}
	}
	for _, charge := range cfg.CustomCharges {
		if strings.TrimSpace(charge.Label) == "" || charge.Amount.IsNegative() {
			return nil, apperror.Validation("Custom charges need a label and a non-negative amount")
		}
	}
	if cfg.AbandonedOrderTimeoutMinutes < 0 {
		return nil, apperror.Validation("Abandoned order timeout cannot be negative")
	}

	current, err := s.GetStoreConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ID = current.ID

	return s.repo.UpdateStoreConfig(ctx, cfg)
}

type PincodeStatus struct {
	Pincode string `json:"pincode"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// CheckPincode reports whether COD is blocked for pincode.
func (s *StoreService) CheckPincode(ctx context.Context, pincode string) (*PincodeStatus, error) {
	pincode = strings.TrimSpace(pincode)
	if !pincodePattern.MatchString(pincode) {
		return nil, apperror.Validation("Invalid pincode")
	}

	blocked, err := s.repo.GetBlockedPincode(ctx, pincode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &PincodeStatus{Pincode: pincode}, nil
		}
		return nil, err
	}
	return &PincodeStatus{Pincode: pincode, Blocked: true, Reason: blocked.Reason}, nil
}

func (s *StoreService) ListBlockedPincodes(ctx context.Context) ([]entity.BlockedPincode, error) {
	return s.repo.ListBlockedPincodes(ctx)
}

func (s *StoreService) BlockPincode(ctx context.Context, pincode, reason, createdBy string) (*entity.BlockedPincode, error) {
	pincode = strings.TrimSpace(pincode)
	if !pincodePattern.MatchString(pincode) {
		return nil, apperror.Validation("Invalid pincode")
	}
	return s.repo.AddBlockedPincode(ctx, &entity.BlockedPincode{Pincode: pincode, Reason: reason, CreatedBy: createdBy})
}

func (s *StoreService) UnblockPincode(ctx context.Context, pincode string) error {
	err := s.repo.RemoveBlockedPincode(ctx, strings.TrimSpace(pincode))
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound("Pincode is not blocked")
	}
	return err
}

func (s *StoreService) SetStock(ctx context.Context, v entity.ProductVariant) error {
	if v.ProductID <= 0 || strings.TrimSpace(v.Size) == "" || v.Stock < 0 {
		return apperror.Validation("Variant needs a product, a size and a non-negative stock")
	}
	return s.stock.SetStock(ctx, v)
}

// CODConfirmationLink builds the wa.me link customers use to confirm a COD order.
func (s *StoreService) CODConfirmationLink(orderNumber string) string {
	text := fmt.Sprintf("I confirm my order for %s. Order ID: %s", s.whatsapp.Brand, orderNumber)
	return "https://wa.me/" + s.whatsapp.Number + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}
