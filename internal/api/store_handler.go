package api

import (
	"context"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"net/http"
	"storefront-service/internal/apperror"
	"storefront-service/internal/carrier"
	"storefront-service/internal/entity"
	"storefront-service/internal/service"
)

type StoreService interface {
	GetStoreConfig(ctx context.Context) (*entity.StoreConfig, error)
	UpdateStoreConfig(ctx context.Context, cfg *entity.StoreConfig) (*entity.StoreConfig, error)
	CheckPincode(ctx context.Context, pincode string) (*service.PincodeStatus, error)
	ListBlockedPincodes(ctx context.Context) ([]entity.BlockedPincode, error)
	BlockPincode(ctx context.Context, pincode, reason, createdBy string) (*entity.BlockedPincode, error)
	UnblockPincode(ctx context.Context, pincode string) error
	SetStock(ctx context.Context, v entity.ProductVariant) error
	CODConfirmationLink(orderNumber string) string
}

type ReferralService interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*entity.ReferralResult, error)
	GetOrCreateWallet(ctx context.Context, email, name string) (*entity.CustomerWallet, error)
}

type ShipmentService interface {
	Rates(ctx context.Context, req carrier.RateRequest) ([]carrier.Rate, error)
	CreateShipment(ctx context.Context, orderID int64, courierID int) (*entity.Order, error)
}

// StoreHandler serves the public checkout helpers: settings, pincodes, referrals and rates.
type StoreHandler struct {
	storeService    StoreService
	referralService ReferralService
	shipmentService ShipmentService
}

func NewStoreHandler(storeService StoreService, referralService ReferralService, shipmentService ShipmentService) *StoreHandler {
	return &StoreHandler{storeService: storeService, referralService: referralService, shipmentService: shipmentService}
}

// GetStoreConfig --> GET /api/config/store
func (h *StoreHandler) GetStoreConfig(c echo.Context) error {
	cfg, err := h.storeService.GetStoreConfig(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// CheckPincode --> GET /api/config/check-pincode?pincode=
func (h *StoreHandler) CheckPincode(c echo.Context) error {
	status, err := h.storeService.CheckPincode(c.Request().Context(), c.QueryParam("pincode"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

type validateReferralRequest struct {
	Code        string          `json:"code" validate:"required"`
	OrderAmount decimal.Decimal `json:"orderAmount"`
}

// ValidateReferral --> POST /api/referral/validate
func (h *StoreHandler) ValidateReferral(c echo.Context) error {
	req := validateReferralRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}
	if req.OrderAmount.IsNegative() {
		return errorResponse(c, apperror.Validation("Order amount cannot be negative"))
	}

	result, err := h.referralService.Validate(c.Request().Context(), req.Code, req.OrderAmount)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type walletRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
}

// GetWallet --> POST /api/referral/wallet
func (h *StoreHandler) GetWallet(c echo.Context) error {
	req := walletRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	wallet, err := h.referralService.GetOrCreateWallet(c.Request().Context(), req.Email, req.Name)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, wallet)
}

// ShippingRates --> POST /api/shipping/rates
func (h *StoreHandler) ShippingRates(c echo.Context) error {
	req := carrier.RateRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	rates, err := h.shipmentService.Rates(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"rates": rates})
}
