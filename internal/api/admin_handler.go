package api

import (
	"context"
	"github.com/labstack/echo/v4"
	"net/http"
	"storefront-service/internal/entity"
)

type AdminService interface {
	Login(ctx context.Context, password string) (string, error)
}

type AdminHandler struct {
	adminService    AdminService
	storeService    StoreService
	shipmentService ShipmentService
}

func NewAdminHandler(adminService AdminService, storeService StoreService, shipmentService ShipmentService) *AdminHandler {
	return &AdminHandler{adminService: adminService, storeService: storeService, shipmentService: shipmentService}
}

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

// Login --> POST /api/admin/login
func (h *AdminHandler) Login(c echo.Context) error {
	req := loginRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	token, err := h.adminService.Login(c.Request().Context(), req.Password)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// GetSettings --> GET /api/admin/settings
func (h *AdminHandler) GetSettings(c echo.Context) error {
	cfg, err := h.storeService.GetStoreConfig(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// UpdateSettings --> PUT /api/admin/settings
func (h *AdminHandler) UpdateSettings(c echo.Context) error {
	cfg := entity.StoreConfig{}
	if err := bindAndValidate(c, &cfg); err != nil {
		return errorResponse(c, err)
	}

	updated, err := h.storeService.UpdateStoreConfig(c.Request().Context(), &cfg)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// ListBlockedPincodes --> GET /api/admin/pincodes
func (h *AdminHandler) ListBlockedPincodes(c echo.Context) error {
	list, err := h.storeService.ListBlockedPincodes(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pincodes": list})
}

type blockPincodeRequest struct {
	Pincode string `json:"pincode" validate:"required,len=6,numeric"`
	Reason  string `json:"reason"`
}

// BlockPincode --> POST /api/admin/pincodes
func (h *AdminHandler) BlockPincode(c echo.Context) error {
	req := blockPincodeRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	blocked, err := h.storeService.BlockPincode(c.Request().Context(), req.Pincode, req.Reason, adminSubject(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, blocked)
}

// UnblockPincode --> DELETE /api/admin/pincodes/:pincode
func (h *AdminHandler) UnblockPincode(c echo.Context) error {
	if err := h.storeService.UnblockPincode(c.Request().Context(), c.Param("pincode")); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type setStockRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Size      string `json:"size" validate:"required"`
	Stock     int    `json:"stock" validate:"gte=0"`
}

// SetStock --> PUT /api/admin/inventory
func (h *AdminHandler) SetStock(c echo.Context) error {
	req := setStockRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	v := entity.ProductVariant{ProductID: req.ProductID, Size: req.Size, Stock: req.Stock}
	if err := h.storeService.SetStock(c.Request().Context(), v); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

type createShipmentRequest struct {
	CourierCompanyID int `json:"courier_company_id"`
}

// CreateShipment --> POST /api/admin/orders/:id/shipment
func (h *AdminHandler) CreateShipment(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	req := createShipmentRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	order, err := h.shipmentService.CreateShipment(c.Request().Context(), id, req.CourierCompanyID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, order)
}
