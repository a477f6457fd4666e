package api

import (
	"context"
	"github.com/labstack/echo/v4"
	"io"
	"net/http"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/repository"
	"storefront-service/internal/service"
	"strconv"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in *service.CreateOrderInput) (*service.CreateOrderResult, error)
	VerifyPayment(ctx context.Context, in *service.VerifyPaymentInput) (*service.VerifyOutcome, error)
	VerifyCOD(ctx context.Context, orderID int64) (*service.VerifyOutcome, error)
	CapturePayment(ctx context.Context, orderID int64) (*service.VerifyOutcome, error)
	SyncPayment(ctx context.Context, orderID int64) (*service.VerifyOutcome, error)
	ProcessWebhook(ctx context.Context, rawBody []byte, sig, eventID string) (*service.WebhookResult, error)
	GetOrder(ctx context.Context, id int64) (*entity.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*entity.Order, error)
	ListOrders(ctx context.Context, f repository.ListFilter) (*service.OrderPage, error)
	UpdateShippingStatus(ctx context.Context, id int64, status entity.ShippingStatus) (*entity.Order, error)
	CancelOrder(ctx context.Context, id int64) (*entity.Order, error)
	MarkAbandonedOrders(ctx context.Context) (int64, error)
}

type PincodeChecker interface {
	CheckPincode(ctx context.Context, pincode string) (*service.PincodeStatus, error)
	CODConfirmationLink(orderNumber string) string
}

type OrderHandler struct {
	orderService OrderService
	pincodes     PincodeChecker
}

func NewOrderHandler(orderService OrderService, pincodes PincodeChecker) *OrderHandler {
	return &OrderHandler{orderService: orderService, pincodes: pincodes}
}

// CreateOrder --> POST /api/orders
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()
	in := service.CreateOrderInput{}
	if err := c.Bind(&in); err != nil {
		return errorResponse(c, apperror.Validation("Invalid request payload"))
	}
	in.IdempotentKey = c.Request().Header.Get("Idempotent-Key")

	// COD availability is a checkout rule, checked before the order exists
	if in.PaymentType == entity.PaymentTypeCOD {
		status, err := h.pincodes.CheckPincode(ctx, in.ShippingAddress.Pincode)
		if err != nil {
			return errorResponse(c, err)
		}
		if status.Blocked {
			return errorResponse(c, apperror.Validation("Cash on delivery is not available for this pincode"))
		}
	}

	result, err := h.orderService.CreateOrder(ctx, &in)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// VerifyPayment --> POST /api/orders/verify-payment
func (h *OrderHandler) VerifyPayment(c echo.Context) error {
	in := service.VerifyPaymentInput{}
	if err := c.Bind(&in); err != nil {
		return errorResponse(c, apperror.Validation("Invalid request payload"))
	}

	outcome, err := h.orderService.VerifyPayment(c.Request().Context(), &in)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, outcome)
}

// CODLink --> GET /api/orders/cod-link?order_number=
func (h *OrderHandler) CODLink(c echo.Context) error {
	orderNumber := c.QueryParam("order_number")
	if orderNumber == "" {
		return errorResponse(c, apperror.Validation("order_number is required"))
	}

	order, err := h.orderService.GetOrderByNumber(c.Request().Context(), orderNumber)
	if err != nil {
		return errorResponse(c, err)
	}
	if order.PaymentType != entity.PaymentTypeCOD {
		return errorResponse(c, apperror.Validation("Order is not a COD order"))
	}

	return c.JSON(http.StatusOK, map[string]string{
		"order_number":  order.OrderNumber,
		"whatsapp_link": h.pincodes.CODConfirmationLink(order.OrderNumber),
	})
}

// Webhook --> POST /api/webhooks/razorpay
func (h *OrderHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, apperror.Validation("Invalid request payload"))
	}

	result, err := h.orderService.ProcessWebhook(c.Request().Context(), body,
		c.Request().Header.Get("X-Razorpay-Signature"), c.Request().Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		return errorResponse(c, err)
	}

	if result.Error != "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   result.Error,
			"note":    "Webhook acknowledged but processing failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"event":     result.Event,
		"handled":   result.Handled,
		"duplicate": result.Duplicate,
	})
}

func orderID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("Invalid ID")
	}
	return id, nil
}

// ListOrders --> GET /api/admin/orders?page=&limit=&payment_status=
func (h *OrderHandler) ListOrders(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := h.orderService.ListOrders(c.Request().Context(), repository.ListFilter{
		PaymentStatus: entity.PaymentStatus(c.QueryParam("payment_status")),
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetOrder --> GET /api/admin/orders/:id
func (h *OrderHandler) GetOrder(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	order, err := h.orderService.GetOrder(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// VerifyCOD --> POST /api/admin/orders/:id/verify-cod
func (h *OrderHandler) VerifyCOD(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	outcome, err := h.orderService.VerifyCOD(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// CapturePayment --> POST /api/admin/orders/:id/capture
func (h *OrderHandler) CapturePayment(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	outcome, err := h.orderService.CapturePayment(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// SyncPayment --> POST /api/admin/orders/:id/sync-payment
func (h *OrderHandler) SyncPayment(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	outcome, err := h.orderService.SyncPayment(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

type shippingStatusRequest struct {
	Status entity.ShippingStatus `json:"shipping_status" validate:"required"`
}

// UpdateShippingStatus --> PUT /api/admin/orders/:id/shipping-status
func (h *OrderHandler) UpdateShippingStatus(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	req := shippingStatusRequest{}
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}

	order, err := h.orderService.UpdateShippingStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// CancelOrder --> POST /api/admin/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	order, err := h.orderService.CancelOrder(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// SweepAbandoned --> POST /api/admin/orders/sweep-abandoned
func (h *OrderHandler) SweepAbandoned(c echo.Context) error {
	n, err := h.orderService.MarkAbandonedOrders(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": n})
}
