package api

import (
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"net/http"
	"storefront-service/internal/service"
)

type Handlers struct {
	Orders *OrderHandler
	Store  *StoreHandler
	Admin  *AdminHandler
}

// RegisterRoutes mounts the public storefront API and the JWT-guarded admin API.
func RegisterRoutes(e *echo.Echo, h Handlers, jwtSecret []byte) {
	e.Validator = NewRequestValidator()

	api := e.Group("/api")

	api.POST("/orders", h.Orders.CreateOrder)
	api.POST("/orders/verify-payment", h.Orders.VerifyPayment)
	api.GET("/orders/cod-link", h.Orders.CODLink)
	api.POST("/webhooks/razorpay", h.Orders.Webhook)

	api.GET("/config/store", h.Store.GetStoreConfig)
	api.GET("/config/check-pincode", h.Store.CheckPincode)
	api.POST("/referral/validate", h.Store.ValidateReferral)
	api.POST("/referral/wallet", h.Store.GetWallet)
	api.POST("/shipping/rates", h.Store.ShippingRates)

	api.POST("/admin/login", h.Admin.Login)

	admin := api.Group("/admin", echojwt.WithConfig(echojwt.Config{
		SigningKey: jwtSecret,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(service.JwtCustomClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "Unauthorized"})
		},
	}))

	admin.GET("/orders", h.Orders.ListOrders)
	admin.POST("/orders/sweep-abandoned", h.Orders.SweepAbandoned)
	admin.GET("/orders/:id", h.Orders.GetOrder)
	admin.POST("/orders/:id/verify-cod", h.Orders.VerifyCOD)
	admin.POST("/orders/:id/capture", h.Orders.CapturePayment)
	admin.POST("/orders/:id/sync-payment", h.Orders.SyncPayment)
	admin.PUT("/orders/:id/shipping-status", h.Orders.UpdateShippingStatus)
	admin.POST("/orders/:id/cancel", h.Orders.CancelOrder)
	admin.POST("/orders/:id/shipment", h.Admin.CreateShipment)

	admin.GET("/settings", h.Admin.GetSettings)
	admin.PUT("/settings", h.Admin.UpdateSettings)
	admin.GET("/pincodes", h.Admin.ListBlockedPincodes)
	admin.POST("/pincodes", h.Admin.BlockPincode)
	admin.DELETE("/pincodes/:pincode", h.Admin.UnblockPincode)
	admin.PUT("/inventory", h.Admin.SetStock)
}

// adminSubject returns the subject of the admin token on the request.
func adminSubject(c echo.Context) string {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return "admin"
	}
	claims, ok := token.Claims.(*service.JwtCustomClaims)
	if !ok || claims.Subject == "" {
		return "admin"
	}
	return claims.Subject
}
