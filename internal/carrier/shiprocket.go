// Package carrier wraps the Shiprocket shipment API.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"io"
	"net/http"
	"net/url"
	"os"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"strconv"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

const (
	DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"
	tokenName      = "shiprocket"
	tokenTTL       = 24 * time.Hour
)

var errUnauthorized = errors.New("shiprocket: unauthorized")

type TokenCache interface {
	GetToken(ctx context.Context, name string) (string, error)
	SetToken(ctx context.Context, name, token string, ttl time.Duration) error
}

type Config struct {
	Email    string
	Password string
	BaseURL  string
	Timeout  time.Duration
}

type Client struct {
	email      string
	password   string
	baseURL    string
	tokens     TokenCache
	httpClient *http.Client
}

func NewClient(cfg Config, tokens TokenCache) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		email:      cfg.Email,
		password:   cfg.Password,
		baseURL:    cfg.BaseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type RateRequest struct {
	PickupPincode   string  `json:"pickup_pincode"`
	DeliveryPincode string  `json:"delivery_pincode" validate:"required"`
	Weight          float64 `json:"weight"`
	COD             bool    `json:"cod"`
}

type Rate struct {
	CourierName           string  `json:"courier_name"`
	CourierCompanyID      int     `json:"courier_company_id"`
	Rate                  float64 `json:"rate"`
	EstimatedDeliveryDays string  `json:"estimated_delivery_days"`
	CODCharges            float64 `json:"cod_charges"`
}

type Shipment struct {
	OrderID    string `json:"shiprocket_order_id"`
	ShipmentID string `json:"shiprocket_shipment_id"`
	AWBCode    string `json:"awb_code,omitempty"`
	Courier    string `json:"courier_name,omitempty"`
}

type orderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
	Discount     float64 `json:"discount"`
	Tax          float64 `json:"tax"`
	HSN          string  `json:"hsn"`
}

type adhocOrder struct {
	OrderID              string      `json:"order_id"`
	OrderDate            string      `json:"order_date"`
	PickupLocation       string      `json:"pickup_location"`
	Comment              string      `json:"comment"`
	BillingCustomerName  string      `json:"billing_customer_name"`
	BillingAddress       string      `json:"billing_address"`
	BillingAddress2      string      `json:"billing_address_2"`
	BillingCity          string      `json:"billing_city"`
	BillingPincode       string      `json:"billing_pincode"`
	BillingState         string      `json:"billing_state"`
	BillingCountry       string      `json:"billing_country"`
	BillingEmail         string      `json:"billing_email"`
	BillingPhone         string      `json:"billing_phone"`
	ShippingIsBilling    bool        `json:"shipping_is_billing"`
	ShippingCustomerName string      `json:"shipping_customer_name"`
	ShippingAddress      string      `json:"shipping_address"`
	ShippingAddress2     string      `json:"shipping_address_2"`
	ShippingCity         string      `json:"shipping_city"`
	ShippingPincode      string      `json:"shipping_pincode"`
	ShippingState        string      `json:"shipping_state"`
	ShippingCountry      string      `json:"shipping_country"`
	ShippingEmail        string      `json:"shipping_email"`
	ShippingPhone        string      `json:"shipping_phone"`
	OrderItems           []orderItem `json:"order_items"`
	PaymentMethod        string      `json:"payment_method"`
	ShippingCharges      float64     `json:"shipping_charges"`
	SubTotal             float64     `json:"sub_total"`
	Length               float64     `json:"length"`
	Breadth              float64     `json:"breadth"`
	Height               float64     `json:"height"`
	Weight               float64     `json:"weight"`
}

func (c *Client) Configured() bool {
	return c.email != "" && c.password != ""
}

// Rates lists couriers that can serve the delivery pincode.
func (c *Client) Rates(ctx context.Context, req RateRequest) ([]Rate, error) {
	if req.Weight <= 0 {
		req.Weight = 0.5
	}
	cod := "0"
	if req.COD {
		cod = "1"
	}
	q := url.Values{}
	q.Set("pickup_postcode", req.PickupPincode)
	q.Set("delivery_postcode", req.DeliveryPincode)
	q.Set("weight", strconv.FormatFloat(req.Weight, 'f', -1, 64))
	q.Set("cod", cod)

	var resp struct {
		Data struct {
			AvailableCourierCompanies []Rate `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/courier/serviceability?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	return resp.Data.AvailableCourierCompanies, nil
}

// CreateShipment registers the order with Shiprocket and, if courierID is set, assigns an AWB.
func (c *Client) CreateShipment(ctx context.Context, order *entity.Order, courierID int) (*Shipment, error) {
	payload := buildAdhocOrder(order)

	var created struct {
		OrderID    json.Number `json:"order_id"`
		ShipmentID json.Number `json:"shipment_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/orders/create/adhoc", payload, &created); err != nil {
		return nil, err
	}

	shipment := &Shipment{OrderID: created.OrderID.String(), ShipmentID: created.ShipmentID.String()}
	if courierID == 0 {
		return shipment, nil
	}

	var awb struct {
		Response struct {
			Data struct {
				AWBCode     string `json:"awb_code"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	body := map[string]interface{}{"shipment_id": shipment.ShipmentID, "courier_id": courierID}
	if err := c.call(ctx, http.MethodPost, "/courier/assign/awb", body, &awb); err != nil {
		// The carrier order already exists, so hand back what we have.
		logger.Error().Err(err).Str("order_number", order.OrderNumber).Msg("AWB assignment failed")
		return shipment, nil
	}
	shipment.AWBCode = awb.Response.Data.AWBCode
	shipment.Courier = awb.Response.Data.CourierName

	return shipment, nil
}

func buildAdhocOrder(order *entity.Order) adhocOrder {
	billing := order.BillingAddress
	if billing.Line1 == "" {
		billing = order.ShippingAddress
	}

	taxShare := 0.0
	if len(order.Items) > 0 {
		taxShare, _ = order.TaxAmount.Div(decimal.NewFromInt(int64(len(order.Items)))).Round(2).Float64()
	}
	items := make([]orderItem, 0, len(order.Items))
	for _, item := range order.Items {
		price, _ := item.Price.Float64()
		items = append(items, orderItem{
			Name:         item.Title,
			SKU:          fmt.Sprintf("%d-%s", item.ProductID, item.Size),
			Units:        item.Quantity,
			SellingPrice: price,
			Tax:          taxShare,
		})
	}

	method := "Prepaid"
	if order.PaymentType == entity.PaymentTypeCOD {
		method = "COD"
	}
	shippingCharges, _ := order.ShippingCost.Float64()
	subtotal, _ := order.Subtotal.Float64()

	return adhocOrder{
		OrderID:              order.OrderNumber,
		OrderDate:            order.CreatedAt.Format("2006-01-02"),
		PickupLocation:       "Primary",
		Comment:              order.Notes,
		BillingCustomerName:  order.CustomerName,
		BillingAddress:       billing.Line1,
		BillingAddress2:      billing.Line2,
		BillingCity:          billing.City,
		BillingPincode:       billing.Pincode,
		BillingState:         billing.State,
		BillingCountry:       billing.Country,
		BillingEmail:         order.CustomerEmail,
		BillingPhone:         order.CustomerPhone,
		ShippingIsBilling:    billing == order.ShippingAddress,
		ShippingCustomerName: order.ShippingAddress.Name,
		ShippingAddress:      order.ShippingAddress.Line1,
		ShippingAddress2:     order.ShippingAddress.Line2,
		ShippingCity:         order.ShippingAddress.City,
		ShippingPincode:      order.ShippingAddress.Pincode,
		ShippingState:        order.ShippingAddress.State,
		ShippingCountry:      order.ShippingAddress.Country,
		ShippingEmail:        order.CustomerEmail,
		ShippingPhone:        order.CustomerPhone,
		OrderItems:           items,
		PaymentMethod:        method,
		ShippingCharges:      shippingCharges,
		SubTotal:             subtotal,
		Length:               10,
		Breadth:              10,
		Height:               5,
		Weight:               0.5,
	}
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	if !c.Configured() {
		return apperror.Configuration("Shipping carrier not configured")
	}

	token, err := c.token(ctx, false)
	if err != nil {
		return err
	}

	err = c.do(ctx, method, path, token, in, out)
	if errors.Is(err, errUnauthorized) {
		token, err = c.token(ctx, true)
		if err != nil {
			return err
		}
		err = c.do(ctx, method, path, token, in, out)
	}
	if err != nil {
		return apperror.Upstream("Shipping carrier request failed", err)
	}
	return nil
}

func (c *Client) token(ctx context.Context, refresh bool) (string, error) {
	if !refresh {
		token, err := c.tokens.GetToken(ctx, tokenName)
		if err != nil {
			logger.Warn().Err(err).Msg("carrier token cache unavailable")
		}
		if token != "" {
			return token, nil
		}
	}

	var resp struct {
		Token string `json:"token"`
	}
	creds := map[string]string{"email": c.email, "password": c.password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", creds, &resp); err != nil {
		return "", apperror.Upstream("Shipping carrier login failed", err)
	}

	if err := c.tokens.SetToken(ctx, tokenName, resp.Token, tokenTTL); err != nil {
		logger.Warn().Err(err).Msg("failed to cache carrier token")
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("shiprocket %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
