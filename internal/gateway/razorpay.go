// Package gateway talks to the Razorpay orders and payments API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"storefront-service/internal/apperror"
	"storefront-service/internal/signature"
	"time"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
}

type Payment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	ErrorDescription string `json:"error_description"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) Configured() bool {
	return c.keyID != "" && c.keySecret != ""
}

// KeyID is the public key handed to the checkout widget.
func (c *Client) KeyID() string {
	return c.keyID
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	order := &Order{}
	if err := c.do(ctx, http.MethodPost, "/orders", req, order); err != nil {
		return nil, err
	}
	return order, nil
}

// FetchOrderPayments lists every payment attempt made against a gateway order.
func (c *Client) FetchOrderPayments(ctx context.Context, gatewayOrderID string) ([]Payment, error) {
	out := struct {
		Count int       `json:"count"`
		Items []Payment `json:"items"`
	}{}
	if err := c.do(ctx, http.MethodGet, "/orders/"+gatewayOrderID+"/payments", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) FetchPayment(ctx context.Context, id string) (*Payment, error) {
	payment := &Payment{}
	if err := c.do(ctx, http.MethodGet, "/payments/"+id, nil, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (c *Client) CapturePayment(ctx context.Context, id string, amount int64, currency string) (*Payment, error) {
	payment := &Payment{}
	body := map[string]interface{}{"amount": amount, "currency": currency}
	if err := c.do(ctx, http.MethodPost, "/payments/"+id+"/capture", body, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// VerifyPaymentSignature checks the checkout callback signature under the key secret.
func (c *Client) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, candidate string) (bool, error) {
	if c.keySecret == "" {
		return false, apperror.Configuration("Payment gateway not configured")
	}
	return signature.VerifyPayment(c.keySecret, gatewayOrderID, gatewayPaymentID, candidate), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if !c.Configured() {
		return apperror.Configuration("Payment gateway not configured")
	}

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
	req.SetBasicAuth(c.keyID, c.keySecret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Upstream("Payment gateway request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return apperror.Upstream("Payment gateway request failed",
			fmt.Errorf("razorpay %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error.Description))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Upstream("Payment gateway returned an invalid response", err)
	}

	return nil
}
