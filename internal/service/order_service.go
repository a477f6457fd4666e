package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"os"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/gateway"
	"storefront-service/internal/pricing"
	"storefront-service/internal/repository"
	"strings"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

const (
	maxOrderNumberAttempts = 5
	maxTransitionAttempts  = 3
)

type OrderStore interface {
	CreateOrder(ctx context.Context, order *entity.Order, referralCode string, now time.Time) (*entity.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*entity.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*entity.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*entity.Order, error)
	GetOrderByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*entity.Order, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	UpdateStatus(ctx context.Context, u repository.StatusUpdate) error
	MarkAbandoned(ctx context.Context, cutoff, now time.Time) (int64, error)
	FlagStockReconciliation(ctx context.Context, id int64, now time.Time) error
	SetCarrierDetails(ctx context.Context, id int64, d repository.CarrierDetails, now time.Time) error
	ListOrders(ctx context.Context, f repository.ListFilter) ([]*entity.Order, int, error)
}

type Inventory interface {
	DecrementStock(ctx context.Context, productID int64, size string, quantity int) error
}

// StoreConfigProvider returns the current settings row. Implementations must not cache
// across requests so admin changes apply to the next order.
type StoreConfigProvider interface {
	GetStoreConfig(ctx context.Context) (*entity.StoreConfig, error)
}

type PaymentGateway interface {
	Configured() bool
	KeyID() string
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, candidate string) (bool, error)
	FetchPayment(ctx context.Context, id string) (*gateway.Payment, error)
	FetchOrderPayments(ctx context.Context, gatewayOrderID string) ([]gateway.Payment, error)
	CapturePayment(ctx context.Context, id string, amount int64, currency string) (*gateway.Payment, error)
}

type ReferralProcessor interface {
	ValidateWithConfig(ctx context.Context, code string, orderAmount decimal.Decimal, cfg *entity.StoreConfig) (*entity.ReferralResult, error)
	RewardReferrer(ctx context.Context, order *entity.Order) error
}

type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type RequestCache interface {
	ClaimIdempotentKey(ctx context.Context, key string) (bool, error)
	ReleaseIdempotentKey(ctx context.Context, key string) error
	WebhookEventSeen(ctx context.Context, eventID string) (bool, error)
	MarkWebhookEvent(ctx context.Context, eventID string) error
}

type CODLinker interface {
	CODConfirmationLink(orderNumber string) string
}

type OrderOptions struct {
	OrderPrefix   string
	Currency      string
	WebhookSecret string
}

// OrderService drives an order from checkout through payment confirmation.
type OrderService struct {
	orders    OrderStore
	inventory Inventory
	config    StoreConfigProvider
	gateway   PaymentGateway
	referrals ReferralProcessor
	events    EventWriter
	cache     RequestCache
	codLinks  CODLinker
	numbers   *OrderNumberGenerator

	currency      string
	webhookSecret string
	now           func() time.Time
}

func NewOrderService(orders OrderStore, inventory Inventory, config StoreConfigProvider, gw PaymentGateway, referrals ReferralProcessor,
	events EventWriter, cache RequestCache, codLinks CODLinker, opts OrderOptions) *OrderService {
	if opts.OrderPrefix == "" {
		opts.OrderPrefix = "INTRU"
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &OrderService{
		orders:        orders,
		inventory:     inventory,
		config:        config,
		gateway:       gw,
		referrals:     referrals,
		events:        events,
		cache:         cache,
		codLinks:      codLinks,
		numbers:       NewOrderNumberGenerator(opts.OrderPrefix),
		currency:      opts.Currency,
		webhookSecret: opts.WebhookSecret,
		now:           time.Now,
	}
}

type CreateOrderInput struct {
	CustomerEmail   string             `json:"customer_email"`
	CustomerName    string             `json:"customer_name"`
	CustomerPhone   string             `json:"customer_phone"`
	ShippingAddress entity.Address     `json:"shipping_address"`
	BillingAddress  *entity.Address    `json:"billing_address"`
	Items           []entity.OrderItem `json:"items"`
	PaymentType     entity.PaymentType `json:"payment_type"`
	ReferralCode    string             `json:"referral_code"`
	Notes           string             `json:"notes"`
	IdempotentKey   string             `json:"-"`
}

type CreateOrderResult struct {
	OrderID         int64              `json:"order_id"`
	OrderNumber     string             `json:"order_number"`
	PaymentType     entity.PaymentType `json:"payment_type"`
	Amount          decimal.Decimal    `json:"amount"`
	Currency        string             `json:"currency"`
	RazorpayOrderID string             `json:"razorpay_order_id,omitempty"`
	AmountMinor     int64              `json:"amount_minor,omitempty"`
	KeyID           string             `json:"key_id,omitempty"`
	WhatsAppLink    string             `json:"whatsapp_link,omitempty"`
	Order           *entity.Order      `json:"order"`
}

type VerifyPaymentInput struct {
	OrderID          int64  `json:"order_id"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	GatewaySignature string `json:"razorpay_signature"`
}

// PaymentResult reports the order state after a confirmation. Transitioned is true only
// for the call that moved the order into its confirmed state.
type PaymentResult struct {
	Status       entity.PaymentStatus      `json:"payment_status"`
	Shipping     entity.ShippingStatus     `json:"shipping_status"`
	Verification entity.VerificationStatus `json:"verification_status"`
	Transitioned bool                      `json:"transitioned"`
}

type StockLine struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type StockFailure struct {
	StockLine
	Error string `json:"error"`
}

type InventoryResult struct {
	Attempted           bool           `json:"attempted"`
	Decremented         []StockLine    `json:"decremented,omitempty"`
	Failed              []StockFailure `json:"failed,omitempty"`
	NeedsReconciliation bool           `json:"needs_reconciliation"`
}

// VerifyOutcome keeps the payment side and the inventory side apart: a stock failure never
// undoes a confirmed payment.
type VerifyOutcome struct {
	Order     *entity.Order   `json:"order"`
	Payment   PaymentResult   `json:"payment"`
	Inventory InventoryResult `json:"inventory"`
}

func validateCreateOrder(in *CreateOrderInput) error {
	if strings.TrimSpace(in.CustomerEmail) == "" || strings.TrimSpace(in.CustomerName) == "" || strings.TrimSpace(in.CustomerPhone) == "" {
		return apperror.Validation("Missing customer information")
	}
	if strings.TrimSpace(in.ShippingAddress.State) == "" || strings.TrimSpace(in.ShippingAddress.Pincode) == "" {
		return apperror.Validation("Shipping address must include state and pincode")
	}
	if len(in.Items) == 0 {
		return apperror.Validation("No items in order")
	}
	for i, item := range in.Items {
		if item.Quantity < 1 {
			return apperror.Validationf("Item %d has invalid quantity", i+1)
		}
		if item.Price.IsNegative() || !item.Price.Equal(item.Price.Round(2)) {
			return apperror.Validationf("Item %d has invalid price", i+1)
		}
	}
	if !in.PaymentType.Valid() {
		return apperror.Validation("Invalid payment type")
	}
	return nil
}

// CreateOrder prices the cart, opens a gateway order for prepaid checkouts and stores the
// order with all statuses pending. Stock is untouched until payment or COD verification.
func (s *OrderService) CreateOrder(ctx context.Context, in *CreateOrderInput) (*CreateOrderResult, error) {
	if err := validateCreateOrder(in); err != nil {
		return nil, err
	}

	if in.IdempotentKey != "" {
		claimed, err := s.cache.ClaimIdempotentKey(ctx, in.IdempotentKey)
		if err != nil {
			logger.Error().Err(err).Msg("Error claiming idempotent key")
			return nil, err
		}
		if !claimed {
			return nil, apperror.Conflict("idempotent key already exists")
		}
	}

	result, err := s.createOrder(ctx, in)
	if err != nil && in.IdempotentKey != "" {
		if relErr := s.cache.ReleaseIdempotentKey(ctx, in.IdempotentKey); relErr != nil {
			logger.Warn().Err(relErr).Msg("Error releasing idempotent key")
		}
	}
	return result, err
}

func (s *OrderService) createOrder(ctx context.Context, in *CreateOrderInput) (*CreateOrderResult, error) {
	cfg, err := s.config.GetStoreConfig(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Error loading store config")
		return nil, err
	}

	// gateway credentials are checked before any side effect
	if in.PaymentType == entity.PaymentTypePrepaid && !s.gateway.Configured() {
		return nil, apperror.Configuration("Payment gateway not configured")
	}

	discount := decimal.Zero
	referralCode := strings.ToUpper(strings.TrimSpace(in.ReferralCode))
	if referralCode != "" {
		subtotal := pricing.Calculate(in.Items, in.ShippingAddress.State, decimal.Zero, nil, cfg).Subtotal
		res, err := s.referrals.ValidateWithConfig(ctx, referralCode, subtotal, cfg)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, apperror.Validation(res.Error)
		}
		if strings.EqualFold(res.OwnerEmail, strings.TrimSpace(in.CustomerEmail)) {
			return nil, apperror.Validation("You cannot use your own referral code")
		}
		discount = res.DiscountAmount
	}

	calc := pricing.RoundToPaise(
		pricing.Calculate(in.Items, in.ShippingAddress.State, discount, cfg.CustomCharges, cfg),
		in.ShippingAddress.State, cfg.BusinessState)

	orderNumber, err := s.nextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	billing := in.ShippingAddress
	if in.BillingAddress != nil && in.BillingAddress.Line1 != "" {
		billing = *in.BillingAddress
	}

	order := &entity.Order{
		OrderNumber:           orderNumber,
		CustomerEmail:         strings.TrimSpace(in.CustomerEmail),
		CustomerName:          strings.TrimSpace(in.CustomerName),
		CustomerPhone:         strings.TrimSpace(in.CustomerPhone),
		ShippingAddress:       in.ShippingAddress,
		BillingAddress:        billing,
		Items:                 in.Items,
		Subtotal:              calc.Subtotal,
		DiscountAmount:        calc.DiscountAmount,
		ShippingCost:          calc.ShippingCost,
		CustomCharges:         calc.CustomCharges,
		TaxAmount:             calc.TaxAmount,
		TaxBreakdown:          calc.TaxBreakdown,
		TotalAmount:           calc.Total,
		ReferralCodeUsed:      referralCode,
		ReferralDiscount:      calc.DiscountAmount,
		PaymentType:           in.PaymentType,
		RequiresUnboxingVideo: cfg.RequireUnboxingVideo,
		Notes:                 in.Notes,
	}
	order.SetStatuses(entity.PendingStatuses())

	result := &CreateOrderResult{
		OrderNumber: orderNumber,
		PaymentType: in.PaymentType,
		Amount:      calc.Total,
		Currency:    s.currency,
	}

	if in.PaymentType == entity.PaymentTypePrepaid {
		amountMinor := pricing.ToMinorUnits(calc.Total)
		gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
			Amount:   amountMinor,
			Currency: s.currency,
			Receipt:  orderNumber,
			Notes: map[string]string{
				"customer_email": order.CustomerEmail,
				"customer_name":  order.CustomerName,
			},
		})
		if err != nil {
			logger.Error().Err(err).Str("order_number", orderNumber).Msg("Error creating gateway order")
			if apperror.KindOf(err) == apperror.KindInternal {
				err = apperror.Upstream("Failed to create payment order", err)
			}
			return nil, err
		}
		order.GatewayOrderID = gwOrder.ID
		result.RazorpayOrderID = gwOrder.ID
		result.AmountMinor = amountMinor
		result.KeyID = s.gateway.KeyID()
	}

	createdOrder, err := s.orders.CreateOrder(ctx, order, referralCode, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrReferralExhausted) {
			return nil, apperror.Validation("Referral code limit reached")
		}
		logger.Error().Err(err).Str("order_number", orderNumber).Msg("Error creating order")
		return nil, err
	}

	if createdOrder.PaymentType == entity.PaymentTypeCOD && s.codLinks != nil {
		result.WhatsAppLink = s.codLinks.CODConfirmationLink(createdOrder.OrderNumber)
	}
	result.OrderID = createdOrder.ID
	result.Order = createdOrder

	logger.Info().Int64("order_id", createdOrder.ID).Str("order_number", createdOrder.OrderNumber).
		Str("payment_type", string(createdOrder.PaymentType)).Str("total", createdOrder.TotalAmount.String()).Msg("Order created")

	if err := s.publishOrderEvent(ctx, createdOrder, entity.OrderEventCreated); err != nil {
		logger.Error().Err(err).Int64("order_id", createdOrder.ID).Msg("Error publishing order event")
	}

	return result, nil
}

// nextOrderNumber draws numbers until one is free in the store. The generator never
// repeats within a process, the check covers other replicas and restarts.
func (s *OrderService) nextOrderNumber(ctx context.Context) (string, error) {
	for i := 0; i < maxOrderNumberAttempts; i++ {
		n, err := s.numbers.Next()
		if err != nil {
			return "", err
		}
		exists, err := s.orders.OrderNumberExists(ctx, n)
		if err != nil {
			return "", err
		}
		if !exists {
			return n, nil
		}
		logger.Warn().Str("order_number", n).Msg("Order number collision, regenerating")
	}
	return "", fmt.Errorf("could not allocate a unique order number after %d attempts", maxOrderNumberAttempts)
}

// VerifyPayment confirms a prepaid checkout. The signature is checked before the order is read.
func (s *OrderService) VerifyPayment(ctx context.Context, in *VerifyPaymentInput) (*VerifyOutcome, error) {
	if in.OrderID == 0 || in.GatewayOrderID == "" || in.GatewayPaymentID == "" || in.GatewaySignature == "" {
		return nil, apperror.Validation("Missing payment verification fields")
	}

	ok, err := s.gateway.VerifyPaymentSignature(in.GatewayOrderID, in.GatewayPaymentID, in.GatewaySignature)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Warn().Int64("order_id", in.OrderID).Str("razorpay_order_id", in.GatewayOrderID).
			Str("razorpay_payment_id", in.GatewayPaymentID).Msg("Invalid payment signature")
		return nil, apperror.Authenticity("Invalid payment signature")
	}

	order, err := s.getOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.GatewayOrderID != in.GatewayOrderID {
		logger.Warn().Int64("order_id", order.ID).Str("razorpay_order_id", in.GatewayOrderID).Msg("Payment does not match order")
		return nil, apperror.Authenticity("Payment does not belong to this order")
	}

	return s.confirmPayment(ctx, order, in.GatewayPaymentID, in.GatewaySignature)
}

// confirmPayment is shared by the checkout callback and the captured webhook. Shipping and
// verification only move when their tables allow it, so a late capture on a cancelled or
// already shipped order still records the payment.
func (s *OrderService) confirmPayment(ctx context.Context, order *entity.Order, paymentID, sig string) (*VerifyOutcome, error) {
	now := s.now()
	res, err := s.transition(ctx, order, func(from entity.Statuses) entity.Transition {
		if from.Payment == entity.PaymentSuccess {
			return entity.Transition{}
		}
		t := entity.Transition{Payment: entity.PaymentSuccess}
		if from.Shipping == entity.ShippingPending {
			t.Shipping = entity.ShippingReadyToShip
		}
		if from.Verification.CanTransitionTo(entity.VerificationVerified) {
			t.Verification = entity.VerificationVerified
		}
		return t
	}, func(u *repository.StatusUpdate) {
		u.GatewayPaymentID = paymentID
		u.GatewaySignature = sig
		if u.From.Verification != entity.VerificationVerified && u.To.Verification == entity.VerificationVerified {
			u.VerifiedAt = &now
		}
	})
	if err != nil {
		return nil, err
	}

	paid := res.From.Payment != entity.PaymentSuccess && res.To.Payment == entity.PaymentSuccess
	outcome := &VerifyOutcome{
		Order:   res.Order,
		Payment: paymentResult(res.Order, paid),
	}
	if !paid {
		return outcome, nil
	}

	logger.Info().Int64("order_id", res.Order.ID).Str("razorpay_payment_id", paymentID).Msg("Payment confirmed")
	if res.Order.ShippingStatus == entity.ShippingCancelled {
		logger.Warn().Int64("order_id", res.Order.ID).Msg("Payment captured for a cancelled order, refund required")
		return outcome, nil
	}
	outcome.Inventory = s.decrementStock(ctx, res.Order)
	s.afterConfirmation(ctx, res.Order, entity.OrderEventPaid)

	return outcome, nil
}

// CapturePayment captures an authorized payment that the gateway did not auto-capture.
func (s *OrderService) CapturePayment(ctx context.Context, orderID int64) (*VerifyOutcome, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentType != entity.PaymentTypePrepaid {
		return nil, apperror.Validation("Order is not a prepaid order")
	}
	if order.PaymentStatus != entity.PaymentAuthorized || order.GatewayPaymentID == "" {
		return nil, apperror.Conflict(fmt.Sprintf("Payment cannot be captured while %s", order.PaymentStatus))
	}
	if !s.gateway.Configured() {
		return nil, apperror.Configuration("Payment gateway is not configured")
	}

	p, err := s.gateway.CapturePayment(ctx, order.GatewayPaymentID, pricing.ToMinorUnits(order.TotalAmount), s.currency)
	if err != nil {
		logger.Error().Err(err).Int64("order_id", order.ID).Str("razorpay_payment_id", order.GatewayPaymentID).Msg("Error capturing payment")
		return nil, wrapUpstream(err, "Failed to capture payment")
	}
	return s.confirmPayment(ctx, order, p.ID, "")
}

// SyncPayment reconciles a prepaid order with the gateway's view of its payments,
// for when the checkout callback and the webhook were both lost.
func (s *OrderService) SyncPayment(ctx context.Context, orderID int64) (*VerifyOutcome, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentType != entity.PaymentTypePrepaid || order.GatewayOrderID == "" {
		return nil, apperror.Validation("Order has no gateway payment to sync")
	}
	if !s.gateway.Configured() {
		return nil, apperror.Configuration("Payment gateway is not configured")
	}

	var payments []gateway.Payment
	if order.GatewayPaymentID != "" {
		p, err := s.gateway.FetchPayment(ctx, order.GatewayPaymentID)
		if err != nil {
			return nil, wrapUpstream(err, "Failed to fetch payment")
		}
		payments = []gateway.Payment{*p}
	} else {
		payments, err = s.gateway.FetchOrderPayments(ctx, order.GatewayOrderID)
		if err = wrapUpstream(err, "Failed to fetch payments"); err != nil {
			return nil, err
		}
	}

	status, paymentID := gatewayPaymentStatus(payments)
	switch status {
	case entity.PaymentSuccess:
		return s.confirmPayment(ctx, order, paymentID, "")
	case entity.PaymentAuthorized, entity.PaymentFailed:
		updated, err := s.applyPaymentStatus(ctx, order, status, paymentID)
		if err != nil {
			return nil, err
		}
		return &VerifyOutcome{Order: updated, Payment: paymentResult(updated, false)}, nil
	}
	return &VerifyOutcome{Order: order, Payment: paymentResult(order, false)}, nil
}

func wrapUpstream(err error, message string) error {
	if err == nil {
		return nil
	}
	if apperror.KindOf(err) == apperror.KindInternal {
		return apperror.Upstream(message, err)
	}
	return err
}

// gatewayPaymentStatus picks the most advanced attempt: any capture wins, then any
// authorization. Failed only counts when every attempt failed.
func gatewayPaymentStatus(payments []gateway.Payment) (entity.PaymentStatus, string) {
	var authorized, failed string
	allFailed := len(payments) > 0
	for _, p := range payments {
		switch p.Status {
		case "captured":
			return entity.PaymentSuccess, p.ID
		case "authorized":
			if authorized == "" {
				authorized = p.ID
			}
			allFailed = false
		case "failed":
			failed = p.ID
		default:
			allFailed = false
		}
	}
	if authorized != "" {
		return entity.PaymentAuthorized, authorized
	}
	if allFailed {
		return entity.PaymentFailed, failed
	}
	return "", ""
}

// VerifyCOD records the out-of-band confirmation of a cash-on-delivery order.
func (s *OrderService) VerifyCOD(ctx context.Context, orderID int64) (*VerifyOutcome, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentType != entity.PaymentTypeCOD {
		return nil, apperror.Validation("Order is not a COD order")
	}

	now := s.now()
	res, err := s.transition(ctx, order, func(from entity.Statuses) entity.Transition {
		if from.Verification == entity.VerificationVerified {
			return entity.Transition{}
		}
		return entity.Transition{Shipping: entity.ShippingReadyToShip, Verification: entity.VerificationVerified}
	}, func(u *repository.StatusUpdate) {
		u.VerifiedAt = &now
	})
	if err != nil {
		return nil, err
	}

	verified := res.From.Verification != entity.VerificationVerified && res.To.Verification == entity.VerificationVerified
	outcome := &VerifyOutcome{
		Order:   res.Order,
		Payment: paymentResult(res.Order, verified),
	}
	if !verified {
		return outcome, nil
	}

	logger.Info().Int64("order_id", res.Order.ID).Msg("COD order verified")
	outcome.Inventory = s.decrementStock(ctx, res.Order)
	s.afterConfirmation(ctx, res.Order, entity.OrderEventVerified)

	return outcome, nil
}

func paymentResult(order *entity.Order, transitioned bool) PaymentResult {
	return PaymentResult{
		Status:       order.PaymentStatus,
		Shipping:     order.ShippingStatus,
		Verification: order.VerificationStatus,
		Transitioned: transitioned,
	}
}

func (s *OrderService) afterConfirmation(ctx context.Context, order *entity.Order, event string) {
	if order.ReferralCodeUsed != "" && s.referrals != nil {
		if err := s.referrals.RewardReferrer(ctx, order); err != nil {
			logger.Error().Err(err).Int64("order_id", order.ID).Msg("Error crediting referral reward")
		}
	}
	if err := s.publishOrderEvent(ctx, order, event); err != nil {
		logger.Error().Err(err).Int64("order_id", order.ID).Msg("Error publishing order event")
	}
}

// decrementStock takes each line out of stock independently. Failures are collected and
// the order is flagged for manual reconciliation; nothing is rolled back.
func (s *OrderService) decrementStock(ctx context.Context, order *entity.Order) InventoryResult {
	result := InventoryResult{Attempted: true}
	for _, item := range order.Items {
		line := StockLine{ProductID: item.ProductID, Size: item.Size, Quantity: item.Quantity}
		if err := s.inventory.DecrementStock(ctx, item.ProductID, item.Size, item.Quantity); err != nil {
			logger.Error().Err(err).Int64("order_id", order.ID).Int64("product_id", item.ProductID).
				Str("size", item.Size).Int("quantity", item.Quantity).Msg("Error decrementing stock")
			result.Failed = append(result.Failed, StockFailure{StockLine: line, Error: err.Error()})
			continue
		}
		result.Decremented = append(result.Decremented, line)
	}

	if len(result.Failed) > 0 {
		result.NeedsReconciliation = true
		order.NeedsStockReconciliation = true
		if err := s.orders.FlagStockReconciliation(ctx, order.ID, s.now()); err != nil {
			logger.Error().Err(err).Int64("order_id", order.ID).Msg("Error flagging order for stock reconciliation")
		}
	}

	return result
}

type transitionResult struct {
	Order *entity.Order
	From  entity.Statuses
	To    entity.Statuses
}

// transition applies the transition planned from the current statuses with a compare-and-set
// write, reloading and replanning when another writer got there first. A transition that
// changes nothing is not written.
func (s *OrderService) transition(ctx context.Context, order *entity.Order, plan func(from entity.Statuses) entity.Transition, fill func(u *repository.StatusUpdate)) (*transitionResult, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		from := order.Statuses()
		to, err := from.Apply(plan(from))
		if err != nil {
			var terr *entity.TransitionError
			if errors.As(err, &terr) {
				return nil, apperror.Wrap(apperror.KindConflict, "Order cannot move to the requested state", err)
			}
			return nil, err
		}
		if to == from {
			return &transitionResult{Order: order, From: from, To: to}, nil
		}

		update := repository.StatusUpdate{ID: order.ID, From: from, To: to, UpdatedAt: s.now()}
		if fill != nil {
			fill(&update)
		}

		err = s.orders.UpdateStatus(ctx, update)
		if err == nil {
			order.SetStatuses(to)
			order.UpdatedAt = update.UpdatedAt
			if update.GatewayPaymentID != "" {
				order.GatewayPaymentID = update.GatewayPaymentID
			}
			if update.GatewaySignature != "" {
				order.GatewaySignature = update.GatewaySignature
			}
			if update.VerifiedAt != nil {
				order.VerifiedAt = update.VerifiedAt
			}
			return &transitionResult{Order: order, From: from, To: to}, nil
		}
		if !errors.Is(err, repository.ErrStaleOrder) {
			logger.Error().Err(err).Int64("order_id", order.ID).Msg("Error updating order status")
			return nil, err
		}

		order, err = s.getOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
	}

	return nil, apperror.Conflict("Order is being updated, please retry")
}

func fixed(t entity.Transition) func(entity.Statuses) entity.Transition {
	return func(entity.Statuses) entity.Transition { return t }
}

func (s *OrderService) getOrder(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("Order not found")
		}
		logger.Error().Err(err).Msgf("Error getting order by ID %d", id)
		return nil, err
	}
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*entity.Order, error) {
	return s.getOrder(ctx, id)
}

func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*entity.Order, error) {
	order, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("Order not found")
		}
		return nil, err
	}
	return order, nil
}

type OrderPage struct {
	Orders []*entity.Order `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

func (s *OrderService) ListOrders(ctx context.Context, f repository.ListFilter) (*OrderPage, error) {
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, apperror.Validation("Invalid payment status filter")
	}
	orders, total, err := s.orders.ListOrders(ctx, f)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing orders")
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// UpdateShippingStatus is the admin path for fulfilment progress.
func (s *OrderService) UpdateShippingStatus(ctx context.Context, id int64, status entity.ShippingStatus) (*entity.Order, error) {
	if !status.Valid() {
		return nil, apperror.Validation("Invalid shipping status")
	}
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.transition(ctx, order, fixed(entity.Transition{Shipping: status}), nil)
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

// CancelOrder stops fulfilment. Refunds for paid orders go through the gateway and arrive as webhooks.
func (s *OrderService) CancelOrder(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.transition(ctx, order, func(from entity.Statuses) entity.Transition {
		t := entity.Transition{Shipping: entity.ShippingCancelled}
		if from.Verification == entity.VerificationPending {
			t.Verification = entity.VerificationCancelled
		}
		return t
	}, nil)
	if err != nil {
		return nil, err
	}

	if res.From != res.To {
		if err := s.publishOrderEvent(ctx, res.Order, entity.OrderEventCancelled); err != nil {
			logger.Error().Err(err).Int64("order_id", res.Order.ID).Msg("Error publishing order event")
		}
	}
	return res.Order, nil
}

// RecordShipment stores the carrier's identifiers on the order.
func (s *OrderService) RecordShipment(ctx context.Context, order *entity.Order, d repository.CarrierDetails) error {
	if err := s.orders.SetCarrierDetails(ctx, order.ID, d, s.now()); err != nil {
		logger.Error().Err(err).Int64("order_id", order.ID).Msg("Error saving carrier details")
		return err
	}
	order.CarrierOrderID = d.CarrierOrderID
	order.CarrierShipmentID = d.CarrierShipmentID
	if d.CarrierName != "" {
		order.CarrierName = d.CarrierName
	}
	if d.TrackingNumber != "" {
		order.TrackingNumber = d.TrackingNumber
	}
	return nil
}

// MarkAbandonedOrders flags prepaid orders still unpaid after the configured timeout.
func (s *OrderService) MarkAbandonedOrders(ctx context.Context) (int64, error) {
	cfg, err := s.config.GetStoreConfig(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	n, err := s.orders.MarkAbandoned(ctx, now.Add(-cfg.AbandonedTimeout()), now)
	if err != nil {
		logger.Error().Err(err).Msg("Error marking abandoned orders")
		return 0, err
	}
	if n > 0 {
		logger.Info().Int64("count", n).Msg("Marked abandoned orders")
	}
	return n, nil
}

// RunAbandonedSweeper runs MarkAbandonedOrders every interval until ctx is done.
func (s *OrderService) RunAbandonedSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		logger.Error().Dur("interval", interval).Msg("Abandoned order sweeper not started, interval must be positive")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.MarkAbandonedOrders(ctx); err != nil {
				logger.Error().Err(err).Msg("Abandoned order sweep failed")
			}
		}
	}
}

func (s *OrderService) publishOrderEvent(ctx context.Context, order *entity.Order, eventType string) error {
	if s.events == nil {
		return nil
	}

	orderJSON, err := json.Marshal(entity.OrderEvent{
		EventID: uuid.NewString(),
		Type:    eventType,
		Order:   *order,
	})
	if err != nil {
		return err
	}

	// order.created.1 or order.paid.1
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("order.%s.%d", eventType, order.ID)),
		Value: orderJSON,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.events.WriteMessages(ctx, msg)
}
