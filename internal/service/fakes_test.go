package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/gateway"
	"storefront-service/internal/repository"
	"storefront-service/internal/signature"
	"sync"
	"time"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func copyOrder(o *entity.Order) *entity.Order {
	c := *o
	c.Items = append([]entity.OrderItem(nil), o.Items...)
	c.CustomCharges = append([]entity.CustomCharge(nil), o.CustomCharges...)
	return &c
}

type fakeOrderStore struct {
	mu            sync.Mutex
	nextID        int64
	orders        map[int64]*entity.Order
	referralUses  map[string]int
	referralLimit map[string]int
	updates       int
	flagged       map[int64]bool
	carrier       map[int64]repository.CarrierDetails
	existing      map[string]bool
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:        map[int64]*entity.Order{},
		referralUses:  map[string]int{},
		referralLimit: map[string]int{},
		flagged:       map[int64]bool{},
		carrier:       map[int64]repository.CarrierDetails{},
		existing:      map[string]bool{},
	}
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order *entity.Order, referralCode string, now time.Time) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if referralCode != "" {
		if limit, ok := f.referralLimit[referralCode]; ok && f.referralUses[referralCode] >= limit {
			return nil, repository.ErrReferralExhausted
		}
		f.referralUses[referralCode]++
	}

	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = now
	order.UpdatedAt = now
	f.orders[order.ID] = copyOrder(order)
	return order, nil
}

func (f *fakeOrderStore) find(match func(o *entity.Order) bool) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if match(o) {
			return copyOrder(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id int64) (*entity.Order, error) {
	return f.find(func(o *entity.Order) bool { return o.ID == id })
}

func (f *fakeOrderStore) GetOrderByNumber(ctx context.Context, n string) (*entity.Order, error) {
	return f.find(func(o *entity.Order) bool { return o.OrderNumber == n })
}

func (f *fakeOrderStore) GetOrderByGatewayOrderID(ctx context.Context, id string) (*entity.Order, error) {
	return f.find(func(o *entity.Order) bool { return o.GatewayOrderID == id })
}

func (f *fakeOrderStore) GetOrderByGatewayPaymentID(ctx context.Context, id string) (*entity.Order, error) {
	return f.find(func(o *entity.Order) bool { return o.GatewayPaymentID == id })
}

func (f *fakeOrderStore) OrderNumberExists(ctx context.Context, n string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing[n] {
		return true, nil
	}
	for _, o := range f.orders {
		if o.OrderNumber == n {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrderStore) UpdateStatus(ctx context.Context, u repository.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[u.ID]
	if !ok || o.Statuses() != u.From {
		return repository.ErrStaleOrder
	}
	f.updates++
	o.SetStatuses(u.To)
	if u.GatewayPaymentID != "" {
		o.GatewayPaymentID = u.GatewayPaymentID
	}
	if u.GatewaySignature != "" {
		o.GatewaySignature = u.GatewaySignature
	}
	if u.VerifiedAt != nil {
		o.VerifiedAt = u.VerifiedAt
	}
	o.UpdatedAt = u.UpdatedAt
	return nil
}

func (f *fakeOrderStore) MarkAbandoned(ctx context.Context, cutoff, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.orders {
		if o.PaymentType == entity.PaymentTypePrepaid && o.PaymentStatus == entity.PaymentPending &&
			o.CreatedAt.Before(cutoff) && o.AbandonedAt == nil {
			o.PaymentStatus = entity.PaymentAbandoned
			at := now
			o.AbandonedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeOrderStore) FlagStockReconciliation(ctx context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[id] = true
	if o, ok := f.orders[id]; ok {
		o.NeedsStockReconciliation = true
	}
	return nil
}

func (f *fakeOrderStore) SetCarrierDetails(ctx context.Context, id int64, d repository.CarrierDetails, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[id]; ok && o.CarrierShipmentID != "" {
		return repository.ErrShipmentRecorded
	}
	f.carrier[id] = d
	if o, ok := f.orders[id]; ok {
		o.CarrierOrderID = d.CarrierOrderID
		o.CarrierShipmentID = d.CarrierShipmentID
	}
	return nil
}

func (f *fakeOrderStore) ListOrders(ctx context.Context, filter repository.ListFilter) ([]*entity.Order, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*entity.Order
	for _, o := range f.orders {
		if filter.PaymentStatus == "" || o.PaymentStatus == filter.PaymentStatus {
			list = append(list, copyOrder(o))
		}
	}
	return list, len(list), nil
}

func (f *fakeOrderStore) get(id int64) *entity.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyOrder(f.orders[id])
}

func (f *fakeOrderStore) put(o *entity.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = copyOrder(o)
}

// fakeInventory mirrors the conditional decrement: stock only moves when enough is left.
type fakeInventory struct {
	mu    sync.Mutex
	stock map[string]int
	fail  map[string]error
	calls int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{stock: map[string]int{}, fail: map[string]error{}}
}

func variantKey(productID int64, size string) string {
	return fmt.Sprintf("%d/%s", productID, size)
}

func (f *fakeInventory) set(productID int64, size string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[variantKey(productID, size)] = n
}

func (f *fakeInventory) level(productID int64, size string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[variantKey(productID, size)]
}

func (f *fakeInventory) DecrementStock(ctx context.Context, productID int64, size string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := variantKey(productID, size)
	if err := f.fail[key]; err != nil {
		return err
	}
	if f.stock[key] < quantity {
		return repository.ErrInsufficientStock
	}
	f.stock[key] -= quantity
	return nil
}

type fakeConfig struct {
	mu  sync.Mutex
	cfg entity.StoreConfig
	err error
}

func (f *fakeConfig) GetStoreConfig(ctx context.Context) (*entity.StoreConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := f.cfg
	return &c, nil
}

func defaultStoreConfig() entity.StoreConfig {
	return entity.StoreConfig{
		ID:                           1,
		BusinessName:                 "Intru",
		BusinessState:                "Karnataka",
		ExtraChargesEnabled:          true,
		CustomCharges:                []entity.CustomCharge{{Label: "Pack", Amount: dec("20")}},
		FreeShippingEnabled:          true,
		DefaultShippingCost:          dec("99"),
		ReferralEnabled:              true,
		ReferralDiscountType:         entity.DiscountFixed,
		ReferralDiscountValue:        dec("100"),
		ReferralCreditAmount:         dec("50"),
		MinOrderForReferral:          dec("500"),
		AbandonedOrderTimeoutMinutes: 15,
	}
}

const testKeySecret = "key_secret"

type fakeGateway struct {
	mu         sync.Mutex
	configured bool
	err        error
	requests   []gateway.CreateOrderRequest
	payments   map[string][]gateway.Payment
	captured   []string
}

func (f *fakeGateway) Configured() bool { return f.configured }

func (f *fakeGateway) KeyID() string { return "rzp_test_key" }

func (f *fakeGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &gateway.Order{ID: fmt.Sprintf("order_gw%d", len(f.requests)), Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

func (f *fakeGateway) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, candidate string) (bool, error) {
	return signature.VerifyPayment(testKeySecret, gatewayOrderID, gatewayPaymentID, candidate), nil
}

func (f *fakeGateway) FetchPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, list := range f.payments {
		for _, p := range list {
			if p.ID == id {
				return &p, nil
			}
		}
	}
	return nil, apperror.Upstream("Payment gateway request failed", fmt.Errorf("payment %s not found", id))
}

func (f *fakeGateway) FetchOrderPayments(ctx context.Context, gatewayOrderID string) ([]gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.payments[gatewayOrderID], nil
}

func (f *fakeGateway) CapturePayment(ctx context.Context, id string, amount int64, currency string) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.captured = append(f.captured, id)
	return &gateway.Payment{ID: id, Amount: amount, Currency: currency, Status: "captured", Captured: true}, nil
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, m := range f.messages {
		keys = append(keys, string(m.Key))
	}
	return keys
}

type fakeCache struct {
	mu     sync.Mutex
	keys   map[string]bool
	events map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{keys: map[string]bool{}, events: map[string]bool{}}
}

func (f *fakeCache) ClaimIdempotentKey(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeCache) ReleaseIdempotentKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeCache) WebhookEventSeen(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id], nil
}

func (f *fakeCache) MarkWebhookEvent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id] = true
	return nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[int64]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: map[int64]bool{}}
}

func (f *fakeLocks) ClaimShipment(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[orderID] {
		return false, nil
	}
	f.held[orderID] = true
	return true, nil
}

func (f *fakeLocks) ReleaseShipment(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, orderID)
	return nil
}

type fakeReferralStore struct {
	mu      sync.Mutex
	codes   map[string]*entity.ReferralCode
	wallets map[string]*entity.CustomerWallet
	credits map[int64]decimal.Decimal
	nextID  int64
	dupOnce bool
}

func newFakeReferralStore() *fakeReferralStore {
	return &fakeReferralStore{
		codes:   map[string]*entity.ReferralCode{},
		wallets: map[string]*entity.CustomerWallet{},
		credits: map[int64]decimal.Decimal{},
	}
}

func (f *fakeReferralStore) GetReferralCode(ctx context.Context, code string) (*entity.ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc, ok := f.codes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rc
	return &c, nil
}

func (f *fakeReferralStore) GetWalletByEmail(ctx context.Context, email string) (*entity.CustomerWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *w
	return &c, nil
}

func (f *fakeReferralStore) CreateWallet(ctx context.Context, w *entity.CustomerWallet, code *entity.ReferralCode) (*entity.CustomerWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dupOnce {
		f.dupOnce = false
		return nil, repository.ErrDuplicateReferral
	}
	if _, ok := f.codes[code.Code]; ok {
		return nil, repository.ErrDuplicateReferral
	}
	f.nextID++
	f.codes[code.Code] = code
	w.ID = f.nextID
	w.ReferralCode = code.Code
	f.wallets[w.Email] = w
	c := *w
	return &c, nil
}

func (f *fakeReferralStore) CreditReferralReward(ctx context.Context, walletID int64, amount decimal.Decimal, description string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.credits[orderID]; ok {
		return repository.ErrDuplicateReward
	}
	for _, w := range f.wallets {
		if w.ID == walletID {
			f.credits[orderID] = amount
			w.Balance = w.Balance.Add(amount)
			w.TotalEarned = w.TotalEarned.Add(amount)
			w.SuccessfulReferrals++
			return nil
		}
	}
	return errors.New("wallet not found")
}

type fakeLinker struct{}

func (fakeLinker) CODConfirmationLink(orderNumber string) string {
	return "https://wa.me/910000000000?text=" + orderNumber
}

type harness struct {
	svc       *OrderService
	orders    *fakeOrderStore
	inventory *fakeInventory
	config    *fakeConfig
	gateway   *fakeGateway
	referrals *fakeReferralStore
	events    *fakeWriter
	cache     *fakeCache
	clock     time.Time
}

func newHarness(webhookSecret string) *harness {
	h := &harness{
		orders:    newFakeOrderStore(),
		inventory: newFakeInventory(),
		config:    &fakeConfig{cfg: defaultStoreConfig()},
		gateway:   &fakeGateway{configured: true, payments: map[string][]gateway.Payment{}},
		referrals: newFakeReferralStore(),
		events:    &fakeWriter{},
		cache:     newFakeCache(),
		clock:     time.Date(2026, 2, 10, 9, 0, 0, 0, IST),
	}
	referralSvc := NewReferralService(h.referrals, h.config, "INTRU")
	referralSvc.now = func() time.Time { return h.clock }
	h.svc = NewOrderService(h.orders, h.inventory, h.config, h.gateway, referralSvc, h.events, h.cache, fakeLinker{},
		OrderOptions{OrderPrefix: "INTRU", WebhookSecret: webhookSecret})
	h.svc.now = func() time.Time { return h.clock }
	h.svc.numbers.now = func() time.Time { return h.clock }
	return h
}

func sampleInput(paymentType entity.PaymentType) *CreateOrderInput {
	return &CreateOrderInput{
		CustomerEmail: "asha@example.com",
		CustomerName:  "Asha Rao",
		CustomerPhone: "9876543210",
		ShippingAddress: entity.Address{
			Name: "Asha Rao", Phone: "9876543210", Line1: "12 MG Road", City: "Bengaluru",
			State: "Karnataka", Pincode: "560001", Country: "India",
		},
		Items: []entity.OrderItem{
			{ProductID: 1, Title: "Kurta", Size: "M", Quantity: 2, Price: dec("300")},
			{ProductID: 2, Title: "Dupatta", Size: "FREE", Quantity: 1, Price: dec("400")},
		},
		PaymentType: paymentType,
	}
}
