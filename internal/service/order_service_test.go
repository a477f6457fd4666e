package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/repository"
	"storefront-service/internal/signature"
	"strings"
	"sync"
	"testing"
	"time"
)

func createPrepaid(t *testing.T, h *harness) *CreateOrderResult {
	t.Helper()
	res, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypePrepaid))
	require.NoError(t, err)
	return res
}

func createCOD(t *testing.T, h *harness) *CreateOrderResult {
	t.Helper()
	res, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypeCOD))
	require.NoError(t, err)
	return res
}

func signedVerifyInput(res *CreateOrderResult, paymentID string) *VerifyPaymentInput {
	return &VerifyPaymentInput{
		OrderID:          res.OrderID,
		GatewayOrderID:   res.RazorpayOrderID,
		GatewayPaymentID: paymentID,
		GatewaySignature: signature.Sign([]byte(testKeySecret), signature.PaymentMessage(res.RazorpayOrderID, paymentID)),
	}
}

func stockUp(h *harness) {
	h.inventory.set(1, "M", 10)
	h.inventory.set(2, "FREE", 10)
}

func TestCreateOrderPrepaid(t *testing.T) {
	h := newHarness("")
	res := createPrepaid(t, h)

	// 1000 subtotal + 20 charge, 18% intrastate GST
	assert.True(t, dec("1203.6").Equal(res.Amount), res.Amount.String())
	assert.Equal(t, int64(120360), res.AmountMinor)
	assert.Equal(t, "INR", res.Currency)
	assert.Equal(t, "rzp_test_key", res.KeyID)
	assert.Regexp(t, `^INTRU-20260210-\d{4}$`, res.OrderNumber)

	require.Len(t, h.gateway.requests, 1)
	req := h.gateway.requests[0]
	assert.Equal(t, int64(120360), req.Amount)
	assert.Equal(t, res.OrderNumber, req.Receipt)
	assert.Equal(t, "asha@example.com", req.Notes["customer_email"])

	stored := h.orders.get(res.OrderID)
	assert.Equal(t, entity.PendingStatuses(), stored.Statuses())
	assert.Equal(t, res.RazorpayOrderID, stored.GatewayOrderID)
	assert.True(t, dec("91.8").Equal(*stored.TaxBreakdown.CGST))
	assert.True(t, dec("91.8").Equal(*stored.TaxBreakdown.SGST))
	assert.Nil(t, stored.TaxBreakdown.IGST)
	assert.Equal(t, stored.ShippingAddress, stored.BillingAddress)

	assert.Equal(t, 0, h.inventory.calls, "stock must not move at creation")
	assert.Equal(t, []string{"order.created.1"}, h.events.keys())
}

func TestCreateOrderCOD(t *testing.T) {
	h := newHarness("")
	res := createCOD(t, h)

	assert.Empty(t, h.gateway.requests)
	assert.Empty(t, res.RazorpayOrderID)
	assert.Contains(t, res.WhatsAppLink, res.OrderNumber)

	stored := h.orders.get(res.OrderID)
	assert.Equal(t, entity.PendingStatuses(), stored.Statuses())
	assert.Equal(t, entity.PaymentTypeCOD, stored.PaymentType)
}

func TestCreateOrderCODWorksWithoutGateway(t *testing.T) {
	h := newHarness("")
	h.gateway.configured = false

	_, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypeCOD))
	assert.NoError(t, err)
}

func TestCreateOrderInterstateUsesIGST(t *testing.T) {
	h := newHarness("")
	in := sampleInput(entity.PaymentTypeCOD)
	in.ShippingAddress.State = "Maharashtra"

	res, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	stored := h.orders.get(res.OrderID)
	require.NotNil(t, stored.TaxBreakdown.IGST)
	assert.True(t, dec("183.6").Equal(*stored.TaxBreakdown.IGST))
	assert.Nil(t, stored.TaxBreakdown.CGST)
}

func TestCreateOrderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(in *CreateOrderInput)
	}{
		{"missing email", func(in *CreateOrderInput) { in.CustomerEmail = "" }},
		{"missing name", func(in *CreateOrderInput) { in.CustomerName = " " }},
		{"missing state", func(in *CreateOrderInput) { in.ShippingAddress.State = "" }},
		{"missing pincode", func(in *CreateOrderInput) { in.ShippingAddress.Pincode = "" }},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }},
		{"zero quantity", func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{"negative price", func(in *CreateOrderInput) { in.Items[1].Price = dec("-1") }},
		{"bad payment type", func(in *CreateOrderInput) { in.PaymentType = "upi" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness("")
			in := sampleInput(entity.PaymentTypePrepaid)
			tc.mutate(in)

			_, err := h.svc.CreateOrder(context.Background(), in)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
			assert.Empty(t, h.orders.orders)
			assert.Empty(t, h.gateway.requests)
		})
	}
}

func TestCreateOrderGatewayNotConfigured(t *testing.T) {
	h := newHarness("")
	h.gateway.configured = false

	_, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypePrepaid))
	assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))
	assert.Empty(t, h.orders.orders)
	assert.Empty(t, h.events.keys())
}

func TestCreateOrderGatewayFailureStoresNothing(t *testing.T) {
	h := newHarness("")
	h.gateway.err = errors.New("connection reset")

	_, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypePrepaid))
	assert.Equal(t, apperror.KindUpstream, apperror.KindOf(err))
	assert.Empty(t, h.orders.orders)
}

func TestCreateOrderMissingStoreConfig(t *testing.T) {
	h := newHarness("")
	h.config.err = apperror.Configuration("Store settings are missing")

	_, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypeCOD))
	assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))
}

func addReferralCode(h *harness, code string) {
	h.referrals.codes[code] = &entity.ReferralCode{
		Code: code, OwnerEmail: "ravi@example.com", OwnerName: "Ravi", MaxUses: 10, IsActive: true,
	}
}

func TestCreateOrderWithReferral(t *testing.T) {
	h := newHarness("")
	addReferralCode(h, "INTRUFRIEND")

	in := sampleInput(entity.PaymentTypePrepaid)
	in.ReferralCode = " intrufriend "
	res, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	// 1000 - 100 + 20 = 920 before tax
	assert.True(t, dec("1085.6").Equal(res.Amount), res.Amount.String())
	stored := h.orders.get(res.OrderID)
	assert.Equal(t, "INTRUFRIEND", stored.ReferralCodeUsed)
	assert.True(t, dec("100").Equal(stored.DiscountAmount))
	assert.Equal(t, 1, h.orders.referralUses["INTRUFRIEND"])
}

func TestCreateOrderRoundsPercentageReferralToPaise(t *testing.T) {
	h := newHarness("")
	addReferralCode(h, "INTRUFRIEND")
	h.config.cfg.ReferralDiscountType = entity.DiscountPercentage
	h.config.cfg.ReferralDiscountValue = dec("10")

	in := sampleInput(entity.PaymentTypePrepaid)
	in.Items = []entity.OrderItem{{ProductID: 1, Title: "Kurta", Size: "M", Quantity: 3, Price: dec("333.33")}}
	in.ReferralCode = "INTRUFRIEND"
	res, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	// 10% of 999.99 is 99.999, stored as 100.00; (999.99 - 100 + 20) * 18% = 165.5982 -> 165.60
	stored := h.orders.get(res.OrderID)
	assert.True(t, dec("100").Equal(stored.DiscountAmount), stored.DiscountAmount.String())
	assert.True(t, dec("165.6").Equal(stored.TaxAmount), stored.TaxAmount.String())
	assert.True(t, dec("1085.59").Equal(stored.TotalAmount), stored.TotalAmount.String())
	assert.True(t, stored.TaxBreakdown.CGST.Add(*stored.TaxBreakdown.SGST).Equal(stored.TaxAmount))

	sum := stored.Subtotal.Sub(stored.DiscountAmount).Add(dec("20")).Add(stored.TaxAmount)
	assert.True(t, sum.Equal(stored.TotalAmount), sum.String())
	assert.Equal(t, int64(108559), res.AmountMinor)
	assert.Equal(t, int64(108559), h.gateway.requests[0].Amount)
}

func TestCreateOrderRejectsSubPaisePrice(t *testing.T) {
	h := newHarness("")
	in := sampleInput(entity.PaymentTypeCOD)
	in.Items[0].Price = dec("300.005")

	_, err := h.svc.CreateOrder(context.Background(), in)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Empty(t, h.orders.orders)
}

func TestCreateOrderRejectsInvalidReferral(t *testing.T) {
	h := newHarness("")

	in := sampleInput(entity.PaymentTypeCOD)
	in.ReferralCode = "NOPE"
	_, err := h.svc.CreateOrder(context.Background(), in)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Equal(t, "Invalid referral code", apperror.MessageOf(err))
	assert.Empty(t, h.orders.orders)
}

func TestCreateOrderRejectsOwnReferral(t *testing.T) {
	h := newHarness("")
	addReferralCode(h, "INTRUFRIEND")

	in := sampleInput(entity.PaymentTypeCOD)
	in.CustomerEmail = "Ravi@Example.com"
	in.ReferralCode = "INTRUFRIEND"
	_, err := h.svc.CreateOrder(context.Background(), in)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCreateOrderReferralExhaustedAtInsert(t *testing.T) {
	h := newHarness("")
	addReferralCode(h, "INTRUFRIEND")
	// another checkout took the last use between validation and insert
	h.orders.referralLimit["INTRUFRIEND"] = 0

	in := sampleInput(entity.PaymentTypeCOD)
	in.ReferralCode = "INTRUFRIEND"
	_, err := h.svc.CreateOrder(context.Background(), in)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Equal(t, "Referral code limit reached", apperror.MessageOf(err))
}

func TestCreateOrderIdempotentKey(t *testing.T) {
	h := newHarness("")

	in := sampleInput(entity.PaymentTypeCOD)
	in.IdempotentKey = "checkout-1"
	_, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	again := sampleInput(entity.PaymentTypeCOD)
	again.IdempotentKey = "checkout-1"
	_, err = h.svc.CreateOrder(context.Background(), again)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Len(t, h.orders.orders, 1)
}

func TestCreateOrderReleasesKeyOnFailure(t *testing.T) {
	h := newHarness("")
	h.gateway.err = errors.New("timeout")

	in := sampleInput(entity.PaymentTypePrepaid)
	in.IdempotentKey = "checkout-2"
	_, err := h.svc.CreateOrder(context.Background(), in)
	require.Error(t, err)

	h.gateway.err = nil
	retry := sampleInput(entity.PaymentTypePrepaid)
	retry.IdempotentKey = "checkout-2"
	_, err = h.svc.CreateOrder(context.Background(), retry)
	assert.NoError(t, err)
}

func TestCreateOrderGivesUpWhenNumbersCollide(t *testing.T) {
	h := newHarness("")
	// another replica already used every number for the day
	for i := 0; i < orderSuffixSpace; i++ {
		h.orders.existing[fmt.Sprintf("INTRU-20260210-%04d", i)] = true
	}

	_, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypeCOD))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique order number")
	assert.Empty(t, h.orders.orders)
}

func TestVerifyPaymentConfirmsOnce(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createPrepaid(t, h)
	in := signedVerifyInput(res, "pay_1")

	out, err := h.svc.VerifyPayment(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Payment.Transitioned)
	assert.Equal(t, entity.PaymentSuccess, out.Payment.Status)
	assert.Equal(t, entity.ShippingReadyToShip, out.Payment.Shipping)
	assert.Equal(t, entity.VerificationVerified, out.Payment.Verification)
	assert.True(t, out.Inventory.Attempted)
	assert.Len(t, out.Inventory.Decremented, 2)
	assert.False(t, out.Inventory.NeedsReconciliation)

	stored := h.orders.get(res.OrderID)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)
	assert.Equal(t, in.GatewaySignature, stored.GatewaySignature)
	require.NotNil(t, stored.VerifiedAt)
	assert.Equal(t, 8, h.inventory.level(1, "M"))
	assert.Equal(t, 9, h.inventory.level(2, "FREE"))

	again, err := h.svc.VerifyPayment(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, again.Payment.Transitioned)
	assert.False(t, again.Inventory.Attempted)
	assert.Equal(t, entity.PaymentSuccess, again.Payment.Status)
	assert.Equal(t, 8, h.inventory.level(1, "M"))

	assert.Equal(t, []string{"order.created.1", "order.paid.1"}, h.events.keys())
}

func TestVerifyPaymentInvalidSignatureLeavesOrderUntouched(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createPrepaid(t, h)
	in := signedVerifyInput(res, "pay_1")
	last := "0"
	if strings.HasSuffix(in.GatewaySignature, "0") {
		last = "1"
	}
	in.GatewaySignature = in.GatewaySignature[:len(in.GatewaySignature)-1] + last

	_, err := h.svc.VerifyPayment(context.Background(), in)
	assert.Equal(t, apperror.KindAuthenticity, apperror.KindOf(err))
	assert.Equal(t, 0, h.orders.updates)
	assert.Equal(t, entity.PendingStatuses(), h.orders.get(res.OrderID).Statuses())
	assert.Equal(t, 0, h.inventory.calls)
}

func TestVerifyPaymentForeignGatewayOrder(t *testing.T) {
	h := newHarness("")
	first := createPrepaid(t, h)
	second := createPrepaid(t, h)

	// a valid signature for the second order presented against the first
	in := signedVerifyInput(second, "pay_2")
	in.OrderID = first.OrderID

	_, err := h.svc.VerifyPayment(context.Background(), in)
	assert.Equal(t, apperror.KindAuthenticity, apperror.KindOf(err))
	assert.Equal(t, 0, h.orders.updates)
}

func TestVerifyPaymentMissingFields(t *testing.T) {
	h := newHarness("")
	_, err := h.svc.VerifyPayment(context.Background(), &VerifyPaymentInput{OrderID: 1})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	h := newHarness("")
	in := signedVerifyInput(&CreateOrderResult{OrderID: 99, RazorpayOrderID: "order_x"}, "pay_1")

	_, err := h.svc.VerifyPayment(context.Background(), in)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestVerifyPaymentStockFailureKeepsPayment(t *testing.T) {
	h := newHarness("")
	h.inventory.set(1, "M", 1) // order needs two
	h.inventory.set(2, "FREE", 5)
	res := createPrepaid(t, h)

	out, err := h.svc.VerifyPayment(context.Background(), signedVerifyInput(res, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, entity.PaymentSuccess, out.Payment.Status)
	assert.True(t, out.Inventory.NeedsReconciliation)
	require.Len(t, out.Inventory.Failed, 1)
	assert.Equal(t, int64(1), out.Inventory.Failed[0].ProductID)
	assert.Len(t, out.Inventory.Decremented, 1)

	assert.Equal(t, 1, h.inventory.level(1, "M"))
	assert.Equal(t, 4, h.inventory.level(2, "FREE"))
	assert.True(t, h.orders.flagged[res.OrderID])
	assert.Equal(t, entity.PaymentSuccess, h.orders.get(res.OrderID).PaymentStatus)
}

func TestVerifyPaymentConcurrentCallsDecrementOnce(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createPrepaid(t, h)
	in := signedVerifyInput(res, "pay_1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitioned := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.svc.VerifyPayment(context.Background(), in)
			if err != nil {
				return
			}
			if out.Payment.Transitioned {
				mu.Lock()
				transitioned++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitioned)
	assert.Equal(t, 8, h.inventory.level(1, "M"))
	assert.Equal(t, 9, h.inventory.level(2, "FREE"))
}

func TestVerifyPaymentCreditsReferrerOnce(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	addReferralCode(h, "INTRUFRIEND")

	in := sampleInput(entity.PaymentTypePrepaid)
	in.ReferralCode = "INTRUFRIEND"
	res, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	verify := signedVerifyInput(res, "pay_1")
	_, err = h.svc.VerifyPayment(context.Background(), verify)
	require.NoError(t, err)
	_, err = h.svc.VerifyPayment(context.Background(), verify)
	require.NoError(t, err)

	wallet := h.referrals.wallets["ravi@example.com"]
	require.NotNil(t, wallet)
	assert.True(t, dec("50").Equal(wallet.Balance))
	assert.Equal(t, 1, wallet.SuccessfulReferrals)
}

func TestVerifyCOD(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createCOD(t, h)

	out, err := h.svc.VerifyCOD(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.True(t, out.Payment.Transitioned)
	assert.Equal(t, entity.PaymentPending, out.Payment.Status)
	assert.Equal(t, entity.ShippingReadyToShip, out.Payment.Shipping)
	assert.Equal(t, entity.VerificationVerified, out.Payment.Verification)
	assert.Equal(t, 8, h.inventory.level(1, "M"))

	stored := h.orders.get(res.OrderID)
	require.NotNil(t, stored.VerifiedAt)
	assert.True(t, stored.VerifiedAt.Equal(h.clock))

	again, err := h.svc.VerifyCOD(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.False(t, again.Payment.Transitioned)
	assert.Equal(t, 8, h.inventory.level(1, "M"))
	assert.Equal(t, []string{"order.created.1", "order.verified.1"}, h.events.keys())
}

func TestVerifyCODRejectsPrepaid(t *testing.T) {
	h := newHarness("")
	res := createPrepaid(t, h)

	_, err := h.svc.VerifyCOD(context.Background(), res.OrderID)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Equal(t, entity.PendingStatuses(), h.orders.get(res.OrderID).Statuses())
}

func TestVerifyCODCancelledOrderConflicts(t *testing.T) {
	h := newHarness("")
	res := createCOD(t, h)
	_, err := h.svc.CancelOrder(context.Background(), res.OrderID)
	require.NoError(t, err)

	_, err = h.svc.VerifyCOD(context.Background(), res.OrderID)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Equal(t, 0, h.inventory.calls)
}

func TestConcurrentVerificationsNeverOversell(t *testing.T) {
	h := newHarness("")
	h.inventory.set(1, "M", 1)

	var ids []int64
	for i := 0; i < 2; i++ {
		in := sampleInput(entity.PaymentTypeCOD)
		in.Items = []entity.OrderItem{{ProductID: 1, Title: "Kurta", Size: "M", Quantity: 1, Price: dec("600")}}
		res, err := h.svc.CreateOrder(context.Background(), in)
		require.NoError(t, err)
		ids = append(ids, res.OrderID)
	}

	var wg sync.WaitGroup
	outcomes := make([]*VerifyOutcome, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			out, err := h.svc.VerifyCOD(context.Background(), id)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, id)
	}
	wg.Wait()

	assert.Equal(t, 0, h.inventory.level(1, "M"))
	failed := 0
	for _, out := range outcomes {
		require.NotNil(t, out)
		assert.Equal(t, entity.VerificationVerified, out.Payment.Verification)
		if out.Inventory.NeedsReconciliation {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestTransitionRetriesOnStaleWrite(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createPrepaid(t, h)

	// a concurrent writer cancels shipping after we loaded the order
	loaded := h.orders.get(res.OrderID)
	cancelled := h.orders.get(res.OrderID)
	cancelled.ShippingStatus = entity.ShippingCancelled
	cancelled.VerificationStatus = entity.VerificationCancelled
	h.orders.put(cancelled)

	out, err := h.svc.confirmPayment(context.Background(), loaded, "pay_1", "")
	require.NoError(t, err)
	assert.True(t, out.Payment.Transitioned)
	assert.Equal(t, entity.PaymentSuccess, out.Payment.Status)
	assert.Equal(t, entity.ShippingCancelled, out.Payment.Shipping)
	assert.Equal(t, entity.VerificationCancelled, out.Payment.Verification)
	// nothing ships, so nothing leaves stock
	assert.False(t, out.Inventory.Attempted)
	assert.Equal(t, 0, h.inventory.calls)
}

func TestUpdateShippingStatus(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createPrepaid(t, h)
	_, err := h.svc.VerifyPayment(context.Background(), signedVerifyInput(res, "pay_1"))
	require.NoError(t, err)

	order, err := h.svc.UpdateShippingStatus(context.Background(), res.OrderID, entity.ShippingShipped)
	require.NoError(t, err)
	assert.Equal(t, entity.ShippingShipped, order.ShippingStatus)

	_, err = h.svc.UpdateShippingStatus(context.Background(), res.OrderID, entity.ShippingPending)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	_, err = h.svc.UpdateShippingStatus(context.Background(), res.OrderID, "lost")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCancelOrder(t *testing.T) {
	h := newHarness("")
	res := createCOD(t, h)

	order, err := h.svc.CancelOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entity.ShippingCancelled, order.ShippingStatus)
	assert.Equal(t, entity.VerificationCancelled, order.VerificationStatus)
	assert.Equal(t, entity.PaymentPending, order.PaymentStatus)
	assert.Contains(t, h.events.keys(), "order.cancelled.1")
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	h := newHarness("")
	_, err := h.svc.ListOrders(context.Background(), repository.ListFilter{PaymentStatus: "lost"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	createCOD(t, h)
	page, err := h.svc.ListOrders(context.Background(), repository.ListFilter{PaymentStatus: entity.PaymentPending, Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestMarkAbandonedOrders(t *testing.T) {
	h := newHarness("")
	stale := createPrepaid(t, h)
	cod := createCOD(t, h)

	h.clock = h.clock.Add(10 * time.Minute)
	fresh := createPrepaid(t, h)

	paid := createPrepaid(t, h)
	_, err := h.svc.VerifyPayment(context.Background(), signedVerifyInput(paid, "pay_9"))
	require.NoError(t, err)

	h.clock = h.clock.Add(6 * time.Minute)
	n, err := h.svc.MarkAbandonedOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, entity.PaymentAbandoned, h.orders.get(stale.OrderID).PaymentStatus)
	assert.NotNil(t, h.orders.get(stale.OrderID).AbandonedAt)
	assert.Equal(t, entity.PaymentPending, h.orders.get(cod.OrderID).PaymentStatus)
	assert.Equal(t, entity.PaymentPending, h.orders.get(fresh.OrderID).PaymentStatus)
	assert.Equal(t, entity.PaymentSuccess, h.orders.get(paid.OrderID).PaymentStatus)
}

func TestAbandonedOrderCanStillBePaid(t *testing.T) {
	h := newHarness("")
	stockUp(h)
	res := createPrepaid(t, h)

	h.clock = h.clock.Add(time.Hour)
	_, err := h.svc.MarkAbandonedOrders(context.Background())
	require.NoError(t, err)

	out, err := h.svc.VerifyPayment(context.Background(), signedVerifyInput(res, "pay_late"))
	require.NoError(t, err)
	assert.True(t, out.Payment.Transitioned)
	assert.Equal(t, entity.PaymentSuccess, out.Payment.Status)
}

func TestRunAbandonedSweeperStopsWithContext(t *testing.T) {
	h := newHarness("")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.svc.RunAbandonedSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunAbandonedSweeperRejectsNonPositiveInterval(t *testing.T) {
	h := newHarness("")

	done := make(chan struct{})
	go func() {
		// returns without a live context instead of panicking in time.NewTicker
		h.svc.RunAbandonedSweeper(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper started with a zero interval")
	}
}

func TestPublishFailureDoesNotFailOrder(t *testing.T) {
	h := newHarness("")
	h.events.err = errors.New("broker down")

	_, err := h.svc.CreateOrder(context.Background(), sampleInput(entity.PaymentTypeCOD))
	assert.NoError(t, err)
	assert.Len(t, h.orders.orders, 1)
}
