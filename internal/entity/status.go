package entity

import "fmt"

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentSuccess    PaymentStatus = "success"
	PaymentFailed     PaymentStatus = "failed"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentAbandoned  PaymentStatus = "abandoned"
	PaymentRefunding  PaymentStatus = "refunding"
	PaymentRefunded   PaymentStatus = "refunded"
)

type ShippingStatus string

const (
	ShippingPending     ShippingStatus = "pending"
	ShippingProcessing  ShippingStatus = "processing"
	ShippingReadyToShip ShippingStatus = "ready_to_ship"
	ShippingShipped     ShippingStatus = "shipped"
	ShippingDelivered   ShippingStatus = "delivered"
	ShippingCancelled   ShippingStatus = "cancelled"
)

type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationVerified  VerificationStatus = "verified"
	VerificationCancelled VerificationStatus = "cancelled"
)

// A failed or abandoned prepaid order can still be captured late by the gateway,
// so both keep a path to success.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentSuccess, PaymentFailed, PaymentAuthorized, PaymentAbandoned},
	PaymentAuthorized: {PaymentSuccess, PaymentFailed},
	PaymentFailed:     {PaymentSuccess, PaymentAuthorized},
	PaymentAbandoned:  {PaymentSuccess, PaymentFailed},
	PaymentSuccess:    {PaymentRefunding, PaymentRefunded},
	PaymentRefunding:  {PaymentRefunded},
}

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingPending:     {ShippingProcessing, ShippingReadyToShip, ShippingCancelled},
	ShippingProcessing:  {ShippingReadyToShip, ShippingShipped, ShippingCancelled},
	ShippingReadyToShip: {ShippingProcessing, ShippingShipped, ShippingCancelled},
	ShippingShipped:     {ShippingDelivered, ShippingCancelled},
}

var verificationTransitions = map[VerificationStatus][]VerificationStatus{
	VerificationPending: {VerificationVerified, VerificationCancelled},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed, PaymentAuthorized, PaymentAbandoned, PaymentRefunding, PaymentRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. Staying put is always allowed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == next || contains(paymentTransitions[s], next)
}

func (s ShippingStatus) Valid() bool {
	switch s {
	case ShippingPending, ShippingProcessing, ShippingReadyToShip, ShippingShipped, ShippingDelivered, ShippingCancelled:
		return true
	}
	return false
}

func (s ShippingStatus) CanTransitionTo(next ShippingStatus) bool {
	return s == next || contains(shippingTransitions[s], next)
}

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationCancelled:
		return true
	}
	return false
}

func (s VerificationStatus) CanTransitionTo(next VerificationStatus) bool {
	return s == next || contains(verificationTransitions[s], next)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Statuses is the payment/shipping/verification triple of an order.
type Statuses struct {
	Payment      PaymentStatus
	Shipping     ShippingStatus
	Verification VerificationStatus
}

func PendingStatuses() Statuses {
	return Statuses{Payment: PaymentPending, Shipping: ShippingPending, Verification: VerificationPending}
}

// Transition names target states; empty fields leave that status unchanged.
type Transition struct {
	Payment      PaymentStatus
	Shipping     ShippingStatus
	Verification VerificationStatus
}

type TransitionError struct {
	Field string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition from %s to %s", e.Field, e.From, e.To)
}

// Apply validates every requested change against the transition tables.
func (s Statuses) Apply(t Transition) (Statuses, error) {
	next := s
	if t.Payment != "" {
		if !s.Payment.CanTransitionTo(t.Payment) {
			return s, &TransitionError{Field: "payment", From: string(s.Payment), To: string(t.Payment)}
		}
		next.Payment = t.Payment
	}
	if t.Shipping != "" {
		if !s.Shipping.CanTransitionTo(t.Shipping) {
			return s, &TransitionError{Field: "shipping", From: string(s.Shipping), To: string(t.Shipping)}
		}
		next.Shipping = t.Shipping
	}
	if t.Verification != "" {
		if !s.Verification.CanTransitionTo(t.Verification) {
			return s, &TransitionError{Field: "verification", From: string(s.Verification), To: string(t.Verification)}
		}
		next.Verification = t.Verification
	}
	return next, nil
}
