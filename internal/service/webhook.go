package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"storefront-service/internal/apperror"
	"storefront-service/internal/entity"
	"storefront-service/internal/gateway"
	"storefront-service/internal/repository"
	"storefront-service/internal/signature"
)

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity gateway.Payment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
				Status    string `json:"status"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func (e *webhookEvent) paymentOrderID() string {
	if e.Payload.Payment == nil {
		return ""
	}
	return e.Payload.Payment.Entity.OrderID
}

func (e *webhookEvent) paymentID() string {
	if e.Payload.Payment == nil {
		return ""
	}
	return e.Payload.Payment.Entity.ID
}

// refundPaymentID prefers the refund entity and falls back to the payment entity.
func (e *webhookEvent) refundPaymentID() string {
	if e.Payload.Refund != nil && e.Payload.Refund.Entity.PaymentID != "" {
		return e.Payload.Refund.Entity.PaymentID
	}
	return e.paymentID()
}

type webhookHandler func(s *OrderService, ctx context.Context, evt *webhookEvent) error

var webhookHandlers = map[string]webhookHandler{
	"payment.captured":   (*OrderService).onPaymentCaptured,
	"payment.failed":     (*OrderService).onPaymentFailed,
	"payment.authorized": (*OrderService).onPaymentAuthorized,
	"refund.created":     (*OrderService).onRefundCreated,
	"refund.processed":   (*OrderService).onRefundProcessed,
}

type WebhookResult struct {
	Event     string `json:"event"`
	Handled   bool   `json:"handled"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessWebhook authenticates and applies a gateway event. The only error it returns is an
// authenticity failure; processing failures come back in the result so the gateway still
// gets its acknowledgement.
func (s *OrderService) ProcessWebhook(ctx context.Context, rawBody []byte, sig, eventID string) (*WebhookResult, error) {
	if s.webhookSecret == "" {
		logger.Warn().Msg("WEBHOOK SECRET NOT CONFIGURED: accepting webhook without signature verification")
	} else {
		if sig == "" {
			return nil, apperror.Authenticity("Missing webhook signature")
		}
		if !signature.VerifyWebhook(s.webhookSecret, rawBody, sig) {
			logger.Warn().Str("event_id", eventID).Msg("Invalid webhook signature")
			return nil, apperror.Authenticity("Invalid webhook signature")
		}
	}

	evt := &webhookEvent{}
	if err := json.Unmarshal(rawBody, evt); err != nil {
		logger.Error().Err(err).Msg("Error decoding webhook body")
		return &WebhookResult{Error: "Malformed webhook payload"}, nil
	}
	result := &WebhookResult{Event: evt.Event}

	if eventID != "" && s.cache != nil {
		seen, err := s.cache.WebhookEventSeen(ctx, eventID)
		if err != nil {
			logger.Warn().Err(err).Str("event_id", eventID).Msg("Webhook dedupe lookup failed")
		}
		if seen {
			logger.Info().Str("event", evt.Event).Str("event_id", eventID).Msg("Duplicate webhook ignored")
			result.Duplicate = true
			return result, nil
		}
	}

	handler, ok := webhookHandlers[evt.Event]
	if !ok {
		logger.Info().Str("event", evt.Event).Msg("Unhandled webhook event")
		return result, nil
	}

	if err := handler(s, ctx, evt); err != nil {
		logger.Error().Err(err).Str("event", evt.Event).Str("event_id", eventID).Msg("Webhook processing failed")
		result.Error = err.Error()
		return result, nil
	}
	result.Handled = true

	if eventID != "" && s.cache != nil {
		if err := s.cache.MarkWebhookEvent(ctx, eventID); err != nil {
			logger.Warn().Err(err).Str("event_id", eventID).Msg("Error recording webhook event")
		}
	}

	return result, nil
}

func (s *OrderService) orderForGatewayOrder(ctx context.Context, gatewayOrderID string) (*entity.Order, error) {
	if gatewayOrderID == "" {
		return nil, errors.New("webhook payload has no payment order id")
	}
	order, err := s.orders.GetOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("no order for razorpay order %s", gatewayOrderID)
		}
		return nil, err
	}
	return order, nil
}

func (s *OrderService) orderForGatewayPayment(ctx context.Context, gatewayPaymentID string) (*entity.Order, error) {
	if gatewayPaymentID == "" {
		return nil, errors.New("webhook payload has no payment id")
	}
	order, err := s.orders.GetOrderByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("no order for razorpay payment %s", gatewayPaymentID)
		}
		return nil, err
	}
	return order, nil
}

func (s *OrderService) onPaymentCaptured(ctx context.Context, evt *webhookEvent) error {
	order, err := s.orderForGatewayOrder(ctx, evt.paymentOrderID())
	if err != nil {
		return err
	}
	_, err = s.confirmPayment(ctx, order, evt.paymentID(), "")
	return err
}

func (s *OrderService) onPaymentFailed(ctx context.Context, evt *webhookEvent) error {
	return s.applyPaymentEvent(ctx, evt, entity.PaymentFailed)
}

func (s *OrderService) onPaymentAuthorized(ctx context.Context, evt *webhookEvent) error {
	return s.applyPaymentEvent(ctx, evt, entity.PaymentAuthorized)
}

func (s *OrderService) applyPaymentEvent(ctx context.Context, evt *webhookEvent, status entity.PaymentStatus) error {
	order, err := s.orderForGatewayOrder(ctx, evt.paymentOrderID())
	if err != nil {
		return err
	}
	_, err = s.applyPaymentStatus(ctx, order, status, evt.paymentID())
	return err
}

// applyPaymentStatus moves payment status only. Updates that arrive after the order has moved
// past them, such as a failed attempt following a success, are ignored.
func (s *OrderService) applyPaymentStatus(ctx context.Context, order *entity.Order, status entity.PaymentStatus, paymentID string) (*entity.Order, error) {
	res, err := s.transition(ctx, order, func(from entity.Statuses) entity.Transition {
		if !from.Payment.CanTransitionTo(status) {
			logger.Warn().Int64("order_id", order.ID).Str("from", string(from.Payment)).Str("to", string(status)).
				Msg("Ignoring out-of-order payment update")
			return entity.Transition{}
		}
		return entity.Transition{Payment: status}
	}, func(u *repository.StatusUpdate) {
		u.GatewayPaymentID = paymentID
	})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (s *OrderService) onRefundCreated(ctx context.Context, evt *webhookEvent) error {
	order, err := s.orderForGatewayPayment(ctx, evt.refundPaymentID())
	if err != nil {
		return err
	}

	_, err = s.transition(ctx, order, func(from entity.Statuses) entity.Transition {
		if !from.Payment.CanTransitionTo(entity.PaymentRefunding) {
			logger.Warn().Int64("order_id", order.ID).Str("from", string(from.Payment)).Msg("Ignoring refund.created")
			return entity.Transition{}
		}
		return entity.Transition{Payment: entity.PaymentRefunding}
	}, nil)
	return err
}

func (s *OrderService) onRefundProcessed(ctx context.Context, evt *webhookEvent) error {
	order, err := s.orderForGatewayPayment(ctx, evt.refundPaymentID())
	if err != nil {
		return err
	}

	res, err := s.transition(ctx, order, func(from entity.Statuses) entity.Transition {
		if !from.Payment.CanTransitionTo(entity.PaymentRefunded) {
			logger.Warn().Int64("order_id", order.ID).Str("from", string(from.Payment)).Msg("Ignoring refund.processed")
			return entity.Transition{}
		}
		t := entity.Transition{Payment: entity.PaymentRefunded}
		if from.Shipping.CanTransitionTo(entity.ShippingCancelled) {
			t.Shipping = entity.ShippingCancelled
		} else {
			logger.Warn().Int64("order_id", order.ID).Str("shipping_status", string(from.Shipping)).
				Msg("Refund processed but shipping can no longer be cancelled")
		}
		return t
	}, nil)
	if err != nil {
		return err
	}

	if res.From.Payment != entity.PaymentRefunded && res.To.Payment == entity.PaymentRefunded {
		if err := s.publishOrderEvent(ctx, res.Order, entity.OrderEventRefunded); err != nil {
			logger.Error().Err(err).Int64("order_id", res.Order.ID).Msg("Error publishing order event")
		}
	}
	return nil
}
