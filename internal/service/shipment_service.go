package service

import (
	"context"
	"errors"
	"storefront-service/internal/apperror"
	"storefront-service/internal/carrier"
	"storefront-service/internal/entity"
	"storefront-service/internal/repository"
)

type Carrier interface {
	Configured() bool
	Rates(ctx context.Context, req carrier.RateRequest) ([]carrier.Rate, error)
	CreateShipment(ctx context.Context, order *entity.Order, courierID int) (*carrier.Shipment, error)
}

// ShipmentLocker serialises carrier bookings per order across the admin route and the consumer.
type ShipmentLocker interface {
	ClaimShipment(ctx context.Context, orderID int64) (bool, error)
	ReleaseShipment(ctx context.Context, orderID int64) error
}

// ShipmentService hands confirmed orders to the carrier. Nothing here touches payment or
// verification state.
type ShipmentService struct {
	carrier       Carrier
	orders        *OrderService
	locks         ShipmentLocker
	pickupPincode string
}

func NewShipmentService(c Carrier, orders *OrderService, locks ShipmentLocker, pickupPincode string) *ShipmentService {
	return &ShipmentService{carrier: c, orders: orders, locks: locks, pickupPincode: pickupPincode}
}

func (s *ShipmentService) Rates(ctx context.Context, req carrier.RateRequest) ([]carrier.Rate, error) {
	if req.DeliveryPincode == "" {
		return nil, apperror.Validation("Delivery pincode is required")
	}
	if req.PickupPincode == "" {
		req.PickupPincode = s.pickupPincode
	}
	return s.carrier.Rates(ctx, req)
}

func readyForShipment(order *entity.Order) bool {
	if order.ShippingStatus == entity.ShippingCancelled || order.ShippingStatus == entity.ShippingDelivered {
		return false
	}
	if order.PaymentType == entity.PaymentTypeCOD {
		return order.VerificationStatus == entity.VerificationVerified
	}
	return order.PaymentStatus == entity.PaymentSuccess
}

// CreateShipment registers a confirmed order with the carrier. An order that already has a
// carrier shipment is returned as is. Concurrent calls for one order get a ConflictError
// while the first booking is in flight.
func (s *ShipmentService) CreateShipment(ctx context.Context, orderID int64, courierID int) (*entity.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CarrierShipmentID != "" {
		return order, nil
	}
	if !readyForShipment(order) {
		return nil, apperror.Validation("Order is not ready for shipment")
	}

	claimed, err := s.locks.ClaimShipment(ctx, orderID)
	if err != nil {
		logger.Error().Err(err).Int64("order_id", orderID).Msg("Error claiming shipment lock")
		return nil, err
	}
	if !claimed {
		return nil, apperror.Conflict("Shipment is already being created for this order")
	}
	defer func() {
		if err := s.locks.ReleaseShipment(context.Background(), orderID); err != nil {
			logger.Warn().Err(err).Int64("order_id", orderID).Msg("Error releasing shipment lock")
		}
	}()

	// re-read under the lock, a booking may have finished since the first read
	order, err = s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CarrierShipmentID != "" {
		return order, nil
	}

	shipment, err := s.carrier.CreateShipment(ctx, order, courierID)
	if err != nil {
		logger.Error().Err(err).Int64("order_id", order.ID).Msg("Error creating carrier shipment")
		return nil, err
	}

	details := repository.CarrierDetails{
		CarrierOrderID:    shipment.OrderID,
		CarrierShipmentID: shipment.ShipmentID,
		CarrierName:       shipment.Courier,
		TrackingNumber:    shipment.AWBCode,
	}
	if err := s.orders.RecordShipment(ctx, order, details); err != nil {
		if errors.Is(err, repository.ErrShipmentRecorded) {
			logger.Error().Int64("order_id", order.ID).Str("shiprocket_shipment_id", shipment.ShipmentID).
				Msg("Order already had a carrier shipment, duplicate booking needs cancelling")
			return nil, apperror.Conflict("Order already has a carrier shipment")
		}
		return nil, err
	}

	updated, err := s.orders.UpdateShippingStatus(ctx, order.ID, entity.ShippingProcessing)
	if err != nil {
		logger.Warn().Err(err).Int64("order_id", order.ID).Msg("Shipment created but shipping status not advanced")
		return order, nil
	}
	return updated, nil
}
