package consumer

import (
	"context"
	"encoding/json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"storefront-service/internal/entity"
	"strings"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type ShipmentCreator interface {
	CreateShipment(ctx context.Context, orderID int64, courierID int) (*entity.Order, error)
}

// Consumer listens for order events and books carrier shipments for confirmed orders.
type Consumer struct {
	reader     MessageReader
	shipments  ShipmentCreator
	autoCreate bool
}

func NewConsumer(reader MessageReader, shipments ShipmentCreator, autoCreate bool) *Consumer {
	return &Consumer{reader: reader, shipments: shipments, autoCreate: autoCreate}
}

// StartKafkaConsumer reads order events until ctx is cancelled.
func (c *Consumer) StartKafkaConsumer(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Msgf("Error reading message: %v", err)
			continue
		}

		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	var event entity.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Error().Msgf("Error unmarshalling message: %v", err)
		return
	}

	// key -> "order.paid.orderID" or "order.verified.orderID"
	listKey := strings.Split(string(msg.Key), ".")
	if len(listKey) != 3 || listKey[0] != "order" {
		log.Error().Msgf("Unexpected message key: %s", msg.Key)
		return
	}
	eventType := listKey[1]

	switch eventType {
	case entity.OrderEventPaid, entity.OrderEventVerified:
		if !c.autoCreate || c.shipments == nil {
			return
		}
		if _, err := c.shipments.CreateShipment(ctx, event.Order.ID, 0); err != nil {
			log.Error().Msgf("Error creating shipment for order %d: %v", event.Order.ID, err)
			return
		}
		log.Info().Msgf("Shipment created for order %d", event.Order.ID)
	case entity.OrderEventCreated, entity.OrderEventCancelled, entity.OrderEventRefunded:
		log.Debug().Msgf("Order %d %s", event.Order.ID, eventType)
	default:
		log.Error().Msgf("Unknown order event: %s", eventType)
	}
}
