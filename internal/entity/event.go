package entity

// Order event types published on the order topic. Message keys look like "order.<type>.<id>".
const (
	OrderEventCreated   = "created"
	OrderEventPaid      = "paid"
	OrderEventVerified  = "verified"
	OrderEventCancelled = "cancelled"
	OrderEventRefunded  = "refunded"
)

type OrderEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Order   Order  `json:"order"`
}
