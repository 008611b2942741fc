package orders

import (
	"encoding/json"
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDeleted       = "OrderDeleted"
	EventStockAdjusted      = "StockAdjusted"
)

const eventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderCreatedPayload struct {
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	PaymentMethod string     `json:"payment_method"`
	Items         []LineItem `json:"items"`
	Total         float64    `json:"total"`
}

type OrderStatusChangedPayload struct {
	OrderID        string         `json:"order_id"`
	UserID         string         `json:"user_id"`
	PreviousStatus Status         `json:"previous_status"`
	NewStatus      Status         `json:"new_status"`
	PaymentMethod  string         `json:"payment_method"`
	Direction      StockDirection `json:"direction"`
	Version        int64          `json:"version"`
}

type StockAdjustedPayload struct {
	OrderID     string            `json:"order_id"`
	Direction   StockDirection    `json:"direction"`
	Adjustments []StockAdjustment `json:"adjustments"`
}

type OrderDeletedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Status  Status `json:"status"`
}

// NewEnvelope wraps payload in a v1 envelope correlated to orderID.
func NewEnvelope(eventType, producer, orderID, traceID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
}

// Emit publishes env on topic keyed by its correlation id. A nil publisher is a no-op.
func Emit(p Publisher, topic string, env Envelope) {
	if p == nil {
		return
	}
	p.Publish(topic, PartitionKey(env.CorrelationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
