package orders

import (
	"encoding/json"
	"time"

	kafkax "github.com/ariefcatur/go-bookstore-orders.git/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPaid          = "OrderPaid"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemPayload struct {
	BookID       string          `json:"book_id"`
	Quantity     int             `json:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order"`
}

type OrderPaidPayload struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	PaymentID     string          `json:"payment_id"`
	PaymentMethod string          `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Items         []ItemPayload   `json:"items"`
}

type StatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	From      Status `json:"from"`
	To        Status `json:"to"`
	ChangedBy string `json:"changed_by"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Emitter wraps payloads in a v1 envelope and hands them to the producer.
// A nil Emitter or one without a producer drops events.
type Emitter struct {
	Producer Publisher
	Service  string
}

func (e *Emitter) OrderPaid(o Order, traceID string) Envelope {
	items := make([]ItemPayload, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPayload{BookID: it.BookID, Quantity: it.Quantity, PriceAtOrder: it.PriceAtOrder})
	}
	return e.emit(EventOrderPaid, o.ID, traceID, OrderPaidPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		PaymentID:     o.PaymentID,
		PaymentMethod: o.PaymentMethod,
		TotalAmount:   o.TotalAmount,
		Items:         items,
	})
}

func (e *Emitter) StatusChanged(orderID string, from, to Status, changedBy, traceID string) Envelope {
	return e.emit(EventOrderStatusChanged, orderID, traceID, StatusChangedPayload{
		OrderID: orderID, From: from, To: to, ChangedBy: changedBy,
	})
}

func (e *Emitter) emit(eventType, orderID, traceID string, payload any) Envelope {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	if e == nil || e.Producer == nil {
		return ev
	}
	ev.Producer = e.Service
	e.Producer.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return ev
}
