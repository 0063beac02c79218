package orderlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-bookstore-orders.git/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/logging"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type HistoryStore interface {
	AppendHistory(ctx context.Context, orderID string, status orders.Status, eventID string, at time.Time) (bool, error)
}

// Service projects order events into the status history table.
type Service struct {
	Store       HistoryStore
	Redis       *redis.Client
	ServiceName string
}

// HandleOrderEvent is installed as the consumer handler. Returning an error makes the consumer
// retry the same message; its offset is committed only after a nil return.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	// 1) envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		logging.Err(logging.Fields{Service: s.ServiceName, Step: "orderlog", Status: "bad_envelope"}, err)
		return nil // poison message, skip it
	}

	// 2) status carried by the event
	orderID, status, err := statusOf(env)
	if err != nil {
		logging.Err(logging.Fields{Service: s.ServiceName, EventID: env.EventID, Step: "orderlog", Status: "bad_payload"}, err)
		return nil
	}
	if status == "" {
		return nil // not ours
	}

	// 3) dedup via Redis (event_id); the unique index on event_id backs it up
	dkey := fmt.Sprintf(redisx.KeyDedup, "orderlog", env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}

	// 4) append
	inserted, err := s.Store.AppendHistory(ctx, orderID, status, env.EventID, env.OccurredAt)
	if err != nil {
		return err
	}
	if _, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
		logging.Err(logging.Fields{Service: s.ServiceName, EventID: env.EventID, Step: "orderlog", Status: "dedup_set_failed"}, err)
	}

	logging.Log(logging.Fields{Service: s.ServiceName, RequestID: env.TraceID, OrderID: orderID, EventID: env.EventID,
		Step: "orderlog", Status: string(status), Message: fmt.Sprintf("inserted=%t", inserted)})
	return nil
}

func statusOf(env orders.Envelope) (string, orders.Status, error) {
	switch env.EventType {
	case orders.EventOrderPaid:
		p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
		if err != nil {
			return "", "", err
		}
		return p.OrderID, orders.StatusPaid, nil
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			return "", "", err
		}
		if !p.To.Valid() {
			return "", "", fmt.Errorf("%w: %q", orders.ErrInvalidStatus, p.To)
		}
		return p.OrderID, p.To, nil
	default:
		return "", "", nil
	}
}
