package redisx

import "time"

const (
	// Verified payment -> order: idem:payment:{payment_id} -> order_id
	KeyIdemPayment = "idem:payment:%s"

	// Order detail cache: order:{order_id} -> JSON of the order with items
	KeyOrderDetail = "order:%s"

	// Newest cached version of an order: order:{order_id}:v -> updated_at in microseconds
	KeyOrderVersion = "order:%s:v"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
