package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	mu    sync.Mutex
	calls []map[string]interface{}
	fn    func(data map[string]interface{}) (map[string]interface{}, error)
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, data)
	f.mu.Unlock()
	return f.fn(data)
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRazorpay_CreateIntent(t *testing.T) {
	orders := &fakeOrders{fn: func(data map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"id":       "order_Nx1",
			"amount":   float64(data["amount"].(int64)),
			"currency": data["currency"],
			"status":   "created",
		}, nil
	}}
	rp := newRazorpay(orders, time.Second)

	in, err := rp.CreateIntent(context.Background(), IntentRequest{AmountMinor: 25000, Currency: "INR", Receipt: "rcpt_1"})
	require.NoError(t, err)
	assert.Equal(t, Intent{ID: "order_Nx1", Amount: 25000, Currency: "INR"}, in)
	require.Equal(t, 1, orders.count())
	assert.Equal(t, "rcpt_1", orders.calls[0]["receipt"])
}

func TestRazorpay_TimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	orders := &fakeOrders{fn: func(map[string]interface{}) (map[string]interface{}, error) {
		<-release
		return map[string]interface{}{"id": "late"}, nil
	}}
	rp := newRazorpay(orders, 20*time.Millisecond)

	_, err := rp.CreateIntent(context.Background(), IntentRequest{AmountMinor: 100, Currency: "INR"})
	var gw *GatewayError
	require.True(t, errors.As(err, &gw))
	assert.True(t, gw.Retryable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRazorpay_RejectsMalformedResponse(t *testing.T) {
	orders := &fakeOrders{fn: func(map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"amount": float64(1)}, nil
	}}
	rp := newRazorpay(orders, time.Second)

	_, err := rp.CreateIntent(context.Background(), IntentRequest{AmountMinor: 100, Currency: "INR"})
	var gw *GatewayError
	require.True(t, errors.As(err, &gw))
	assert.False(t, gw.Retryable)
}

func TestRazorpay_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	orders := &fakeOrders{fn: func(map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("503 service unavailable")
	}}
	rp := newRazorpay(orders, time.Second)

	for i := 0; i < 5; i++ {
		_, err := rp.CreateIntent(context.Background(), IntentRequest{AmountMinor: 100, Currency: "INR"})
		require.Error(t, err)
	}
	_, err := rp.CreateIntent(context.Background(), IntentRequest{AmountMinor: 100, Currency: "INR"})

	var gw *GatewayError
	require.True(t, errors.As(err, &gw))
	assert.True(t, gw.Retryable)
	assert.Equal(t, 5, orders.count(), "open breaker must not reach the processor")
}
