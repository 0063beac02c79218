package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/payment"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/profiles"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const testSecret = "rzp_test_secret"

type fakeCart struct {
	mu        sync.Mutex
	lines     map[string][]cart.Line
	removeErr error
}

func (c *fakeCart) Snapshot(_ context.Context, userID string) ([]cart.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cart.Line(nil), c.lines[userID]...), nil
}

func (c *fakeCart) RemoveLines(_ context.Context, userID string, ids []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removeErr != nil {
		return 0, c.removeErr
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var keep []cart.Line
	var n int64
	for _, l := range c.lines[userID] {
		if drop[l.ItemID] {
			n++
			continue
		}
		keep = append(keep, l)
	}
	c.lines[userID] = keep
	return n, nil
}

func (c *fakeCart) add(userID string, l cart.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[userID] = append(c.lines[userID], l)
}

type fakeProfiles map[string]profiles.Profile

func (f fakeProfiles) Get(_ context.Context, userID string) (profiles.Profile, error) {
	p, ok := f[userID]
	if !ok {
		return profiles.Profile{}, profiles.ErrNotFound
	}
	return p, nil
}

// memOrders enforces payment_id uniqueness the way the orders table does.
type memOrders struct {
	mu        sync.Mutex
	byPayment map[string]orders.Order
	commitErr error
}

func (m *memOrders) Commit(_ context.Context, n orders.NewOrder) (orders.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return orders.Order{}, false, m.commitErr
	}
	if prev, ok := m.byPayment[n.PaymentID]; ok {
		return prev, true, nil
	}
	o := orders.Order{
		ID:            uuid.NewString(),
		UserID:        n.UserID,
		TotalAmount:   n.Total(),
		Status:        orders.StatusPaid,
		PaymentID:     n.PaymentID,
		PaymentMethod: n.PaymentMethod,
		UserName:      n.Customer.Name,
		CreatedAt:     time.Now(),
	}
	for i, it := range n.Items {
		o.Items = append(o.Items, orders.Item{ID: int64(i + 1), BookID: it.BookID, BookName: it.BookName,
			PriceAtOrder: it.Price, Quantity: it.Quantity})
	}
	m.byPayment[n.PaymentID] = o
	return o, false, nil
}

func (m *memOrders) FindByPaymentID(_ context.Context, paymentID string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byPayment[paymentID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPayment)
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	last  payment.IntentRequest
	err   error
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = req
	if g.err != nil {
		return payment.Intent{}, g.err
	}
	return payment.Intent{ID: "order_" + req.Receipt[len(req.Receipt)-8:], Amount: req.AmountMinor, Currency: req.Currency}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

type harness struct {
	svc      *Service
	cart     *fakeCart
	orders   *memOrders
	gateway  *fakeGateway
	profiles fakeProfiles
	events   *recordingPublisher
	metrics  *metrics.CheckoutMetrics
	redis    *miniredis.Miniredis
	signer   *payment.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		cart:    &fakeCart{lines: map[string][]cart.Line{}},
		orders:  &memOrders{byPayment: map[string]orders.Order{}},
		gateway: &fakeGateway{},
		profiles: fakeProfiles{
			"u1":    {ID: "u1", Name: "Asha", Email: "asha@example.com", Mobile: "9000000001", Address: "12 MG Road, Pune"},
			"u2":    {ID: "u2", Name: "Ravi", Email: "ravi@example.com", Mobile: "9000000002", Address: "4 Park St, Kolkata"},
			"nomad": {ID: "nomad", Name: "No Address"},
		},
		events:  &recordingPublisher{},
		metrics: metrics.NewCheckoutMetrics(prometheus.NewRegistry()),
		redis:   mr,
		signer:  payment.NewSigner(testSecret),
	}
	h.svc = &Service{
		Cart:     h.cart,
		Profiles: h.profiles,
		Gateway:  h.gateway,
		Signer:   h.signer,
		Finalizer: &Finalizer{
			Orders:      h.orders,
			Cart:        h.cart,
			Redis:       rdb,
			Events:      &orders.Emitter{Producer: h.events, Service: "test"},
			Metrics:     h.metrics,
			ServiceName: "test",
		},
		Currency:    "INR",
		Metrics:     h.metrics,
		ServiceName: "test",
	}
	return h
}

// fillScenarioCart puts A (100 × 2) and B (50 × 1) in the user's cart.
func (h *harness) fillScenarioCart(userID string) {
	h.cart.add(userID, cart.Line{ItemID: "ci-a-" + userID, BookID: "book-a", BookName: "A", Price: decimal.NewFromInt(100), Quantity: 2})
	h.cart.add(userID, cart.Line{ItemID: "ci-b-" + userID, BookID: "book-b", BookName: "B", Price: decimal.NewFromInt(50), Quantity: 1})
}

func (h *harness) verifyRequest(intentID, paymentID string) VerifyRequest {
	return VerifyRequest{IntentID: intentID, PaymentID: paymentID, Signature: h.signer.Sign(intentID, paymentID)}
}

var errBoom = errors.New("boom")
