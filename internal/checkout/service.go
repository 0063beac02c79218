package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/auth"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/logging"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/payment"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/profiles"
	"github.com/google/uuid"
)

// Service runs the checkout saga: quote the cart at the gateway, then on confirmation
// verify the signature and hand a fresh cart snapshot to the Finalizer.
type Service struct {
	Cart        CartStore
	Profiles    ProfileStore
	Gateway     payment.Gateway
	Signer      SignatureVerifier
	Finalizer   *Finalizer
	Currency    string
	MockOrders  bool
	Metrics     *metrics.CheckoutMetrics
	ServiceName string
}

// CreateIntent prices the cart from a fresh read and registers the amount with the gateway.
// An empty cart never reaches the gateway.
func (s *Service) CreateIntent(ctx context.Context, userID string) (payment.Intent, error) {
	if userID == "" {
		return payment.Intent{}, auth.ErrUnauthorized
	}
	lines, err := s.Cart.Snapshot(ctx, userID)
	if err != nil {
		return payment.Intent{}, err
	}
	if len(lines) == 0 {
		s.countIntent("empty_cart")
		return payment.Intent{}, ErrEmptyCart
	}

	start := time.Now()
	in, err := s.Gateway.CreateIntent(ctx, payment.IntentRequest{
		AmountMinor: payment.ToMinorUnits(cart.Total(lines)),
		Currency:    s.Currency,
		Receipt:     payment.NewReceipt(),
	})
	if err != nil {
		s.countIntent("gateway_error")
		logging.Err(logging.Fields{Service: s.ServiceName, UserID: userID, Step: "create_intent", Status: "gateway_error",
			DurationMS: time.Since(start).Milliseconds()}, err)
		return payment.Intent{}, err
	}
	s.countIntent("ok")
	logging.Log(logging.Fields{Service: s.ServiceName, UserID: userID, Step: "create_intent", Status: "ok",
		DurationMS: time.Since(start).Milliseconds(), Message: in.ID})
	return in, nil
}

// VerifyAndFinalize checks the gateway signature before touching any state, then creates the
// order exactly once per payment id.
func (s *Service) VerifyAndFinalize(ctx context.Context, req VerifyRequest, userID string) (Result, error) {
	if userID == "" {
		return Result{}, auth.ErrUnauthorized
	}
	if err := s.Signer.Verify(req.IntentID, req.PaymentID, req.Signature); err != nil {
		s.countVerify("invalid_signature")
		logging.Log(logging.Fields{Service: s.ServiceName, RequestID: req.TraceID, UserID: userID, PaymentID: req.PaymentID,
			Step: "verify", Status: "invalid_signature", Message: "intent " + req.IntentID})
		return Result{}, payment.ErrInvalidSignature
	}

	prev, found, err := s.Finalizer.Processed(ctx, req.PaymentID)
	if err != nil {
		s.countVerify("error")
		return Result{}, err
	}
	if found {
		if prev.UserID != userID {
			s.countVerify("forbidden")
			return Result{}, orders.ErrForbidden
		}
		s.countVerify("already_processed")
		return Result{OrderID: prev.ID, AlreadyProcessed: true}, nil
	}

	res, err := s.finalize(ctx, userID, req.PaymentID, orders.MethodRazorpay, req.TraceID)
	if err != nil {
		s.countVerify(verifyResult(err))
		return Result{}, err
	}
	if res.AlreadyProcessed {
		s.countVerify("already_processed")
	} else {
		s.countVerify("ok")
	}
	return res, nil
}

// MockOrder finalizes the cart without a gateway. Only for non-production environments.
func (s *Service) MockOrder(ctx context.Context, userID, traceID string) (Result, error) {
	if !s.MockOrders {
		return Result{}, ErrMockOrdersDisabled
	}
	if userID == "" {
		return Result{}, auth.ErrUnauthorized
	}
	return s.finalize(ctx, userID, "mock_dev_"+uuid.NewString(), orders.MethodMockDev, traceID)
}

func (s *Service) finalize(ctx context.Context, userID, paymentID, method, traceID string) (Result, error) {
	p, err := s.Profiles.Get(ctx, userID)
	if errors.Is(err, profiles.ErrNotFound) {
		return Result{}, ErrMissingShippingAddress
	}
	if err != nil {
		return Result{}, err
	}
	if !p.HasShippingAddress() {
		return Result{}, ErrMissingShippingAddress
	}

	lines, err := s.Cart.Snapshot(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if len(lines) == 0 {
		// A concurrent submit of the same payment may have emptied the cart already.
		if prev, found, err := s.Finalizer.Processed(ctx, paymentID); err == nil && found && prev.UserID == userID {
			return Result{OrderID: prev.ID, AlreadyProcessed: true}, nil
		}
		return Result{}, ErrEmptyCart
	}
	return s.Finalizer.Finalize(ctx, FinalizeInput{
		UserID:        userID,
		Lines:         lines,
		Profile:       p,
		PaymentID:     paymentID,
		PaymentMethod: method,
		TraceID:       traceID,
	})
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrMissingShippingAddress):
		return "missing_address"
	case errors.Is(err, orders.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func (s *Service) countIntent(result string) {
	if s.Metrics != nil {
		s.Metrics.Intents.WithLabelValues(result).Inc()
	}
}

func (s *Service) countVerify(result string) {
	if s.Metrics != nil {
		s.Metrics.Verifications.WithLabelValues(result).Inc()
	}
}
