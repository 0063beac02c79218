package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidSignature = errors.New("invalid payment signature")

// GatewayError wraps a failure of the external processor. Retryable is set for timeouts and
// an open circuit, where asking the user to try again is the right answer.
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err) }

func (e *GatewayError) Unwrap() error { return e.Err }

type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
}

// Intent is the gateway-side record of an amount to collect.
type Intent struct {
	ID       string `json:"intent_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// ToMinorUnits converts a major-unit amount to the smallest currency unit, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// NewReceipt returns a fresh reference token. Razorpay caps receipts at 40 characters.
func NewReceipt() string {
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
