package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MethodRazorpay = "razorpay"
	MethodMockDev  = "mock_dev_payment"
)

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          Status          `json:"status"`
	PaymentID       string          `json:"payment_id"`
	PaymentMethod   string          `json:"payment_method"`
	UserName        string          `json:"user_name"`
	UserEmail       string          `json:"user_email"`
	UserMobile      string          `json:"user_mobile"`
	ShippingAddress string          `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items,omitempty"`
	History         []StatusChange  `json:"history,omitempty"`
}

// Item snapshots the book at order time. Image is the book's current first image, for display only.
type Item struct {
	ID           int64           `json:"id"`
	BookID       string          `json:"book_id"`
	BookName     string          `json:"book_name"`
	PriceAtOrder decimal.Decimal `json:"price_at_order"`
	Quantity     int             `json:"quantity"`
	Image        string          `json:"image,omitempty"`
}

type StatusChange struct {
	Status     Status    `json:"status"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Customer is the profile snapshot copied onto the order.
type Customer struct {
	Name    string
	Email   string
	Mobile  string
	Address string
}

type NewItem struct {
	BookID   string
	BookName string
	Price    decimal.Decimal
	Quantity int
}

// NewOrder is everything the repository needs to persist a paid order in one transaction.
type NewOrder struct {
	UserID        string
	PaymentID     string
	PaymentMethod string
	Customer      Customer
	Items         []NewItem
}

func (n NewOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range n.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Filter selects orders for listing. Empty UserID means all users.
type Filter struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}
