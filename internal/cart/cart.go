package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrBookNotFound    = errors.New("book not found")
	ErrItemNotFound    = errors.New("cart item not found")
)

// Line is one cart item joined with the book's current name and price.
type Line struct {
	ItemID   string          `json:"id"`
	BookID   string          `json:"book_id"`
	BookName string          `json:"book_name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Images   []string        `json:"images,omitempty"`
	AddedAt  time.Time       `json:"added_at"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total is the sum of price × quantity over lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemIDs returns the cart item ids captured in lines.
func ItemIDs(lines []Line) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// Item is a bare cart row as returned by mutations.
type Item struct {
	ID       string    `json:"id"`
	BookID   string    `json:"book_id"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}
