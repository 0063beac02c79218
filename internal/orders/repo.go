package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrForbidden = errors.New("forbidden")
)

// PersistenceError is a storage failure while writing an order. The transaction has been rolled back.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

const orderColumns = `id, user_id, total_amount, status, payment_id, payment_method,
	user_name, user_email, user_mobile, shipping_address, created_at, updated_at`

type Repo struct{ DB postgres.DB }

// Commit writes the order with status paid and all its items in one transaction.
// payment_id is unique: when it was already used, the existing order is returned with existed=true
// and nothing is written.
func (r *Repo) Commit(ctx context.Context, n NewOrder) (o Order, existed bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, &PersistenceError{Step: "begin tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if actor := postgres.ActorFrom(ctx); actor != "" {
		if err := postgres.SetActor(ctx, tx, actor); err != nil {
			return Order{}, false, &PersistenceError{Step: "begin tx", Err: err}
		}
	}

	o = Order{
		ID:              uuid.NewString(),
		UserID:          n.UserID,
		TotalAmount:     n.Total(),
		Status:          StatusPaid,
		PaymentID:       n.PaymentID,
		PaymentMethod:   n.PaymentMethod,
		UserName:        n.Customer.Name,
		UserEmail:       n.Customer.Email,
		UserMobile:      n.Customer.Mobile,
		ShippingAddress: n.Customer.Address,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, total_amount, status, payment_id, payment_method,
			user_name, user_email, user_mobile, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.TotalAmount, string(o.Status), o.PaymentID, o.PaymentMethod,
		o.UserName, o.UserEmail, o.UserMobile, o.ShippingAddress,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		prev, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id=$1`, n.PaymentID))
		if errors.Is(err, pgx.ErrNoRows) {
			// The payment id is taken by an order row policies hide from this actor.
			return Order{}, false, ErrForbidden
		}
		if err != nil {
			return Order{}, false, &PersistenceError{Step: "select existing order", Err: err}
		}
		return prev, true, nil
	}
	if err != nil {
		return Order{}, false, &PersistenceError{Step: "insert order", Err: err}
	}

	for _, it := range n.Items {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, book_id, book_name, price_at_order, quantity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			o.ID, it.BookID, it.BookName, it.Price, it.Quantity,
		).Scan(&id)
		if err != nil {
			return Order{}, false, &PersistenceError{Step: "insert order item " + it.BookID, Err: err}
		}
		o.Items = append(o.Items, Item{
			ID:           id,
			BookID:       it.BookID,
			BookName:     it.BookName,
			PriceAtOrder: it.Price,
			Quantity:     it.Quantity,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, &PersistenceError{Step: "commit", Err: err}
	}
	return o, false, nil
}

func (r *Repo) FindByPaymentID(ctx context.Context, paymentID string) (Order, error) {
	var o Order
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		var err error
		o, err = scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id=$1`, paymentID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("select order by payment: %w", err)
	}
	return o, nil
}

// Get loads the order with its items. A non-empty ownerID restricts the lookup to that user's orders
// in the query itself, so another user's order reads as not found. Row-level policies bound to the
// actor in ctx apply on top.
func (r *Repo) Get(ctx context.Context, orderID, ownerID string) (Order, error) {
	var o Order
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		var err error
		o, err = r.get(ctx, q, orderID, ownerID)
		return err
	})
	return o, err
}

func (r *Repo) get(ctx context.Context, db postgres.Querier, orderID, ownerID string) (Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	args := []any{orderID}
	if ownerID != "" {
		q += ` AND user_id=$2`
		args = append(args, ownerID)
	}
	o, err := scanOrder(db.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidText(err) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("select order: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT oi.id, oi.book_id, oi.book_name, oi.price_at_order, oi.quantity, COALESCE(b.images[1], '')
		FROM order_items oi
		LEFT JOIN books b ON b.id = oi.book_id
		WHERE oi.order_id=$1
		ORDER BY oi.id`, o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.BookID, &it.BookName, &it.PriceAtOrder, &it.Quantity, &it.Image); err != nil {
			return Order{}, fmt.Errorf("scan order_item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("rows: %w", err)
	}
	return o, nil
}

// List returns orders newest first, without items.
func (r *Repo) List(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []Order
	err := postgres.AsActor(ctx, r.DB, func(db postgres.Querier) error {
		rows, err := db.Query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("select orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("scan order: %w", err)
			}
			out = append(out, o)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus locks the order row, asks allow whether from→to is permitted, and writes the new status.
// A nil allow permits any status. Setting the current status again is a no-op.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status, allow func(from, to Status) bool) (Status, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if actor := postgres.ActorFrom(ctx); actor != "" {
		if err := postgres.SetActor(ctx, tx, actor); err != nil {
			return "", err
		}
	}

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidText(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lock order: %w", err)
	}
	from := Status(cur)
	if from == to {
		return from, nil
	}
	if allow != nil && !allow(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(to)); err != nil {
		return from, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return from, fmt.Errorf("commit: %w", err)
	}
	return from, nil
}

// AppendHistory records a status event once per event id.
func (r *Repo) AppendHistory(ctx context.Context, orderID string, status Status, eventID string, at time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, event_id, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`, orderID, string(status), eventID, at)
	if err != nil {
		return false, fmt.Errorf("insert history: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) History(ctx context.Context, orderID string) ([]StatusChange, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT status, event_id, occurred_at FROM order_status_history
		WHERE order_id=$1 ORDER BY occurred_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var (
			c      StatusChange
			status string
		)
		if err := rows.Scan(&status, &c.EventID, &c.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		c.Status = Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &o.PaymentID, &o.PaymentMethod,
		&o.UserName, &o.UserEmail, &o.UserMobile, &o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}
