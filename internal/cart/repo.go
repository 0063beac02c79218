package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repo struct{ DB postgres.DB }

// Snapshot reads the user's cart with current book prices. Checkout calls it at quote time and
// again at finalization so neither step trusts an earlier read.
func (r *Repo) Snapshot(ctx context.Context, userID string) ([]Line, error) {
	var out []Line
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		rows, err := q.Query(ctx, `
			SELECT ci.id, ci.book_id, b.name, b.price, ci.quantity, b.images, ci.added_at
			FROM cart_items ci
			JOIN books b ON b.id = ci.book_id
			WHERE ci.user_id=$1
			ORDER BY ci.added_at, ci.id`, userID)
		if err != nil {
			return fmt.Errorf("select cart: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var l Line
			if err := rows.Scan(&l.ItemID, &l.BookID, &l.BookName, &l.Price, &l.Quantity, &l.Images, &l.AddedAt); err != nil {
				return fmt.Errorf("scan cart line: %w", err)
			}
			out = append(out, l)
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

func (r *Repo) List(ctx context.Context, userID string) ([]Line, error) {
	return r.Snapshot(ctx, userID)
}

// Add inserts the book or increments the existing line in one statement, so concurrent adds
// of the same book never lose an update.
func (r *Repo) Add(ctx context.Context, userID, bookID string, qty int) (Item, error) {
	if qty <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	it := Item{BookID: bookID}
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		return q.QueryRow(ctx, `
			INSERT INTO cart_items (user_id, book_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, book_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
			RETURNING id, quantity, added_at`, userID, bookID, qty,
		).Scan(&it.ID, &it.Quantity, &it.AddedAt)
	})
	if err != nil {
		if postgres.IsForeignKeyViolation(err) || postgres.IsInvalidText(err) {
			return Item{}, ErrBookNotFound
		}
		return Item{}, fmt.Errorf("upsert cart item: %w", err)
	}
	return it, nil
}

func (r *Repo) SetQuantity(ctx context.Context, userID, itemID string, qty int) (Item, error) {
	if qty <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	it := Item{ID: itemID}
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		return q.QueryRow(ctx, `
			UPDATE cart_items SET quantity=$3
			WHERE id=$1 AND user_id=$2
			RETURNING book_id, quantity, added_at`, itemID, userID, qty,
		).Scan(&it.BookID, &it.Quantity, &it.AddedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsInvalidText(err) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("update cart item: %w", err)
	}
	return it, nil
}

func (r *Repo) Remove(ctx context.Context, userID, itemID string) error {
	var ct pgconn.CommandTag
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		var err error
		ct, err = q.Exec(ctx, `DELETE FROM cart_items WHERE id=$1 AND user_id=$2`, itemID, userID)
		return err
	})
	if err != nil {
		if postgres.IsInvalidText(err) {
			return ErrItemNotFound
		}
		return fmt.Errorf("delete cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// RemoveLines deletes only the listed items of the user. Items added after a snapshot was
// taken survive.
func (r *Repo) RemoveLines(ctx context.Context, userID string, itemIDs []string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	var ct pgconn.CommandTag
	err := postgres.AsActor(ctx, r.DB, func(q postgres.Querier) error {
		var err error
		ct, err = q.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND id = ANY($2)`, userID, itemIDs)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return ct.RowsAffected(), nil
}
