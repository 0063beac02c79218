package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier runs statements on a pool or inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type actorKey struct{}

// WithActor records the user on whose behalf queries in ctx run. Row-level policies read it
// from the app.user_id setting.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// SetActor binds app.user_id for the rest of the current transaction.
func SetActor(ctx context.Context, q Querier, userID string) error {
	if _, err := q.Exec(ctx, `SELECT set_config('app.user_id', $1, true)`, userID); err != nil {
		return fmt.Errorf("set actor: %w", err)
	}
	return nil
}

// AsActor runs fn in a transaction bound to the actor in ctx so row-level policies apply to
// every statement fn issues. Without an actor fn runs directly on db.
func AsActor(ctx context.Context, db DB, fn func(q Querier) error) error {
	actor := ActorFrom(ctx)
	if actor == "" {
		return fn(db)
	}
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := SetActor(ctx, tx, actor); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
