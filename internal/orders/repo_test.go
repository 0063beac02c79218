package orders

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{"id", "user_id", "total_amount", "status", "payment_id", "payment_method",
	"user_name", "user_email", "user_mobile", "shipping_address", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func scenarioOrder() NewOrder {
	return NewOrder{
		UserID:        "u1",
		PaymentID:     "pay_1",
		PaymentMethod: MethodRazorpay,
		Customer:      Customer{Name: "Asha", Email: "asha@example.com", Mobile: "9000000001", Address: "12 MG Road"},
		Items: []NewItem{
			{BookID: "book-a", BookName: "A", Price: decimal.NewFromInt(100), Quantity: 2},
			{BookID: "book-b", BookName: "B", Price: decimal.NewFromInt(50), Quantity: 1},
		},
	}
}

func orderRow(id, userID, status string, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(orderCols).AddRow(id, userID, decimal.RequireFromString("250.00"), status, "pay_1", MethodRazorpay,
		"Asha", "asha@example.com", "9000000001", "12 MG Road", now, now)
}

func expectOrderInsert(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedQuery {
	return mock.ExpectQuery(`INSERT INTO orders .* ON CONFLICT \(payment_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "u1", pgxmock.AnyArg(), "paid", "pay_1", MethodRazorpay,
			"Asha", "asha@example.com", "9000000001", "12 MG Road")
}

func TestRepo_CommitWritesOrderAndItems(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO orders .* ON CONFLICT \(payment_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "u1", pgxmock.AnyArg(), "paid", "pay_1", MethodRazorpay,
			"Asha", "asha@example.com", "9000000001", "12 MG Road").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), "book-a", "A", pgxmock.AnyArg(), 2).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), "book-b", "B", pgxmock.AnyArg(), 1).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	o, existed, err := (&Repo{DB: mock}).Commit(context.Background(), scenarioOrder())
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPaid, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("250.00")))
	require.Len(t, o.Items, 2)
	assert.True(t, o.Items[0].PriceAtOrder.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(2), o.Items[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_CommitRollsBackWhenAnItemFails(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	expectOrderInsert(mock).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), "book-a", "A", pgxmock.AnyArg(), 2).
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})
	mock.ExpectRollback()

	_, _, err := (&Repo{DB: mock}).Commit(context.Background(), scenarioOrder())
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "insert order item book-a", pErr.Step)
	// no Commit expectation: the order row never becomes visible
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_CommitReturnsExistingOrderForUsedPayment(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	expectOrderInsert(mock).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM orders WHERE payment_id=\$1`).
		WithArgs("pay_1").
		WillReturnRows(orderRow("order-1", "u1", "paid", now))
	mock.ExpectRollback()

	o, existed, err := (&Repo{DB: mock}).Commit(context.Background(), scenarioOrder())
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "order-1", o.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_CommitBindsActorAndHidesForeignPayment(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\('app.user_id', \$1, true\)`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	expectOrderInsert(mock).WillReturnError(pgx.ErrNoRows)
	// the conflicting row belongs to someone else, so the policy filters it out
	mock.ExpectQuery(`FROM orders WHERE payment_id=\$1`).
		WithArgs("pay_1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	ctx := postgres.WithActor(context.Background(), "u1")
	_, _, err := (&Repo{DB: mock}).Commit(ctx, scenarioOrder())
	assert.ErrorIs(t, err, ErrForbidden)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_GetRunsUnderActor(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\('app.user_id', \$1, true\)`).
		WithArgs("admin-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM orders WHERE id=\$1$`).
		WithArgs("order-1").
		WillReturnRows(orderRow("order-1", "u1", "paid", now))
	mock.ExpectQuery(`FROM order_items oi`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "book_id", "book_name", "price_at_order", "quantity", "image"}))
	mock.ExpectCommit()

	ctx := postgres.WithActor(context.Background(), "admin-1")
	o, err := (&Repo{DB: mock}).Get(ctx, "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", o.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_FindByPaymentID(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM orders WHERE payment_id=\$1`).WithArgs("pay_x").WillReturnError(pgx.ErrNoRows)

	_, err := (&Repo{DB: mock}).FindByPaymentID(context.Background(), "pay_x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_GetFiltersByOwnerInQuery(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM orders WHERE id=\$1 AND user_id=\$2`).
		WithArgs("order-1", "u1").
		WillReturnRows(orderRow("order-1", "u1", "shipped", now))
	mock.ExpectQuery(`FROM order_items oi\s+LEFT JOIN books b`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "book_id", "book_name", "price_at_order", "quantity", "image"}).
			AddRow(int64(1), "book-a", "A", decimal.NewFromInt(100), 2, "a.png").
			AddRow(int64(2), "book-b", "B", decimal.NewFromInt(50), 1, ""))
	mock.ExpectQuery(`FROM orders WHERE id=\$1 AND user_id=\$2`).
		WithArgs("order-1", "intruder").
		WillReturnError(pgx.ErrNoRows)

	repo := &Repo{DB: mock}
	o, err := repo.Get(context.Background(), "order-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "a.png", o.Items[0].Image)

	_, err = repo.Get(context.Background(), "order-1", "intruder")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_GetMalformedIDIsNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM orders WHERE id=\$1$`).
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02"})

	_, err := (&Repo{DB: mock}).Get(context.Background(), "not-a-uuid", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_ListBuildsFilter(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM orders WHERE user_id=\$1 AND status=\$2 ORDER BY created_at DESC, id LIMIT \$3`).
		WithArgs("u1", "paid", 10).
		WillReturnRows(orderRow("order-2", "u1", "paid", now).
			AddRow("order-1", "u1", decimal.NewFromInt(10), "paid", "pay_0", MethodRazorpay, "Asha", "", "", "", now.Add(-time.Hour), now))
	mock.ExpectQuery(`FROM orders ORDER BY created_at DESC, id$`).
		WillReturnRows(pgxmock.NewRows(orderCols))

	repo := &Repo{DB: mock}
	got, err := repo.List(context.Background(), Filter{UserID: "u1", Status: StatusPaid, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "order-2", got[0].ID)

	all, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_UpdateStatus(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM orders WHERE id=\$1 FOR UPDATE`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("paid"))
	mock.ExpectExec(`UPDATE orders SET status=\$2, updated_at=now\(\) WHERE id=\$1`).
		WithArgs("order-1", "shipped").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	from, err := (&Repo{DB: mock}).UpdateStatus(context.Background(), "order-1", StatusShipped, CanTransition)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, from)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_UpdateStatusRejectsIllegalTransition(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM orders WHERE id=\$1 FOR UPDATE`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("delivered"))
	mock.ExpectRollback()

	from, err := (&Repo{DB: mock}).UpdateStatus(context.Background(), "order-1", StatusPending, CanTransition)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusDelivered, from)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_UpdateStatusPermissiveAndNoop(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("delivered"))
	mock.ExpectExec(`UPDATE orders SET status`).WithArgs("order-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	repo := &Repo{DB: mock}
	_, err := repo.UpdateStatus(context.Background(), "order-1", StatusPending, nil)
	require.NoError(t, err)

	from, err := repo.UpdateStatus(context.Background(), "order-1", StatusPending, CanTransition)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, from)

	_, err = repo.UpdateStatus(context.Background(), "missing", StatusPaid, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_AppendHistoryOncePerEvent(t *testing.T) {
	mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO order_status_history .* ON CONFLICT \(event_id\) DO NOTHING`).
		WithArgs("order-1", "paid", "evt-1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO order_status_history`).
		WithArgs("order-1", "paid", "evt-1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := &Repo{DB: mock}
	first, err := repo.AppendHistory(context.Background(), "order-1", StatusPaid, "evt-1", at)
	require.NoError(t, err)
	again, err := repo.AppendHistory(context.Background(), "order-1", StatusPaid, "evt-1", at)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, again)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_History(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM order_status_history`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "event_id", "occurred_at"}).
			AddRow("paid", "evt-1", now).
			AddRow("shipped", "evt-2", now.Add(time.Hour)))

	h, err := (&Repo{DB: mock}).History(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, StatusShipped, h[1].Status)
}
