package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicatePickupCode is returned by Create when the pickup code is taken.
var ErrDuplicatePickupCode = errors.New("pickup code already in use")

// Repository persists orders. Lines are written once by Create and never
// change. Status only moves through Transition.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByPickupCode(ctx context.Context, code string) (Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (Order, error)
	// Transition applies fn and moves the order to `to` only if its stored
	// status is still `from`. When another writer got there first it returns
	// the current order and false.
	Transition(ctx context.Context, id string, from, to Status, fn func(*Order)) (Order, bool, error)
	SetPaymentReference(ctx context.Context, id, ref string) error
	ListByConsumer(ctx context.Context, consumerID string, limit, offset int) ([]Order, error)
	ListByBusiness(ctx context.Context, businessID string, status Status, limit, offset int) ([]Order, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Order, error)
}

type PostgresRepo struct{ DB *pgxpool.Pool }

const orderColumns = `id, consumer_id, business_id, subtotal, points_redeemed, points_discount, wallet_amount,
	payment_amount, total_amount, status, pickup_code, payment_reference, cancellation_reason, dispute_reason,
	created_at, updated_at, paid_at, completed_at, cancelled_at`

func (r *PostgresRepo) Create(ctx context.Context, o Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, nullable(o.ConsumerID), o.BusinessID, o.Subtotal, o.PointsRedeemed, o.PointsDiscount, o.WalletAmount,
		o.PaymentAmount, o.TotalAmount, string(o.Status), o.PickupCode, o.PaymentReference, o.CancellationReason,
		o.DisputeReason, o.CreatedAt, o.UpdatedAt, o.PaidAt, o.CompletedAt, o.CancelledAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_pickup_code_key" {
			return ErrDuplicatePickupCode
		}
		return fmt.Errorf("insert order: %w", err)
	}

	// insert lines
	for i, ln := range o.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, line_no, listing_id, title, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, i, ln.ListingID, ln.Title, ln.Quantity, ln.UnitPrice, ln.LineTotal)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Order, error) {
	return r.getBy(ctx, r.DB, `id=$1`, id)
}

func (r *PostgresRepo) GetByPickupCode(ctx context.Context, code string) (Order, error) {
	return r.getBy(ctx, r.DB, `pickup_code=$1`, code)
}

func (r *PostgresRepo) GetByPaymentReference(ctx context.Context, ref string) (Order, error) {
	return r.getBy(ctx, r.DB, `payment_reference=$1`, ref)
}

// Transition locks the order row (FOR UPDATE) and compares the status before
// writing, so concurrent callers racing on the same transition see exactly
// one winner.
func (r *PostgresRepo) Transition(ctx context.Context, id string, from, to Status, fn func(*Order)) (Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := r.getBy(ctx, tx, `id=$1 FOR UPDATE`, id)
	if err != nil {
		return Order{}, false, err
	}
	if o.Status != from {
		return o, false, nil
	}
	if fn != nil {
		fn(&o)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_reference=$3, cancellation_reason=$4, dispute_reason=$5,
		       updated_at=$6, paid_at=$7, completed_at=$8, cancelled_at=$9
		WHERE id=$1`,
		o.ID, string(o.Status), o.PaymentReference, o.CancellationReason, o.DisputeReason,
		o.UpdatedAt, o.PaidAt, o.CompletedAt, o.CancelledAt)
	if err != nil {
		return Order{}, false, fmt.Errorf("update order status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

func (r *PostgresRepo) SetPaymentReference(ctx context.Context, id, ref string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET payment_reference=$2, updated_at=now() WHERE id=$1`, id, ref)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (r *PostgresRepo) ListByConsumer(ctx context.Context, consumerID string, limit, offset int) ([]Order, error) {
	return r.list(ctx, `consumer_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, consumerID, limit, offset)
}

func (r *PostgresRepo) ListByBusiness(ctx context.Context, businessID string, status Status, limit, offset int) ([]Order, error) {
	if status != "" {
		return r.list(ctx, `business_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			businessID, string(status), limit, offset)
	}
	return r.list(ctx, `business_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, businessID, limit, offset)
}

func (r *PostgresRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	return r.list(ctx, `status='pending_payment' AND created_at < $1 ORDER BY created_at LIMIT $2`, before, limit)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepo) getBy(ctx context.Context, q querier, where string, arg any) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.New(apperr.OrderNotFound, "no order for %v", arg)
	}
	if err != nil {
		return Order{}, err
	}
	lines, err := loadLines(ctx, q, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (r *PostgresRepo) list(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	lines, err := loadLines(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func loadLines(ctx context.Context, q querier, orderIDs []string) (map[string][]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, listing_id, title, quantity, unit_price, line_total
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Line, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			ln      Line
		)
		if err := rows.Scan(&orderID, &ln.ListingID, &ln.Title, &ln.Quantity, &ln.UnitPrice, &ln.LineTotal); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], ln)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o          Order
		consumerID *string
		status     string
	)
	err := row.Scan(&o.ID, &consumerID, &o.BusinessID, &o.Subtotal, &o.PointsRedeemed, &o.PointsDiscount,
		&o.WalletAmount, &o.PaymentAmount, &o.TotalAmount, &status, &o.PickupCode, &o.PaymentReference,
		&o.CancellationReason, &o.DisputeReason, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.CompletedAt,
		&o.CancelledAt)
	if err != nil {
		return Order{}, err
	}
	if consumerID != nil {
		o.ConsumerID = *consumerID
	}
	o.Status = Status(status)
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func notFound(id string) error {
	return apperr.New(apperr.OrderNotFound, "order not found").WithOrder(id)
}
