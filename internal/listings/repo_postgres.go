package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/inventory"
	"github.com/ariefcatur/go-surplus-food/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct{ DB *pgxpool.Pool }

const listingColumns = `id, business_id, title, description, listing_type, original_price, asking_price,
	discounted_price, total_quantity, available_quantity, pickup_start, pickup_end, status,
	bulk_rule, peak_rules, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, l Listing) error {
	bulk, peaks, err := encodeRules(l)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO listings(`+listingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		l.ID, l.BusinessID, l.Title, l.Description, string(l.Type), l.OriginalPrice, l.AskingPrice,
		l.DiscountedPrice, l.TotalQuantity, l.AvailableQuantity, l.PickupStart, l.PickupEnd, string(l.Status),
		bulk, peaks, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Listing, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, id)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, notFound(id)
	}
	return l, err
}

// Update locks the row (FOR UPDATE) so reservations on the same listing wait
// until fn's result is written.
func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*Listing) error) (Listing, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Listing{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	l, err := scanListing(tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, notFound(id)
	}
	if err != nil {
		return Listing{}, err
	}
	if err := fn(&l); err != nil {
		return Listing{}, err
	}
	bulk, peaks, err := encodeRules(l)
	if err != nil {
		return Listing{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE listings SET title=$2, description=$3, original_price=$4, asking_price=$5,
			discounted_price=$6, total_quantity=$7, available_quantity=$8, pickup_start=$9,
			pickup_end=$10, status=$11, bulk_rule=$12, peak_rules=$13, updated_at=$14
		WHERE id=$1`,
		l.ID, l.Title, l.Description, l.OriginalPrice, l.AskingPrice, l.DiscountedPrice,
		l.TotalQuantity, l.AvailableQuantity, l.PickupStart, l.PickupEnd, string(l.Status),
		bulk, peaks, l.UpdatedAt)
	if err != nil {
		return Listing{}, fmt.Errorf("update listing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Listing{}, err
	}
	return l, nil
}

func (r *PostgresRepo) Search(ctx context.Context, f Filter) ([]Listing, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.IncludeInactive {
		where = append(where, `status IN ('active','sold_out')`)
	}
	if f.BusinessID != "" {
		add("business_id = $%d", f.BusinessID)
	}
	if f.Type != "" {
		add("listing_type = $%d", string(f.Type))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		add("(title || ' ' || description) ILIKE $%d", "%"+q+"%")
	}
	if f.MaxPrice != nil {
		add("discounted_price <= $%d", *f.MaxPrice)
	}

	sql := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	switch f.SortBy {
	case SortPrice:
		sql += ` ORDER BY discounted_price ASC, id`
	case SortExpiry:
		sql += ` ORDER BY pickup_end ASC, id`
	default:
		sql += ` ORDER BY created_at DESC, id`
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return r.query(ctx, sql, args...)
}

func (r *PostgresRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.query(ctx, `SELECT `+listingColumns+` FROM listings
		WHERE status IN ('active','sold_out') AND pickup_end < $1
		ORDER BY pickup_end LIMIT $2`, now, limit)
}

// ConditionalReserve is a single guarded UPDATE: two concurrent calls can
// never both pass the available_quantity check for the same units.
func (r *PostgresRepo) ConditionalReserve(ctx context.Context, id string, qty int) (inventory.ReserveResult, error) {
	var remaining int
	var status string
	err := r.DB.QueryRow(ctx, `
		UPDATE listings
		SET available_quantity = available_quantity - $2,
		    status = CASE WHEN available_quantity - $2 = 0 THEN 'sold_out' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND status = 'active' AND available_quantity >= $2
		RETURNING available_quantity, status`, id, qty).Scan(&remaining, &status)
	if err == nil {
		return inventory.ReserveResult{OK: true, Remaining: remaining, SoldOut: status == string(StatusSoldOut)}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return inventory.ReserveResult{}, err
	}

	// refused: tell "not enough / inactive" apart from "missing"
	err = r.DB.QueryRow(ctx, `SELECT available_quantity FROM listings WHERE id=$1`, id).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ReserveResult{}, notFound(id)
	}
	if err != nil {
		return inventory.ReserveResult{}, err
	}
	return inventory.ReserveResult{Remaining: remaining}, nil
}

func (r *PostgresRepo) Release(ctx context.Context, id string, qty int) (inventory.ReleaseResult, error) {
	var available int
	var restocked bool
	err := r.DB.QueryRow(ctx, `
		WITH prev AS (SELECT status FROM listings WHERE id = $1 FOR UPDATE)
		UPDATE listings
		SET available_quantity = LEAST(total_quantity, available_quantity + $2),
		    status = CASE WHEN status = 'sold_out' AND LEAST(total_quantity, available_quantity + $2) > 0
		                  THEN 'active' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING available_quantity, ((SELECT status FROM prev) = 'sold_out' AND status = 'active')`,
		id, qty).Scan(&available, &restocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ReleaseResult{}, notFound(id)
	}
	if err != nil {
		return inventory.ReleaseResult{}, err
	}
	return inventory.ReleaseResult{Available: available, Restocked: restocked}, nil
}

func (r *PostgresRepo) query(ctx context.Context, sql string, args ...any) ([]Listing, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanListing(row pgx.Row) (Listing, error) {
	var (
		l           Listing
		typ, status string
		bulk, peaks []byte
	)
	err := row.Scan(&l.ID, &l.BusinessID, &l.Title, &l.Description, &typ, &l.OriginalPrice, &l.AskingPrice,
		&l.DiscountedPrice, &l.TotalQuantity, &l.AvailableQuantity, &l.PickupStart, &l.PickupEnd, &status,
		&bulk, &peaks, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Listing{}, err
	}
	l.Type, l.Status = Type(typ), Status(status)
	if len(bulk) > 0 && string(bulk) != "null" {
		l.Bulk = &pricing.BulkRule{}
		if err := json.Unmarshal(bulk, l.Bulk); err != nil {
			return Listing{}, fmt.Errorf("decode bulk_rule: %w", err)
		}
	}
	if len(peaks) > 0 {
		if err := json.Unmarshal(peaks, &l.PeakRules); err != nil {
			return Listing{}, fmt.Errorf("decode peak_rules: %w", err)
		}
	}
	return l, nil
}

func encodeRules(l Listing) (bulk, peaks []byte, err error) {
	if l.Bulk != nil {
		if bulk, err = json.Marshal(l.Bulk); err != nil {
			return nil, nil, err
		}
	}
	if peaks, err = json.Marshal(l.PeakRules); err != nil {
		return nil, nil, err
	}
	return bulk, peaks, nil
}
