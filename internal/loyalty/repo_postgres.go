package loyalty

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PostgresStore struct{ DB *pgxpool.Pool }

// AppendPoints: guarded balance update + ledger insert in one tx.
func (s *PostgresStore) AppendPoints(ctx context.Context, e PointsEntry) (PointsEntry, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PointsEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureAccount(ctx, tx, e.UserID); err != nil {
		return PointsEntry{}, err
	}
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET points_balance = points_balance + $2, updated_at = $3
		WHERE user_id = $1 AND points_balance + $2 >= 0
		RETURNING points_balance`, e.UserID, e.Delta, e.CreatedAt).Scan(&e.BalanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return PointsEntry{}, apperr.New(apperr.InsufficientPoints, "need %d points", -e.Delta).WithUser(e.UserID)
	}
	if err != nil {
		return PointsEntry{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO points_entries(id, user_id, delta, reason, order_id, balance_after, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7)`,
		e.ID, e.UserID, e.Delta, e.Reason, e.OrderID, e.BalanceAfter, e.CreatedAt); err != nil {
		return PointsEntry{}, err
	}
	return e, tx.Commit(ctx)
}

func (s *PostgresStore) AppendWallet(ctx context.Context, t WalletTransaction) (WalletTransaction, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WalletTransaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureAccount(ctx, tx, t.UserID); err != nil {
		return WalletTransaction{}, err
	}
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET wallet_balance = wallet_balance + $2, updated_at = $3
		WHERE user_id = $1 AND wallet_balance + $2 >= 0
		RETURNING wallet_balance`, t.UserID, t.Amount, t.CreatedAt).Scan(&t.BalanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return WalletTransaction{}, apperr.New(apperr.InsufficientWallet, "need %s", t.Amount.Neg()).WithUser(t.UserID)
	}
	if err != nil {
		return WalletTransaction{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions(id, user_id, amount, type, source, description, order_id, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)`,
		t.ID, t.UserID, t.Amount, string(t.Type), t.Source, t.Description, t.OrderID, t.BalanceAfter, t.CreatedAt); err != nil {
		return WalletTransaction{}, err
	}
	return t, tx.Commit(ctx)
}

func (s *PostgresStore) Account(ctx context.Context, userID string) (Account, error) {
	a := Account{UserID: userID, Wallet: decimal.Zero}
	err := s.DB.QueryRow(ctx, `
		SELECT points_balance, wallet_balance, meals_rescued, updated_at
		FROM accounts WHERE user_id=$1`, userID).Scan(&a.Points, &a.Wallet, &a.MealsRescued, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil
	}
	return a, err
}

func (s *PostgresStore) AddMealsRescued(ctx context.Context, userID string, n int) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO accounts(user_id, meals_rescued) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET meals_rescued = accounts.meals_rescued + EXCLUDED.meals_rescued,
			updated_at = now()`, userID, n)
	return err
}

func (s *PostgresStore) PointsHistory(ctx context.Context, userID string, limit int) ([]PointsEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, delta, reason, COALESCE(order_id, ''), balance_after, created_at
		FROM points_entries WHERE user_id=$1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PointsEntry
	for rows.Next() {
		var e PointsEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.OrderID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WalletHistory(ctx context.Context, userID string, limit int) ([]WalletTransaction, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, amount, type, source, description, COALESCE(order_id, ''), balance_after, created_at
		FROM wallet_transactions WHERE user_id=$1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WalletTransaction
	for rows.Next() {
		var (
			t   WalletTransaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &typ, &t.Source, &t.Description, &t.OrderID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = WalletType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LedgerSums(ctx context.Context, userID string) (int64, decimal.Decimal, error) {
	var points int64
	var wallet decimal.Decimal
	err := s.DB.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(delta), 0)::bigint FROM points_entries WHERE user_id=$1),
			(SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE user_id=$1)`,
		userID).Scan(&points, &wallet)
	return points, wallet, err
}

func ensureAccount(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `INSERT INTO accounts(user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}
