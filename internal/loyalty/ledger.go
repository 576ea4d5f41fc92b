// Package loyalty keeps the points and wallet ledgers. Every balance change
// appends a row and updates the cached account balance in the same store
// operation; reversals are new rows, never deletions.
package loyalty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store appends ledger rows. AppendPoints and AppendWallet apply the row's
// amount to the cached balance atomically and fill in BalanceAfter; they fail
// with apperr.InsufficientPoints / apperr.InsufficientWallet instead of
// letting a balance go negative.
type Store interface {
	AppendPoints(ctx context.Context, e PointsEntry) (PointsEntry, error)
	AppendWallet(ctx context.Context, t WalletTransaction) (WalletTransaction, error)
	Account(ctx context.Context, userID string) (Account, error)
	AddMealsRescued(ctx context.Context, userID string, n int) error
	PointsHistory(ctx context.Context, userID string, limit int) ([]PointsEntry, error)
	WalletHistory(ctx context.Context, userID string, limit int) ([]WalletTransaction, error)
	LedgerSums(ctx context.Context, userID string) (points int64, wallet decimal.Decimal, err error)
}

type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// AddPoints appends a signed points entry for userID.
func (l *Ledger) AddPoints(ctx context.Context, userID string, delta int64, reason, orderID string) (PointsEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return PointsEntry{}, apperr.New(apperr.InvalidInput, "user id is required")
	}
	if delta == 0 {
		return PointsEntry{}, apperr.New(apperr.InvalidInput, "points delta must not be zero").WithUser(userID)
	}
	e, err := l.store.AppendPoints(ctx, PointsEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		OrderID:   orderID,
		CreatedAt: l.now(),
	})
	if err != nil {
		return PointsEntry{}, fmt.Errorf("append points: %w", err)
	}
	l.log.Info("points entry",
		zap.String("user_id", userID), zap.Int64("delta", delta), zap.String("reason", reason),
		zap.String("order_id", orderID), zap.Int64("balance", e.BalanceAfter))
	return e, nil
}

// AddWalletTransaction appends a signed wallet row. Credits must be positive
// and debits negative.
func (l *Ledger) AddWalletTransaction(ctx context.Context, userID string, amount decimal.Decimal, typ WalletType, source, description, orderID string) (WalletTransaction, error) {
	if strings.TrimSpace(userID) == "" {
		return WalletTransaction{}, apperr.New(apperr.InvalidInput, "user id is required")
	}
	amount = amount.Round(2)
	switch {
	case typ == WalletCredit && amount.IsPositive():
	case typ == WalletDebit && amount.IsNegative():
	default:
		return WalletTransaction{}, apperr.New(apperr.InvalidInput, "%s amount has wrong sign: %s", typ, amount).WithUser(userID)
	}
	t, err := l.store.AppendWallet(ctx, WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Source:      source,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   l.now(),
	})
	if err != nil {
		return WalletTransaction{}, fmt.Errorf("append wallet transaction: %w", err)
	}
	l.log.Info("wallet transaction",
		zap.String("user_id", userID), zap.Stringer("amount", amount), zap.String("source", source),
		zap.String("order_id", orderID), zap.Stringer("balance", t.BalanceAfter))
	return t, nil
}

func (l *Ledger) Account(ctx context.Context, userID string) (Account, error) {
	return l.store.Account(ctx, userID)
}

func (l *Ledger) AddMealsRescued(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	return l.store.AddMealsRescued(ctx, userID, n)
}

func (l *Ledger) PointsHistory(ctx context.Context, userID string, limit int) ([]PointsEntry, error) {
	return l.store.PointsHistory(ctx, userID, clampLimit(limit))
}

func (l *Ledger) WalletHistory(ctx context.Context, userID string, limit int) ([]WalletTransaction, error) {
	return l.store.WalletHistory(ctx, userID, clampLimit(limit))
}

// Reconcile sums the ledgers for userID and compares them with the cached
// balances. A non-balanced Drift is logged at error level.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (Drift, error) {
	acct, err := l.store.Account(ctx, userID)
	if err != nil {
		return Drift{}, err
	}
	points, wallet, err := l.store.LedgerSums(ctx, userID)
	if err != nil {
		return Drift{}, err
	}
	d := Drift{
		UserID:       userID,
		PointsLedger: points,
		PointsCached: acct.Points,
		WalletLedger: wallet,
		WalletCached: acct.Wallet,
	}
	if !d.Balanced() {
		l.log.Error("ledger drift", zap.String("user_id", userID),
			zap.Int64("points_ledger", points), zap.Int64("points_cached", acct.Points),
			zap.Stringer("wallet_ledger", wallet), zap.Stringer("wallet_cached", acct.Wallet))
	}
	return d, nil
}

func clampLimit(n int) int {
	if n <= 0 || n > 200 {
		return 50
	}
	return n
}
