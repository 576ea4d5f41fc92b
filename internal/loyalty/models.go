package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the cached balance row kept next to the ledgers. The ledgers
// are the source of truth; Reconcile compares the two.
type Account struct {
	UserID       string          `json:"user_id"`
	Points       int64           `json:"points_balance"`
	Wallet       decimal.Decimal `json:"wallet_balance"`
	MealsRescued int             `json:"lifetime_meals_rescued"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type PointsEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	OrderID      string    `json:"order_id,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type WalletType string

const (
	WalletCredit WalletType = "credit"
	WalletDebit  WalletType = "debit"
)

const (
	SourceOrderPayment = "order_payment"
	SourceRefund       = "refund"
	SourceReversal     = "reversal"
	SourceTopUp        = "top_up"
)

const (
	ReasonRedemption = "redemption"
	ReasonOrderAward = "order_completed"
	ReasonReversal   = "reversal"
)

type WalletTransaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         WalletType      `json:"type"`
	Source       string          `json:"source"`
	Description  string          `json:"description"`
	OrderID      string          `json:"order_id,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Drift is the difference between the ledgers and the cached balances.
type Drift struct {
	UserID       string          `json:"user_id"`
	PointsLedger int64           `json:"points_ledger"`
	PointsCached int64           `json:"points_cached"`
	WalletLedger decimal.Decimal `json:"wallet_ledger"`
	WalletCached decimal.Decimal `json:"wallet_cached"`
}

func (d Drift) Balanced() bool {
	return d.PointsLedger == d.PointsCached && d.WalletLedger.Equal(d.WalletCached)
}
