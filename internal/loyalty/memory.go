package loyalty

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/shopspring/decimal"
)

type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	points   []PointsEntry
	wallet   []WalletTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]Account{}}
}

func (s *MemoryStore) account(userID string) Account {
	a, ok := s.accounts[userID]
	if !ok {
		a = Account{UserID: userID, Wallet: decimal.Zero}
	}
	return a
}

func (s *MemoryStore) AppendPoints(_ context.Context, e PointsEntry) (PointsEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.account(e.UserID)
	if a.Points+e.Delta < 0 {
		return PointsEntry{}, apperr.New(apperr.InsufficientPoints, "balance %d, need %d", a.Points, -e.Delta).WithUser(e.UserID)
	}
	a.Points += e.Delta
	a.UpdatedAt = e.CreatedAt
	s.accounts[e.UserID] = a
	e.BalanceAfter = a.Points
	s.points = append(s.points, e)
	return e, nil
}

func (s *MemoryStore) AppendWallet(_ context.Context, t WalletTransaction) (WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.account(t.UserID)
	next := a.Wallet.Add(t.Amount)
	if next.IsNegative() {
		return WalletTransaction{}, apperr.New(apperr.InsufficientWallet, "balance %s, need %s", a.Wallet, t.Amount.Neg()).WithUser(t.UserID)
	}
	a.Wallet = next
	a.UpdatedAt = t.CreatedAt
	s.accounts[t.UserID] = a
	t.BalanceAfter = next
	s.wallet = append(s.wallet, t)
	return t, nil
}

func (s *MemoryStore) Account(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(userID), nil
}

func (s *MemoryStore) AddMealsRescued(_ context.Context, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.account(userID)
	a.MealsRescued += n
	s.accounts[userID] = a
	return nil
}

func (s *MemoryStore) PointsHistory(_ context.Context, userID string, limit int) ([]PointsEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PointsEntry
	for i := len(s.points) - 1; i >= 0 && len(out) < limit; i-- {
		if s.points[i].UserID == userID {
			out = append(out, s.points[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) WalletHistory(_ context.Context, userID string, limit int) ([]WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WalletTransaction
	for i := len(s.wallet) - 1; i >= 0 && len(out) < limit; i-- {
		if s.wallet[i].UserID == userID {
			out = append(out, s.wallet[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) LedgerSums(_ context.Context, userID string) (int64, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var points int64
	wallet := decimal.Zero
	for _, e := range s.points {
		if e.UserID == userID {
			points += e.Delta
		}
	}
	for _, t := range s.wallet {
		if t.UserID == userID {
			wallet = wallet.Add(t.Amount)
		}
	}
	return points, wallet, nil
}
