package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-surplus-food/internal/identity"
	"github.com/ariefcatur/go-surplus-food/internal/loyalty"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LoyaltyService interface {
	Account(ctx context.Context, userID string) (loyalty.Account, error)
	PointsHistory(ctx context.Context, userID string, limit int) ([]loyalty.PointsEntry, error)
	WalletHistory(ctx context.Context, userID string, limit int) ([]loyalty.WalletTransaction, error)
	AddWalletTransaction(ctx context.Context, userID string, amount decimal.Decimal, typ loyalty.WalletType, source, description, orderID string) (loyalty.WalletTransaction, error)
	Reconcile(ctx context.Context, userID string) (loyalty.Drift, error)
}

type LoyaltyHandler struct {
	Loyalty LoyaltyService
	Log     *zap.Logger
}

type topUpReq struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=200"`
}

func (h *LoyaltyHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireRole(identity.RoleConsumer))
		r.Get("/me/account", h.account)
		r.Get("/me/points", h.points)
		r.Get("/me/wallet", h.wallet)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireRole(identity.RoleAdmin))
		r.Post("/admin/users/{userID}/wallet/top-up", h.topUp)
		r.Get("/admin/users/{userID}/reconcile", h.reconcile)
	})
}

func (h *LoyaltyHandler) account(w http.ResponseWriter, r *http.Request) {
	a, err := h.Loyalty.Account(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *LoyaltyHandler) points(w http.ResponseWriter, r *http.Request) {
	es, err := h.Loyalty.PointsHistory(r.Context(), principal(r).UserID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(es))
}

func (h *LoyaltyHandler) wallet(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Loyalty.WalletHistory(r.Context(), principal(r).UserID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ts))
}

// topUp credits a user's wallet, e.g. for goodwill or manual settlements.
func (h *LoyaltyHandler) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "manual top-up by " + principal(r).UserID
	}
	t, err := h.Loyalty.AddWalletTransaction(r.Context(), chi.URLParam(r, "userID"), req.Amount,
		loyalty.WalletCredit, loyalty.SourceTopUp, desc, "")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *LoyaltyHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	d, err := h.Loyalty.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		loyalty.Drift
		Balanced bool `json:"balanced"`
	}{d, d.Balanced()})
}
