package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-surplus-food/internal/identity"
	"github.com/ariefcatur/go-surplus-food/internal/orders"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OrderService is the slice of the order workflow the HTTP layer drives.
type OrderService interface {
	CreateOrder(ctx context.Context, p identity.Principal, cart orders.Cart, opts orders.Options) (orders.Checkout, error)
	Get(ctx context.Context, p identity.Principal, orderID string) (orders.Order, error)
	StatusOf(ctx context.Context, p identity.Principal, orderID string) (orders.Status, error)
	ListForConsumer(ctx context.Context, p identity.Principal, limit, offset int) ([]orders.Order, error)
	ListForBusiness(ctx context.Context, p identity.Principal, businessID string, status orders.Status, limit, offset int) ([]orders.Order, error)
	UpdateStatus(ctx context.Context, p identity.Principal, orderID string, to orders.Status, reason string) (orders.Order, error)
	Cancel(ctx context.Context, p identity.Principal, orderID, reason string) (orders.Order, error)
	VerifyPickup(ctx context.Context, p identity.Principal, orderID, code string) (orders.Order, error)
	OpenDispute(ctx context.Context, p identity.Principal, orderID, reason string) (orders.Order, error)
	ProcessPayment(ctx context.Context, orderID, reference string) (orders.Order, error)
	HandlePaymentEvent(ctx context.Context, ev payments.Event) error
}

type OrdersHandler struct {
	Orders OrderService
	Log    *zap.Logger
}

type cartLineReq struct {
	ListingID string `json:"listing_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

type createOrderReq struct {
	Lines          []cartLineReq `json:"lines" validate:"required,min=1,max=20,dive"`
	UseWallet      bool          `json:"use_wallet"`
	PointsToRedeem int64         `json:"points_to_redeem" validate:"min=0"`
	Donation       bool          `json:"donation"`
}

type statusReq struct {
	Status string `json:"status" validate:"required,oneof=confirmed ready_for_pickup completed cancelled disputed"`
	Reason string `json:"reason" validate:"max=500"`
}

type reasonReq struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type pickupReq struct {
	Code string `json:"code" validate:"required,min=4,max=12"`
}

type verifyPaymentReq struct {
	Reference string `json:"reference" validate:"max=255"`
}

type statusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireRole())
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listMine)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
		r.Post("/orders/{id}/status", h.updateStatus)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Post("/orders/{id}/payment/verify", h.verifyPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireRole(identity.RoleBusiness))
		r.Post("/orders/{id}/pickup", h.verifyPickup)
		r.Get("/businesses/{businessID}/orders", h.listForBusiness)
	})
	r.With(requireRole(identity.RoleAdmin)).Post("/orders/{id}/dispute", h.openDispute)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	cart := orders.Cart{Lines: make([]orders.CartLine, 0, len(req.Lines))}
	for _, ln := range req.Lines {
		cart.Lines = append(cart.Lines, orders.CartLine{ListingID: ln.ListingID, Quantity: ln.Quantity})
	}
	co, err := h.Orders.CreateOrder(r.Context(), principal(r), cart, orders.Options{
		UseWallet:      req.UseWallet,
		PointsToRedeem: req.PointsToRedeem,
		Donation:       req.Donation,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, co)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListForConsumer(r.Context(), principal(r), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *OrdersHandler) listForBusiness(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListForBusiness(r.Context(), principal(r), chi.URLParam(r, "businessID"),
		orders.Status(r.URL.Query().Get("status")), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.Orders.StatusOf(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: s})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), principal(r), chi.URLParam(r, "id"), orders.Status(req.Status), req.Reason)
	h.respondOrder(w, o, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), principal(r), chi.URLParam(r, "id"), req.Reason)
	h.respondOrder(w, o, err)
}

func (h *OrdersHandler) verifyPickup(w http.ResponseWriter, r *http.Request) {
	var req pickupReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.VerifyPickup(r.Context(), principal(r), chi.URLParam(r, "id"), req.Code)
	h.respondOrder(w, o, err)
}

func (h *OrdersHandler) openDispute(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.OpenDispute(r.Context(), principal(r), chi.URLParam(r, "id"), req.Reason)
	h.respondOrder(w, o, err)
}

// verifyPayment lets the consumer's return page confirm a collection
// without waiting for the webhook.
func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Orders.Get(r.Context(), principal(r), id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.ProcessPayment(r.Context(), id, req.Reference)
	h.respondOrder(w, o, err)
}

func (h *OrdersHandler) respondOrder(w http.ResponseWriter, o orders.Order, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
