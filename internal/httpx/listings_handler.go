package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/identity"
	"github.com/ariefcatur/go-surplus-food/internal/listings"
	"github.com/ariefcatur/go-surplus-food/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ListingService interface {
	Create(ctx context.Context, l listings.Listing) (listings.Listing, error)
	Update(ctx context.Context, businessID, id string, p listings.Patch) (listings.Listing, error)
	Cancel(ctx context.Context, businessID, id string) (listings.Listing, error)
	Get(ctx context.Context, id string) (listings.Listing, error)
	Search(ctx context.Context, f listings.Filter) ([]listings.Listing, error)
	Quote(l listings.Listing, qty int) decimal.Decimal
}

type ListingsHandler struct {
	Listings ListingService
	Log      *zap.Logger
}

type createListingReq struct {
	Title         string             `json:"title" validate:"required,max=200"`
	Description   string             `json:"description" validate:"max=2000"`
	Type          listings.Type      `json:"listing_type" validate:"omitempty,oneof=individual bulk_bag chef_special mystery_box"`
	OriginalPrice decimal.Decimal    `json:"original_price"`
	AskingPrice   decimal.Decimal    `json:"asking_price"`
	TotalQuantity int                `json:"total_quantity" validate:"required,min=1"`
	PickupStart   time.Time          `json:"pickup_window_start" validate:"required"`
	PickupEnd     time.Time          `json:"pickup_window_end" validate:"required,gtfield=PickupStart"`
	Bulk          *pricing.BulkRule  `json:"bulk_rule"`
	PeakRules     []pricing.PeakRule `json:"peak_rules"`
}

type patchListingReq struct {
	Title             *string             `json:"title" validate:"omitempty,min=1,max=200"`
	Description       *string             `json:"description" validate:"omitempty,max=2000"`
	OriginalPrice     *decimal.Decimal    `json:"original_price"`
	AskingPrice       *decimal.Decimal    `json:"asking_price"`
	TotalQuantity     *int                `json:"total_quantity" validate:"omitempty,min=1"`
	AvailableQuantity *int                `json:"available_quantity" validate:"omitempty,min=0"`
	PickupStart       *time.Time          `json:"pickup_window_start"`
	PickupEnd         *time.Time          `json:"pickup_window_end"`
	Bulk              *pricing.BulkRule   `json:"bulk_rule"`
	ClearBulk         bool                `json:"clear_bulk_rule"`
	PeakRules         *[]pricing.PeakRule `json:"peak_rules"`
}

type priceResp struct {
	ListingID string          `json:"listing_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (h *ListingsHandler) Register(r chi.Router) {
	r.Get("/listings", h.search)
	r.Get("/listings/{id}", h.get)
	r.Get("/listings/{id}/price", h.price)
	r.Group(func(r chi.Router) {
		r.Use(requireRole(identity.RoleBusiness))
		r.Post("/listings", h.create)
		r.Patch("/listings/{id}", h.update)
		r.Delete("/listings/{id}", h.cancel)
	})
}

func (h *ListingsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createListingReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	l, err := h.Listings.Create(r.Context(), listings.Listing{
		BusinessID:    principal(r).UserID,
		Title:         req.Title,
		Description:   req.Description,
		Type:          req.Type,
		OriginalPrice: req.OriginalPrice,
		AskingPrice:   req.AskingPrice,
		TotalQuantity: req.TotalQuantity,
		PickupStart:   req.PickupStart,
		PickupEnd:     req.PickupEnd,
		Bulk:          req.Bulk,
		PeakRules:     req.PeakRules,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *ListingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req patchListingReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	l, err := h.Listings.Update(r.Context(), principal(r).UserID, chi.URLParam(r, "id"), listings.Patch{
		Title:             req.Title,
		Description:       req.Description,
		OriginalPrice:     req.OriginalPrice,
		AskingPrice:       req.AskingPrice,
		TotalQuantity:     req.TotalQuantity,
		AvailableQuantity: req.AvailableQuantity,
		PickupStart:       req.PickupStart,
		PickupEnd:         req.PickupEnd,
		Bulk:              req.Bulk,
		ClearBulk:         req.ClearBulk,
		PeakRules:         req.PeakRules,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *ListingsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	owner := p.UserID
	if p.IsAdmin() {
		owner = ""
	}
	l, err := h.Listings.Cancel(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *ListingsHandler) get(w http.ResponseWriter, r *http.Request) {
	l, err := h.Listings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *ListingsHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := listings.Filter{
		BusinessID: q.Get("business_id"),
		Type:       listings.Type(q.Get("type")),
		Query:      q.Get("q"),
		SortBy:     listings.SortBy(q.Get("sort")),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if f.Type != "" && !f.Type.Valid() {
		writeError(w, h.Log, apperr.New(apperr.InvalidInput, "unknown listing type %q", f.Type))
		return
	}
	switch f.SortBy {
	case listings.SortNone, listings.SortPrice, listings.SortExpiry:
	default:
		writeError(w, h.Log, apperr.New(apperr.InvalidInput, "unknown sort %q", f.SortBy))
		return
	}
	if v := q.Get("max_price"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, h.Log, apperr.New(apperr.InvalidInput, "invalid max_price"))
			return
		}
		f.MaxPrice = &d
	}
	ls, err := h.Listings.Search(r.Context(), f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ls))
}

// price quotes the per-unit price for a quantity at the current time.
func (h *ListingsHandler) price(w http.ResponseWriter, r *http.Request) {
	qty := queryInt(r, "quantity", 1)
	if qty < 1 {
		writeError(w, h.Log, apperr.New(apperr.InvalidInput, "quantity must be positive"))
		return
	}
	l, err := h.Listings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResp{ListingID: l.ID, Quantity: qty, UnitPrice: h.Listings.Quote(l, qty)})
}
