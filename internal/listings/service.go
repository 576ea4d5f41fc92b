package listings

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	Repo     Repository
	Log      *zap.Logger
	MinPrice decimal.Decimal
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Price returns the single-unit price of l at the current time.
func (s *Service) Price(l Listing) decimal.Decimal {
	return s.Quote(l, 1)
}

// Quote returns the per-unit price of l when qty units are bought now.
func (s *Service) Quote(l Listing, qty int) decimal.Decimal {
	return pricing.Compute(l.PriceInput(qty, s.now(), s.MinPrice))
}

// Create prices the listing, fills it to total quantity and activates it.
func (s *Service) Create(ctx context.Context, l Listing) (Listing, error) {
	l.Title = strings.TrimSpace(l.Title)
	if l.Type == "" {
		l.Type = TypeIndividual
	}
	if l.AskingPrice.IsZero() {
		l.AskingPrice = l.OriginalPrice
	}
	if err := validate(l); err != nil {
		return Listing{}, err
	}

	now := s.now()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.AvailableQuantity = l.TotalQuantity
	l.Status = StatusActive
	l.CreatedAt, l.UpdatedAt = now, now
	l.DiscountedPrice = s.Price(l)

	if err := s.Repo.Create(ctx, l); err != nil {
		return Listing{}, err
	}
	s.log().Info("listing created",
		zap.String("listing_id", l.ID), zap.String("business_id", l.BusinessID),
		zap.Stringer("price", l.DiscountedPrice), zap.Int("qty", l.TotalQuantity))
	return l, nil
}

// Update applies p on behalf of businessID. The discounted price is
// recomputed when any price-relevant field changes; patching the available
// quantity to zero forces sold_out.
func (s *Service) Update(ctx context.Context, businessID, id string, p Patch) (Listing, error) {
	return s.Repo.Update(ctx, id, func(l *Listing) error {
		if l.BusinessID != businessID {
			return apperr.New(apperr.Forbidden, "listing belongs to another business").WithListing(id).WithUser(businessID)
		}
		if l.Status == StatusExpired || l.Status == StatusCancelled {
			return apperr.New(apperr.InvalidInput, "listing is %s", l.Status).WithListing(id)
		}
		if p.Title != nil {
			l.Title = strings.TrimSpace(*p.Title)
		}
		if p.Description != nil {
			l.Description = *p.Description
		}
		if p.OriginalPrice != nil {
			l.OriginalPrice = *p.OriginalPrice
		}
		if p.AskingPrice != nil {
			l.AskingPrice = *p.AskingPrice
		}
		if p.PickupStart != nil {
			l.PickupStart = *p.PickupStart
		}
		if p.PickupEnd != nil {
			l.PickupEnd = *p.PickupEnd
		}
		if p.ClearBulk {
			l.Bulk = nil
		}
		if p.Bulk != nil {
			b := *p.Bulk
			l.Bulk = &b
		}
		if p.PeakRules != nil {
			l.PeakRules = append([]pricing.PeakRule(nil), (*p.PeakRules)...)
		}
		if p.TotalQuantity != nil {
			sold := l.TotalQuantity - l.AvailableQuantity
			if *p.TotalQuantity < sold {
				return apperr.New(apperr.InvalidInput, "total quantity below units already reserved (%d)", sold).WithListing(id)
			}
			l.TotalQuantity = *p.TotalQuantity
			l.AvailableQuantity = *p.TotalQuantity - sold
		}
		if p.AvailableQuantity != nil {
			if *p.AvailableQuantity < 0 || *p.AvailableQuantity > l.TotalQuantity {
				return apperr.New(apperr.InvalidInput, "available quantity must be within 0..%d", l.TotalQuantity).WithListing(id)
			}
			l.AvailableQuantity = *p.AvailableQuantity
		}
		if err := validate(*l); err != nil {
			return err
		}

		switch {
		case l.AvailableQuantity == 0:
			l.Status = StatusSoldOut
		case l.Status == StatusSoldOut:
			l.Status = StatusActive
		}
		if p.touchesPrice() {
			l.DiscountedPrice = s.Price(*l)
		}
		l.UpdatedAt = s.now()
		return nil
	})
}

// MarkExpired retires a listing whose pickup window has ended. It is meant
// for the expiry sweep, not for user requests.
func (s *Service) MarkExpired(ctx context.Context, id string) (Listing, error) {
	now := s.now()
	return s.Repo.Update(ctx, id, func(l *Listing) error {
		if !now.After(l.PickupEnd) {
			return apperr.New(apperr.InvalidInput, "pickup window has not ended").WithListing(id)
		}
		if l.Status != StatusActive && l.Status != StatusSoldOut {
			return apperr.New(apperr.InvalidInput, "listing is %s", l.Status).WithListing(id)
		}
		l.Status = StatusExpired
		l.UpdatedAt = now
		return nil
	})
}

// Cancel soft-retires a listing. Orders already placed keep their lines.
func (s *Service) Cancel(ctx context.Context, businessID, id string) (Listing, error) {
	return s.Repo.Update(ctx, id, func(l *Listing) error {
		if businessID != "" && l.BusinessID != businessID {
			return apperr.New(apperr.Forbidden, "listing belongs to another business").WithListing(id).WithUser(businessID)
		}
		if l.Status == StatusCancelled {
			return nil
		}
		l.Status = StatusCancelled
		l.UpdatedAt = s.now()
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	return s.Repo.Get(ctx, id)
}

// Search returns listings matching f. Expired and cancelled listings are
// excluded unless f.IncludeInactive is set.
func (s *Service) Search(ctx context.Context, f Filter) ([]Listing, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.Repo.Search(ctx, f)
}

// SweepExpired expires every listing whose pickup window has ended and
// returns how many were changed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	due, err := s.Repo.ListExpirable(ctx, s.now(), 500)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range due {
		if _, err := s.MarkExpired(ctx, l.ID); err != nil {
			s.log().Warn("expire listing", zap.String("listing_id", l.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log().Info("listings expired", zap.Int("count", n))
	}
	return n, nil
}

func validate(l Listing) error {
	bad := func(msg string) error { return apperr.New(apperr.InvalidInput, "%s", msg).WithListing(l.ID) }
	switch {
	case l.BusinessID == "":
		return bad("business id is required")
	case l.Title == "":
		return bad("title is required")
	case !l.Type.Valid():
		return bad("unknown listing type")
	case !l.OriginalPrice.IsPositive():
		return bad("original price must be positive")
	case !l.AskingPrice.IsPositive():
		return bad("asking price must be positive")
	case l.AskingPrice.GreaterThan(l.OriginalPrice):
		return bad("asking price must not exceed original price")
	case l.TotalQuantity <= 0:
		return bad("total quantity must be positive")
	case !l.PickupEnd.After(l.PickupStart):
		return bad("pickup window must end after it starts")
	}
	if b := l.Bulk; b != nil && (b.Threshold < 1 || b.DiscountPct.IsNegative() || b.DiscountPct.GreaterThan(decimal.NewFromInt(100))) {
		return bad("invalid bulk rule")
	}
	for _, r := range l.PeakRules {
		if r.StartHour < 0 || r.StartHour > 23 || r.EndHour < 0 || r.EndHour > 24 || r.SurchargePct.IsNegative() {
			return bad("invalid peak rule")
		}
	}
	return nil
}
