package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	OrderID   string `json:"order_id,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
}

var kindStatus = map[*apperr.Kind]int{
	apperr.ItemUnavailable:             http.StatusConflict,
	apperr.ReservationFailed:           http.StatusConflict,
	apperr.InvalidTransition:           http.StatusConflict,
	apperr.CheckoutInProgress:          http.StatusConflict,
	apperr.InsufficientPoints:          http.StatusUnprocessableEntity,
	apperr.InsufficientWallet:          http.StatusUnprocessableEntity,
	apperr.InvalidPickupCode:           http.StatusUnprocessableEntity,
	apperr.OrderNotFound:               http.StatusNotFound,
	apperr.ListingNotFound:             http.StatusNotFound,
	apperr.PaymentInitializationFailed: http.StatusBadGateway,
	apperr.PaymentVerificationFailed:   http.StatusPaymentRequired,
	apperr.InvalidInput:                http.StatusBadRequest,
	apperr.Forbidden:                   http.StatusForbidden,
}

// writeError maps core error kinds to status codes. Anything else is an
// internal error: it is logged and replaced by a generic body.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: apperr.InvalidInput.String(), Message: ve.Error()})
		return
	}
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		log.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"})
		return
	}
	body := errorBody{Error: kind.String(), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Detail
		body.OrderID, body.ListingID = ae.OrderID, ae.ListingID
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
