package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and runs the struct's validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.New(apperr.InvalidInput, "invalid json: %v", err)
	}
	return validate.Struct(dst)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
