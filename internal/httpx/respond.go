package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

var errUnauthenticated = errors.New("missing caller identity")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to a status and kind. Anything unrecognised
// is logged and reported as an opaque internal error.
func writeError(w http.ResponseWriter, r *http.Request, service string, err error) {
	code, kind := classify(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.Err(logging.Fields{
			Service: service, Step: "http " + r.Method + " " + r.URL.Path,
			Message: middleware.GetReqID(r.Context()),
		}, err)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: errorDetail{Kind: kind, Message: msg}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrOutOfStock):
		return http.StatusConflict, "out_of_stock"
	case errors.Is(err, orders.ErrInUse):
		return http.StatusConflict, "in_use"
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal"
}
