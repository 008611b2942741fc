package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter sets up shared middleware. Request timeouts are applied per route group
// because the SSE stream must stay open.
func NewRouter(log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logger.Middleware(log), middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id,omitempty"`
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var rf *reconcile.ReconciliationFailedError
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, orders.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
	case errors.As(err, &rf) && errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp{Error: err.Error(), OrderID: rf.Ref.OrderID})
	case errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.As(err, &rf):
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error(), OrderID: rf.Ref.OrderID})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg})
}
