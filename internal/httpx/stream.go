package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

// streamOrders serves subscribeOrders as server-sent events. Each event carries the
// account's full order list; a slow client only ever gets the newest list.
func (h *OrdersHandler) streamOrders(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "streaming unsupported"})
		return
	}
	accountID := chi.URLParam(r, "accountID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates := make(chan []orders.Order, 1)
	unsubscribe := h.Orders.SubscribeOrders(r.Context(), accountID, func(list []orders.Order) {
		for {
			select {
			case updates <- list:
				return
			default:
			}
			// buang list lama yang belum terkirim
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case list := <-updates:
			b, err := json.Marshal(toViews(list))
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: orders\ndata: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
