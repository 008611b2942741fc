package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/reconcile"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Orders *orders.Service
	Engine *reconcile.Engine
	Redis  *redis.Client // optional: idempotency, status cache, out-of-stock set
	Log    *zap.Logger
}

type CreateOrderResp struct {
	OrderID    string `json:"id"`
	Idempotent bool   `json:"idempotent"`
}

type SetStatusReq struct {
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	PaymentMethod  string `json:"paymentMethod,omitempty"`
}

type SetDeliveredReq struct {
	Checked *bool `json:"checked"`
}

type AdjustStockReq struct {
	Delta *int `json:"delta"`
}

type AdjustStockResp struct {
	ProductID string `json:"id"`
	Stock     int    `json:"stock"`
	Version   int64  `json:"version"`
}

type BulkDeliveredReq struct {
	Checked *bool        `json:"checked"`
	Orders  []orders.Ref `json:"orders"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/accounts/{accountID}/orders/stream", h.streamOrders)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.Post("/accounts/{accountID}/orders", h.createOrder)
		r.Get("/accounts/{accountID}/orders", h.listAccountOrders)
		r.Get("/orders/{orderID}/status", h.getStatus)
		r.Get("/products", h.listProducts)
		r.Get("/products/out-of-stock", h.outOfStock)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/orders", h.listAllOrders)
			r.Post("/orders/delivered", h.bulkSetDelivered)
			r.Patch("/accounts/{accountID}/orders/{orderID}", h.setStatus)
			r.Put("/accounts/{accountID}/orders/{orderID}/delivered", h.setDelivered)
			r.Delete("/accounts/{accountID}/orders/{orderID}", h.deleteOrder)
			r.Patch("/accounts/{accountID}/orders/{orderID}/fields", h.updateFields)
			r.Post("/products/{productID}/stock", h.adjustStock)
		})
	})
}

func refFrom(r *http.Request) orders.Ref {
	return orders.Ref{AccountID: chi.URLParam(r, "accountID"), OrderID: chi.URLParam(r, "orderID")}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req orders.NewOrder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis (DB tetap jadi kebenaran)
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.Redis != nil {
		if id, ok, err := redisx.LookupIdempotent(ctx, h.Redis, accountID, idemKey); err != nil {
			h.Log.Warn("idempotency lookup", zap.String("account_id", accountID), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, CreateOrderResp{OrderID: id, Idempotent: true})
			return
		}
	}

	o, err := h.Orders.CreateOrder(ctx, accountID, req, middleware.GetReqID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	if idemKey != "" && h.Redis != nil {
		if err := redisx.RememberIdempotent(ctx, h.Redis, accountID, idemKey, o.ID); err != nil {
			h.Log.Warn("idempotency remember", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: o.ID})
}

func (h *OrdersHandler) listAccountOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListAccountOrders(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViews(list))
}

func (h *OrdersHandler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListAllOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViews(list))
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	var cache *redisx.StatusCache
	if h.Redis != nil {
		cache = &redisx.StatusCache{Redis: h.Redis}
		if cs, ok, err := cache.GetStatus(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}

	// 2) fallback store
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		badRequest(w, "missing accountId")
		return
	}
	o, err := h.Orders.GetOrder(ctx, orders.Ref{AccountID: accountID, OrderID: orderID})
	if err != nil {
		writeError(w, err)
		return
	}
	cs := redisx.CachedStatus{Status: o.Status, Version: o.Version, UpdatedAt: o.UpdatedAt}
	if cache != nil {
		_ = cache.PutStatus(ctx, orderID, o.Status, o.Version, o.UpdatedAt)
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Status == "" || req.PreviousStatus == "" {
		badRequest(w, "status and previousStatus are required")
		return
	}

	out, err := h.Engine.SetStatus(r.Context(), refFrom(r),
		orders.Status(req.Status), orders.Status(req.PreviousStatus), req.PaymentMethod)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeView(out))
}

func (h *OrdersHandler) setDelivered(w http.ResponseWriter, r *http.Request) {
	var req SetDeliveredReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Checked == nil {
		badRequest(w, "checked is required")
		return
	}
	out, err := h.Engine.SetDelivered(r.Context(), refFrom(r), *req.Checked)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeView(out))
}

func (h *OrdersHandler) bulkSetDelivered(w http.ResponseWriter, r *http.Request) {
	var req BulkDeliveredReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Checked == nil {
		badRequest(w, "checked is required")
		return
	}
	for _, ref := range req.Orders {
		if ref.AccountID == "" || ref.OrderID == "" {
			badRequest(w, "every order needs accountId and id")
			return
		}
	}

	results, err := h.Engine.BulkSetDelivered(r.Context(), req.Orders, *req.Checked)
	code := http.StatusOK
	if err != nil {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, toBulkResp(results))
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	if _, err := h.Engine.Delete(r.Context(), ref, middleware.GetReqID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	if h.Redis != nil {
		_ = (&redisx.StatusCache{Redis: h.Redis}).Evict(r.Context(), ref.OrderID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateFields writes billing or payment method directly; status goes through the engine.
func (h *OrdersHandler) updateFields(w http.ResponseWriter, r *http.Request) {
	var req orders.FieldUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	o, err := h.Orders.UpdateOrderFields(r.Context(), refFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderView{Order: o, DisplayStatus: orders.DisplayStatus(o)})
}

// adjustStock is the manual restock / correction path, outside any order.
func (h *OrdersHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == nil {
		badRequest(w, "delta is required")
		return
	}
	adj, err := h.Orders.AdjustStock(r.Context(), chi.URLParam(r, "productID"), *req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustStockResp{ProductID: adj.ProductID, Stock: adj.Stock, Version: adj.Version})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Orders.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// outOfStock prefers the Redis set and falls back to scanning products. The set is
// synced at startup and marked after every committed stock change.
func (h *OrdersHandler) outOfStock(w http.ResponseWriter, r *http.Request) {
	if h.Redis != nil {
		ids, err := redisx.OutOfStock(r.Context(), h.Redis)
		if err == nil {
			writeJSON(w, http.StatusOK, ids)
			return
		}
		h.Log.Warn("out-of-stock set", zap.Error(err))
	}

	ps, err := h.Orders.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ids := []string{}
	for _, p := range ps {
		if p.Stock <= 0 {
			ids = append(ids, p.ID)
		}
	}
	writeJSON(w, http.StatusOK, ids)
}
