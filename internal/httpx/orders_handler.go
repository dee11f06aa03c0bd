package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ordercore/internal/metrics"
	"ordercore/internal/orders"
)

// OrdersHandler exposes the coordinator over HTTP. Products routes proxy
// to the inventory catalog untouched.
type OrdersHandler struct {
	Svc     *orders.Coordinator
	Catalog *CatalogProxy
	Metrics *metrics.Metrics
	Log     *zap.SugaredLogger

	// Health probes. DBPing and BusPing decide the verdict; InventoryUp
	// is reported but never degrades this service.
	DBPing      func(ctx context.Context) error
	BusPing     func(ctx context.Context) error
	InventoryUp func(ctx context.Context) bool
}

type orderResponse struct {
	*orders.Order
	Cached bool `json:"cached,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/products", h.proxyProducts)
	r.Get("/products/{id}/stock", h.proxyStock)
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// header takes precedence over the body field
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Svc.CreateOrder(ctx, req)
	if err != nil {
		var ve *orders.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Msg)
		case errors.Is(err, orders.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.Log.Errorw("create order failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, createStatusCode(res), orderResponse{Order: res.Order, Cached: res.Cached})
}

// createStatusCode maps the settled order state to the contract: 201
// confirmed, 400 domain failure, 202 parked for verification. Replays
// return 200 regardless of state.
func createStatusCode(res *orders.CreateResult) int {
	if res.Cached {
		return http.StatusOK
	}
	switch res.Order.Status {
	case orders.StatusConfirmed:
		return http.StatusCreated
	case orders.StatusFailed:
		return http.StatusBadRequest
	case orders.StatusPendingVerification:
		return http.StatusAccepted
	case orders.StatusCancelled:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Log.Errorw("get order failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	filter := orders.ListFilter{Status: orders.Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	list, err := h.Svc.ListOrders(ctx, filter)
	if err != nil {
		var ve *orders.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Msg)
			return
		}
		h.Log.Errorw("list orders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list, "count": len(list)})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.CancelOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, orders.ErrCancelTerminal):
			writeError(w, http.StatusBadRequest, "order is in a terminal state")
		default:
			h.Log.Errorw("cancel order failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o})
}

func (h *OrdersHandler) proxyProducts(w http.ResponseWriter, r *http.Request) {
	h.Catalog.Forward(w, r, "/products")
}

func (h *OrdersHandler) proxyStock(w http.ResponseWriter, r *http.Request) {
	h.Catalog.Forward(w, r, "/products/"+chi.URLParam(r, "id")+"/stock")
}

// health: 200 iff the owned database is reachable and the bus connection
// works. Inventory reachability is included in the body but ignored for
// the verdict.
func (h *OrdersHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	body := map[string]any{"service": "order-service"}
	healthy := true

	if err := h.DBPing(ctx); err != nil {
		body["database"] = "down"
		healthy = false
	} else {
		body["database"] = "up"
	}
	if h.BusPing != nil {
		if err := h.BusPing(ctx); err != nil {
			body["bus"] = "down"
			healthy = false
		} else {
			body["bus"] = "up"
		}
	}
	if h.InventoryUp != nil {
		if h.InventoryUp(ctx) {
			body["inventory"] = "up"
		} else {
			body["inventory"] = "down"
		}
	}

	if healthy {
		body["status"] = "healthy"
		writeJSON(w, http.StatusOK, body)
		return
	}
	body["status"] = "degraded"
	writeJSON(w, http.StatusServiceUnavailable, body)
}
