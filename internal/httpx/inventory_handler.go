package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ordercore/internal/inventory"
	"ordercore/internal/metrics"
)

// InventoryHandler serves the catalog read API on the inventory side:
// product listings, stock lookups and the audit trail.
type InventoryHandler struct {
	Svc     *inventory.Service
	Metrics *metrics.Metrics
	Log     *zap.SugaredLogger

	BusPing func(ctx context.Context) error
}

func (h *InventoryHandler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}/stock", h.getStock)
	r.Get("/products/{id}/audit", h.getAudit)
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
}

func (h *InventoryHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Svc.Products(ctx)
	if err != nil {
		h.Log.Errorw("list products failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ps == nil {
		ps = []*inventory.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": ps, "count": len(ps)})
}

func (h *InventoryHandler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Svc.CheckStock(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.Log.Errorw("stock lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *InventoryHandler) getAudit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	trail, err := h.Svc.Audit(ctx, chi.URLParam(r, "id"), limit)
	if err != nil {
		h.Log.Errorw("audit trail failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trail == nil {
		trail = []*inventory.StockAudit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": trail, "count": len(trail)})
}

func (h *InventoryHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	body := map[string]any{"service": "inventory-service"}
	healthy := true

	if err := h.Svc.Ping(ctx); err != nil {
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

	if healthy {
		body["status"] = "healthy"
		writeJSON(w, http.StatusOK, body)
		return
	}
	body["status"] = "degraded"
	writeJSON(w, http.StatusServiceUnavailable, body)
}
