package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ordercore/internal/metrics"
)

// NewRouter builds the shared middleware stack. Handlers register their
// routes on top of it.
func NewRouter(log *zap.SugaredLogger, m *metrics.Metrics, limiter *rate.Limiter) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(Instrument(m))
	if limiter != nil {
		r.Use(RateLimit(limiter))
	}
	r.Use(middleware.Timeout(15 * time.Second))
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
