package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakepool/observability"
	"stakepool/services/stakingd/middleware"
)

// RouterConfig collects the HTTP collaborators. Every middleware is optional.
type RouterConfig struct {
	Service       *Service
	Logger        *slog.Logger
	Metrics       *observability.StakeMetrics
	Gatherer      prometheus.Gatherer
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

// Handler serves JSON-RPC and the event stream for one Service.
type Handler struct {
	service *Service
	logger  *slog.Logger
	metrics *observability.StakeMetrics
	rpc     map[string]rpcHandler
}

// NewRouter builds the daemon's HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &Handler{service: cfg.Service, logger: cfg.Logger, metrics: cfg.Metrics}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.rpc = h.methods()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(protected chi.Router) {
		if cfg.RateLimiter != nil {
			protected.Use(cfg.RateLimiter.Middleware)
		}
		if cfg.Authenticator != nil {
			protected.Use(cfg.Authenticator.Middleware)
		}
		protected.Post("/rpc", h.handleRPC)
		protected.Get("/ws/events", h.handleEventsWS)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := map[string]interface{}{"status": "ok", "pool": h.service.PoolAddress()}
	if err := h.service.Halted(); err != nil {
		status["status"] = "halted"
		status["error"] = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
