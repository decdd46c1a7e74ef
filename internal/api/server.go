package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/xhs-signer/internal/metrics"
	"github.com/shehryarbajwa/xhs-signer/internal/proxy"
	"github.com/shehryarbajwa/xhs-signer/internal/ratelimit"
)

// RouterOptions carries the optional collaborators of the router
type RouterOptions struct {
	Metrics     *metrics.Metrics
	RateLimiter *ratelimit.Limiter // nil disables rate limiting
	Proxy       *proxy.Server      // nil disables /debug/ws
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	r.Use(corsMiddleware)
	r.Use(ObservabilityMiddleware(opts.Metrics, h.logger))

	// Signing is rate limited per client
	sign := r.Path("/sign").Subrouter()
	if opts.RateLimiter != nil {
		sign.Use(RateLimitMiddleware(opts.RateLimiter, opts.Metrics))
	}
	sign.Methods(http.MethodPost, http.MethodOptions).HandlerFunc(h.Sign)

	// Polling endpoints are not rate limited
	r.HandleFunc("/", h.Index).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/a1", h.A1).Methods(http.MethodGet)
	r.HandleFunc("/web_a1", h.WebA1).Methods(http.MethodGet)
	r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)

	if opts.Proxy != nil {
		r.HandleFunc("/debug/ws", opts.Proxy.HandleDebugConnection).Methods(http.MethodGet)
	}

	return r
}
