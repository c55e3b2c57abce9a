// Package api provides the HTTP facade over the ledger engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tutu-network/shf/internal/app/rewards"
	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/observability"
)

// Server is the shf HTTP API server.
type Server struct {
	engine         *rewards.Engine
	log            logrus.FieldLogger
	limiter        *RateLimiter // nil = unlimited
	metricsEnabled bool
	timeout        time.Duration
}

// NewServer creates a new API server.
func NewServer(eng *rewards.Engine, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		engine:  eng,
		log:     log.WithField("component", "api"),
		timeout: 30 * time.Second,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRateLimit limits each client to rps requests per second. rps <= 0 disables it.
func (s *Server) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = NewRateLimiter(rps, burst, s.log)
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)
	r.Use(s.instrument)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":           "ok",
			"feed_subscribers": s.engine.Feed().ClientCount(),
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Handler)
		}

		r.With(middleware.Timeout(s.timeout)).Get("/catalog", s.handleCatalog)
		r.With(middleware.Timeout(s.timeout)).Get("/debug/spans", s.handleSpans)
		r.Delete("/debug/spans", s.handleResetSpans)

		// Ledger API
		r.Route("/ledger/{subject}", func(r chi.Router) {
			// Long-lived; no request timeout.
			r.Get("/feed", s.handleFeed)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.timeout))

				r.Post("/earn", s.handleEarn)
				r.Post("/convert", s.handleConvert)
				r.Post("/spend", s.handleSpend)
				r.Post("/adjust", s.handleAdjust)
				r.Post("/reverse", s.handleReverse)
				r.Post("/disputes", s.handleDispute)

				r.Get("/balances", s.handleBalances)
				r.Get("/score", s.handleScore)
				r.Get("/summary", s.handleSummary)
				r.Get("/remaining/{action}", s.handleRemaining)
				r.Get("/history", s.handleHistory)
				r.Get("/plan", s.handlePlan)
			})
		})
	})

	return r
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// traceMiddleware carries the request ID into command spans.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// instrument counts requests by route pattern and status, and logs them at debug.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeEngineError maps an engine error onto a status code and error type.
func writeEngineError(w http.ResponseWriter, err error) {
	status, errType := classify(err)
	writeError(w, status, errType, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrUnknownToken):
		return http.StatusBadRequest, "unknown_token"
	case errors.Is(err, domain.ErrUnknownAction):
		return http.StatusNotFound, "unknown_action"
	case errors.Is(err, domain.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, domain.ErrEmptyBundle):
		return http.StatusConflict, "empty_bundle"
	case errors.Is(err, domain.ErrAlreadyReversed):
		return http.StatusConflict, "already_reversed"
	case errors.Is(err, domain.ErrNotReversible):
		return http.StatusConflict, "not_reversible"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}
