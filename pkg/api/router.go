// Package api exposes the activation and signature subsystem over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/api/handlers"
	"github.com/marmos91/trustd/pkg/api/middleware"
	"github.com/marmos91/trustd/pkg/metrics"
	"github.com/marmos91/trustd/pkg/powerauth/service"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Protocol endpoints live under /v3 and /v2 and are guarded by HTTP Basic
// authentication against the integration table when restrictAccess is set.
// Health endpoints stay unauthenticated for probes.
func NewRouter(svc *service.Service, st *store.Store, m *metrics.Metrics, restrictAccess bool) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(recordMetrics(m))

	activationHandler := handlers.NewActivationHandler(svc)
	signatureHandler := handlers.NewSignatureHandler(svc)
	vaultHandler := handlers.NewVaultHandler(svc)
	tokenHandler := handlers.NewTokenHandler(svc)
	upgradeHandler := handlers.NewUpgradeHandler(svc)
	legacyHandler := handlers.NewLegacyHandler(svc)
	healthHandler := handlers.NewHealthHandler(st)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(st, restrictAccess))

		r.Route("/v3", func(r chi.Router) {
			r.Route("/activation", func(r chi.Router) {
				r.Post("/init", activationHandler.Init)
				r.Post("/prepare", activationHandler.Prepare)
				r.Post("/commit", activationHandler.Commit)
				r.Post("/status", activationHandler.Status)
				r.Post("/remove", activationHandler.Remove)
				r.Post("/block", activationHandler.Block)
				r.Post("/unblock", activationHandler.Unblock)
				r.Post("/otp/update", activationHandler.UpdateOtp)
				r.Post("/list", activationHandler.List)
				r.Post("/lookup", activationHandler.Lookup)
				r.Post("/history", activationHandler.History)
			})
			r.Route("/signature", func(r chi.Router) {
				r.Post("/verify", signatureHandler.Verify)
				r.Post("/ecdsa/verify", signatureHandler.VerifyECDSA)
			})
			r.Post("/vault/unlock", vaultHandler.Unlock)
			r.Route("/token", func(r chi.Router) {
				r.Post("/create", tokenHandler.Create)
				r.Post("/validate", tokenHandler.Validate)
				r.Post("/remove", tokenHandler.Remove)
			})
			r.Route("/upgrade", func(r chi.Router) {
				r.Post("/start", upgradeHandler.Start)
				r.Post("/commit", upgradeHandler.Commit)
			})
		})

		r.Route("/v2", func(r chi.Router) {
			r.Post("/activation/prepare", legacyHandler.Prepare)
			r.Post("/activation/create", legacyHandler.Create)
		})
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO using the
// internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

// recordMetrics records per-route request counts and durations. The route
// label uses the chi pattern, not the raw path, to keep cardinality bounded.
func recordMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(route, ww.Status(), time.Since(start))
		})
	}
}
