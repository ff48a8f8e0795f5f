// Package middleware provides HTTP middleware for the trustd REST API.
package middleware

import (
	"context"
	"net/http"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// IntegrationVerifier checks HTTP Basic credentials against registered
// integrations. Implemented by the store.
type IntegrationVerifier interface {
	VerifyIntegration(ctx context.Context, clientToken, clientSecret string) (*model.Integration, error)
}

// BasicAuth enforces HTTP Basic authentication against the integration table.
// When restrict is false the middleware passes every request through, matching
// deployments that terminate authentication upstream.
func BasicAuth(verifier IntegrationVerifier, restrict bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !restrict {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientToken, clientSecret, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}
			if _, err := verifier.VerifyIntegration(r.Context(), clientToken, clientSecret); err != nil {
				logger.Debug("integration authentication failed",
					"clientToken", clientToken, "remoteAddr", r.RemoteAddr)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="trustd"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"status":"ERROR","responseObject":{"code":"ERR_AUTHENTICATION","message":"invalid credentials"}}`))
}
