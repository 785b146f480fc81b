// Package middleware contains HTTP middleware for the Studyhall quota
// service.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler. They are designed to be composed using a middleware stack
// approach.
package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/studyhallhq/studyhall/internal/handler"
)

// AdminKeyHeader carries the admin API key on /api/admin requests.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuthMiddleware guards the admin API with a single shared key,
// checked against a bcrypt hash so the plaintext key never lives in
// configuration or the process environment.
type AdminAuthMiddleware struct {
	keyHash []byte
	logger  *slog.Logger
}

// NewAdminAuthMiddleware creates a new admin auth middleware. keyHash is
// the bcrypt hash of the expected API key; when it is empty every admin
// request is rejected, which is the safe default for a misconfigured
// deployment.
func NewAdminAuthMiddleware(keyHash string, logger *slog.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		keyHash: []byte(keyHash),
		logger:  logger,
	}
}

// RequireAdmin returns middleware that rejects requests without a valid
// admin key.
func (m *AdminAuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.keyHash) == 0 {
			m.logger.Warn("admin request rejected: no admin key hash configured", "path", r.URL.Path)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		key := r.Header.Get(AdminKeyHeader)
		if key == "" {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		// bcrypt comparison is constant-time over the hash.
		if err := bcrypt.CompareHashAndPassword(m.keyHash, []byte(key)); err != nil {
			m.logger.Warn("admin request rejected: invalid key",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw, adminMw.RequireAdmin)
//	mux.Handle("POST /api/admin/credits", stack(creditsHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
