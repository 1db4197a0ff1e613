package web

import (
	"net/http"
	"strings"
	"time"

	"toolsync/web/api"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// CorsMiddleware handles CORS headers for cross-origin requests.
// The tools run in the browser on other local ports.
func CorsMiddleware(c rweb.Context) error {
	c.Response().SetHeader("Access-Control-Allow-Origin", "*")
	c.Response().SetHeader("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	c.Response().SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

	// Handle preflight OPTIONS requests
	if c.Request().Method() == "OPTIONS" {
		c.SetStatus(http.StatusOK)
		return nil
	}

	return c.Next()
}

// BearerAuthMiddleware marks a request authenticated when it presents the
// engine's own session token. Requests without it continue unauthenticated;
// RequireAuth does the blocking.
func BearerAuthMiddleware(control *api.SyncControl) rweb.Handler {
	return func(c rweb.Context) error {
		c.Set("user_guid", "")
		c.Set("authenticated", false)

		authHeader := c.Request().Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Next()
		}

		if !control.Authorize(strings.TrimPrefix(authHeader, "Bearer ")) {
			// Don't log every rejected token
			return c.Next()
		}

		c.Set("user_guid", control.UserID())
		c.Set("authenticated", true)
		return c.Next()
	}
}

// RequireAuth wraps a handler so that unauthenticated requests get a 401.
func RequireAuth(next rweb.Handler) rweb.Handler {
	return func(c rweb.Context) error {
		if !api.IsAuthenticated(c) {
			c.SetStatus(http.StatusUnauthorized)
			return c.WriteJSON(api.APIResponse{Success: false, Error: "authentication required"})
		}
		return next(c)
	}
}

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware(c rweb.Context) error {
	c.Response().SetHeader("X-Content-Type-Options", "nosniff")
	c.Response().SetHeader("X-Frame-Options", "DENY")
	c.Response().SetHeader("Referrer-Policy", "strict-origin-when-cross-origin")

	// Status pages are server rendered with inline styles and no scripts
	csp := []string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
	}
	c.Response().SetHeader("Content-Security-Policy", strings.Join(csp, "; "))

	return c.Next()
}

// LoggingMiddleware provides detailed request logging
func LoggingMiddleware(c rweb.Context) error {
	start := time.Now()

	logger.Debug("Request started",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
	)

	err := c.Next()

	logger.Debug("Request completed",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
		"duration", time.Since(start),
		"error", err,
	)

	return err
}
