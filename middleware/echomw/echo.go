// Package echomw provides Echo HTTP middleware for services embedding the
// console SDK.
//
// The guards mirror the ginmw package: Auth decodes bearer token claims per
// request, Require gates routes on single permission bits. Token signatures
// are checked by the console backend on every forwarded call, not here.
package echomw

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/claims"
)

// Context keys for storing console data in echo.Context.
const (
	KeySubject = "console_subject"
	KeyClaims  = "console_claims"
)

// AuthOption configures Auth middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip authentication (e.g. health
// checks).
func WithExcludedPaths(paths ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// Auth returns Echo middleware that decodes the bearer token claims and
// rejects requests whose claims are missing, malformed, or expired. On
// success the claims are stored in the Echo context and in the request
// context (retrievable via GetClaims and console.ClaimsFromContext).
func Auth(opts ...AuthOption) echo.MiddlewareFunc {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.excludedPaths[c.Request().URL.Path] {
				return next(c)
			}

			tokenStr := extractBearerToken(c.Request())
			if tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization token")
			}

			cl, err := claims.Decode(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if !cl.Valid(time.Now()) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
			}

			c.Set(KeyClaims, cl)
			c.Set(KeySubject, cl.Subject)

			ctx := console.WithClaims(c.Request().Context(), cl)
			ctx = console.WithSubject(ctx, cl.Subject)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// Require returns Echo middleware that checks one permission bit of the
// authenticated claims. Requires Auth middleware to run first.
// Responds with 403 when the permission is not granted.
func Require(client *console.Client, index string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cl := GetClaims(c)
			if cl == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authenticated claims")
			}
			if !client.HasPermission(index, cl.PermissionBits) {
				return echo.NewHTTPError(http.StatusForbidden, "permission denied")
			}
			return next(c)
		}
	}
}

// RequireAny returns Echo middleware that passes when any of the given
// permission bits is granted. Requires Auth middleware to run first.
func RequireAny(client *console.Client, indexes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cl := GetClaims(c)
			if cl == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authenticated claims")
			}
			for _, idx := range indexes {
				if client.HasPermission(idx, cl.PermissionBits) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "permission denied")
		}
	}
}

// --- Context helpers ---

// GetSubject returns the authenticated subject ID from the Echo context.
func GetSubject(c echo.Context) string {
	s, _ := c.Get(KeySubject).(string)
	return s
}

// GetClaims returns the full claims from the Echo context.
func GetClaims(c echo.Context) *console.Claims {
	cl, _ := c.Get(KeyClaims).(*console.Claims)
	return cl
}

// --- internal helpers ---

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
