// Package ginmw provides Gin HTTP middleware for services embedding the
// console SDK.
//
// The Auth middleware decodes bearer token claims per request; the Require
// middleware gates routes on single permission bits. Token signatures are
// checked by the console backend on every forwarded call, not here.
package ginmw

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/claims"
)

// Context keys for storing console data in gin.Context.
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

// Auth returns Gin middleware that decodes the bearer token claims and
// rejects requests whose claims are missing, malformed, or expired. On
// success the claims are stored in the Gin context and in the request
// context (retrievable via GetClaims and console.ClaimsFromContext).
func Auth(opts ...AuthOption) gin.HandlerFunc {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tokenStr := extractBearerToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		cl, err := claims.Decode(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if !cl.Valid(time.Now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			return
		}

		c.Set(KeyClaims, cl)
		c.Set(KeySubject, cl.Subject)

		ctx := console.WithClaims(c.Request.Context(), cl)
		ctx = console.WithSubject(ctx, cl.Subject)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Require returns Gin middleware that checks one permission bit of the
// authenticated claims. Requires Auth middleware to run first.
// Responds with 403 when the permission is not granted.
func Require(client *console.Client, index string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl := GetClaims(c)
		if cl == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated claims"})
			return
		}
		if !client.HasPermission(index, cl.PermissionBits) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// RequireAny returns Gin middleware that passes when any of the given
// permission bits is granted. Requires Auth middleware to run first.
func RequireAny(client *console.Client, indexes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl := GetClaims(c)
		if cl == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated claims"})
			return
		}
		for _, idx := range indexes {
			if client.HasPermission(idx, cl.PermissionBits) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	}
}

// --- Context helpers ---

// GetSubject returns the authenticated subject ID from the Gin context.
func GetSubject(c *gin.Context) string {
	v, _ := c.Get(KeySubject)
	s, _ := v.(string)
	return s
}

// GetClaims returns the full claims from the Gin context.
func GetClaims(c *gin.Context) *console.Claims {
	v, _ := c.Get(KeyClaims)
	cl, _ := v.(*console.Claims)
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
