// Package console provides a framework-agnostic Go SDK for the session and
// authorization core of an administration console backend.
//
// The SDK owns the bearer token lifecycle (acquisition, proactive renewal,
// expiry countdown, revocation), evaluates access rights encoded as an
// arbitrary-width permission bitfield, and caches the role/permission
// dashboard snapshot. Network access is delegated to pluggable backend
// interfaces so the SDK stays independent of any specific transport.
// Concrete implementations are injected via Option functions.
//
// Example usage with the bundled REST backend:
//
//	api := restapi.New("https://console.example.com/api")
//	client, err := console.NewClient(
//	    console.Config{BaseURL: "https://console.example.com/api"},
//	    console.WithSessionManager(session.NewManager(api)),
//	    console.WithPermissionEvaluator(permission.NewEvaluator()),
//	    console.WithDashboardService(dashboard.NewService(api)),
//	)
package console

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Client is the main entry point for console session and authorization
// operations. Service implementations are injected via Option functions.
type Client struct {
	config      Config
	logger      *slog.Logger
	sessions    SessionManager
	permissions PermissionEvaluator
	dashboard   DashboardService
	registry    SessionRegistry
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the address of the console backend API.
	// Example: "https://console.example.com/api"
	BaseURL string `yaml:"base_url"`

	// RefreshThreshold is how long before token expiry a proactive renewal
	// is scheduled. Default: 60 seconds.
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`

	// CacheTTL controls how long permission decisions and the dashboard
	// snapshot are cached locally. Default: 5 minutes.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// HTTPTimeout bounds each backend request. Default: 15 seconds.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// MetricsEnabled turns on Prometheus instrumentation.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSessionManager sets the session lifecycle implementation.
func WithSessionManager(s SessionManager) Option {
	return func(c *Client) { c.sessions = s }
}

// WithPermissionEvaluator sets the permission bitfield implementation.
func WithPermissionEvaluator(p PermissionEvaluator) Option {
	return func(c *Client) { c.permissions = p }
}

// WithDashboardService sets the dashboard cache implementation.
func WithDashboardService(d DashboardService) Option {
	return func(c *Client) { c.dashboard = d }
}

// WithSessionRegistry sets the active-session registry implementation.
func WithSessionRegistry(r SessionRegistry) Option {
	return func(c *Client) { c.registry = r }
}

// DefaultRefreshThreshold is how long before expiry a token is renewed.
const DefaultRefreshThreshold = 60 * time.Second

// DefaultCacheTTL is the default lifetime for cached permission decisions
// and dashboard snapshots.
const DefaultCacheTTL = 5 * time.Minute

// DefaultHTTPTimeout is the default per-request deadline for the backend.
const DefaultHTTPTimeout = 15 * time.Second

// NewClient creates a new console client with the given configuration and
// options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.RefreshThreshold == 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	c := &Client{config: cfg}
	for _, o := range opts {
		o(c)
	}
	if cfg.BaseURL == "" && c.sessions == nil && c.permissions == nil && c.dashboard == nil && c.registry == nil {
		return nil, fmt.Errorf("console: BaseURL or at least one injected service is required")
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Sessions returns the session manager, or nil if not configured.
func (c *Client) Sessions() SessionManager { return c.sessions }

// Permissions returns the permission evaluator, or nil if not configured.
func (c *Client) Permissions() PermissionEvaluator { return c.permissions }

// Dashboard returns the dashboard service, or nil if not configured.
func (c *Client) Dashboard() DashboardService { return c.dashboard }

// SessionRegistry returns the active-session registry, or nil if not
// configured.
func (c *Client) SessionRegistry() SessionRegistry { return c.registry }

// HasPermission reports whether the bit at position index is set in the
// given decimal-encoded permission bitfield. It returns false when no
// evaluator is configured.
func (c *Client) HasPermission(index, bits string) bool {
	if c.permissions == nil {
		return false
	}
	return c.permissions.Has(index, bits)
}

// Check reports whether the current session grants the permission at the
// given bit index. Absent, malformed, or expired claims yield false.
func (c *Client) Check(index string) bool {
	if c.sessions == nil || c.permissions == nil {
		return false
	}
	claims := c.sessions.Claims()
	if !claims.Valid(time.Now()) {
		return false
	}
	return c.permissions.Has(index, claims.PermissionBits)
}

// Authenticated reports whether a session with unexpired claims is present.
func (c *Client) Authenticated() bool {
	if c.sessions == nil {
		return false
	}
	return c.sessions.Claims().Valid(time.Now())
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []interface{}{
		c.sessions, c.permissions, c.dashboard, c.registry,
	}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
