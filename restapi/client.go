// Package restapi implements the console backend interfaces over HTTP.
//
// The refresh credential is a cookie set by the login response. The client
// keeps it in an in-memory jar and never exposes it; only the short-lived
// access token crosses the package boundary.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/metrics"
)

// TokenSource supplies the bearer token attached to authorized requests.
// session.Manager satisfies it.
type TokenSource interface {
	Token() string
}

// Client talks to the console backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	metrics    *metrics.Metrics
}

// compile-time checks
var (
	_ console.AuthBackend            = (*Client)(nil)
	_ console.DashboardBackend       = (*Client)(nil)
	_ console.SessionRegistryBackend = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The client's cookie jar carries
// the refresh credential, so a replacement without a jar disables refresh.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource sets the source of the bearer token for authorized
// requests.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = mx }
}

// New creates a REST client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: console.DefaultHTTPTimeout, Jar: jar},
		metrics:    metrics.New(false),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTokenSource wires the bearer token source after construction. The
// session manager needs the client first, so the two are tied together in
// this order.
func (c *Client) SetTokenSource(ts TokenSource) { c.tokens = ts }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenGrantResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
	SubjectID   string `json:"subjectId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Status      string `json:"status"`
}

type roleDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ColorTag    string   `json:"colorTag"`
	Permissions []string `json:"permissions"`
	IsSystem    bool     `json:"isSystem"`
	SortOrder   int      `json:"sortOrder"`
}

type roleInputDTO struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ColorTag    string   `json:"colorTag"`
	Permissions []string `json:"permissions,omitempty"`
	SortOrder   int      `json:"sortOrder"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type roleOrderDTO struct {
	ID        string `json:"id"`
	SortOrder int    `json:"sortOrder"`
}

type reorderRequest struct {
	Orders []roleOrderDTO `json:"orders"`
}

type sessionInfoDTO struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent"`
	IP        string    `json:"ip"`
	Current   bool      `json:"current"`
}

type sessionListResponse struct {
	Sessions []sessionInfoDTO `json:"sessions"`
}

type permissionInfoDTO struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Index       string `json:"index"`
}

type permissionCategoryDTO struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Permissions []permissionInfoDTO `json:"permissions"`
}

type dashboardStatsDTO struct {
	TotalRoles       int `json:"totalRoles"`
	SystemRoles      int `json:"systemRoles"`
	TotalPermissions int `json:"totalPermissions"`
	TotalMembers     int `json:"totalMembers"`
}

type dashboardResponse struct {
	PermissionCategories []permissionCategoryDTO `json:"permissionCategories"`
	Roles                []roleDTO               `json:"roles"`
	Stats                dashboardStatsDTO       `json:"stats"`
}

// Login exchanges credentials for a token grant. The backend's response
// also sets the refresh cookie in the jar.
func (c *Client) Login(ctx context.Context, creds console.Credentials) (*console.TokenGrant, error) {
	var out tokenGrantResponse
	in := loginRequest{Email: creds.Email, Password: creds.Password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("restapi: empty accessToken in login response")
	}
	return grantFromResponse(out), nil
}

// Refresh exchanges the refresh cookie for a new token grant.
func (c *Client) Refresh(ctx context.Context) (*console.TokenGrant, error) {
	var out tokenGrantResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("restapi: empty accessToken in refresh response")
	}
	return grantFromResponse(out), nil
}

// Logout revokes the refresh credential.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", struct{}{}, nil)
}

// ListSessions returns all active sessions of the current account.
func (c *Client) ListSessions(ctx context.Context) ([]console.SessionInfo, error) {
	var out sessionListResponse
	if err := c.do(ctx, http.MethodGet, "/auth/sessions", nil, &out); err != nil {
		return nil, err
	}
	sessions := make([]console.SessionInfo, 0, len(out.Sessions))
	for _, s := range out.Sessions {
		sessions = append(sessions, console.SessionInfo{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			UserAgent: s.UserAgent,
			IP:        s.IP,
			Current:   s.Current,
		})
	}
	return sessions, nil
}

// RevokeSession terminates the session with the given ID.
func (c *Client) RevokeSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/auth/sessions/"+url.PathEscape(id), nil, nil)
}

// RevokeOtherSessions terminates every session except the calling one.
func (c *Client) RevokeOtherSessions(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/sessions/revoke-others", struct{}{}, nil)
}

// FetchDashboard returns the aggregate role/permission snapshot.
func (c *Client) FetchDashboard(ctx context.Context) (*console.DashboardSnapshot, error) {
	var out dashboardResponse
	if err := c.do(ctx, http.MethodGet, "/permissions/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return snapshotFromResponse(out), nil
}

// CreateRole creates a role and returns it with its assigned ID.
func (c *Client) CreateRole(ctx context.Context, in console.RoleInput) (*console.Role, error) {
	var out roleDTO
	if err := c.do(ctx, http.MethodPost, "/roles", inputToDTO(in), &out); err != nil {
		return nil, err
	}
	role := out.toDomain()
	return &role, nil
}

// UpdateRole updates the descriptive fields of the role with the given ID.
func (c *Client) UpdateRole(ctx context.Context, id string, in console.RoleInput) (*console.Role, error) {
	var out roleDTO
	path := "/roles/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, inputToDTO(in), &out); err != nil {
		return nil, err
	}
	role := out.toDomain()
	return &role, nil
}

// UpdateRolePermissions replaces the permission codes of the role with the
// given ID.
func (c *Client) UpdateRolePermissions(ctx context.Context, id string, permissions []string) (*console.Role, error) {
	var out roleDTO
	path := "/roles/" + url.PathEscape(id) + "/permissions"
	if err := c.do(ctx, http.MethodPut, path, rolePermissionsRequest{Permissions: permissions}, &out); err != nil {
		return nil, err
	}
	role := out.toDomain()
	return &role, nil
}

// ReorderRoles persists the given sort positions.
func (c *Client) ReorderRoles(ctx context.Context, orders []console.RoleOrder) error {
	req := reorderRequest{Orders: make([]roleOrderDTO, 0, len(orders))}
	for _, o := range orders {
		req.Orders = append(req.Orders, roleOrderDTO{ID: o.ID, SortOrder: o.SortOrder})
	}
	return c.do(ctx, http.MethodPut, "/roles/reorder", req, nil)
}

// DeleteRole removes the role with the given ID.
func (c *Client) DeleteRole(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/roles/"+url.PathEscape(id), nil, nil)
}

// do performs one JSON request against the backend. A nil body sends no
// payload; a nil out discards the response body after the status check.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	start := time.Now()
	defer func() {
		c.metrics.ObserveBackendRequest(method+" "+path, time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("restapi: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("restapi: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	requestID := console.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("restapi: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("restapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("restapi: %s %s returned %d: %s", method, path, resp.StatusCode, snippet(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("restapi: decode response: %w", err)
		}
	}
	return nil
}

// snippet bounds error text taken from arbitrarily large response bodies.
func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func grantFromResponse(r tokenGrantResponse) *console.TokenGrant {
	return &console.TokenGrant{
		AccessToken: r.AccessToken,
		ExpiresIn:   r.ExpiresIn,
		SubjectID:   r.SubjectID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Status:      r.Status,
	}
}

func inputToDTO(in console.RoleInput) roleInputDTO {
	return roleInputDTO{
		Name:        in.Name,
		Description: in.Description,
		ColorTag:    in.ColorTag,
		Permissions: in.Permissions,
		SortOrder:   in.SortOrder,
	}
}

func (d roleDTO) toDomain() console.Role {
	return console.Role{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		ColorTag:    d.ColorTag,
		Permissions: d.Permissions,
		IsSystem:    d.IsSystem,
		SortOrder:   d.SortOrder,
	}
}

func snapshotFromResponse(r dashboardResponse) *console.DashboardSnapshot {
	snap := &console.DashboardSnapshot{
		Categories: make([]console.PermissionCategory, 0, len(r.PermissionCategories)),
		Roles:      make([]console.Role, 0, len(r.Roles)),
		Stats: console.DashboardStats{
			TotalRoles:       r.Stats.TotalRoles,
			SystemRoles:      r.Stats.SystemRoles,
			TotalPermissions: r.Stats.TotalPermissions,
			TotalMembers:     r.Stats.TotalMembers,
		},
	}
	for _, cat := range r.PermissionCategories {
		pc := console.PermissionCategory{
			ID:          cat.ID,
			Name:        cat.Name,
			Permissions: make([]console.PermissionInfo, 0, len(cat.Permissions)),
		}
		for _, p := range cat.Permissions {
			pc.Permissions = append(pc.Permissions, console.PermissionInfo{
				Code:        p.Code,
				Name:        p.Name,
				Description: p.Description,
				Index:       p.Index,
			})
		}
		snap.Categories = append(snap.Categories, pc)
	}
	for _, rd := range r.Roles {
		snap.Roles = append(snap.Roles, rd.toDomain())
	}
	return snap
}
