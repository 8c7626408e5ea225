// Package fake provides in-memory implementations of the console backend
// interfaces for testing.
//
// Use fake.NewClient() in unit tests to avoid network calls and external
// dependencies. The backend mints real signed tokens, so the SDK decodes
// fake claims exactly the way it decodes production ones.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/dashboard"
	"github.com/chimerakang/console-go/permission"
	"github.com/chimerakang/console-go/session"
)

// Account seeds one login identity.
type Account struct {
	Email          string
	Password       string
	SubjectID      string
	FirstName      string
	LastName       string
	Status         string
	PermissionBits string
}

// Backend implements console.AuthBackend and console.DashboardBackend in
// memory. Zero-value counters and settable errors make it a test double;
// the seeded data makes it a demo server.
type Backend struct {
	clock    clockwork.Clock
	tokenTTL time.Duration
	signKey  []byte

	mu         sync.RWMutex
	accounts   map[string]Account // email -> account
	active     *Account           // holder of the refresh credential
	roles      map[string]*console.Role
	categories []console.PermissionCategory
	stats      console.DashboardStats
	sessions   map[string]console.SessionInfo
	nextID     int
	nextSessID int

	loginErr   error
	refreshErr error
	logoutErr  error
	fetchErr   error
	mutateErr  error
	sessionErr error

	refreshGate chan struct{}

	LoginCalls    atomic.Int32
	RefreshCalls  atomic.Int32
	LogoutCalls   atomic.Int32
	FetchCalls    atomic.Int32
	MutationCalls atomic.Int32
}

// compile-time checks
var (
	_ console.AuthBackend            = (*Backend)(nil)
	_ console.DashboardBackend       = (*Backend)(nil)
	_ console.SessionRegistryBackend = (*Backend)(nil)
)

// Option configures the fake backend.
type Option func(*Backend)

// WithAccount seeds a login identity.
func WithAccount(a Account) Option {
	return func(b *Backend) { b.accounts[a.Email] = a }
}

// WithRole seeds a dashboard role.
func WithRole(r console.Role) Option {
	return func(b *Backend) {
		role := r
		b.roles[r.ID] = &role
	}
}

// WithCategory seeds a permission category.
func WithCategory(c console.PermissionCategory) Option {
	return func(b *Backend) { b.categories = append(b.categories, c) }
}

// WithMemberCount seeds the member total reported by the dashboard.
func WithMemberCount(n int) Option {
	return func(b *Backend) { b.stats.TotalMembers = n }
}

// WithSession seeds an entry in the active session registry.
func WithSession(s console.SessionInfo) Option {
	return func(b *Backend) { b.sessions[s.ID] = s }
}

// WithClock sets the time source used for minted token expiries.
func WithClock(c clockwork.Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// WithTokenTTL sets the lifetime of minted tokens. Default: 1 hour.
func WithTokenTTL(d time.Duration) Option {
	return func(b *Backend) { b.tokenTTL = d }
}

// WithSigningKey sets the HMAC key for minted tokens.
func WithSigningKey(key []byte) Option {
	return func(b *Backend) { b.signKey = key }
}

// NewBackend creates an empty fake backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		clock:    clockwork.NewRealClock(),
		tokenTTL: time.Hour,
		signKey:  []byte("fake-signing-key"),
		accounts: make(map[string]Account),
		roles:    make(map[string]*console.Role),
		sessions: make(map[string]console.SessionInfo),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewClient creates a *console.Client with the production services wired to
// one in-memory backend, and returns both. Seeding and failure injection
// happen through the backend.
func NewClient(opts ...Option) (*console.Client, *Backend) {
	b := NewBackend(opts...)
	mgr := session.NewManager(b, session.WithClock(b.clock))
	eval := permission.NewEvaluator(permission.WithClock(b.clock))
	dash := dashboard.NewService(b, dashboard.WithClock(b.clock))
	reg := session.NewRegistry(b)

	c, _ := console.NewClient(
		console.Config{BaseURL: "fake://localhost"},
		console.WithSessionManager(mgr),
		console.WithPermissionEvaluator(eval),
		console.WithDashboardService(dash),
		console.WithSessionRegistry(reg),
	)
	return c, b
}

// SetLoginError makes Login fail with err; nil restores success.
func (b *Backend) SetLoginError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginErr = err
}

// SetRefreshError makes Refresh fail with err; nil restores success.
func (b *Backend) SetRefreshError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshErr = err
}

// SetLogoutError makes Logout fail with err; nil restores success.
func (b *Backend) SetLogoutError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logoutErr = err
}

// SetFetchError makes FetchDashboard fail with err; nil restores success.
func (b *Backend) SetFetchError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErr = err
}

// SetMutateError makes every role mutation fail with err; nil restores
// success.
func (b *Backend) SetMutateError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mutateErr = err
}

// SetSessionError makes every session registry call fail with err; nil
// restores success.
func (b *Backend) SetSessionError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionErr = err
}

// GateRefresh makes subsequent Refresh calls block until the returned
// release function runs. Tests use it to pile concurrent callers onto one
// in-flight renewal. Release is safe to call more than once.
func (b *Backend) GateRefresh() (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = ch
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.refreshGate = nil
			b.mu.Unlock()
			close(ch)
		})
	}
}

// MintToken returns a signed token for the seeded account with the given
// email without touching the refresh credential. Tests use it to feed
// SetToken directly.
func (b *Backend) MintToken(email string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.accounts[email]
	if !ok {
		return "", fmt.Errorf("console/fake: account %q not found", email)
	}
	return b.mintToken(a)
}

// Login checks the seeded credentials, mints a token, and takes the refresh
// credential for the account.
func (b *Backend) Login(_ context.Context, creds console.Credentials) (*console.TokenGrant, error) {
	b.LoginCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loginErr != nil {
		return nil, b.loginErr
	}
	a, ok := b.accounts[creds.Email]
	if !ok || a.Password != creds.Password {
		return nil, fmt.Errorf("console/fake: invalid credentials")
	}
	b.active = &a
	b.openSessionLocked()
	return b.grantLocked(a)
}

// openSessionLocked registers a session for a fresh login and marks it as
// the current one. Callers hold b.mu.
func (b *Backend) openSessionLocked() {
	for id, s := range b.sessions {
		s.Current = false
		b.sessions[id] = s
	}
	b.nextSessID++
	now := b.clock.Now()
	id := fmt.Sprintf("sess-%d", b.nextSessID)
	b.sessions[id] = console.SessionInfo{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(30 * 24 * time.Hour), // refresh credential lifetime
		UserAgent: "console-go/fake",
		IP:        "127.0.0.1",
		Current:   true,
	}
}

// Refresh mints a fresh token for whichever account holds the refresh
// credential.
func (b *Backend) Refresh(ctx context.Context) (*console.TokenGrant, error) {
	b.RefreshCalls.Add(1)

	b.mu.RLock()
	gate := b.refreshGate
	b.mu.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refreshErr != nil {
		return nil, b.refreshErr
	}
	if b.active == nil {
		return nil, fmt.Errorf("console/fake: no refresh credential")
	}
	return b.grantLocked(*b.active)
}

// Logout drops the refresh credential and closes the current session.
func (b *Backend) Logout(_ context.Context) error {
	b.LogoutCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logoutErr != nil {
		return b.logoutErr
	}
	b.active = nil
	for id, s := range b.sessions {
		if s.Current {
			delete(b.sessions, id)
		}
	}
	return nil
}

// ListSessions returns the seeded and login-created sessions, oldest first.
func (b *Backend) ListSessions(_ context.Context) ([]console.SessionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sessionErr != nil {
		return nil, b.sessionErr
	}
	out := make([]console.SessionInfo, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// RevokeSession removes a registered session.
func (b *Backend) RevokeSession(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionErr != nil {
		return b.sessionErr
	}
	if _, ok := b.sessions[id]; !ok {
		return fmt.Errorf("console/fake: session %q not found", id)
	}
	delete(b.sessions, id)
	return nil
}

// RevokeOtherSessions removes every session not marked current.
func (b *Backend) RevokeOtherSessions(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionErr != nil {
		return b.sessionErr
	}
	for id, s := range b.sessions {
		if !s.Current {
			delete(b.sessions, id)
		}
	}
	return nil
}

// FetchDashboard assembles a snapshot from the seeded roles and categories.
// The aggregate counts are recomputed on every call.
func (b *Backend) FetchDashboard(_ context.Context) (*console.DashboardSnapshot, error) {
	b.FetchCalls.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.fetchErr != nil {
		return nil, b.fetchErr
	}

	snap := &console.DashboardSnapshot{
		Categories: append([]console.PermissionCategory(nil), b.categories...),
		Stats:      b.stats,
	}
	for _, r := range b.roles {
		snap.Roles = append(snap.Roles, *r)
	}
	sort.Slice(snap.Roles, func(i, j int) bool {
		return snap.Roles[i].SortOrder < snap.Roles[j].SortOrder
	})

	snap.Stats.TotalRoles = len(snap.Roles)
	snap.Stats.SystemRoles = 0
	for _, r := range snap.Roles {
		if r.IsSystem {
			snap.Stats.SystemRoles++
		}
	}
	snap.Stats.TotalPermissions = 0
	for _, c := range b.categories {
		snap.Stats.TotalPermissions += len(c.Permissions)
	}
	return snap, nil
}

// CreateRole stores a new role with a generated ID.
func (b *Backend) CreateRole(_ context.Context, in console.RoleInput) (*console.Role, error) {
	b.MutationCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mutateErr != nil {
		return nil, b.mutateErr
	}
	b.nextID++
	role := &console.Role{
		ID:          fmt.Sprintf("role-%d", b.nextID),
		Name:        in.Name,
		Description: in.Description,
		ColorTag:    in.ColorTag,
		Permissions: append([]string(nil), in.Permissions...),
		SortOrder:   in.SortOrder,
	}
	b.roles[role.ID] = role
	out := *role
	return &out, nil
}

// UpdateRole replaces the descriptive fields of a stored role. Like the
// production backend, it rejects system roles on its own side too.
func (b *Backend) UpdateRole(_ context.Context, id string, in console.RoleInput) (*console.Role, error) {
	b.MutationCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	role, err := b.mutableRoleLocked(id)
	if err != nil {
		return nil, err
	}
	role.Name = in.Name
	role.Description = in.Description
	role.ColorTag = in.ColorTag
	if in.Permissions != nil {
		role.Permissions = append([]string(nil), in.Permissions...)
	}
	role.SortOrder = in.SortOrder
	out := *role
	return &out, nil
}

// UpdateRolePermissions replaces the permission codes of a stored role.
func (b *Backend) UpdateRolePermissions(_ context.Context, id string, permissions []string) (*console.Role, error) {
	b.MutationCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	role, err := b.mutableRoleLocked(id)
	if err != nil {
		return nil, err
	}
	role.Permissions = append([]string(nil), permissions...)
	out := *role
	return &out, nil
}

// ReorderRoles applies the given sort positions.
func (b *Backend) ReorderRoles(_ context.Context, orders []console.RoleOrder) error {
	b.MutationCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mutateErr != nil {
		return b.mutateErr
	}
	for _, o := range orders {
		role, ok := b.roles[o.ID]
		if !ok {
			return fmt.Errorf("console/fake: role %q not found", o.ID)
		}
		if role.IsSystem {
			return fmt.Errorf("console/fake: role %q is a system role", o.ID)
		}
	}
	for _, o := range orders {
		b.roles[o.ID].SortOrder = o.SortOrder
	}
	return nil
}

// DeleteRole removes a stored role.
func (b *Backend) DeleteRole(_ context.Context, id string) error {
	b.MutationCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.mutableRoleLocked(id); err != nil {
		return err
	}
	delete(b.roles, id)
	return nil
}

func (b *Backend) mutableRoleLocked(id string) (*console.Role, error) {
	if b.mutateErr != nil {
		return nil, b.mutateErr
	}
	role, ok := b.roles[id]
	if !ok {
		return nil, fmt.Errorf("console/fake: role %q not found", id)
	}
	if role.IsSystem {
		return nil, fmt.Errorf("console/fake: role %q is a system role", id)
	}
	return role, nil
}

func (b *Backend) grantLocked(a Account) (*console.TokenGrant, error) {
	token, err := b.mintToken(a)
	if err != nil {
		return nil, err
	}
	return &console.TokenGrant{
		AccessToken: token,
		ExpiresIn:   int64(b.tokenTTL / time.Second),
		SubjectID:   a.SubjectID,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Status:      a.Status,
	}, nil
}

func (b *Backend) mintToken(a Account) (string, error) {
	now := b.clock.Now()
	claims := jwt.MapClaims{
		"sub":         a.SubjectID,
		"firstName":   a.FirstName,
		"lastName":    a.LastName,
		"status":      a.Status,
		"permissions": a.PermissionBits,
		"iat":         now.Unix(),
		"exp":         now.Add(b.tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signKey)
	if err != nil {
		return "", fmt.Errorf("console/fake: sign token: %w", err)
	}
	return token, nil
}
