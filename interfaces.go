package console

import "context"

// SessionManager owns the bearer token lifecycle: storage, claims decoding,
// proactive renewal, expiry countdown, and change notification.
// Implementations: session/ (production), fake/ (testing).
type SessionManager interface {
	// SetToken replaces the current bearer token. An empty string clears
	// the session. Malformed tokens are stored but yield nil Claims.
	SetToken(token string)

	// Token returns the current bearer token, or "" when logged out.
	Token() string

	// Claims returns the decoded claims of the current token, or nil when
	// the token is absent or malformed. The decode result is cached for
	// the lifetime of the token value.
	Claims() *Claims

	// Login authenticates against the backend and adopts the returned
	// token grant.
	Login(ctx context.Context, email, password string) error

	// Refresh renews the current token. Concurrent calls share a single
	// backend request and observe the same outcome.
	Refresh(ctx context.Context) error

	// Logout destroys the session locally, then revokes the refresh
	// credential with the backend.
	Logout(ctx context.Context) error

	// OnSessionChange registers a callback fired whenever the stored token
	// changes. The callback receives true while a token is present. Current
	// state is replayed synchronously during subscription.
	OnSessionChange(fn func(hasToken bool)) (unsubscribe func())

	// OnTick registers a callback fired each time the whole-second
	// countdown to token expiry changes. The current value is replayed
	// synchronously during subscription.
	OnTick(fn func(remaining int64)) (unsubscribe func())
}

// PermissionEvaluator tests membership of a permission index within an
// arbitrary-width bitfield. Implementations may cache decisions locally
// with a configurable TTL.
type PermissionEvaluator interface {
	// Has reports whether the bit at position index is set in bits, where
	// index is a non-negative decimal integer and bits is a decimal-encoded
	// unsigned integer of arbitrary width. Malformed inputs yield false.
	Has(index, bits string) bool
}

// DashboardService serves the cached role/permission dashboard and performs
// role mutations. Every successful mutation invalidates the cached snapshot
// before returning.
type DashboardService interface {
	// Get returns the dashboard snapshot, fetching from the backend when
	// the cache is absent or expired.
	Get(ctx context.Context) (*DashboardSnapshot, error)

	// Invalidate forces the next Get to fetch from the backend.
	Invalidate()

	// Roles returns the roles from the current snapshot, sorted by
	// SortOrder.
	Roles(ctx context.Context) ([]Role, error)

	// CreateRole creates a new role.
	CreateRole(ctx context.Context, in RoleInput) (*Role, error)

	// UpdateRole updates the descriptive fields of a role.
	UpdateRole(ctx context.Context, role Role, in RoleInput) (*Role, error)

	// UpdateRolePermissions replaces the permission codes granted by a
	// role.
	UpdateRolePermissions(ctx context.Context, role Role, permissions []string) (*Role, error)

	// ToggleRolePermission grants the permission code if the role lacks it,
	// or revokes it otherwise.
	ToggleRolePermission(ctx context.Context, role Role, code string) (*Role, error)

	// ReorderRoles persists a new sort order for the given roles.
	ReorderRoles(ctx context.Context, ordered []Role) error

	// DeleteRole removes a role.
	DeleteRole(ctx context.Context, role Role) error
}

// SessionRegistry lists and revokes the account's active sessions across
// devices. Revoking a session invalidates its refresh credential server
// side; already-issued access tokens stay usable until they expire.
type SessionRegistry interface {
	// List returns all active sessions of the current account.
	List(ctx context.Context) ([]SessionInfo, error)

	// Revoke terminates the session with the given ID.
	Revoke(ctx context.Context, id string) error

	// RevokeOthers terminates every session except the current one.
	RevokeOthers(ctx context.Context) error
}

// AuthBackend performs the network calls behind session operations.
// The refresh credential travels out of band (an HTTP cookie in the REST
// implementation), so Refresh takes no arguments.
// Implementations: restapi/ (HTTP), fake/ (testing).
type AuthBackend interface {
	// Login exchanges credentials for a token grant.
	Login(ctx context.Context, creds Credentials) (*TokenGrant, error)

	// Refresh exchanges the out-of-band refresh credential for a new grant.
	Refresh(ctx context.Context) (*TokenGrant, error)

	// Logout revokes the refresh credential.
	Logout(ctx context.Context) error
}

// SessionRegistryBackend performs the network calls behind the active
// session registry.
// Implementations: restapi/ (HTTP), fake/ (testing).
type SessionRegistryBackend interface {
	// ListSessions returns all active sessions of the current account.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// RevokeSession terminates the session with the given ID.
	RevokeSession(ctx context.Context, id string) error

	// RevokeOtherSessions terminates every session except the calling one.
	RevokeOtherSessions(ctx context.Context) error
}

// DashboardBackend performs the network calls behind dashboard reads and
// role mutations.
// Implementations: restapi/ (HTTP), fake/ (testing).
type DashboardBackend interface {
	// FetchDashboard returns the aggregate role/permission snapshot.
	FetchDashboard(ctx context.Context) (*DashboardSnapshot, error)

	// CreateRole creates a role and returns it with its assigned ID.
	CreateRole(ctx context.Context, in RoleInput) (*Role, error)

	// UpdateRole updates the descriptive fields of the role with the given
	// ID.
	UpdateRole(ctx context.Context, id string, in RoleInput) (*Role, error)

	// UpdateRolePermissions replaces the permission codes of the role with
	// the given ID.
	UpdateRolePermissions(ctx context.Context, id string, permissions []string) (*Role, error)

	// ReorderRoles persists the given sort positions.
	ReorderRoles(ctx context.Context, orders []RoleOrder) error

	// DeleteRole removes the role with the given ID.
	DeleteRole(ctx context.Context, id string) error
}
