package console

import "time"

// Claims holds the fields decoded from the payload segment of a bearer
// token. Claims are derived data: recomputed on each decode, never written
// back to the token.
type Claims struct {
	Subject   string
	FirstName string
	LastName  string
	Status    string

	// PermissionBits is a decimal-encoded unsigned integer of arbitrary
	// width. Bit i set means the permission with index i is granted.
	PermissionBits string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the claims are usable at the given instant.
// Expired claims are treated the same as an absent token.
func (c *Claims) Valid(now time.Time) bool {
	return c != nil && c.ExpiresAt.After(now)
}

// Credentials carries a login request.
type Credentials struct {
	Email    string
	Password string
}

// TokenGrant is the backend response shape shared by login and refresh.
type TokenGrant struct {
	AccessToken string
	ExpiresIn   int64
	SubjectID   string
	FirstName   string
	LastName    string
	Status      string
}

// Role is an access role as presented by the permission dashboard.
// Roles with IsSystem set are immutable: update, permission-toggle,
// reorder, and delete are all rejected locally.
type Role struct {
	ID          string
	Name        string
	Description string
	ColorTag    string
	Permissions []string
	IsSystem    bool
	SortOrder   int
}

// HasPermissionCode reports whether the role grants the given permission
// code.
func (r Role) HasPermissionCode(code string) bool {
	for _, c := range r.Permissions {
		if c == code {
			return true
		}
	}
	return false
}

// RoleInput carries the mutable fields for role create and update calls.
type RoleInput struct {
	Name        string
	Description string
	ColorTag    string
	Permissions []string
	SortOrder   int
}

// RoleOrder assigns a new sort position to a role.
type RoleOrder struct {
	ID        string
	SortOrder int
}

// PermissionInfo describes one grantable permission. Index is the decimal
// string form of its bit position within a permission bitfield.
type PermissionInfo struct {
	Code        string
	Name        string
	Description string
	Index       string
}

// PermissionCategory groups related permissions for presentation.
type PermissionCategory struct {
	ID          string
	Name        string
	Permissions []PermissionInfo
}

// DashboardStats summarizes the aggregate counts shown on the dashboard.
type DashboardStats struct {
	TotalRoles       int
	SystemRoles      int
	TotalPermissions int
	TotalMembers     int
}

// DashboardSnapshot is the aggregate role and permission state fetched from
// the backend in a single call.
type DashboardSnapshot struct {
	Categories []PermissionCategory
	Roles      []Role
	Stats      DashboardStats
}

// SessionInfo describes one active login session of the current account as
// reported by the backend's session registry. Current marks the session the
// calling client holds.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	UserAgent string
	IP        string
	Current   bool
}
