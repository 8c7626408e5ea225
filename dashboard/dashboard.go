// Package dashboard caches the aggregate role/permission snapshot and
// performs role mutations against the backend.
//
// The snapshot is cached with an absolute TTL and dropped the moment any
// role mutation succeeds, so reads never serve state known to be stale.
// System roles are rejected locally: no mutation targeting one ever reaches
// the network.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/audit"
	"github.com/chimerakang/console-go/metrics"
)

// Service implements console.DashboardService over a pluggable backend.
type Service struct {
	backend console.DashboardBackend
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor *audit.Logger
	ttl     time.Duration

	mu       sync.RWMutex
	snapshot *console.DashboardSnapshot
	cachedAt time.Time
	version  uint64

	sf singleflight.Group
}

// compile-time check
var _ console.DashboardService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source, chiefly for tests with a fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTTL sets the snapshot cache lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = mx }
}

// WithAuditor sets the audit logger for role mutations.
func WithAuditor(a *audit.Logger) Option {
	return func(s *Service) { s.auditor = a }
}

// NewService creates a dashboard service over the given backend.
func NewService(backend console.DashboardBackend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		metrics: metrics.New(false),
		ttl:     console.DefaultCacheTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the dashboard snapshot, fetching from the backend when the
// cache is absent or expired. Concurrent fetches collapse into one backend
// call. A failed fetch leaves any existing snapshot in place, even a stale
// one, and returns the error.
func (s *Service) Get(ctx context.Context) (*console.DashboardSnapshot, error) {
	s.mu.RLock()
	snap, at, ver := s.snapshot, s.cachedAt, s.version
	s.mu.RUnlock()
	if snap != nil && s.clock.Since(at) < s.ttl {
		s.metrics.RecordCacheHit("dashboard")
		return snap, nil
	}
	s.metrics.RecordCacheMiss("dashboard")

	// the version in the key keeps post-invalidation callers off an older
	// in-flight fetch
	v, err, _ := s.sf.Do(strconv.FormatUint(ver, 10), func() (interface{}, error) {
		fresh, err := s.backend.FetchDashboard(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.version == ver {
			s.snapshot = fresh
			s.cachedAt = s.clock.Now()
		}
		s.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, fmt.Errorf("console/dashboard: fetch: %w", err)
	}
	return v.(*console.DashboardSnapshot), nil
}

// Invalidate drops the cached snapshot so the next Get fetches. Role
// mutations call it before returning; it is also exported for callers that
// learn out of band that the dashboard changed.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.cachedAt = time.Time{}
	s.version++
	s.mu.Unlock()
}

// Roles returns the snapshot's roles sorted by SortOrder.
func (s *Service) Roles(ctx context.Context) ([]console.Role, error) {
	snap, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	roles := make([]console.Role, len(snap.Roles))
	copy(roles, snap.Roles)
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].SortOrder < roles[j].SortOrder
	})
	return roles, nil
}

// Role returns the role with the given ID from the snapshot.
func (s *Service) Role(ctx context.Context, id string) (*console.Role, error) {
	snap, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	for i := range snap.Roles {
		if snap.Roles[i].ID == id {
			r := snap.Roles[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("console/dashboard: role %s not found", id)
}

// CreateRole creates a new role and invalidates the snapshot.
func (s *Service) CreateRole(ctx context.Context, in console.RoleInput) (*console.Role, error) {
	role, err := s.backend.CreateRole(ctx, in)
	if err != nil {
		s.auditor.Log(audit.Event{Action: "role.create", Result: "failure", Error: err.Error()})
		return nil, fmt.Errorf("console/dashboard: create role: %w", err)
	}
	s.Invalidate()
	s.auditor.Log(audit.Event{Action: "role.create", RoleID: role.ID, Result: "success"})
	return role, nil
}

// UpdateRole updates the descriptive fields of a role and invalidates the
// snapshot. System roles are rejected before any network call.
func (s *Service) UpdateRole(ctx context.Context, role console.Role, in console.RoleInput) (*console.Role, error) {
	if err := s.guardSystem(role, "role.update"); err != nil {
		return nil, err
	}
	updated, err := s.backend.UpdateRole(ctx, role.ID, in)
	if err != nil {
		return nil, fmt.Errorf("console/dashboard: update role %s: %w", role.ID, err)
	}
	s.Invalidate()
	s.auditor.Log(audit.Event{Action: "role.update", RoleID: role.ID, Result: "success"})
	return updated, nil
}

// UpdateRolePermissions replaces the permission codes granted by a role and
// invalidates the snapshot. System roles are rejected before any network
// call.
func (s *Service) UpdateRolePermissions(ctx context.Context, role console.Role, permissions []string) (*console.Role, error) {
	if err := s.guardSystem(role, "role.permissions"); err != nil {
		return nil, err
	}
	updated, err := s.backend.UpdateRolePermissions(ctx, role.ID, permissions)
	if err != nil {
		return nil, fmt.Errorf("console/dashboard: update role %s permissions: %w", role.ID, err)
	}
	s.Invalidate()
	s.auditor.Log(audit.Event{Action: "role.permissions", RoleID: role.ID, Result: "success"})
	return updated, nil
}

// ToggleRolePermission grants the permission code if the role lacks it, or
// revokes it otherwise.
func (s *Service) ToggleRolePermission(ctx context.Context, role console.Role, code string) (*console.Role, error) {
	next := make([]string, 0, len(role.Permissions)+1)
	found := false
	for _, c := range role.Permissions {
		if c == code {
			found = true
			continue
		}
		next = append(next, c)
	}
	if !found {
		next = append(next, code)
	}
	return s.UpdateRolePermissions(ctx, role, next)
}

// ReorderRoles persists the positions implied by the order of the given
// slice and invalidates the snapshot. A set containing a system role is
// rejected before any network call: system roles keep their pinned
// positions and never take part in reordering.
func (s *Service) ReorderRoles(ctx context.Context, ordered []console.Role) error {
	orders := make([]console.RoleOrder, 0, len(ordered))
	for i, r := range ordered {
		if r.IsSystem {
			s.auditor.Log(audit.Event{Action: "role.reorder", RoleID: r.ID, Result: "denied", Details: "system role"})
			return fmt.Errorf("console/dashboard: role %s: %w", r.ID, console.ErrSystemRole)
		}
		orders = append(orders, console.RoleOrder{ID: r.ID, SortOrder: i})
	}
	if len(orders) == 0 {
		return nil
	}
	if err := s.backend.ReorderRoles(ctx, orders); err != nil {
		return fmt.Errorf("console/dashboard: reorder roles: %w", err)
	}
	s.Invalidate()
	s.auditor.Log(audit.Event{Action: "role.reorder", Result: "success"})
	return nil
}

// DeleteRole removes a role and invalidates the snapshot. System roles are
// rejected before any network call.
func (s *Service) DeleteRole(ctx context.Context, role console.Role) error {
	if err := s.guardSystem(role, "role.delete"); err != nil {
		return err
	}
	if err := s.backend.DeleteRole(ctx, role.ID); err != nil {
		return fmt.Errorf("console/dashboard: delete role %s: %w", role.ID, err)
	}
	s.Invalidate()
	s.auditor.Log(audit.Event{Action: "role.delete", RoleID: role.ID, Result: "success"})
	return nil
}

func (s *Service) guardSystem(role console.Role, action string) error {
	if !role.IsSystem {
		return nil
	}
	s.auditor.Log(audit.Event{Action: action, RoleID: role.ID, Result: "denied", Details: "system role"})
	return fmt.Errorf("console/dashboard: role %s: %w", role.ID, console.ErrSystemRole)
}
