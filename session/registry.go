package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/audit"
)

// Registry lists and revokes the account's active sessions across devices.
// It is a thin pass-through: the session state lives server side, so there
// is nothing to cache.
type Registry struct {
	backend console.SessionRegistryBackend
	logger  *slog.Logger
	auditor *audit.Logger
}

// compile-time check
var _ console.SessionRegistry = (*Registry)(nil)

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryAuditor sets the audit logger for revocations.
func WithRegistryAuditor(a *audit.Logger) RegistryOption {
	return func(r *Registry) { r.auditor = a }
}

// NewRegistry creates a session registry over the given backend.
func NewRegistry(backend console.SessionRegistryBackend, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// List returns all active sessions of the current account, newest first.
func (r *Registry) List(ctx context.Context) ([]console.SessionInfo, error) {
	sessions, err := r.backend.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("console/session: list sessions: %w", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Revoke terminates the session with the given ID. Revoking the current
// session is allowed; the local token stays usable until it expires.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("console/session: session id cannot be empty")
	}
	if err := r.backend.RevokeSession(ctx, id); err != nil {
		r.auditor.Log(audit.Event{Action: "session.revoke", Result: "failure", Details: id, Error: err.Error()})
		return fmt.Errorf("console/session: revoke session: %w", err)
	}
	r.auditor.Log(audit.Event{Action: "session.revoke", Result: "success", Details: id})
	return nil
}

// RevokeOthers terminates every session except the current one.
func (r *Registry) RevokeOthers(ctx context.Context) error {
	if err := r.backend.RevokeOtherSessions(ctx); err != nil {
		r.auditor.Log(audit.Event{Action: "session.revoke_others", Result: "failure", Error: err.Error()})
		return fmt.Errorf("console/session: revoke other sessions: %w", err)
	}
	r.auditor.Log(audit.Event{Action: "session.revoke_others", Result: "success"})
	return nil
}
