// Package session implements the bearer token lifecycle: storage, claims
// decoding, proactive renewal, expiry countdown, and change notification.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/audit"
	"github.com/chimerakang/console-go/claims"
	"github.com/chimerakang/console-go/metrics"
)

// Manager holds the current bearer token and drives its lifecycle. It is
// the single source of truth for session state: consumers receive one
// instance by injection and must never keep token state of their own.
//
// A generation counter guards every asynchronous outcome. Each state change
// bumps it, and a renewal adopts its result only when the generation it
// started from is still current, so a logout or login during an in-flight
// renewal wins and the stale outcome is discarded.
type Manager struct {
	backend   console.AuthBackend
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   *audit.Logger
	threshold time.Duration

	bus       *Bus
	countdown *Countdown

	mu     sync.RWMutex
	token  string
	claims *console.Claims
	gen    uint64
	timer  clockwork.Timer

	sf singleflight.Group
}

// compile-time check
var _ console.SessionManager = (*Manager)(nil)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source, chiefly for tests with a fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithAuditor sets the audit logger for session events.
func WithAuditor(a *audit.Logger) Option {
	return func(m *Manager) { m.auditor = a }
}

// WithRefreshThreshold sets how long before expiry a proactive renewal is
// scheduled.
func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) { m.threshold = d }
}

// NewManager creates a session manager over the given backend.
func NewManager(backend console.AuthBackend, opts ...Option) *Manager {
	m := &Manager{
		backend:   backend,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		metrics:   metrics.New(false),
		threshold: console.DefaultRefreshThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	m.bus = NewBus()
	m.countdown = NewCountdown(m.clock, m.bus)
	return m
}

// SetToken replaces the current bearer token. An empty string clears the
// session. The claims decode is performed once and cached for the lifetime
// of the token value; a malformed token keeps the raw string but yields nil
// Claims. Every call publishes a session change and then restarts or stops
// the countdown.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.setLocked(token)
	cl := m.claims
	m.mu.Unlock()

	m.bus.EmitSessionChange(token != "")
	m.restartCountdown(cl)
}

// Token returns the current bearer token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Claims returns the decoded claims of the current token, or nil when the
// token is absent or malformed.
func (m *Manager) Claims() *console.Claims {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.claims
}

// Remaining returns the last published whole-second countdown value.
func (m *Manager) Remaining() int64 { return m.countdown.Remaining() }

// Login authenticates against the backend and adopts the returned grant.
// When another login or logout races it, the newest successful state change
// wins; there is no partial outcome.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	grant, err := m.backend.Login(ctx, console.Credentials{Email: email, Password: password})
	if err != nil {
		m.metrics.RecordLogin("failure")
		m.auditor.Log(audit.Event{Action: "session.login", Result: "failure", Error: err.Error()})
		return fmt.Errorf("console/session: login: %w", err)
	}

	m.mu.Lock()
	m.setLocked(grant.AccessToken)
	cl := m.claims
	m.mu.Unlock()

	m.bus.EmitSessionChange(grant.AccessToken != "")
	m.restartCountdown(cl)
	m.metrics.RecordLogin("success")
	m.auditor.Log(audit.Event{Action: "session.login", Result: "success", Subject: grant.SubjectID})
	return nil
}

// Refresh renews the token through the backend. Concurrent calls collapse
// into a single backend request and all observe the same outcome. On
// failure the session is destroyed before the error surfaces. When the
// session was replaced or destroyed while the call was in flight, the
// outcome is discarded and ErrSessionClosed is returned.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		return nil, m.doRefresh(ctx)
	})
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()

	grant, err := m.backend.Refresh(ctx)
	if err != nil {
		return m.refreshFailed(gen, err)
	}
	return m.adoptRenewal(gen, grant)
}

func (m *Manager) adoptRenewal(gen uint64, grant *console.TokenGrant) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.metrics.RecordRefresh("discarded")
		return console.ErrSessionClosed
	}
	m.setLocked(grant.AccessToken)
	cl := m.claims
	m.mu.Unlock()

	m.bus.EmitSessionChange(grant.AccessToken != "")
	m.restartCountdown(cl)
	m.metrics.RecordRefresh("success")
	m.auditor.Log(audit.Event{Action: "session.refresh", Result: "success", Subject: grant.SubjectID})
	return nil
}

func (m *Manager) refreshFailed(gen uint64, cause error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.metrics.RecordRefresh("discarded")
		return console.ErrSessionClosed
	}
	m.setLocked("")
	m.mu.Unlock()

	m.bus.EmitSessionChange(false)
	m.countdown.Stop()
	m.metrics.RecordRefresh("failure")
	m.auditor.Log(audit.Event{Action: "session.refresh", Result: "failure", Error: cause.Error()})
	m.logger.Error("token refresh failed, session cleared", "error", cause)
	return fmt.Errorf("%w: %v", console.ErrRefreshFailed, cause)
}

// Logout destroys the session locally first, then revokes the refresh
// credential with the backend. The local session is gone even when the
// revocation call fails; the error is still returned so callers can report
// it.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	subject := ""
	if m.claims != nil {
		subject = m.claims.Subject
	}
	m.setLocked("")
	m.mu.Unlock()

	m.bus.EmitSessionChange(false)
	m.countdown.Stop()
	m.metrics.RecordLogout()
	m.auditor.Log(audit.Event{Action: "session.logout", Result: "success", Subject: subject})

	if err := m.backend.Logout(ctx); err != nil {
		return fmt.Errorf("console/session: logout: %w", err)
	}
	return nil
}

// OnSessionChange registers a callback for token presence changes. Current
// state is replayed synchronously during subscription.
func (m *Manager) OnSessionChange(fn func(hasToken bool)) func() {
	return m.bus.OnSessionChange(fn)
}

// OnTick registers a callback for countdown changes. The current value is
// replayed synchronously during subscription.
func (m *Manager) OnTick(fn func(remaining int64)) func() {
	return m.bus.OnTick(fn)
}

// Close cancels the renewal timer and the countdown. The manager must not
// be used afterwards; an in-flight renewal completes but its outcome is
// discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.gen++
	m.cancelTimerLocked()
	m.mu.Unlock()
	m.countdown.Stop()
	return nil
}

// setLocked stores the token, decodes its claims once, and re-arms or
// cancels the proactive renewal timer. Callers hold m.mu.
func (m *Manager) setLocked(token string) {
	m.gen++
	m.token = token
	m.claims = nil
	if token != "" {
		cl, err := claims.Decode(token)
		if err != nil {
			m.logger.Warn("stored token has undecodable claims", "error", err)
		} else {
			m.claims = cl
		}
	}
	m.scheduleLocked()
}

// scheduleLocked cancels any armed renewal timer and arms a new one when
// the current claims leave room before the threshold. A token already
// inside the threshold stays usable until expiry but is not proactively
// renewed. Callers hold m.mu.
func (m *Manager) scheduleLocked() {
	m.cancelTimerLocked()
	if m.claims == nil {
		return
	}
	fireIn := m.claims.ExpiresAt.Sub(m.clock.Now()) - m.threshold
	if fireIn <= 0 {
		return
	}
	gen := m.gen
	m.timer = m.clock.AfterFunc(fireIn, func() { m.renewDue(gen) })
	m.logger.Debug("proactive token renewal armed", "in", fireIn)
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// renewDue runs when the renewal timer fires. A stale generation means the
// session changed after arming; the fire is ignored.
func (m *Manager) renewDue(gen uint64) {
	m.mu.RLock()
	stale := m.gen != gen
	m.mu.RUnlock()
	if stale {
		return
	}
	if err := m.Refresh(context.Background()); err != nil {
		m.logger.Error("scheduled token refresh failed", "error", err)
	}
}

func (m *Manager) restartCountdown(cl *console.Claims) {
	if cl != nil {
		m.countdown.Start(cl.ExpiresAt)
	} else {
		m.countdown.Stop()
	}
}
