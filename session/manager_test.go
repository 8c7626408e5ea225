package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/fake"
	"github.com/chimerakang/console-go/session"
)

const (
	testEmail    = "admin@example.com"
	testPassword = "secret"
)

func newManager(t *testing.T, opts ...fake.Option) (*session.Manager, *fake.Backend, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]fake.Option{
		fake.WithClock(clock),
		fake.WithAccount(fake.Account{
			Email:          testEmail,
			Password:       testPassword,
			SubjectID:      "user-1",
			FirstName:      "Ada",
			LastName:       "Lovelace",
			Status:         "active",
			PermissionBits: "11",
		}),
	}, opts...)
	backend := fake.NewBackend(opts...)
	mgr := session.NewManager(backend, session.WithClock(clock))
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, backend, clock
}

// waitFor polls cond until it holds or the deadline passes. Outcomes of the
// renewal timer arrive on background goroutines, so tests cannot observe
// them synchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLogin_Success(t *testing.T) {
	mgr, _, clock := newManager(t)

	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if mgr.Token() == "" {
		t.Fatal("expected non-empty token after login")
	}

	cl := mgr.Claims()
	if cl == nil {
		t.Fatal("expected decoded claims after login")
	}
	if cl.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", cl.Subject, "user-1")
	}
	if cl.PermissionBits != "11" {
		t.Errorf("PermissionBits = %q, want %q", cl.PermissionBits, "11")
	}
	if want := clock.Now().Add(time.Hour); !cl.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", cl.ExpiresAt, want)
	}
	if got := mgr.Remaining(); got != 3600 {
		t.Errorf("Remaining() = %d, want 3600", got)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	mgr, _, _ := newManager(t)

	var changes []bool
	mgr.OnSessionChange(func(v bool) { changes = append(changes, v) })

	err := mgr.Login(context.Background(), testEmail, "wrong")
	if err == nil {
		t.Fatal("expected error for invalid credentials")
	}
	if mgr.Token() != "" {
		t.Errorf("token = %q, want empty after failed login", mgr.Token())
	}
	if len(changes) != 1 || changes[0] != false {
		t.Errorf("failed login must not publish a session change, got %v", changes)
	}
}

func TestLogin_TokenVisibleToChangeCallback(t *testing.T) {
	mgr, _, _ := newManager(t)

	var seen []string
	mgr.OnSessionChange(func(bool) { seen = append(seen, mgr.Token()) })

	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	// the state change is stored before subscribers run
	if len(seen) != 2 || seen[1] != mgr.Token() {
		t.Errorf("callback observed %v, want the freshly stored token", seen)
	}
}

func TestSetToken_DecodesAndNotifies(t *testing.T) {
	mgr, backend, _ := newManager(t)

	var changes []bool
	mgr.OnSessionChange(func(v bool) { changes = append(changes, v) })

	tok, err := backend.MintToken(testEmail)
	if err != nil {
		t.Fatalf("MintToken() error: %v", err)
	}
	mgr.SetToken(tok)

	if mgr.Token() != tok {
		t.Errorf("Token() = %q, want minted token", mgr.Token())
	}
	if cl := mgr.Claims(); cl == nil || cl.Subject != "user-1" {
		t.Errorf("Claims() = %+v, want subject user-1", cl)
	}

	mgr.SetToken("")
	if mgr.Token() != "" || mgr.Claims() != nil {
		t.Error("expected cleared session after SetToken(\"\")")
	}

	want := []bool{false, true, false}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("changes = %v, want %v", changes, want)
		}
	}
}

func TestSetToken_MalformedYieldsNilClaims(t *testing.T) {
	mgr, _, _ := newManager(t)

	var changes []bool
	mgr.OnSessionChange(func(v bool) { changes = append(changes, v) })

	mgr.SetToken("not-a-token")

	if mgr.Token() != "not-a-token" {
		t.Errorf("Token() = %q, raw value must be kept", mgr.Token())
	}
	if mgr.Claims() != nil {
		t.Errorf("Claims() = %+v, want nil for malformed token", mgr.Claims())
	}
	// presence is about the raw token, not its decodability
	if len(changes) != 2 || changes[1] != true {
		t.Errorf("changes = %v, want [false true]", changes)
	}
}

func TestRefresh_SingleFlight(t *testing.T) {
	mgr, backend, _ := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	release := backend.GateRefresh()
	defer release()

	const callers = 10
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.Refresh(context.Background())
		}(i)
	}

	waitFor(t, func() bool { return backend.RefreshCalls.Load() == 1 })
	time.Sleep(20 * time.Millisecond) // let the rest join the in-flight call
	release()
	wg.Wait()

	if got := backend.RefreshCalls.Load(); got != 1 {
		t.Errorf("backend was called %d times, want 1 (singleflight)", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Refresh() error: %v", i, err)
		}
	}
	if mgr.Token() == "" {
		t.Error("expected a token after successful refresh")
	}
}

func TestRefresh_FailureClearsSessionForAllCallers(t *testing.T) {
	mgr, backend, _ := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	var mu sync.Mutex
	var changes []bool
	mgr.OnSessionChange(func(v bool) {
		mu.Lock()
		changes = append(changes, v)
		mu.Unlock()
	})

	backend.SetRefreshError(errors.New("backend down"))
	release := backend.GateRefresh()

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.Refresh(context.Background())
		}(i)
	}
	waitFor(t, func() bool { return backend.RefreshCalls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, console.ErrRefreshFailed) {
			t.Errorf("caller %d: error = %v, want ErrRefreshFailed", i, err)
		}
	}
	if mgr.Token() != "" || mgr.Claims() != nil {
		t.Error("expected destroyed session after failed refresh")
	}
	if got := mgr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 || changes[len(changes)-1] != false {
		t.Errorf("changes = %v, want trailing false", changes)
	}
}

func TestRefresh_DiscardedAfterLogout(t *testing.T) {
	mgr, backend, _ := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	release := backend.GateRefresh()
	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Refresh(context.Background()) }()
	waitFor(t, func() bool { return backend.RefreshCalls.Load() == 1 })

	if err := mgr.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	release()

	if err := <-errCh; !errors.Is(err, console.ErrSessionClosed) {
		t.Errorf("error = %v, want ErrSessionClosed", err)
	}
	if mgr.Token() != "" {
		t.Error("discarded renewal must not resurrect the session")
	}
}

func TestRefresh_DiscardedWhenSessionReplaced(t *testing.T) {
	mgr, backend, clock := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	release := backend.GateRefresh()
	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Refresh(context.Background()) }()
	waitFor(t, func() bool { return backend.RefreshCalls.Load() == 1 })

	// a new token arrives out of band while the renewal is in flight
	clock.Advance(time.Second)
	replacement, err := backend.MintToken(testEmail)
	if err != nil {
		t.Fatalf("MintToken() error: %v", err)
	}
	mgr.SetToken(replacement)
	release()

	if err := <-errCh; !errors.Is(err, console.ErrSessionClosed) {
		t.Errorf("error = %v, want ErrSessionClosed", err)
	}
	if mgr.Token() != replacement {
		t.Error("replacement token must win over the in-flight renewal")
	}
}

func TestLogout_DestroysLocalStateDespiteBackendError(t *testing.T) {
	mgr, backend, _ := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	backend.SetLogoutError(errors.New("revocation unavailable"))
	err := mgr.Logout(context.Background())
	if err == nil {
		t.Fatal("expected the backend error to surface")
	}
	if mgr.Token() != "" || mgr.Claims() != nil {
		t.Error("local session must be destroyed even when revocation fails")
	}
	if got := mgr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestScheduledRenewal_FiresThresholdBeforeExpiry(t *testing.T) {
	mgr, backend, clock := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	oldExpiry := mgr.Claims().ExpiresAt

	// one second short of the renewal point: nothing may fire
	clock.Advance(3539 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := backend.RefreshCalls.Load(); got != 0 {
		t.Fatalf("refresh fired early, calls = %d", got)
	}

	clock.Advance(time.Second)
	waitFor(t, func() bool {
		cl := mgr.Claims()
		return backend.RefreshCalls.Load() == 1 && cl != nil && cl.ExpiresAt.After(oldExpiry) && mgr.Remaining() == 3600
	})
}

func TestScheduledRenewal_SkippedInsideThreshold(t *testing.T) {
	mgr, backend, clock := newManager(t, fake.WithTokenTTL(30*time.Second))
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if got := mgr.Remaining(); got != 30 {
		t.Fatalf("Remaining() = %d, want 30", got)
	}

	// the token expires without ever being renewed
	clock.Advance(30 * time.Second)
	waitFor(t, func() bool { return mgr.Remaining() == 0 })
	time.Sleep(20 * time.Millisecond)

	if got := backend.RefreshCalls.Load(); got != 0 {
		t.Errorf("refresh calls = %d, want 0 for a token inside the threshold", got)
	}
	if mgr.Token() == "" {
		t.Error("token must stay usable until expiry")
	}
}

func TestCountdown_FollowsTokenLifetime(t *testing.T) {
	mgr, _, clock := newManager(t, fake.WithTokenTTL(3*time.Second))

	ticks := make(chan int64, 16)
	mgr.OnTick(func(v int64) { ticks <- v })
	if v := <-ticks; v != 0 {
		t.Fatalf("replay tick = %d, want 0", v)
	}

	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	for want := int64(3); want >= 0; want-- {
		select {
		case v := <-ticks:
			if v != want {
				t.Fatalf("tick = %d, want %d", v, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", want)
		}
		if want > 0 {
			clock.Advance(time.Second)
		}
	}
}

func TestClose_CancelsScheduledRenewal(t *testing.T) {
	mgr, backend, clock := newManager(t)
	if err := mgr.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	clock.Advance(3600 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if got := backend.RefreshCalls.Load(); got != 0 {
		t.Errorf("refresh calls = %d after Close, want 0", got)
	}
}
