package echomw_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/fake"
	"github.com/chimerakang/console-go/middleware/echomw"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "secret"
)

func testAccount() fake.Account {
	return fake.Account{
		Email:          testEmail,
		Password:       testPassword,
		SubjectID:      "user-1",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Status:         "active",
		PermissionBits: "9", // bits 0 and 3
	}
}

func mintValidToken(t *testing.T) string {
	t.Helper()
	backend := fake.NewBackend(fake.WithAccount(testAccount()))
	token, err := backend.MintToken(testEmail)
	if err != nil {
		t.Fatalf("MintToken() error: %v", err)
	}
	return token
}

func mintExpiredToken(t *testing.T) string {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Now().Add(-2 * time.Hour))
	backend := fake.NewBackend(fake.WithAccount(testAccount()), fake.WithClock(clock))
	token, err := backend.MintToken(testEmail)
	if err != nil {
		t.Fatalf("MintToken() error: %v", err)
	}
	return token
}

func perform(e *echo.Echo, token, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newAuthServer(opts ...echomw.AuthOption) *echo.Echo {
	e := echo.New()
	e.Use(echomw.Auth(opts...))
	e.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"subject":     echomw.GetSubject(c),
			"ctx_subject": console.SubjectFromContext(c.Request().Context()),
		})
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestAuth_MissingToken(t *testing.T) {
	rec := perform(newAuthServer(), "", "/me")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing authorization token") {
		t.Errorf("body = %q, want the missing-token message", rec.Body.String())
	}
}

func TestAuth_MalformedToken(t *testing.T) {
	rec := perform(newAuthServer(), "not-a-token", "/me")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid token") {
		t.Errorf("body = %q, want the invalid-token message", rec.Body.String())
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	rec := perform(newAuthServer(), mintExpiredToken(t), "/me")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "token expired") {
		t.Errorf("body = %q, want the expired-token message", rec.Body.String())
	}
}

func TestAuth_ValidToken(t *testing.T) {
	rec := perform(newAuthServer(), mintValidToken(t), "/me")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %q", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"subject":"user-1"`) {
		t.Errorf("body = %q, want the subject from the echo context", body)
	}
	if !strings.Contains(body, `"ctx_subject":"user-1"`) {
		t.Errorf("body = %q, want the subject propagated into the request context", body)
	}
}

func TestAuth_ExcludedPathSkipsCheck(t *testing.T) {
	e := newAuthServer(echomw.WithExcludedPaths("/healthz"))
	rec := perform(e, "", "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for an excluded path", rec.Code)
	}
}

func newGuardedServer(guard echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(echomw.Auth(), guard)
	e.GET("/roles", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestRequire_GrantsAndDenies(t *testing.T) {
	client, _ := fake.NewClient(fake.WithAccount(testAccount()))
	t.Cleanup(func() { _ = client.Close() })
	token := mintValidToken(t)

	granted := perform(newGuardedServer(echomw.Require(client, "3")), token, "/roles")
	if granted.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a granted bit", granted.Code)
	}

	denied := perform(newGuardedServer(echomw.Require(client, "1")), token, "/roles")
	if denied.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a missing bit", denied.Code)
	}
	if !strings.Contains(denied.Body.String(), "permission denied") {
		t.Errorf("body = %q, want the permission-denied message", denied.Body.String())
	}
}

func TestRequire_WithoutAuthRejects(t *testing.T) {
	client, _ := fake.NewClient(fake.WithAccount(testAccount()))
	t.Cleanup(func() { _ = client.Close() })

	e := echo.New()
	e.Use(echomw.Require(client, "0")) // no Auth in front
	e.GET("/roles", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := perform(e, "", "/roles")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without authenticated claims", rec.Code)
	}
}

func TestRequireAny_PassesOnAnyGrantedBit(t *testing.T) {
	client, _ := fake.NewClient(fake.WithAccount(testAccount()))
	t.Cleanup(func() { _ = client.Close() })
	token := mintValidToken(t)

	passing := perform(newGuardedServer(echomw.RequireAny(client, "1", "3")), token, "/roles")
	if passing.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when one listed bit is granted", passing.Code)
	}

	failing := perform(newGuardedServer(echomw.RequireAny(client, "1", "2")), token, "/roles")
	if failing.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no listed bit is granted", failing.Code)
	}
}
