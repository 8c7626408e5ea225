package ginmw_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/fake"
	"github.com/chimerakang/console-go/middleware/ginmw"
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

func perform(r http.Handler, token, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func newAuthRouter(opts ...ginmw.AuthOption) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ginmw.Auth(opts...))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"subject":     ginmw.GetSubject(c),
			"ctx_subject": console.SubjectFromContext(c.Request.Context()),
		})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestAuth_MissingToken(t *testing.T) {
	rec := perform(newAuthRouter(), "", "/me")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing authorization token") {
		t.Errorf("body = %q, want the missing-token message", rec.Body.String())
	}
}

func TestAuth_MalformedToken(t *testing.T) {
	rec := perform(newAuthRouter(), "not-a-token", "/me")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid token") {
		t.Errorf("body = %q, want the invalid-token message", rec.Body.String())
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	rec := perform(newAuthRouter(), mintExpiredToken(t), "/me")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "token expired") {
		t.Errorf("body = %q, want the expired-token message", rec.Body.String())
	}
}

func TestAuth_ValidToken(t *testing.T) {
	rec := perform(newAuthRouter(), mintValidToken(t), "/me")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %q", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"subject":"user-1"`) {
		t.Errorf("body = %q, want the subject from the gin context", body)
	}
	if !strings.Contains(body, `"ctx_subject":"user-1"`) {
		t.Errorf("body = %q, want the subject propagated into the request context", body)
	}
}

func TestAuth_BearerSchemeCaseInsensitive(t *testing.T) {
	r := newAuthRouter()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+mintValidToken(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a lowercase scheme", rec.Code)
	}
}

func TestAuth_ExcludedPathSkipsCheck(t *testing.T) {
	r := newAuthRouter(ginmw.WithExcludedPaths("/healthz"))
	rec := perform(r, "", "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for an excluded path", rec.Code)
	}
}

func newGuardedRouter(t *testing.T, guard gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ginmw.Auth(), guard)
	r.GET("/roles", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestRequire_GrantsAndDenies(t *testing.T) {
	client, _ := fake.NewClient(fake.WithAccount(testAccount()))
	t.Cleanup(func() { _ = client.Close() })
	token := mintValidToken(t)

	granted := perform(newGuardedRouter(t, ginmw.Require(client, "3")), token, "/roles")
	if granted.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a granted bit", granted.Code)
	}

	denied := perform(newGuardedRouter(t, ginmw.Require(client, "1")), token, "/roles")
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

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ginmw.Require(client, "0")) // no Auth in front
	r.GET("/roles", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	rec := perform(r, "", "/roles")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without authenticated claims", rec.Code)
	}
}

func TestRequireAny_PassesOnAnyGrantedBit(t *testing.T) {
	client, _ := fake.NewClient(fake.WithAccount(testAccount()))
	t.Cleanup(func() { _ = client.Close() })
	token := mintValidToken(t)

	passing := perform(newGuardedRouter(t, ginmw.RequireAny(client, "1", "3")), token, "/roles")
	if passing.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when one listed bit is granted", passing.Code)
	}

	failing := perform(newGuardedRouter(t, ginmw.RequireAny(client, "1", "2")), token, "/roles")
	if failing.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no listed bit is granted", failing.Code)
	}
}
