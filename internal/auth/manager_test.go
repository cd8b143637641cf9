package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/secret-gate/internal/user"
)

type fixture struct {
	manager *Manager
	store   *user.MemoryStore
	router  *gin.Engine
	alice   *user.User
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: user.NewMemoryStore(),
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.store, discardLogger())
	f.manager.now = func() time.Time { return f.clock }

	f.alice = user.New("alice", "hash")
	if err := f.store.Create(context.Background(), f.alice); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	router := newSessionRouter()
	router.Use(f.manager.LoadPrincipal())
	router.POST("/signin", func(c *gin.Context) {
		u, err := f.store.FindByUsername(c.Request.Context(), c.Query("username"))
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		if err := f.manager.SignIn(c, u); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, f.manager.CSRFToken(c))
	})
	router.GET("/signout", func(c *gin.Context) {
		if err := f.manager.SignOut(c); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	router.GET("/whoami", func(c *gin.Context) {
		p := PrincipalFrom(c)
		if !p.IsAuthenticated() {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, p.Username())
	})
	protected := router.Group("", f.manager.RequireLogin())
	protected.GET("/protected", func(c *gin.Context) {
		c.String(http.StatusOK, "secret for "+PrincipalFrom(c).UserID())
	})
	protected.DELETE("/mutate", f.manager.VerifyCSRF(nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	protected.POST("/mutate", f.manager.VerifyCSRF(func(c *gin.Context) {
		c.String(http.StatusForbidden, "forbidden page")
	}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	f.router = router
	return f
}

func (f *fixture) signIn(t *testing.T, jar cookieJar, username string) string {
	t.Helper()
	rec := jar.do(f.router, httptest.NewRequest(http.MethodPost, "/signin?username="+username, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sign in failed: %d", rec.Code)
	}
	return rec.Body.String()
}

func (f *fixture) whoami(jar cookieJar) string {
	return jar.do(f.router, httptest.NewRequest(http.MethodGet, "/whoami", nil)).Body.String()
}

func TestPrincipalFrom_WithoutLoader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if PrincipalFrom(c).IsAuthenticated() {
		t.Fatal("expected anonymous principal")
	}
	c.Set(contextPrincipalKey, "not-a-principal")
	if PrincipalFrom(c).IsAuthenticated() {
		t.Fatal("expected anonymous principal for foreign value")
	}
}

func TestLoadPrincipal_AnonymousByDefault(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}

	if got := f.whoami(jar); got != "anonymous" {
		t.Fatalf("whoami = %q, want anonymous", got)
	}
	if len(jar) != 0 {
		t.Fatalf("anonymous request must not create a session cookie, got %v", jar)
	}
}

func TestSignIn_TransitionsToAuthenticated(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}

	token := f.signIn(t, jar, "alice")
	if len(token) != 64 {
		t.Fatalf("unexpected csrf token %q", token)
	}
	if got := f.whoami(jar); got != "alice" {
		t.Fatalf("whoami = %q, want alice", got)
	}

	rec := jar.do(f.router, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "secret for "+f.alice.ID {
		t.Fatalf("unexpected protected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequireLogin_RedirectsAnonymous(t *testing.T) {
	f := newFixture(t)
	rec := cookieJar{}.do(f.router, httptest.NewRequest(http.MethodGet, "/protected", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != LoginPath {
		t.Fatalf("Location = %q, want %q", loc, LoginPath)
	}
	if strings.Contains(rec.Body.String(), "secret for") {
		t.Fatal("protected handler must not run for anonymous requests")
	}
}

func TestSignOut_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}
	f.signIn(t, jar, "alice")

	for i := 0; i < 2; i++ {
		rec := jar.do(f.router, httptest.NewRequest(http.MethodGet, "/signout", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("signout #%d status = %d", i+1, rec.Code)
		}
		if got := f.whoami(jar); got != "anonymous" {
			t.Fatalf("after signout #%d whoami = %q", i+1, got)
		}
	}

	rec := jar.do(f.router, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("protected after signout status = %d, want 302", rec.Code)
	}
}

func TestSignOut_KeepsCookieAttributes(t *testing.T) {
	f := newFixture(t)
	f.manager.SetCookieOptions(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	jar := cookieJar{}
	f.signIn(t, jar, "alice")

	rec := jar.do(f.router, httptest.NewRequest(http.MethodGet, "/signout", nil))
	var expired *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			expired = c
		}
	}
	if expired == nil {
		t.Fatal("signout did not write a session cookie")
	}
	if expired.MaxAge >= 0 {
		t.Errorf("MaxAge = %d, want negative", expired.MaxAge)
	}
	if !expired.Secure || !expired.HttpOnly || expired.SameSite != http.SameSiteLaxMode {
		t.Errorf("expired cookie lost attributes: secure=%v httpOnly=%v sameSite=%v",
			expired.Secure, expired.HttpOnly, expired.SameSite)
	}
}

func TestLoadPrincipal_DeletedUserBecomesAnonymous(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}
	f.signIn(t, jar, "alice")

	if err := f.store.Delete(context.Background(), f.alice.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := f.whoami(jar); got != "anonymous" {
		t.Fatalf("whoami = %q, want anonymous", got)
	}
}

func TestLoadPrincipal_IdleTimeout(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}
	f.signIn(t, jar, "alice")

	f.clock = f.clock.Add(20 * time.Minute)
	if got := f.whoami(jar); got != "alice" {
		t.Fatalf("whoami after 20m = %q, want alice", got)
	}

	// 最終アクセスから 31 分
	f.clock = f.clock.Add(31 * time.Minute)
	if got := f.whoami(jar); got != "anonymous" {
		t.Fatalf("whoami after idle = %q, want anonymous", got)
	}
}

func TestLoadPrincipal_MaxLifetime(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}
	f.signIn(t, jar, "alice")

	// アイドルにならないよう 20 分ごとにアクセスしつつ 12 時間を超える
	for elapsed := time.Duration(0); elapsed < maxSessionLifetime; elapsed += 20 * time.Minute {
		f.clock = f.clock.Add(20 * time.Minute)
		f.whoami(jar)
	}
	f.clock = f.clock.Add(time.Minute)
	if got := f.whoami(jar); got != "anonymous" {
		t.Fatalf("whoami after max lifetime = %q, want anonymous", got)
	}
}

func TestVerifyCSRF(t *testing.T) {
	f := newFixture(t)
	jar := cookieJar{}
	token := f.signIn(t, jar, "alice")

	rec := jar.do(f.router, httptest.NewRequest(http.MethodDelete, "/mutate", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token status = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/mutate", nil)
	req.Header.Set(csrfHeader, "wrong")
	if rec := jar.do(f.router, req); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/mutate", nil)
	req.Header.Set(csrfHeader, token)
	if rec := jar.do(f.router, req); rec.Code != http.StatusNoContent {
		t.Fatalf("header token status = %d, want 204", rec.Code)
	}

	form := url.Values{csrfFormField: {token}}
	req = httptest.NewRequest(http.MethodPost, "/mutate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := jar.do(f.router, req); rec.Code != http.StatusNoContent {
		t.Fatalf("form token status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/mutate", strings.NewReader("_csrf=nope"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = jar.do(f.router, req)
	if rec.Code != http.StatusForbidden || rec.Body.String() != "forbidden page" {
		t.Fatalf("custom failure handler not used: %d %q", rec.Code, rec.Body.String())
	}
}

func TestSignIn_RejectsNilUser(t *testing.T) {
	f := newFixture(t)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	if err := f.manager.SignIn(c, nil); err == nil {
		t.Fatal("expected error for nil user")
	}
}
