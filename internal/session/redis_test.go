package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCookieName = "sg_test"
	testUserKey    = "auth_user"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb, RedisOptions{KeyPrefix: "test:session:", UserKey: testUserKey},
		[]byte("test-session-secret-32bytes-long!"))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600, HttpOnly: true})
	return store, mr
}

func newTestRouter(store *RedisStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Sessions(testCookieName, store))
	router.POST("/login/:user", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Set(testUserKey, c.Param("user"))
		s.Set("issued_at", int64(1700000000))
		if err := s.Save(); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})
	router.GET("/whoami", func(c *gin.Context) {
		s := sessions.Default(c)
		userID, _ := s.Get(testUserKey).(string)
		issuedAt, _ := s.Get("issued_at").(int64)
		if userID == "" {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, "%s@%d", userID, issuedAt)
	})
	router.POST("/logout", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		s.Options(sessions.Options{Path: "/", MaxAge: -1})
		if err := s.Save(); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})
	return router
}

func perform(router http.Handler, method, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookieName {
			return c
		}
	}
	t.Fatalf("session cookie not set")
	return nil
}

func sessionKeys(mr *miniredis.Miniredis) []string {
	var keys []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "test:session:") && !strings.HasPrefix(k, "test:session:user:") {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	router := newTestRouter(store)

	rec := perform(router, http.MethodPost, "/login/user-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	cookie := sessionCookie(t, rec)

	// クッキーには値そのものを載せない
	assert.NotContains(t, cookie.Value, "user-1")
	assert.Len(t, sessionKeys(mr), 1)
	assert.True(t, mr.Exists("test:session:user:user-1"))

	key := sessionKeys(mr)[0]
	assert.Greater(t, mr.TTL(key).Seconds(), 3000.0)

	rec = perform(router, http.MethodGet, "/whoami", cookie)
	assert.Equal(t, "user-1@1700000000", rec.Body.String())
}

func TestRedisStore_TamperedCookieIsAnonymous(t *testing.T) {
	store, _ := newTestStore(t)
	router := newTestRouter(store)

	rec := perform(router, http.MethodPost, "/login/user-1", nil)
	cookie := sessionCookie(t, rec)
	cookie.Value = cookie.Value[:len(cookie.Value)-4] + "AAAA"

	rec = perform(router, http.MethodGet, "/whoami", cookie)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRedisStore_ExpiredRecordIsAnonymous(t *testing.T) {
	store, mr := newTestStore(t)
	router := newTestRouter(store)

	rec := perform(router, http.MethodPost, "/login/user-1", nil)
	cookie := sessionCookie(t, rec)

	mr.FastForward(2 * time.Hour)

	rec = perform(router, http.MethodGet, "/whoami", cookie)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRedisStore_NegativeMaxAgeDeletes(t *testing.T) {
	store, mr := newTestStore(t)
	router := newTestRouter(store)

	cookie := sessionCookie(t, perform(router, http.MethodPost, "/login/user-1", nil))
	require.Len(t, sessionKeys(mr), 1)

	rec := perform(router, http.MethodPost, "/logout", cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)
	expired := sessionCookie(t, rec)
	assert.True(t, expired.MaxAge < 0)
	assert.Empty(t, sessionKeys(mr))

	members, err := mr.Members("test:session:user:user-1")
	if err == nil {
		assert.Empty(t, members)
	}

	rec = perform(router, http.MethodGet, "/whoami", cookie)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRedisStore_PurgeUser(t *testing.T) {
	store, mr := newTestStore(t)
	router := newTestRouter(store)

	first := sessionCookie(t, perform(router, http.MethodPost, "/login/user-1", nil))
	second := sessionCookie(t, perform(router, http.MethodPost, "/login/user-1", nil))
	other := sessionCookie(t, perform(router, http.MethodPost, "/login/user-2", nil))
	require.Len(t, sessionKeys(mr), 3)

	removed, err := store.PurgeUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.Equal(t, "anonymous", perform(router, http.MethodGet, "/whoami", first).Body.String())
	assert.Equal(t, "anonymous", perform(router, http.MethodGet, "/whoami", second).Body.String())
	assert.Equal(t, "user-2@1700000000", perform(router, http.MethodGet, "/whoami", other).Body.String())
	assert.False(t, mr.Exists("test:session:user:user-1"))
}

func TestRedisStore_PurgeUserWithoutSessions(t *testing.T) {
	store, _ := newTestStore(t)

	removed, err := store.PurgeUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = store.PurgeUser(context.Background(), "")
	assert.Error(t, err)
}

func TestRedisStore_SignInAsAnotherUserRotatesID(t *testing.T) {
	store, mr := newTestStore(t)
	router := newTestRouter(store)

	planted := sessionCookie(t, perform(router, http.MethodPost, "/login/attacker", nil))

	rec := perform(router, http.MethodPost, "/login/victim", planted)
	require.Equal(t, http.StatusNoContent, rec.Code)
	victim := sessionCookie(t, rec)

	// 旧IDは削除され、新しいIDだけが残る
	assert.Len(t, sessionKeys(mr), 1)
	assert.Equal(t, "anonymous", perform(router, http.MethodGet, "/whoami", planted).Body.String())
	assert.Equal(t, "victim@1700000000", perform(router, http.MethodGet, "/whoami", victim).Body.String())

	removed, err := store.PurgeUser(context.Background(), "attacker")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, "victim@1700000000", perform(router, http.MethodGet, "/whoami", victim).Body.String())
}

func TestRedisStore_SameUserKeepsSingleSession(t *testing.T) {
	store, mr := newTestStore(t)
	router := newTestRouter(store)

	cookie := sessionCookie(t, perform(router, http.MethodPost, "/login/user-1", nil))
	key := sessionKeys(mr)[0]

	cookie = sessionCookie(t, perform(router, http.MethodPost, "/login/user-1", cookie))
	assert.Equal(t, []string{key}, sessionKeys(mr))
	assert.Equal(t, "user-1@1700000000", perform(router, http.MethodGet, "/whoami", cookie).Body.String())
}
