package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSessionRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("test-session-secret-32bytes-long!"))
	store.Options(sessions.Options{Path: "/", MaxAge: SessionMaxAgeSeconds(), HttpOnly: true})
	router.Use(sessions.Sessions(SessionCookieName, store))
	return router
}

// cookieJar はテスト用の最小限のクッキー保持です。
type cookieJar map[string]*http.Cookie

func (j cookieJar) do(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	for _, c := range j {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(j, c.Name)
			continue
		}
		j[c.Name] = c
	}
	return rec
}
