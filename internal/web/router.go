// Package web は HTML ルートとミドルウェアの配線を提供します。
package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/secret-gate/internal/apidocs"
	"github.com/yourusername/secret-gate/internal/auth"
	"github.com/yourusername/secret-gate/internal/metrics"
	"github.com/yourusername/secret-gate/internal/user"
)

// Options はルーター構築に必要な依存関係です。
type Options struct {
	Users        user.Store
	Verifier     auth.CredentialVerifier
	Manager      *auth.Manager
	SessionStore sessions.Store
	Throttle     *auth.Throttle
	// Purger は nil ならアカウント削除後のセッション失効を行いません。
	Purger   AccountPurger
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// TrustedProxies は X-Forwarded-For を信頼するプロキシです。空なら接続元IPのみを使います。
	TrustedProxies []string
	// Middleware はセッションより前に適用する追加ミドルウェア（CORS など）です。
	Middleware []gin.HandlerFunc
}

// NewRouter は全ルートを登録した gin.Engine を返します。
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Users == nil || opts.Verifier == nil || opts.Manager == nil || opts.SessionStore == nil {
		return nil, errors.New("users, verifier, manager and session store are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.SetHTMLTemplate(tmpl)
	router.Use(gin.Recovery())
	router.Use(SecurityHeaders())
	router.Use(RequestLogger(opts.Logger))

	var recorder metrics.Recorder = noopRecorder{}
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
		recorder = opts.Metrics
	}
	router.Use(opts.Middleware...)

	// まずは誰でも叩けるエンドポイントを登録
	router.GET("/health", handleHealth)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(opts.Gatherer)))
	}
	apidocs.Register(router)

	h := &handlers{
		users:    opts.Users,
		verifier: opts.Verifier,
		manager:  opts.Manager,
		purger:   opts.Purger,
		recorder: recorder,
		logger:   opts.Logger,
	}

	throttle := opts.Throttle
	if throttle == nil {
		throttle = auth.NewThrottle(0, 1, opts.Logger)
	}

	pages := router.Group("")
	pages.Use(
		sessions.Sessions(auth.SessionCookieName, opts.SessionStore),
		opts.Manager.LoadPrincipal(),
	)
	{
		pages.GET("/", h.home)
		pages.GET("/register", h.registerForm)
		pages.POST("/register", throttle.Middleware(h.registerThrottled), h.register)
		pages.GET("/login", h.loginForm)
		pages.POST("/login", throttle.Middleware(h.loginThrottled), h.login)
		pages.GET("/logout", h.logout)

		protected := pages.Group("")
		protected.Use(opts.Manager.RequireLogin(), opts.Manager.VerifyCSRF(h.csrfRejected))
		{
			protected.GET("/secret", h.secret)
			protected.DELETE("/delete", h.deleteAccount)
		}
	}

	router.NoRoute(h.notFound)
	return router, nil
}

const methodOverrideParam = "_method"

// MethodOverride は POST リクエストを _method パラメータ（クエリまたはフォーム）
// もしくは X-HTTP-Method-Override ヘッダーの値に書き換えます。
// 書き換え後もフォーム値を参照できるよう、書き換え前にフォームを解析します。
// 本文が解析できない場合は POST のまま後段へ渡します。
func MethodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			// 解析に失敗したフォームでは書き換えない
			if err := r.ParseForm(); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			override := r.URL.Query().Get(methodOverrideParam)
			if override == "" {
				override = r.Header.Get("X-HTTP-Method-Override")
			}
			if override == "" {
				override = r.PostForm.Get(methodOverrideParam)
			}
			switch method := strings.ToUpper(strings.TrimSpace(override)); method {
			case http.MethodDelete, http.MethodPut, http.MethodPatch:
				r.Method = method
			}
		}
		next.ServeHTTP(w, r)
	})
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthEvent(string, string) {}
