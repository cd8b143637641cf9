// Package main はWebサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/secret-gate/internal/auth"
	"github.com/yourusername/secret-gate/internal/config"
	"github.com/yourusername/secret-gate/internal/logging"
	"github.com/yourusername/secret-gate/internal/metrics"
	"github.com/yourusername/secret-gate/internal/session"
	"github.com/yourusername/secret-gate/internal/user"
	"github.com/yourusername/secret-gate/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Service: "secret-gate",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users, closeUsers, err := setupUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	verifier, err := auth.NewStoreVerifier(users, cfg.BcryptCost)
	if err != nil {
		return err
	}
	manager := auth.NewManager(users, logger)
	manager.SetCookieOptions(sessionOptions(cfg))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	sessionStore, purger, closeSessions, err := setupSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	var accountPurger web.AccountPurger
	if purger != nil {
		scheduler, shutdownJobs, err := setupJobs(cfg, purger, collector, logger)
		if err != nil {
			return err
		}
		defer shutdownJobs()
		accountPurger = scheduler
	}

	router, err := web.NewRouter(web.Options{
		Users:          users,
		Verifier:       verifier,
		Manager:        manager,
		SessionStore:   sessionStore,
		Throttle:       auth.NewThrottle(cfg.LoginRatePerMinute, cfg.LoginBurst, logger),
		Purger:         accountPurger,
		Metrics:        collector,
		Gatherer:       registry,
		Logger:         logger,
		TrustedProxies: cfg.TrustedProxyList(),
		Middleware:     []gin.HandlerFunc{corsMiddleware(cfg)},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           web.MethodOverride(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server",
			slog.String("addr", srv.Addr),
			slog.String("mode", cfg.GinMode),
			slog.String("store_backend", cfg.StoreBackend),
			slog.String("session_backend", cfg.SessionBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupUserStore は STORE_BACKEND に応じたユーザーストアを初期化します。
func setupUserStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (user.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := openRedis(ctx, cfg.StoreRedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("user store: %w", err)
		}
		return user.NewRedisStore(rdb, ""), func() { _ = rdb.Close() }, nil

	case config.BackendPostgres:
		if err := user.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return user.NewPostgresStore(pool), pool.Close, nil

	default:
		logger.Warn("using in-memory user store; users are lost on restart")
		return user.NewMemoryStore(), func() {}, nil
	}
}

// setupSessionStore はセッションストアを初期化します。
// Redis バックエンドの場合はユーザー単位でセッションを失効できる purger も返します。
func setupSessionStore(cfg *config.Config, logger *slog.Logger) (sessions.Store, *session.RedisStore, func(), error) {
	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	options := sessionOptions(cfg)

	if cfg.SessionBackend != config.BackendRedis {
		store := cookie.NewStore(secret)
		store.Options(options)
		return store, nil, func() {}, nil
	}

	rdb, err := openRedis(context.Background(), cfg.SessionRedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session store: %w", err)
	}
	store := session.NewRedisStore(rdb, session.RedisOptions{UserKey: auth.SessionKeyUser}, secret)
	store.Options(options)
	return store, store, func() { _ = rdb.Close() }, nil
}

// sessionOptions はセッションクッキーの属性です。
func sessionOptions(cfg *config.Config) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.IsRelease(),
		// ログイン後のリダイレクトでクッキーを送れるよう Lax にする
		SameSite: http.SameSiteLaxMode,
	}
}

// sessionSecret はセッション署名鍵を返します。
// 開発モードで未設定の場合は起動ごとの一時鍵を生成します。
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	logger.Warn("SESSION_SECRET is not set; using an ephemeral key, sessions will not survive restarts")
	return key, nil
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// corsMiddleware は CORS ミドルウェアを返します。
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
		"X-HTTP-Method-Override",
	}
	return cors.New(corsConfig)
}
