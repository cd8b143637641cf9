package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourusername/secret-gate/internal/config"
	"github.com/yourusername/secret-gate/internal/jobs"
	"github.com/yourusername/secret-gate/internal/web"
)

const jobRecordTTL = 24 * time.Hour

// setupJobs はアカウント削除後のセッション失効スケジューラーを初期化します。
// QUEUE_REDIS_URL が未設定ならリクエスト内で同期実行します。
func setupJobs(cfg *config.Config, purger jobs.SessionPurger, observer jobs.PurgeObserver, logger *slog.Logger) (web.AccountPurger, func(), error) {
	if cfg.QueueRedisURL == "" {
		return jobs.NewInlineScheduler(purger, observer, logger), func() {}, nil
	}

	rdb, err := openRedis(context.Background(), cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}

	store := jobs.NewStore(rdb, jobRecordTTL)
	manager, err := jobs.NewManager(cfg.QueueRedisURL, purger, store, observer, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	manager.StartWorkers()

	shutdown := func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to shut down job manager", slog.String("error", err.Error()))
		}
		_ = rdb.Close()
	}
	return manager, shutdown, nil
}
