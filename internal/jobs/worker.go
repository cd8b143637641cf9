// Package jobs はアカウント削除後のセッション失効ジョブを提供します。
//
// キュー用 Redis が設定されている場合は Asynq 経由で非同期に、
// そうでない場合は InlineScheduler でリクエスト内に同期実行します。
package jobs

import (
	"context"
	"log/slog"
)

// SessionPurger は指定ユーザーのサーバー側セッションをすべて削除します。
type SessionPurger interface {
	PurgeUser(ctx context.Context, userID string) (int, error)
}

// PurgeObserver は失効させたセッション数を受け取ります。
type PurgeObserver interface {
	RecordSessionsPurged(count int)
}

// InlineScheduler はキューを使わずに失効処理を即時実行します。
type InlineScheduler struct {
	purger   SessionPurger
	observer PurgeObserver
	logger   *slog.Logger
}

// NewInlineScheduler は InlineScheduler を作成します。observer は nil でも構いません。
func NewInlineScheduler(purger SessionPurger, observer PurgeObserver, logger *slog.Logger) *InlineScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineScheduler{
		purger:   purger,
		observer: observer,
		logger:   logger,
	}
}

// SchedulePurge は userID のセッションを同期的に削除します。
func (s *InlineScheduler) SchedulePurge(ctx context.Context, userID string) error {
	_, err := purgeSessions(ctx, s.purger, s.observer, s.logger, userID)
	return err
}

func purgeSessions(ctx context.Context, purger SessionPurger, observer PurgeObserver, logger *slog.Logger, userID string) (int, error) {
	removed, err := purger.PurgeUser(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to purge sessions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return 0, err
	}
	if observer != nil {
		observer.RecordSessionsPurged(removed)
	}
	logger.InfoContext(ctx, "purged sessions",
		slog.String("user_id", userID),
		slog.Int("count", removed),
	)
	return removed, nil
}
