package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// TaskTypePurgeSessions はアカウント削除後のセッション失効タスクです。
	TaskTypePurgeSessions = "account:purge-sessions"
	queueName             = "account"
)

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    *Store
	purger   SessionPurger
	observer PurgeObserver
	logger   *slog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, purger SessionPurger, store *Store, observer PurgeObserver, logger *slog.Logger) (*Manager, error) {
	if purger == nil {
		return nil, errors.New("purger is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: newAsynqLogger(logger),
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:   client,
		server:   server,
		mux:      mux,
		store:    store,
		purger:   purger,
		observer: observer,
		logger:   logger,
	}
	mux.HandleFunc(TaskTypePurgeSessions, manager.handlePurgeTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// SchedulePurge は userID のセッション失効ジョブをキューに投入します。
func (m *Manager) SchedulePurge(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID is required")
	}

	payload := &TaskPayload{
		JobID:  uuid.NewString(),
		UserID: userID,
	}
	if err := m.store.Upsert(ctx, &Record{
		JobID:  payload.JobID,
		UserID: userID,
		Status: StatusQueued,
	}); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePurgeSessions, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "purge job enqueued",
		slog.String("job_id", payload.JobID),
		slog.String("task_id", info.ID),
		slog.String("user_id", userID),
	)
	return nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handlePurgeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" || payload.UserID == "" {
		return fmt.Errorf("missing jobId or userId in payload: %w", asynq.SkipRetry)
	}

	if err := m.store.MarkRunning(ctx, payload.JobID); err != nil {
		return err
	}

	removed, err := purgeSessions(ctx, m.purger, m.observer, m.logger, payload.UserID)
	if err != nil {
		if markErr := m.store.MarkFailed(ctx, payload.JobID, &ErrorInfo{
			Code:    "PURGE_FAILED",
			Message: err.Error(),
		}); markErr != nil {
			m.logger.WarnContext(ctx, "failed to record job failure",
				slog.String("job_id", payload.JobID),
				slog.String("error", markErr.Error()),
			)
		}
		if isFinalAttempt(ctx) {
			m.reportExhausted(ctx, payload.JobID)
		}
		return err
	}
	return m.store.MarkDone(ctx, payload.JobID, removed)
}

// reportExhausted はリトライを使い切ったジョブの記録を読み出してエラーログに残します。
func (m *Manager) reportExhausted(ctx context.Context, jobID string) {
	record, err := m.GetRecord(ctx, jobID)
	if err != nil {
		m.logger.ErrorContext(ctx, "purge job exhausted retries",
			slog.String("job_id", jobID),
			slog.String("record_error", err.Error()),
		)
		return
	}
	attrs := []any{
		slog.String("job_id", record.JobID),
		slog.String("user_id", record.UserID),
		slog.Int("attempts", record.Attempts),
		slog.Time("queued_at", record.CreatedAt),
	}
	if record.Error != nil {
		attrs = append(attrs, slog.String("code", record.Error.Code), slog.String("error", record.Error.Message))
	}
	m.logger.ErrorContext(ctx, "purge job exhausted retries", attrs...)
}

// isFinalAttempt は asynq の最終試行かどうかを返します。
// asynq 外から呼ばれた場合はリトライが無いため最終とみなします。
func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
