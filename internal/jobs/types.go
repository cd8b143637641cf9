package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はセッション失効ジョブの現在状態を表します。
type Record struct {
	JobID     string     `json:"jobId"`
	UserID    string     `json:"userId"`
	Status    Status     `json:"status"`
	Purged    int        `json:"purged"`
	Attempts  int        `json:"attempts"`
	Error     *ErrorInfo `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// TaskPayload はセッション失効ジョブのペイロードです。
type TaskPayload struct {
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`
}
