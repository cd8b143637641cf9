// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証イベント種別
const (
	EventRegister = "register"
	EventLogin    = "login"
	EventLogout   = "logout"
	EventDelete   = "delete"
)

// 認証イベント結果
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultThrottled = "throttled"
)

// Recorder は認証イベントを記録するインターフェース。
// ハンドラーから利用する。
type Recorder interface {
	RecordAuthEvent(event, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secretgate_auth_events_total",
			Help: "認証イベント（登録・ログイン・ログアウト・削除）の合計数",
		}, []string{"event", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secretgate_http_requests_total",
			Help: "ルート・メソッド・ステータス別のHTTPリクエスト数",
		}, []string{"route", "method", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secretgate_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secretgate_sessions_purged_total",
			Help: "アカウント削除に伴い失効させたセッション数",
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.httpRequests,
		c.httpDuration,
		c.sessionsPurged,
	)

	return c
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, result string) {
	c.authEvents.WithLabelValues(event, result).Inc()
}

// RecordSessionsPurged は失効させたセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int) {
	c.sessionsPurged.Add(float64(count))
}

// Middleware はリクエスト数と処理時間を記録するginミドルウェアを返す。
// ルートラベルには登録済みのパスパターンを使い、未登録パスは "unmatched" にまとめる。
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.httpRequests.WithLabelValues(route, method, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
