package auth

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	throttleSweepInterval = 5 * time.Minute
	throttleIdleTTL       = 15 * time.Minute
)

type throttleEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Throttle はクライアントIPごとにログイン・登録の試行回数を制限します。
type Throttle struct {
	mu        sync.Mutex
	limit     rate.Limit
	perMinute float64
	burst     int
	entries   map[string]*throttleEntry
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewThrottle は perMinute 回/分、バースト burst の Throttle を作成します。
// perMinute が 0 以下なら制限しません。
func NewThrottle(perMinute float64, burst int, logger *slog.Logger) *Throttle {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60.0)
	}
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{
		limit:     limit,
		perMinute: perMinute,
		burst:     burst,
		entries:   make(map[string]*throttleEntry),
		now:       time.Now,
		logger:    logger,
	}
}

// Allow は key の試行を1回消費し、許可されれば true を返します。
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	entry, ok := t.entries[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

// Len は管理中のエントリ数を返します。
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RetryAfter は次の試行が許可されるまでの目安秒数です。
func (t *Throttle) RetryAfter() int {
	if t.perMinute <= 0 {
		return 0
	}
	return int(math.Ceil(60 / t.perMinute))
}

// Middleware はクライアントIPごとの制限を適用するミドルウェアを返します。
// 制限超過時は Retry-After を付けて onLimited を呼び出します（nil なら 429 のみ）。
func (t *Throttle) Middleware(onLimited gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if t.Allow(ip) {
			c.Next()
			return
		}

		t.logger.WarnContext(c.Request.Context(), "rate limit exceeded",
			slog.String("client_ip", ip),
			slog.String("path", c.Request.URL.Path),
		)
		c.Header("Retry-After", strconv.Itoa(t.RetryAfter()))
		if onLimited != nil {
			onLimited(c)
		} else {
			c.Status(http.StatusTooManyRequests)
		}
		c.Abort()
	}
}

func (t *Throttle) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < throttleSweepInterval {
		return
	}
	t.lastSweep = now
	for key, entry := range t.entries {
		if now.Sub(entry.lastAccess) > throttleIdleTTL {
			delete(t.entries, key)
		}
	}
}
