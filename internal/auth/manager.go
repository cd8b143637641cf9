// Package auth は認証・認可機能を提供します。
//
// セッションにはユーザーIDのみを保存し、リクエストごとに LoadPrincipal が
// ユーザーストアを引いて Principal を解決します。保護されたルートは
// RequireLogin で Anonymous を /login へリダイレクトします。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/gin-contrib/sessions"

	"github.com/yourusername/secret-gate/internal/user"
)

const (
	SessionCookieName = "sg_session"
	// SessionKeyUser はセッションに保存するユーザーIDのキーです。
	SessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "_csrf"

	// LoginPath は未認証時のリダイレクト先です。
	LoginPath = "/login"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager はセッションと認証状態の遷移をまとめた構造体です。
type Manager struct {
	users         user.Store
	logger        *slog.Logger
	now           func() time.Time
	cookieOptions sessions.Options
}

// NewManager は認証マネージャーを作成します。
func NewManager(users user.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		users:  users,
		logger: logger,
		now:    time.Now,
		cookieOptions: sessions.Options{
			Path:     "/",
			HttpOnly: true,
		},
	}
}

// SetCookieOptions はセッションストアに設定したクッキー属性を共有します。
// SignOut が失効用クッキーを書くときに MaxAge 以外はこの値を使います。
func (m *Manager) SetCookieOptions(opts sessions.Options) {
	m.cookieOptions = opts
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
