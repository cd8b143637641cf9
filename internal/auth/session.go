package auth

import (
	"fmt"
	"log/slog"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/secret-gate/internal/user"
)

// SignIn は Anonymous から Authenticated への遷移です。
// 既存のセッション内容は破棄し、ユーザーIDと新しい CSRF トークンを保存します。
func (m *Manager) SignIn(c *gin.Context, u *user.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("user is required")
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate csrf token: %w", err)
	}

	session := sessions.Default(c)
	now := m.now()
	session.Clear()
	session.Set(SessionKeyUser, u.ID)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)

	if err := session.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	setPrincipal(c, Authenticated(u.ID, u.Username))
	m.logger.InfoContext(c.Request.Context(), "signed in",
		slog.String("user_id", u.ID),
	)
	return nil
}

// SignOut は現在の状態に関わらず Anonymous へ遷移させます。
func (m *Manager) SignOut(c *gin.Context) error {
	prev := PrincipalFrom(c)
	setPrincipal(c, Anonymous())

	session := sessions.Default(c)
	session.Clear()
	opts := m.cookieOptions
	opts.MaxAge = -1
	session.Options(opts)
	if err := session.Save(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	if prev.IsAuthenticated() {
		m.logger.InfoContext(c.Request.Context(), "signed out",
			slog.String("user_id", prev.UserID()),
		)
	}
	return nil
}

// CSRFToken はセッションに保存されている CSRF トークンを返します。
func (m *Manager) CSRFToken(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyCSRF).(string)
	return token
}
