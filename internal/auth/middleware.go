package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/secret-gate/internal/user"
)

// LoadPrincipal はセッションからプリンシパルを一度だけ解決し、コンテキストに載せます。
// 期限切れのセッションや、参照先ユーザーが存在しないセッションは破棄して Anonymous とします。
func (m *Manager) LoadPrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		setPrincipal(c, m.resolve(c))
		c.Next()
	}
}

func (m *Manager) resolve(c *gin.Context) Principal {
	session := sessions.Default(c)
	userID, ok := session.Get(SessionKeyUser).(string)
	if !ok || userID == "" {
		return Anonymous()
	}

	ctx := c.Request.Context()
	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		m.discard(c, session, userID, "session expired")
		return Anonymous()
	}
	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		m.discard(c, session, userID, "session idle timeout")
		return Anonymous()
	}

	u, err := m.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			m.discard(c, session, userID, "session user no longer exists")
			return Anonymous()
		}
		m.logger.ErrorContext(ctx, "failed to resolve session user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return Anonymous()
	}

	session.Set(sessionKeyLastActive, now.Unix())
	if err := session.Save(); err != nil {
		m.logger.WarnContext(ctx, "failed to refresh session activity",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return Authenticated(u.ID, u.Username)
}

func (m *Manager) discard(c *gin.Context, session sessions.Session, userID, reason string) {
	session.Clear()
	if err := session.Save(); err != nil {
		m.logger.WarnContext(c.Request.Context(), "failed to discard session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.InfoContext(c.Request.Context(), reason, slog.String("user_id", userID))
}

// RequireLogin は未認証のリクエストをログイン画面へリダイレクトするミドルウェアです。
// 保護されたハンドラーは呼び出されません。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !PrincipalFrom(c).IsAuthenticated() {
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーまたは _csrf フォーム値を検証するミドルウェアです。
// 不一致の場合は onFailure を呼び出して中断します（nil なら 403 のみ返します）。
func (m *Manager) VerifyCSRF(onFailure gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		expected := m.CSRFToken(c)
		received := c.GetHeader(csrfHeader)
		if received == "" {
			received = c.PostForm(csrfFormField)
		}

		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			m.logger.WarnContext(c.Request.Context(), "csrf token mismatch",
				slog.String("path", c.Request.URL.Path),
				slog.Bool("token_present", received != ""),
			)
			if onFailure != nil {
				onFailure(c)
			} else {
				c.Status(http.StatusForbidden)
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
