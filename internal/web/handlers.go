package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/secret-gate/internal/auth"
	"github.com/yourusername/secret-gate/internal/metrics"
	"github.com/yourusername/secret-gate/internal/user"
)

// AccountPurger はアカウント削除後に残りのセッションを失効させます。
type AccountPurger interface {
	SchedulePurge(ctx context.Context, userID string) error
}

type handlers struct {
	users    user.Store
	verifier auth.CredentialVerifier
	manager  *auth.Manager
	purger   AccountPurger
	recorder metrics.Recorder
	logger   *slog.Logger
}

// credentialsForm は登録・ログインフォームの入力です。
type credentialsForm struct {
	Username string `form:"username" binding:"required,max=64"`
	Password string `form:"password" binding:"required,max=72"`
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "secret-gate",
		"version": "0.1.0",
	})
}

func (h *handlers) home(c *gin.Context) {
	render(c, http.StatusOK, viewHome, gin.H{})
}

func (h *handlers) secret(c *gin.Context) {
	render(c, http.StatusOK, viewSecret, gin.H{
		"CSRFToken": h.manager.CSRFToken(c),
	})
}

func (h *handlers) registerForm(c *gin.Context) {
	render(c, http.StatusOK, viewRegister, gin.H{})
}

func (h *handlers) register(c *gin.Context) {
	ctx := c.Request.Context()

	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		h.recorder.RecordAuthEvent(metrics.EventRegister, metrics.ResultFailure)
		h.logger.InfoContext(ctx, "invalid registration form", slog.String("error", err.Error()))
		render(c, http.StatusBadRequest, viewRegister, gin.H{
			"Error":        formErrorMessage(err),
			"FormUsername": form.Username,
		})
		return
	}

	u, err := h.verifier.Register(ctx, form.Username, form.Password)
	if err != nil {
		h.recorder.RecordAuthEvent(metrics.EventRegister, metrics.ResultFailure)
		status, message := registerErrorResponse(err)
		level := slog.LevelError
		if status == http.StatusBadRequest || errors.Is(err, user.ErrDuplicateUsername) {
			level = slog.LevelInfo
		}
		h.logger.Log(ctx, level, "registration failed", slog.String("error", err.Error()))
		render(c, status, viewRegister, gin.H{
			"Error":        message,
			"FormUsername": form.Username,
		})
		return
	}

	if err := h.manager.SignIn(c, u); err != nil {
		// アカウントは作成済みなのでログイン画面へ誘導する
		h.logger.ErrorContext(ctx, "failed to sign in after registration",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		c.Redirect(http.StatusSeeOther, auth.LoginPath)
		return
	}

	h.recorder.RecordAuthEvent(metrics.EventRegister, metrics.ResultSuccess)
	c.Redirect(http.StatusSeeOther, "/secret")
}

func (h *handlers) registerThrottled(c *gin.Context) {
	h.recorder.RecordAuthEvent(metrics.EventRegister, metrics.ResultThrottled)
	render(c, http.StatusTooManyRequests, viewRegister, gin.H{
		"Error": "試行回数が多すぎます。しばらくしてから再度お試しください。",
	})
}

func (h *handlers) loginForm(c *gin.Context) {
	render(c, http.StatusOK, viewLogin, gin.H{})
}

func (h *handlers) login(c *gin.Context) {
	ctx := c.Request.Context()

	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		h.loginFailed(c, err)
		return
	}

	u, err := h.verifier.Verify(ctx, form.Username, form.Password)
	if err != nil {
		h.loginFailed(c, err)
		return
	}

	if err := h.manager.SignIn(c, u); err != nil {
		h.loginFailed(c, err)
		return
	}

	h.recorder.RecordAuthEvent(metrics.EventLogin, metrics.ResultSuccess)
	c.Redirect(http.StatusSeeOther, "/secret")
}

// loginFailed はユーザー名不明・パスワード不一致・内部エラーを区別せず /login へ戻します。
func (h *handlers) loginFailed(c *gin.Context, err error) {
	h.recorder.RecordAuthEvent(metrics.EventLogin, metrics.ResultFailure)
	level := slog.LevelInfo
	if !errors.Is(err, auth.ErrInvalidCredentials) && !isFormError(err) {
		level = slog.LevelError
	}
	h.logger.Log(c.Request.Context(), level, "login failed", slog.String("error", err.Error()))
	c.Redirect(http.StatusSeeOther, auth.LoginPath)
}

func (h *handlers) loginThrottled(c *gin.Context) {
	h.recorder.RecordAuthEvent(metrics.EventLogin, metrics.ResultThrottled)
	render(c, http.StatusTooManyRequests, viewLogin, gin.H{
		"Error": "試行回数が多すぎます。しばらくしてから再度お試しください。",
	})
}

func (h *handlers) logout(c *gin.Context) {
	if err := h.manager.SignOut(c); err != nil {
		h.logger.WarnContext(c.Request.Context(), "failed to clear session on logout",
			slog.String("error", err.Error()),
		)
	}
	h.recorder.RecordAuthEvent(metrics.EventLogout, metrics.ResultSuccess)
	c.Redirect(http.StatusFound, "/")
}

func (h *handlers) deleteAccount(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.PrincipalFrom(c).UserID()

	err := h.users.Delete(ctx, userID)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		h.recorder.RecordAuthEvent(metrics.EventDelete, metrics.ResultFailure)
		h.logger.ErrorContext(ctx, "failed to delete account",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		render(c, http.StatusInternalServerError, viewError, gin.H{
			"Error": "アカウントの削除に失敗しました。時間をおいて再度お試しください。",
		})
		return
	}

	if signOutErr := h.manager.SignOut(c); signOutErr != nil {
		h.logger.WarnContext(ctx, "failed to clear session after delete",
			slog.String("user_id", userID),
			slog.String("error", signOutErr.Error()),
		)
	}

	if err == nil {
		h.recorder.RecordAuthEvent(metrics.EventDelete, metrics.ResultSuccess)
		h.logger.InfoContext(ctx, "account deleted", slog.String("user_id", userID))
		if h.purger != nil {
			if purgeErr := h.purger.SchedulePurge(ctx, userID); purgeErr != nil {
				h.logger.WarnContext(ctx, "failed to schedule session purge",
					slog.String("user_id", userID),
					slog.String("error", purgeErr.Error()),
				)
			}
		}
	}

	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handlers) csrfRejected(c *gin.Context) {
	render(c, http.StatusForbidden, viewError, gin.H{
		"Error": "リクエストを検証できませんでした。ページを再読み込みしてください。",
	})
}

func (h *handlers) notFound(c *gin.Context) {
	render(c, http.StatusNotFound, viewError, gin.H{
		"Error": "ページが見つかりません。",
	})
}

func registerErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingUsername):
		return http.StatusBadRequest, "ユーザー名を入力してください。"
	case errors.Is(err, auth.ErrMissingPassword):
		return http.StatusBadRequest, "パスワードを入力してください。"
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return http.StatusBadRequest, "パスワードは72バイト以内で入力してください。"
	case errors.Is(err, user.ErrDuplicateUsername):
		return http.StatusOK, "そのユーザー名は既に使われています。"
	default:
		return http.StatusOK, "登録に失敗しました。入力内容を確認してください。"
	}
}

func isFormError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func formErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "入力内容を確認してください。"
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Username":
		if fe.Tag() == "required" {
			return "ユーザー名を入力してください。"
		}
		return "ユーザー名は64文字以内で入力してください。"
	case "Password":
		if fe.Tag() == "required" {
			return "パスワードを入力してください。"
		}
		return "パスワードは72文字以内で入力してください。"
	default:
		return "入力内容を確認してください。"
	}
}
