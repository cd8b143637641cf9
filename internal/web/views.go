package web

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/secret-gate/internal/auth"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const (
	viewHome     = "home.tmpl"
	viewSecret   = "secret.tmpl"
	viewRegister = "register.tmpl"
	viewLogin    = "login.tmpl"
	viewError    = "error.tmpl"
)

func loadTemplates() (*template.Template, error) {
	return template.New("").ParseFS(templatesFS, "templates/*.tmpl")
}

// render は共通のレイアウト値（ログイン状態）を付けてビューを描画します。
func render(c *gin.Context, status int, name string, data gin.H) {
	p := auth.PrincipalFrom(c)
	data["Authenticated"] = p.IsAuthenticated()
	data["Username"] = p.Username()
	c.HTML(status, name, data)
}
