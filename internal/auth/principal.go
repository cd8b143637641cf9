package auth

import "github.com/gin-gonic/gin"

// contextPrincipalKey は gin.Context にプリンシパルを保存するキーです。
const contextPrincipalKey = "auth.principal"

// Principal はリクエストに紐づく認証状態です。
// ゼロ値は Anonymous を表します。
type Principal struct {
	userID   string
	username string
}

// Anonymous は未認証のプリンシパルを返します。
func Anonymous() Principal {
	return Principal{}
}

// Authenticated は認証済みのプリンシパルを返します。
func Authenticated(userID, username string) Principal {
	return Principal{userID: userID, username: username}
}

// IsAuthenticated は認証済みなら true を返します。
func (p Principal) IsAuthenticated() bool {
	return p.userID != ""
}

// UserID は認証済みユーザーのIDを返します。未認証なら空文字です。
func (p Principal) UserID() string {
	return p.userID
}

// Username は認証済みユーザーのユーザー名を返します。
func (p Principal) Username() string {
	return p.username
}

// PrincipalFrom は LoadPrincipal が解決したプリンシパルを返します。
// 未解決のリクエストでは Anonymous を返します。
func PrincipalFrom(c *gin.Context) Principal {
	v, ok := c.Get(contextPrincipalKey)
	if !ok {
		return Anonymous()
	}
	p, ok := v.(Principal)
	if !ok {
		return Anonymous()
	}
	return p
}

func setPrincipal(c *gin.Context, p Principal) {
	c.Set(contextPrincipalKey, p)
}
