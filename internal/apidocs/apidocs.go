// Package apidocs はルートの OpenAPI ドキュメントを配信します。
package apidocs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var document []byte

var jsonDocument = sync.OnceValues(func() ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse openapi document: %w", err)
	}
	return json.Marshal(doc)
})

// YAML は埋め込まれた OpenAPI ドキュメントを返します。
func YAML() []byte {
	return document
}

// JSON は OpenAPI ドキュメントを JSON に変換して返します。
func JSON() ([]byte, error) {
	return jsonDocument()
}

// Register は /api-docs 配下にドキュメントのルートを登録します。
func Register(router gin.IRoutes) {
	router.GET("/api-docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", document)
	})
	router.GET("/api-docs/openapi.json", func(c *gin.Context) {
		body, err := JSON()
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	})
}
