package apidocs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestJSON_ContainsAllRoutes(t *testing.T) {
	body, err := JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if doc.OpenAPI == "" {
		t.Fatal("openapi version missing")
	}

	want := map[string][]string{
		"/":         {"get"},
		"/secret":   {"get"},
		"/register": {"get", "post"},
		"/login":    {"get", "post"},
		"/logout":   {"get"},
		"/delete":   {"delete"},
		"/health":   {"get"},
	}
	for path, methods := range want {
		ops, ok := doc.Paths[path]
		if !ok {
			t.Errorf("path %s missing", path)
			continue
		}
		for _, m := range methods {
			if _, ok := ops[m]; !ok {
				t.Errorf("%s %s missing", strings.ToUpper(m), path)
			}
		}
	}
}

func TestRegister_ServesYAMLAndJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-docs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("yaml status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/yaml") {
		t.Errorf("yaml content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "openapi: 3.0.3") {
		t.Error("yaml body does not look like the embedded document")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-docs/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("json status = %d", rec.Code)
	}
	if !json.Valid(rec.Body.Bytes()) {
		t.Error("json body is not valid json")
	}
}
