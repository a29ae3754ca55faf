package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func performRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPing(t *testing.T) {
	r := gin.New()
	r.GET("/ping", PingHandler)
	w := performRequest(r, http.MethodGet, "/ping", "")
	if w.Code != http.StatusOK || decodeBody(t, w)["message"] != "pong" {
		t.Errorf("ping = %d %s", w.Code, w.Body.String())
	}
}

func TestHealthCheckHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	cases := []struct {
		name   string
		checks []HealthCheck
		code   int
		status string
	}{
		{"all healthy", []HealthCheck{{Name: "entity_store", Required: true, Check: ok}}, http.StatusOK, "ok"},
		{"optional down", []HealthCheck{
			{Name: "entity_store", Required: true, Check: ok},
			{Name: "redis", Check: down},
		}, http.StatusOK, "ok"},
		{"required down", []HealthCheck{{Name: "entity_store", Required: true, Check: down}}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", HealthCheckHandler(tc.checks...))
			w := performRequest(r, http.MethodGet, "/health", "")
			if w.Code != tc.code {
				t.Fatalf("code = %d, want %d", w.Code, tc.code)
			}
			body := decodeBody(t, w)
			if body["status"] != tc.status {
				t.Errorf("status = %v, want %s", body["status"], tc.status)
			}
			deps := body["dependencies"].(map[string]interface{})
			if len(deps) != len(tc.checks) {
				t.Errorf("dependencies = %v", deps)
			}
		})
	}
}
