package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/viewcraft/viewcraft/backend/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	os.Unsetenv("VIEWCRAFT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	if auth.Enabled() {
		t.Error("auth enabled with VIEWCRAFT_API_KEYS unset")
	}

	handler := auth.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/agents/channel-audit", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("disabled auth: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	os.Setenv("VIEWCRAFT_API_KEYS", "test-key-1,test-key-2")
	defer os.Unsetenv("VIEWCRAFT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	if !auth.Enabled() {
		t.Fatal("auth not enabled")
	}
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/rl/status", nil)
	req.Header.Set("Authorization", "Bearer test-key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid Bearer key: status = %d, want %d", w.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/rl/status", nil)
	req2.Header.Set("X-API-Key", "test-key-2")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("valid X-API-Key: status = %d, want %d", w2.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	os.Setenv("VIEWCRAFT_API_KEYS", "valid-key")
	defer os.Unsetenv("VIEWCRAFT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/rl/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	os.Setenv("VIEWCRAFT_API_KEYS", "valid-key")
	defer os.Unsetenv("VIEWCRAFT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/rl/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_PublicPaths(t *testing.T) {
	os.Setenv("VIEWCRAFT_API_KEYS", "valid-key")
	defer os.Unsetenv("VIEWCRAFT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	handler := auth.Middleware(okHandler())

	for _, path := range []string{"/", "/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("public path %q: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestAPIKeyAuth_AddRemoveKey(t *testing.T) {
	os.Unsetenv("VIEWCRAFT_API_KEYS")

	auth := middleware.NewAPIKeyAuth()
	if auth.Enabled() {
		t.Fatal("should start disabled")
	}

	auth.AddKey("runtime-key")
	if !auth.Enabled() {
		t.Error("should be enabled after AddKey")
	}

	handler := auth.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/rl/status", nil)
	req.Header.Set("X-API-Key", "runtime-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("runtime key: status = %d, want %d", w.Code, http.StatusOK)
	}

	auth.RemoveKey("runtime-key")
	if auth.Enabled() {
		t.Error("should be disabled after removing last key")
	}
}
