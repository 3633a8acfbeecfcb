package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockHandler records whether it was called
func mockHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		header     string
		wantCalled bool
		wantStatus int
	}{
		{"valid token", testAgentKey, "Bearer " + testAgentKey, true, http.StatusOK},
		{"missing header", testAgentKey, "", false, http.StatusUnauthorized},
		{"wrong token", testAgentKey, "Bearer wrong-token", false, http.StatusUnauthorized},
		{"wrong scheme", testAgentKey, "Basic " + testAgentKey, false, http.StatusUnauthorized},
		{"lowercase bearer", testAgentKey, "bearer " + testAgentKey, false, http.StatusUnauthorized},
		{"empty agent key rejects empty token", "", "Bearer ", false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := mockHandler()
			mw := AuthMiddleware(tt.key)(handler)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/checklist", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)

			if *called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", *called, tt.wantCalled)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_DoesNotLeakKey(t *testing.T) {
	handler, _ := mockHandler()
	mw := AuthMiddleware(testAgentKey)(handler)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checklist", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if strings.Contains(w.Body.String(), testAgentKey) {
		t.Error("response body contains the agent key")
	}
	if strings.Contains(logs.String(), testAgentKey) {
		t.Error("logs contain the agent key")
	}
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var entry map[string]any
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, logs.String())
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v, want 418", entry["status"])
	}
	if entry["path"] != "/api/v1/health" {
		t.Errorf("path = %v", entry["path"])
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.DiscardHandler))
	defer slog.SetDefault(prev)

	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret internal detail")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/checklist", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret internal detail") {
		t.Error("panic value leaked to the client")
	}
}
