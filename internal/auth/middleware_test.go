package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/pitlane/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestRequireAdminKey(t *testing.T) {
	const key = "admin-key-32-characters-long!!!!"

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + key, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"wrong key", "Bearer not-the-admin-key", http.StatusForbidden},
		{"prefix of key", "Bearer admin-key", http.StatusForbidden},
		{"valid", "Bearer " + key, http.StatusOK},
		{"lower-case scheme", "bearer " + key, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := auth.RequireAdminKey(key)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/admin/passwords/generate", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status == http.StatusOK, called)
		})
	}
}

func TestRequireAdminKey_EmptyConfiguredKeyRejectsAll(t *testing.T) {
	handler := auth.RequireAdminKey("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/passwords/generate", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
