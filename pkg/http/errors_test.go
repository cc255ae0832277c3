package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
	assert.Nil(t, resp.AttemptsRemaining)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decodeError(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestWriteErrorResponse_AttemptsRemaining(t *testing.T) {
	w := httptest.NewRecorder()
	remaining := 0

	pkghttp.WriteErrorResponse(w, 401, pkghttp.ErrorResponse{
		Error:             "otp_mismatch",
		Message:           "Invalid code",
		AttemptsRemaining: &remaining,
	})

	assert.Contains(t, w.Body.String(), `"attempts_remaining":0`)
}

func TestWriteTooManyRequests_SetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteTooManyRequests(w, "Slow down", 90*time.Second+200*time.Millisecond)

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "91", w.Header().Get("Retry-After"))

	resp := decodeError(t, w)
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
	assert.Equal(t, 91, resp.RetryAfterSeconds)
}

func TestWriteTooManyRequests_NoWait(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteTooManyRequests(w, "Slow down", 0)

	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestStatusWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w *httptest.ResponseRecorder)
		status int
		code   string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "m") }, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "m") }, 401, "unauthorized"},
		{"forbidden", func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "m") }, 403, "forbidden"},
		{"not found", func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "m") }, 404, "not_found"},
		{"conflict", func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "m") }, 409, "conflict"},
		{"bad gateway", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadGateway(w, "delivery_failure", "m") }, 502, "delivery_failure"},
		{"internal", func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "m") }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, pkghttp.RetryAfterSeconds(-time.Second))
	assert.Equal(t, 1, pkghttp.RetryAfterSeconds(time.Millisecond))
	assert.Equal(t, 120, pkghttp.RetryAfterSeconds(2*time.Minute))
}
