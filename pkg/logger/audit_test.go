package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAudit(t *testing.T, log func(*AuditLogger)) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	log(al)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestAuditLogger_LogOTP(t *testing.T) {
	record := captureAudit(t, func(al *AuditLogger) {
		al.LogOTP(context.Background(), AuditEvent{
			Type:      EventOTPIssued,
			Email:     "driver@pitlane.com",
			IPAddress: "203.0.113.7",
			Success:   true,
			Metadata:  map[string]string{"purpose": "password_reset"},
		})
	})

	assert.Equal(t, "audit", record["msg"])
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "otp", record["audit_type"])
	assert.Equal(t, EventOTPIssued, record["event_type"])
	assert.Equal(t, "d*****@*******.com", record["email"])
	assert.Equal(t, "203.0.113.7", record["ip_address"])
	assert.Equal(t, "password_reset", record["purpose"])
	assert.NotContains(t, record, "failure_reason")
}

func TestAuditLogger_FailuresLogAtWarn(t *testing.T) {
	record := captureAudit(t, func(al *AuditLogger) {
		al.LogPassword(context.Background(), AuditEvent{
			Type:          EventPasswordChange,
			Email:         "driver@pitlane.com",
			FailureReason: "weak_password",
		})
	})

	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "password", record["audit_type"])
	assert.Equal(t, false, record["success"])
	assert.Equal(t, "weak_password", record["failure_reason"])
}

func TestAuditLogger_NilIsSafe(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() {
		al.LogAuthAttempt(context.Background(), AuditEvent{Type: EventLogin})
	})
}
