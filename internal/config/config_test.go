package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OTP_ENCRYPTION_KEYS", "k1:MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	t.Setenv("RESET_TOKEN_SECRET", "reset-secret-32-characters-long!")
	t.Setenv("ADMIN_API_KEY", "admin-key-32-characters-long!!!!")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	durations := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"OTP.Window", cfg.OTP.Window, time.Hour},
		{"OTP.MinSpacing", cfg.OTP.MinSpacing, 2 * time.Minute},
		{"OTP.ResendThreshold", cfg.OTP.ResendThreshold, 5 * time.Minute},
		{"OTP.CleanupInterval", cfg.OTP.CleanupInterval, 5 * time.Minute},
		{"Password.BreachTimeout", cfg.Password.BreachTimeout, 5 * time.Second},
		{"Reset.GrantExpiry", cfg.Reset.GrantExpiry, 15 * time.Minute},
	}
	for _, tt := range durations {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	ints := []struct {
		name     string
		actual   int
		expected int
	}{
		{"BcryptCost", cfg.Password.BcryptCost, 12},
		{"OTP.ExpiryMinutes", cfg.OTP.ExpiryMinutes, 10},
		{"OTP.MaxAttempts", cfg.OTP.MaxAttempts, 5},
		{"OTP.MaxPerWindow", cfg.OTP.MaxPerWindow, 3},
		{"OTP.HistorySize", cfg.OTP.HistorySize, 10},
		{"Password.TimingDelayBaseMs", cfg.Password.TimingDelayBaseMs, 250},
		{"Password.TimingDelayRandomMs", cfg.Password.TimingDelayRandomMs, 100},
	}
	for _, tt := range ints {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %d, want %d", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Storage.OTPStore != StoreMemory || cfg.Storage.CredentialStore != StoreMemory {
		t.Errorf("stores: got %q/%q, want memory/memory", cfg.Storage.CredentialStore, cfg.Storage.OTPStore)
	}
	if !cfg.Password.BreachCheckEnabled {
		t.Error("breach check should be enabled by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("OTP_EXPIRY_MINUTES", "5")
	t.Setenv("BREACH_CHECK_ENABLED", "false")
	t.Setenv("OTP_STORE", "Redis")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout: got %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.OTP.ExpiryMinutes != 5 {
		t.Errorf("ExpiryMinutes: got %d, want 5", cfg.OTP.ExpiryMinutes)
	}
	if cfg.Password.BreachCheckEnabled {
		t.Error("breach check should be disabled")
	}
	if cfg.Storage.OTPStore != StoreRedis {
		t.Errorf("OTPStore: got %q, want redis", cfg.Storage.OTPStore)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout with invalid value: got %v, want 15s", cfg.Server.ReadTimeout)
	}
}

func TestLoad_RequiredValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing encryption keys", "OTP_ENCRYPTION_KEYS", ""},
		{"missing reset secret", "RESET_TOKEN_SECRET", ""},
		{"weak reset secret", "RESET_TOKEN_SECRET", "short"},
		{"missing admin key", "ADMIN_API_KEY", ""},
		{"unknown otp store", "OTP_STORE", "etcd"},
		{"unknown email provider", "EMAIL_PROVIDER", "carrier-pigeon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q: want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_PostgresRequiresPassword(t *testing.T) {
	setRequired(t)
	t.Setenv("CREDENTIAL_STORE", "postgres")
	t.Setenv("DB_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() without DB_PASSWORD for postgres store: want error")
	}

	t.Setenv("DB_PASSWORD", "test")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if !cfg.UsesPostgres() {
		t.Error("UsesPostgres() = false, want true")
	}
}

func TestLoadDatabase_IgnoresServiceSecrets(t *testing.T) {
	t.Setenv("RESET_TOKEN_SECRET", "")
	t.Setenv("ADMIN_API_KEY", "")
	t.Setenv("DB_PASSWORD", "")

	if _, err := LoadDatabase(); err == nil {
		t.Fatal("LoadDatabase() without DB_PASSWORD: want error")
	}

	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("DB_NAME", "pitlane_test")
	db, err := LoadDatabase()
	if err != nil {
		t.Fatalf("LoadDatabase() = %v, want nil", err)
	}
	if db.Name != "pitlane_test" {
		t.Errorf("Name: got %q, want %q", db.Name, "pitlane_test")
	}
}

func TestLoad_KMSRequiresWrappedKey(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_ENCRYPTION_KEYS", "")
	t.Setenv("OTP_KMS_KEY_ARN", "arn:aws:kms:us-east-1:111122223333:key/abcd")

	if _, err := Load(); err == nil {
		t.Fatal("Load() without OTP_KMS_WRAPPED_KEY: want error")
	}

	t.Setenv("OTP_KMS_WRAPPED_KEY", "d3JhcHBlZA==")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
}

func TestValidateSecret_ProductionLength(t *testing.T) {
	if err := validateSecret("X", "sixteen-chars-ok", "development"); err != nil {
		t.Errorf("development: got %v, want nil", err)
	}
	if err := validateSecret("X", "sixteen-chars-ok", "production"); err == nil {
		t.Error("production: want error for 16-char secret")
	}
}
