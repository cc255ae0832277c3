package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Email providers
const (
	EmailProviderLog = "log"
	EmailProviderSES = "ses"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Password PasswordConfig
	OTP      OTPConfig
	Reset    ResetConfig
	Email    EmailConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// per-IP requests per minute on the auth endpoints
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type StorageConfig struct {
	CredentialStore string // memory | postgres
	OTPStore        string // memory | postgres | redis
}

type PasswordConfig struct {
	BcryptCost         int
	BreachCheckEnabled bool
	BreachAPIURL       string
	BreachTimeout      time.Duration
	BreachUserAgent    string

	// login response padding, see auth.TimingDelay
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
}

type OTPConfig struct {
	ExpiryMinutes   int
	MaxAttempts     int
	MaxPerWindow    int
	Window          time.Duration
	MinSpacing      time.Duration
	HistorySize     int
	ResendThreshold time.Duration
	CleanupInterval time.Duration

	// Record encryption. Either a static key ring or a KMS-wrapped data key.
	EncryptionKeys string // "id:base64key,id2:base64key"
	ActiveKeyID    string
	KMSKeyARN      string
	KMSWrappedKey  string // base64 CiphertextBlob
}

type ResetConfig struct {
	TokenSecret string
	GrantExpiry time.Duration
	Issuer      string
}

type EmailConfig struct {
	Provider    string
	FromAddress string
	AWSRegion   string
	AppName     string
}

type AdminConfig struct {
	APIKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Env:                env,
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:     parseAllowedOrigins(env),
			TrustedProxies:     splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 20),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "pitlane"),
		},
		Storage: StorageConfig{
			CredentialStore: strings.ToLower(getEnv("CREDENTIAL_STORE", StoreMemory)),
			OTPStore:        strings.ToLower(getEnv("OTP_STORE", StoreMemory)),
		},
		Password: PasswordConfig{
			BcryptCost:          getEnvAsInt("BCRYPT_COST", 12),
			BreachCheckEnabled:  getEnvAsBool("BREACH_CHECK_ENABLED", true),
			BreachAPIURL:        getEnv("BREACH_API_URL", "https://api.pwnedpasswords.com/range/"),
			BreachTimeout:       getEnvAsDuration("BREACH_TIMEOUT", 5*time.Second),
			BreachUserAgent:     getEnv("BREACH_USER_AGENT", "pitlane-auth"),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		OTP: OTPConfig{
			ExpiryMinutes:   getEnvAsInt("OTP_EXPIRY_MINUTES", 10),
			MaxAttempts:     getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			MaxPerWindow:    getEnvAsInt("OTP_MAX_PER_HOUR", 3),
			Window:          getEnvAsDuration("OTP_RATE_WINDOW", time.Hour),
			MinSpacing:      getEnvAsDuration("OTP_MIN_SPACING", 2*time.Minute),
			HistorySize:     getEnvAsInt("OTP_HISTORY_SIZE", 10),
			ResendThreshold: getEnvAsDuration("OTP_RESEND_THRESHOLD", 5*time.Minute),
			CleanupInterval: getEnvAsDuration("OTP_CLEANUP_INTERVAL", 5*time.Minute),
			EncryptionKeys:  getEnv("OTP_ENCRYPTION_KEYS", ""),
			ActiveKeyID:     getEnv("OTP_ACTIVE_KEY_ID", ""),
			KMSKeyARN:       getEnv("OTP_KMS_KEY_ARN", ""),
			KMSWrappedKey:   getEnv("OTP_KMS_WRAPPED_KEY", ""),
		},
		Reset: ResetConfig{
			TokenSecret: getEnv("RESET_TOKEN_SECRET", ""),
			GrantExpiry: getEnvAsDuration("RESET_GRANT_EXPIRY", 15*time.Minute),
			Issuer:      getEnv("RESET_TOKEN_ISSUER", "pitlane"),
		},
		Email: EmailConfig{
			Provider:    strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderLog)),
			FromAddress: getEnv("EMAIL_FROM", "no-reply@pitlane.local"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			AppName:     getEnv("APP_NAME", "Pitlane Racing"),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the Postgres settings, for tools such as the
// migration runner that need nothing else
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	db := loadDatabaseConfig()
	if db.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	return &db, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "pitlane"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

func (c *Config) validate() error {
	switch c.Storage.CredentialStore {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be %q or %q", StoreMemory, StorePostgres)
	}
	switch c.Storage.OTPStore {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("OTP_STORE must be one of %q, %q, %q", StoreMemory, StorePostgres, StoreRedis)
	}
	if c.UsesPostgres() && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}

	switch c.Email.Provider {
	case EmailProviderLog, EmailProviderSES:
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q", EmailProviderLog, EmailProviderSES)
	}

	if c.OTP.KMSKeyARN == "" && c.OTP.EncryptionKeys == "" {
		return fmt.Errorf("OTP_ENCRYPTION_KEYS is required unless OTP_KMS_KEY_ARN is set")
	}
	if c.OTP.KMSKeyARN != "" && c.OTP.KMSWrappedKey == "" {
		return fmt.Errorf("OTP_KMS_WRAPPED_KEY is required with OTP_KMS_KEY_ARN")
	}
	if c.OTP.ExpiryMinutes <= 0 || c.OTP.MaxAttempts <= 0 || c.OTP.MaxPerWindow <= 0 {
		return fmt.Errorf("OTP expiry, attempts and hourly cap must be positive")
	}
	if c.OTP.HistorySize < c.OTP.MaxPerWindow {
		return fmt.Errorf("OTP_HISTORY_SIZE must be at least OTP_MAX_PER_HOUR")
	}

	if err := validateSecret("RESET_TOKEN_SECRET", c.Reset.TokenSecret, c.Server.Env); err != nil {
		return err
	}
	if err := validateSecret("ADMIN_API_KEY", c.Admin.APIKey, c.Server.Env); err != nil {
		return err
	}
	return nil
}

// UsesPostgres reports whether any store is backed by Postgres
func (c *Config) UsesPostgres() bool {
	return c.Storage.CredentialStore == StorePostgres || c.Storage.OTPStore == StorePostgres
}

// validateSecret enforces minimum security standards for signing secrets and API keys
func validateSecret(name, secret, env string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}

	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
