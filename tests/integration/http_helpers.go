//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/pitlane/internal/auth"
	"github.com/BradenHooton/pitlane/internal/database"
	"github.com/BradenHooton/pitlane/internal/handlers"
	middlewareCustom "github.com/BradenHooton/pitlane/internal/middleware"
	"github.com/BradenHooton/pitlane/internal/routes"
	"github.com/BradenHooton/pitlane/internal/services"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
)

// SentEmail is a captured OTP delivery
type SentEmail struct {
	To        string
	Code      string
	ExpiresAt time.Time
}

// MockEmailService captures sent codes for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

func (m *MockEmailService) SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentEmails = append(m.SentEmails, SentEmail{To: email, Code: code, ExpiresAt: expiresAt})
	return nil
}

// GetLastEmail returns the most recent delivery, or nil
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

// Count returns the number of deliveries so far
func (m *MockEmailService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentEmails)
}

// TestServer wraps httptest.Server with the Postgres-backed service graph
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	OTPService   *services.OTPService
}

// NewTestServer wires every store to Postgres and mocks email delivery.
// The breach check is disabled so tests never leave the machine.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	auditLogger := pkglogger.NewAuditLogger(logger)

	credentialRepo, otpRepo, issuanceRepo := InitializeRepositories(db)

	keys, err := auth.NewStaticKeyRing("it", map[string][]byte{
		"it": bytes.Repeat([]byte{0x42}, 32),
	})
	if err != nil {
		panic(err)
	}
	sealer := auth.NewRecordCipher(keys)

	mockEmail := &MockEmailService{}

	limiter := services.NewIssuanceLimiter(issuanceRepo, services.DefaultIssuanceLimitConfig(), logger)
	otpService := services.NewOTPService(otpRepo, limiter, sealer, services.DefaultOTPConfig(), logger, auditLogger)
	breachService := services.NewBreachService(services.BreachConfig{Enabled: false}, logger)
	passwordService := services.NewPasswordService(
		credentialRepo,
		breachService,
		pkgauth.NewHasher(bcrypt.MinCost),
		auth.NoTimingDelay(),
		logger,
		auditLogger,
	)
	grants := auth.NewResetTokenManager(testResetSecret, 15*time.Minute, "pitlane")
	resetService := services.NewPasswordResetService(
		credentialRepo, passwordService, otpService, grants, mockEmail, 10, logger, auditLogger,
	)
	adminService := services.NewAdminService(passwordService, otpService, logger, auditLogger)

	ipConfig := &pkghttp.IPConfig{}
	h := routes.Handlers{
		Password:      handlers.NewPasswordHandler(passwordService, breachService, logger),
		PasswordReset: handlers.NewPasswordResetHandler(resetService, otpService, ipConfig, logger),
		Admin:         handlers.NewAdminHandler(adminService, ipConfig, logger),
		Health:        handlers.NewHealthHandler(db),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, h, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: 1000,
		IPConfig:          ipConfig,
	}, testAdminKey)

	return &TestServer{
		Server:       httptest.NewServer(r),
		DB:           db,
		EmailService: mockEmail,
		OTPService:   otpService,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes a JSON request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// AdminRequest makes a request carrying the admin API key
func (ts *TestServer) AdminRequest(method, path string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{"Authorization": "Bearer " + testAdminKey})
}

// ParseJSONResponse decodes the body into target and closes it
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	var errResp pkghttp.ErrorResponse
	if err := ParseJSONResponse(resp, &errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
