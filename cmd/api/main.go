package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/pitlane/internal/auth"
	"github.com/BradenHooton/pitlane/internal/background"
	"github.com/BradenHooton/pitlane/internal/config"
	"github.com/BradenHooton/pitlane/internal/database"
	"github.com/BradenHooton/pitlane/internal/handlers"
	middlewareCustom "github.com/BradenHooton/pitlane/internal/middleware"
	"github.com/BradenHooton/pitlane/internal/repositories"
	"github.com/BradenHooton/pitlane/internal/routes"
	"github.com/BradenHooton/pitlane/internal/services"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
)

// stores holds the selected repository backends and whatever needs closing
type stores struct {
	credentials services.CredentialRepository
	otps        services.OTPRepository
	issuances   services.IssuanceRepository
	checkers    []handlers.HealthChecker
	closers     []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("credential_store", cfg.Storage.CredentialStore),
		slog.String("otp_store", cfg.Storage.OTPStore))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := openStores(cfg, logger)
	if err != nil {
		cancel()
		logger.Error("failed to open stores", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	// OTP records are sealed before they reach any store
	keys, err := loadKeyRing(ctx, cfg)
	if err != nil {
		cancel()
		logger.Error("failed to load otp encryption keys", slog.Any("error", err))
		os.Exit(1)
	}
	sealer := auth.NewRecordCipher(keys)

	emailService, err := newEmailService(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Initialize services
	limiter := services.NewIssuanceLimiter(st.issuances, services.IssuanceLimitConfig{
		MaxPerWindow: cfg.OTP.MaxPerWindow,
		Window:       cfg.OTP.Window,
		MinSpacing:   cfg.OTP.MinSpacing,
		HistorySize:  cfg.OTP.HistorySize,
	}, logger)

	otpService := services.NewOTPService(st.otps, limiter, sealer, services.OTPConfig{
		ExpiryMinutes:   cfg.OTP.ExpiryMinutes,
		MaxAttempts:     cfg.OTP.MaxAttempts,
		ResendThreshold: cfg.OTP.ResendThreshold,
	}, logger, auditLogger)

	breachService := services.NewBreachService(services.BreachConfig{
		Enabled:   cfg.Password.BreachCheckEnabled,
		APIURL:    cfg.Password.BreachAPIURL,
		Timeout:   cfg.Password.BreachTimeout,
		UserAgent: cfg.Password.BreachUserAgent,
	}, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Password.TimingDelayBaseMs,
		RandomDelayMs: cfg.Password.TimingDelayRandomMs,
	})

	passwordService := services.NewPasswordService(
		st.credentials,
		breachService,
		pkgauth.NewHasher(cfg.Password.BcryptCost),
		timingDelay,
		logger,
		auditLogger,
	)

	grants := auth.NewResetTokenManager(cfg.Reset.TokenSecret, cfg.Reset.GrantExpiry, cfg.Reset.Issuer)

	resetService := services.NewPasswordResetService(
		st.credentials,
		passwordService,
		otpService,
		grants,
		emailService,
		cfg.OTP.ExpiryMinutes,
		logger,
		auditLogger,
	)
	adminService := services.NewAdminService(passwordService, otpService, logger, auditLogger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Password:      handlers.NewPasswordHandler(passwordService, breachService, logger),
		PasswordReset: handlers.NewPasswordResetHandler(resetService, otpService, ipConfig, logger),
		Admin:         handlers.NewAdminHandler(adminService, ipConfig, logger),
		Health:        handlers.NewHealthHandler(st.checkers...),
	}

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router. Client IPs come from pkghttp.ExtractClientIP, which only
	// trusts forwarding headers from configured proxies, so chi's RealIP is not used.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, h, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.RateLimitPerMinute,
		IPConfig:          ipConfig,
	}, cfg.Admin.APIKey)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(otpService, logger, cfg.OTP.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStores connects the configured backends. Postgres is opened once and
// shared when both stores use it.
func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	var db *database.DB
	if cfg.UsesPostgres() {
		conn, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		db = conn
		st.closers = append(st.closers, db.Close)
		st.checkers = append(st.checkers, db)
	}

	switch cfg.Storage.CredentialStore {
	case config.StorePostgres:
		st.credentials = repositories.NewCredentialRepository(db)
	default:
		logger.Warn("credentials are held in memory and lost on restart")
		st.credentials = repositories.NewMemoryCredentialRepository()
	}

	switch cfg.Storage.OTPStore {
	case config.StorePostgres:
		st.otps = repositories.NewOTPRepository(db)
		st.issuances = repositories.NewOTPIssuanceRepository(db)
	case config.StoreRedis:
		rdb, err := database.NewRedis(&cfg.Redis, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		st.closers = append(st.closers, rdb.Close)
		st.checkers = append(st.checkers, rdb)
		st.otps = repositories.NewRedisOTPRepository(rdb.Client, cfg.Redis.Prefix)
		st.issuances = repositories.NewRedisOTPIssuanceRepository(rdb.Client, cfg.Redis.Prefix)
	default:
		st.otps = repositories.NewMemoryOTPRepository()
		st.issuances = repositories.NewMemoryOTPIssuanceRepository()
	}

	return st, nil
}

// loadKeyRing unwraps the KMS data key when configured, otherwise parses the
// static key list
func loadKeyRing(ctx context.Context, cfg *config.Config) (auth.KeyProvider, error) {
	if cfg.OTP.KMSKeyARN == "" {
		return auth.ParseKeyRing(cfg.OTP.EncryptionKeys, cfg.OTP.ActiveKeyID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Email.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return auth.NewKMSKeyRing(ctx, kms.NewFromConfig(awsCfg), cfg.OTP.KMSKeyARN, cfg.OTP.KMSWrappedKey)
}

func newEmailService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.EmailService, error) {
	if cfg.Email.Provider == config.EmailProviderSES {
		return services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.AppName, logger)
	}
	logger.Warn("email provider is log, codes are not delivered")
	return services.NewLogEmailService(logger, cfg.Server.Env), nil
}
