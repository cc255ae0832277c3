package routes

import (
	"github.com/BradenHooton/pitlane/internal/auth"
	"github.com/BradenHooton/pitlane/internal/handlers"
	"github.com/BradenHooton/pitlane/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Password      *handlers.PasswordHandler
	PasswordReset *handlers.PasswordResetHandler
	Admin         *handlers.AdminHandler
	Health        *handlers.HealthHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	rateLimitConfig middleware.RateLimitConfig,
	adminAPIKey string,
) {
	router.Get("/health", h.Health.Health)

	// Public auth routes, rate limited per client IP. OTP issuance has its own
	// per-email limiter on top of this.
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/password/strength", h.Password.CheckStrength)
		r.Post("/auth/password/breach", h.Password.CheckBreach)
		r.Post("/auth/password/change", h.Password.ChangePassword)
		r.Post("/auth/password/reset", h.PasswordReset.CompleteReset)
		r.Post("/auth/register", h.Password.Register)
		r.Post("/auth/login", h.Password.Login)

		r.Post("/auth/otp/request", h.PasswordReset.RequestCode)
		r.Post("/auth/otp/verify", h.PasswordReset.VerifyCode)
		r.Get("/auth/otp/status", h.PasswordReset.Status)
	})

	// Admin console routes
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAdminKey(adminAPIKey))

		r.Post("/admin/passwords/generate", h.Admin.GeneratePassword)
		r.Post("/admin/users/password-reset", h.Admin.ResetUserPassword)
	})
}
