package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vgo-rewards/vgo_portal/internal/auth"
)

// RegisterAuthRoutes wires the sign-in and registration endpoints. Every form post
// goes through submit; code requests are also rate limited per phone.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, submit, rateLimiter fiber.Handler) {
	r.Post("/login", submit, h.Login)
	r.Get("/login/oauth/:provider", h.OAuthStart)
	r.Get("/auth/callback", h.OAuthCallback)
	r.Get("/login/callback", h.OAuthCallback)

	r.Post("/login-phone/otp", submit, rateLimiter, h.RequestLoginCode)
	r.Post("/login-phone/verify", submit, h.VerifyLoginCode)

	r.Post("/register", submit, h.Register)
	r.Post("/register/otp", submit, rateLimiter, h.RequestRegisterCode)
	r.Post("/register/verify", submit, h.VerifyRegisterCode)

	r.Post("/logout", h.Logout)
}
