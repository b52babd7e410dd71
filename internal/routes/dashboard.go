package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vgo-rewards/vgo_portal/internal/gate"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
)

// RegisterDashboardRoutes mounts every /dashboard page behind the route gate.
func RegisterDashboardRoutes(app *fiber.App, requireSession fiber.Handler, h *profile.Handler) {
	dash := app.Group("/dashboard", requireSession)
	dash.Get("/account", h.Get)
	dash.Patch("/account", h.Update)
	dash.Get("/", dashboardPage)
	dash.Get("/*", dashboardPage)
}

// dashboardPage hands the admitted identity to the page shell.
func dashboardPage(c *fiber.Ctx) error {
	identity, ok := gate.IdentityFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "not signed in")
	}
	return c.JSON(fiber.Map{
		"user": fiber.Map{
			"id":    identity.ID,
			"email": identity.Email,
			"phone": identity.Phone,
		},
		"section": c.Params("*"),
	})
}

// RegisterPhoneRoutes exposes the calling code catalogue used by the phone forms.
func RegisterPhoneRoutes(r fiber.Router) {
	r.Get("/phone/codes", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"default": phone.DefaultCallingCode,
			"codes":   phone.Codes(),
		})
	})
}
