// Package gate admits requests to protected pages only when the credential backend
// confirms a live session.
package gate

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
	"github.com/vgo-rewards/vgo_portal/internal/metrics"
)

const (
	AccessCookie  = "vgo-access-token"
	RefreshCookie = "vgo-refresh-token"

	identityKey = "gate.identity"
	tokenKey    = "gate.access_token"
)

// Options tune the gate.
type Options struct {
	// LoginPath is where unauthenticated visitors are sent. Defaults to /login.
	LoginPath string
	Cookies   CookieOptions
	Logger    *slog.Logger
}

// CookieOptions control the session cookies.
type CookieOptions struct {
	Secure     bool
	RefreshTTL time.Duration
}

// Require resolves the session on every request it guards. Visitors without a usable
// session are redirected with an empty body; nothing downstream runs.
func Require(backend credential.Backend, opts Options) fiber.Handler {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if token := accessToken(c); token != "" {
			identity, err := backend.GetUser(ctx, token)
			if err == nil && identity.ID != "" {
				admit(c, identity, token)
				metrics.GateDecision("admitted")
				return c.Next()
			}
			if err != nil {
				opts.Logger.Debug("access token rejected", "path", c.Path(), "error", err)
			}
		}

		if refresh := c.Cookies(RefreshCookie); refresh != "" {
			session, err := backend.RefreshSession(ctx, refresh)
			if err == nil && session.Active() && session.Identity.ID != "" {
				SetSession(c, session, opts.Cookies)
				admit(c, session.Identity, session.AccessToken)
				metrics.GateDecision("refreshed")
				return c.Next()
			}
			opts.Logger.Debug("session refresh failed", "path", c.Path(), "error", err)
		}

		ClearSession(c, opts.Cookies)
		metrics.GateDecision("redirected")
		c.Response().ResetBody()
		return c.Redirect(opts.LoginPath, http.StatusFound)
	}
}

// IdentityFrom returns the identity admitted by Require.
func IdentityFrom(c *fiber.Ctx) (credential.Identity, bool) {
	identity, ok := c.Locals(identityKey).(credential.Identity)
	return identity, ok && identity.ID != ""
}

// AccessTokenFrom returns the access token that admitted the request.
func AccessTokenFrom(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenKey).(string)
	return token
}

// SetSession stores session tokens in HttpOnly cookies.
func SetSession(c *fiber.Ctx, session credential.Session, opts CookieOptions) {
	access := &fiber.Cookie{
		Name:     AccessCookie,
		Value:    session.AccessToken,
		Path:     "/",
		HTTPOnly: true,
		Secure:   opts.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if !session.ExpiresAt.IsZero() {
		access.Expires = session.ExpiresAt
	}
	c.Cookie(access)

	if session.RefreshToken == "" {
		return
	}
	refresh := &fiber.Cookie{
		Name:     RefreshCookie,
		Value:    session.RefreshToken,
		Path:     "/",
		HTTPOnly: true,
		Secure:   opts.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if opts.RefreshTTL > 0 {
		refresh.Expires = time.Now().Add(opts.RefreshTTL)
	}
	c.Cookie(refresh)
}

// ClearSession expires both session cookies.
func ClearSession(c *fiber.Ctx, opts CookieOptions) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		if c.Cookies(name) == "" {
			continue
		}
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HTTPOnly: true,
			Secure:   opts.Secure,
			SameSite: fiber.CookieSameSiteLaxMode,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
}

func admit(c *fiber.Ctx, identity credential.Identity, token string) {
	c.Locals(identityKey, identity)
	c.Locals(tokenKey, token)
}

func accessToken(c *fiber.Ctx) string {
	if token := c.Cookies(AccessCookie); token != "" {
		return token
	}
	authz := c.Get(fiber.HeaderAuthorization)
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
