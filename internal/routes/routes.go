package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vgo-rewards/vgo_portal/internal/auth"
	"github.com/vgo-rewards/vgo_portal/internal/config"
	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/gate"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
	"github.com/vgo-rewards/vgo_portal/internal/metrics"
	"github.com/vgo-rewards/vgo_portal/internal/middleware"
	"github.com/vgo-rewards/vgo_portal/internal/otp"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
	"github.com/vgo-rewards/vgo_portal/internal/provision"
)

const refreshCookieTTL = 7 * 24 * time.Hour

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Backend overrides the credential backend selected by Cfg.
	Backend credential.Backend
	// Profiles overrides the profile store selected by DB.
	Profiles profile.Repository
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(metrics.HTTP())
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// Services and handlers
	backend := d.Backend
	if backend == nil {
		var err error
		if backend, err = newBackend(d.Cfg, d.Logger); err != nil {
			return err
		}
	}

	profileRepo := d.Profiles
	switch {
	case profileRepo != nil:
	case d.DB != nil:
		profileRepo = profile.NewPostgresRepository(d.DB)
	default:
		profileRepo = profile.NewMemoryRepository()
	}

	var challenges otp.Store
	if d.Cache != nil {
		challenges = otp.NewRedisStore(d.Cache, d.Cfg.OTPChallengeTTL)
	} else {
		challenges = otp.NewMemoryStore(d.Cfg.OTPChallengeTTL)
	}

	guard := provision.NewGuard(profileRepo, d.Logger)
	authSvc := auth.NewService(backend, profileRepo, challenges, guard, d.Cfg.OAuthProviders, d.Logger)
	cookies := gate.CookieOptions{Secure: d.Cfg.CookieSecure, RefreshTTL: refreshCookieTTL}
	authHandler := auth.NewHandler(authSvc, auth.HandlerOptions{
		Cookies:     cookies,
		FlowTTL:     d.Cfg.OTPChallengeTTL,
		CallbackURL: d.Cfg.CallbackURL("/auth/callback"),
	})
	profileHandler := profile.NewHandler(profile.NewService(profileRepo))

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterPhoneRoutes(api)

	// Public routes
	submit := middleware.SingleSubmit(d.Cache, d.Cfg.SubmitLockTTL, d.Logger, middleware.CookieKey(auth.FlowCookie))
	rateLimiter := middleware.OTPRateLimit(d.Cache, d.Cfg.OTPDispatchPerMinute)
	RegisterAuthRoutes(app, authHandler, submit, rateLimiter)

	// Protected routes
	requireSession := gate.Require(backend, gate.Options{LoginPath: "/login", Cookies: cookies, Logger: d.Logger})
	RegisterDashboardRoutes(app, requireSession, profileHandler)

	return nil
}
