package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	submitPrefix     = "submit:v1:"
	inProgressMarker = "__in_progress__"
)

// SubmitKeyFunc identifies the visitor whose submissions are serialized. An empty
// key disables the guard for that request.
type SubmitKeyFunc func(c *fiber.Ctx) string

// CookieKey keys submissions by the value of a cookie, falling back to the client IP.
func CookieKey(name string) SubmitKeyFunc {
	return func(c *fiber.Ctx) string {
		if v := strings.TrimSpace(c.Cookies(name)); v != "" {
			return v
		}
		return c.IP()
	}
}

// SingleSubmit rejects a form submission while an identical one from the same visitor
// is still in flight, so a double tap cannot issue two OTP dispatches. The
// reservation lives in Redis for at most ttl and is released when the request ends.
func SingleSubmit(cache *redis.Client, ttl time.Duration, logger *slog.Logger, keyFn SubmitKeyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		key := keyFn(c)
		if key == "" {
			return c.Next()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		cacheKey := submitPrefix + c.Path() + ":" + key
		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Warn("submit reservation failed, continuing unguarded", slog.String("path", c.Path()), slog.Any("error", err))
			return c.Next()
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "request already in progress")
		}

		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := cache.Del(cleanupCtx, cacheKey).Err(); err != nil {
				logger.Warn("submit reservation release failed", slog.String("path", c.Path()), slog.Any("error", err))
			}
		}()
		return c.Next()
	}
}
