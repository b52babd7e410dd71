package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vgo-rewards/vgo_portal/internal/metrics"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
)

// OTPRateLimit limits code dispatches per normalized phone number using Redis if
// available. Bodies that do not normalize pass through so the handler can report
// the format error.
func OTPRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 3
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		var req struct {
			Phone       string `json:"phone"`
			CallingCode string `json:"calling_code"`
		}
		_ = c.BodyParser(&req)
		number, err := phone.Normalize(req.Phone, req.CallingCode)
		if err != nil {
			return c.Next()
		}
		key := "rl:otp:" + number
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			metrics.OTPDispatch(dispatchPurpose(c.Path()), "rate_limited")
			return fiber.NewError(http.StatusTooManyRequests, "too many code requests, try again later")
		}
		return c.Next()
	}
}

// dispatchPurpose labels a code request by the form it came from.
func dispatchPurpose(path string) string {
	if strings.HasPrefix(path, "/register") {
		return "register"
	}
	return "login"
}
