package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// RateLimit throttles a route per caller and activity. It must be attached to the route itself so the
// :activityId parameter is resolved; anonymous callers are keyed by IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   window,
		KeyGenerator: rateLimitKey(identifier),
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many submissions for this activity, please slow down")
		},
	})
}

func rateLimitKey(identifier string) func(c *fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		caller := "ip:" + c.IP()
		if id, ok := c.Locals(LocalsUserID).(uint); ok && id > 0 {
			caller = fmt.Sprintf("user:%d", id)
		}
		return fmt.Sprintf("%s:%s:activity:%s", identifier, caller, c.Params("activityId"))
	}
}
