package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRateLimitKeysByUserAndActivity(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id, err := strconv.ParseUint(c.Get("X-Test-User"), 10, 64); err == nil {
			c.Locals(LocalsUserID, uint(id))
		}
		return c.Next()
	})
	app.Post("/activities/:activityId/submissions", RateLimit("submit", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	submit := func(user, activity string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/activities/"+activity+"/submissions", nil)
		req.Header.Set("X-Test-User", user)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	require.Equal(t, fiber.StatusOK, submit("7", "1").StatusCode)
	limited := submit("7", "1")
	require.Equal(t, fiber.StatusTooManyRequests, limited.StatusCode)
	require.NotEmpty(t, limited.Header.Get(fiber.HeaderRetryAfter))

	require.Equal(t, fiber.StatusOK, submit("7", "2").StatusCode)
	require.Equal(t, fiber.StatusOK, submit("8", "1").StatusCode)
}
