package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func newRoleApp(role string, guard fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != "" {
			c.Locals(LocalsUserRole, role)
		}
		return c.Next()
	})
	app.Use(guard)
	app.Get("/activity-logs", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireGrader(t *testing.T) {
	cases := []struct {
		role string
		want int
	}{
		{role: "admin", want: fiber.StatusOK},
		{role: "Teacher", want: fiber.StatusOK},
		{role: "student", want: fiber.StatusForbidden},
		{role: "", want: fiber.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			app := newRoleApp(tc.role, RequireGrader())
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/activity-logs", nil))
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestRequireRoleNormalizesAllowedRoles(t *testing.T) {
	app := newRoleApp("student", RequireRole(" Student ", ""))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/activity-logs", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
