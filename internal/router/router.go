package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler  *handler.SubmissionHandler
	ActivityLogHandler *handler.ActivityLogHandler
	JWTMiddleware      fiber.Handler
	SubmitRateLimit    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	rateLimit := deps.SubmitRateLimit
	if rateLimit == nil {
		rateLimit = middleware.RateLimit("submit", 20, time.Minute)
	}

	v2 := app.Group("/api/v2", jwtMiddleware)

	if deps.SubmissionHandler != nil {
		activities := v2.Group("/activities")
		deps.SubmissionHandler.RegisterActivityRoutes(activities, rateLimit)

		submissions := v2.Group("/submissions")
		deps.SubmissionHandler.RegisterSubmissionRoutes(submissions)
	}

	if deps.ActivityLogHandler != nil {
		logs := v2.Group("/activity-logs", middleware.RequireGrader())
		deps.ActivityLogHandler.Register(logs)
	}
}
