// Package server exposes the pairing bot to the chat host over HTTP and WebSocket.
package server

import (
	"context"
	"log"
	"time"

	"dailypair/internal/bot"
	"dailypair/internal/config"
	"dailypair/internal/middleware"
	"dailypair/internal/models"
	"dailypair/internal/notifications"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

// EventHandler runs one chat event and returns the reply, or nil when the
// event is not a command.
type EventHandler interface {
	Handle(ctx context.Context, ev bot.Event) *bot.Reply
}

// Check is one readiness probe, such as a store or Redis ping.
type Check func(ctx context.Context) error

// Server holds the HTTP surface and its dependencies.
type Server struct {
	config         *config.Config
	events         EventHandler
	hub            *notifications.Hub
	checks         map[string]Check
	promMiddleware *fiberprometheus.FiberPrometheus
	app            *fiber.App
}

// NewServer creates a server. hub may be nil, which disables the notice socket.
func NewServer(cfg *config.Config, events EventHandler, hub *notifications.Hub, checks map[string]Check) *Server {
	return &Server{
		config:         cfg,
		events:         events,
		hub:            hub,
		checks:         checks,
		promMiddleware: middleware.InitMetrics("dailypair"),
	}
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "dailypair",
		BodyLimit: 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(middleware.StructuredLogger())

	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics" || c.Path() == "/health/live"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", middleware.BearerAuth(s.config.WebhookSecret))
	api.Post("/events", s.HandleEvent)

	if s.hub != nil {
		api.Get("/ws/notices", s.requireUpgrade, s.NoticeSocketHandler())
	}
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck runs every registered probe.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	status := fiber.StatusOK
	overall := "healthy"
	results := fiber.Map{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = "unhealthy"
			status = fiber.StatusServiceUnavailable
			overall = "unhealthy"
			continue
		}
		results[name] = "healthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": results,
		"time":   time.Now(),
	})
}

// Shutdown stops accepting requests and closes notice subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			log.Printf("error shutting down %s: %v", s.hub.Name(), err)
		}
	}
	return nil
}
