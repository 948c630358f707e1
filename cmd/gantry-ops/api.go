// Package main provides the Gantry operational API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/gantry-io/gantry/pkg/persistence"
	"github.com/gantry-io/gantry/pkg/queue"
	"github.com/gantry-io/gantry/pkg/web"
)

type API struct {
	logger     *slog.Logger
	repository persistence.ExecutionRepository
	queue      queue.Queue
	validate   *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	repository persistence.ExecutionRepository,
	q queue.Queue,
) *API {
	return &API{
		logger:     logger,
		repository: repository,
		queue:      q,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.repository, a.queue, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Gantry API")
	})

	e := app.Group("/executions")
	e.Post("/", handlers.SubmitExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)

	// Stage steering endpoints:
	e.Post("/:id/stages/:stageId/restart", handlers.RestartStage)
	e.Post("/:id/stages/:stageId/skip", handlers.SkipStage)
	e.Post("/:id/stages/:stageId/abort", handlers.AbortStage)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
