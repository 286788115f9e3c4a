// Package main provides the flowkit API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/codagent/flowkit/pkg/dispatcher"
	"github.com/codagent/flowkit/pkg/engine"
	"github.com/codagent/flowkit/pkg/gateway"
	"github.com/codagent/flowkit/pkg/oracle"
	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/codagent/flowkit/pkg/services"
	"github.com/codagent/flowkit/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	gateway     gateway.Gateway
	tracer      trace.Tracer
}

func NewAPI(logger *slog.Logger, p persistence.Persistence, g gateway.Gateway, tracer trace.Tracer) *API {
	return &API{
		logger:      logger,
		persistence: p,
		gateway:     g,
		tracer:      tracer,
	}
}

func (a *API) App() *fiber.App {
	var engineOpts []engine.Option

	var dispatcherOpts []dispatcher.Option

	if a.tracer != nil {
		engineOpts = append(engineOpts, engine.WithTracer(a.tracer))
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithTracer(a.tracer))
	}

	decider := oracle.NewAdapter(a.logger)
	eng := engine.NewEngine(a.persistence, decider, a.gateway, a.logger, engineOpts...)
	disp := dispatcher.NewDispatcher(a.persistence, eng, a.logger, dispatcherOpts...)

	handlers := web.NewAPIHandlers(
		services.NewOrders(a.persistence, eng, a.logger),
		services.NewMessaging(a.persistence, a.gateway, a.logger),
		services.NewWorkflows(a.persistence, a.logger),
		services.NewTenants(a.persistence, a.logger),
		disp,
		a.persistence,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", handlers.HealthCheck)

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowkit API")
	})

	orders := app.Group("/orders", web.RequireTenant)
	orders.Post("/", handlers.CreateOrder)
	orders.Get("/:id", handlers.GetOrder)
	orders.Get("/:id/runs", handlers.ListOrderRuns)

	app.Post("/messages/inbound", handlers.IngestInbound, web.RequireTenant)
	app.Get("/conversations/:id/messages", handlers.ConversationHistory, web.RequireTenant)

	app.Post("/timers/sweep", handlers.SweepTimers)

	runs := app.Group("/runs", web.RequireTenant)
	runs.Get("/:id", handlers.GetRun)
	runs.Post("/:id/advance", handlers.AdvanceRun)

	workflows := app.Group("/workflows", web.RequireTenant)
	workflows.Post("/", handlers.CreateWorkflow)
	workflows.Get("/", handlers.ListWorkflows)
	workflows.Get("/:id", handlers.GetWorkflow)
	workflows.Post("/:id/versions", handlers.AddWorkflowVersion)
	workflows.Post("/:id/versions/:versionId/publish", handlers.PublishWorkflowVersion)

	app.Post("/tenants/:id/credential", handlers.SetTenantCredential)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
