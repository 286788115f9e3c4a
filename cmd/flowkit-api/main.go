package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/codagent/flowkit/pkg/cmd"
	"github.com/codagent/flowkit/pkg/log"
	"github.com/codagent/flowkit/pkg/otelhelper"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowkit-api",
		Usage:                 "Order management workflow API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL to front order-number allocation (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway",
				Usage:   "Outbound message gateway (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("GATEWAY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing flowkit API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			store, err = cmd.WithRedisCounters(ctx, logger, store, command.String("redis-url"))
			if err != nil {
				return err
			}

			messageGateway, err := cmd.NewGateway(command.String("gateway"), "flowkit-api", logger)
			if err != nil {
				return err
			}

			api := NewAPI(logger, store, messageGateway, nil)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "flowkit-api")
				if err != nil {
					return err
				}

				api.tracer = tracer
			}

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("API server exited", "error", err)
		os.Exit(1)
	}
}
