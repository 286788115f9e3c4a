// Package main provides the flowkit timer sweeper: it runs the dispatcher
// once or on a cron schedule.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/codagent/flowkit/pkg/cmd"
	"github.com/codagent/flowkit/pkg/dispatcher"
	"github.com/codagent/flowkit/pkg/engine"
	"github.com/codagent/flowkit/pkg/log"
	"github.com/codagent/flowkit/pkg/oracle"
	"github.com/codagent/flowkit/pkg/otelhelper"
)

const defaultSchedule = "@every 1m"

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "flowkit-sweeper",
		Usage:                 "Process due workflow timers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway",
				Usage:   "Outbound message gateway (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("GATEWAY"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule for sweeps",
				Value:   defaultSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit",
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

			logger.InfoContext(ctx, "Initializing flowkit sweeper")

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

			messageGateway, err := cmd.NewGateway(command.String("gateway"), "flowkit-sweeper", logger)
			if err != nil {
				return err
			}

			var engineOpts []engine.Option

			var dispatcherOpts []dispatcher.Option

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "flowkit-sweeper")
				if err != nil {
					return err
				}

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
				dispatcherOpts = append(dispatcherOpts, dispatcher.WithTracer(tracer))
			}

			eng := engine.NewEngine(store, oracle.NewAdapter(logger), messageGateway, logger, engineOpts...)
			disp := dispatcher.NewDispatcher(store, eng, logger, dispatcherOpts...)

			if command.Bool("once") {
				result, err := disp.Sweep(ctx, time.Now().UTC())
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Sweep done",
					"found", result.Found, "processed", result.Processed)

				return nil
			}

			return runScheduled(ctx, logger, disp, command.String("schedule"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Sweeper exited", "error", err)
		os.Exit(1)
	}
}

func runScheduled(ctx context.Context, logger *slog.Logger, disp *dispatcher.Dispatcher, schedule string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()

	_, err := scheduler.AddFunc(schedule, func() {
		result, err := disp.Sweep(ctx, time.Now().UTC())
		if err != nil {
			logger.ErrorContext(ctx, "Sweep failed", "error", err)

			return
		}

		logger.InfoContext(ctx, "Sweep done",
			"found", result.Found, "processed", result.Processed)
	})
	if err != nil {
		return err
	}

	scheduler.Start()
	logger.InfoContext(ctx, "Sweeper started", "schedule", schedule)

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	return nil
}
