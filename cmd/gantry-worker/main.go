package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/gantry-io/gantry/pkg/admission"
	"github.com/gantry-io/gantry/pkg/cmd"
	"github.com/gantry-io/gantry/pkg/dispatcher"
	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/expressions"
	"github.com/gantry-io/gantry/pkg/handlers"
	"github.com/gantry-io/gantry/pkg/log"
	"github.com/gantry-io/gantry/pkg/otelhelper"
	"github.com/gantry-io/gantry/pkg/planner"
	"github.com/gantry-io/gantry/pkg/queue"
)

func main() {
	command := &cli.Command{
		Name:                  "gantry-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to process pipeline execution messages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for execution persistence (redis://, postgres://, memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "channel",
				Usage:   "Command channel provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("CHANNEL_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Value:   "",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent message workers",
				Value:   dispatcher.DefaultWorkers,
				Sources: cli.EnvVars("WORKER_COUNT"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Delivery attempts before a message is dead-lettered",
				Value:   dispatcher.DefaultMaxAttempts,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("gantry-worker").With("workerId", workerID)

	logger.InfoContext(ctx, "Initializing Gantry Worker")

	if _, err := otelhelper.NewTracer(ctx, "gantry-worker"); err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracer, continuing without export", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository := cmd.NewRepository(command.String("database-url"), logger)
	defer func() {
		if err := repository.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close repository", "error", err)
		}
	}()

	var waiting admission.WaitingQueue = admission.NewMemory()
	if client := cmd.NewRedisClient(command.String("database-url")); client != nil {
		waiting = admission.NewRedis(client)
	}

	publisher, subscriber := cmd.NewChannel(
		command.String("channel"), "gantry-worker", command.String("kafka-brokers"), logger)

	registry := cmd.NewRegistry(logger)

	h := handlers.New(handlers.Deps{
		Queue:      queue.NewWatermill(publisher, logger),
		Repository: repository,
		Registry:   registry,
		Planner:    planner.New(registry),
		Processor:  expressions.NewProcessor(),
		Events:     events.NewWatermillPublisher(publisher, logger),
		Waiting:    waiting,
		Logger:     logger,
	})

	disp := dispatcher.New(subscriber, queue.NewWatermill(publisher, logger), h, logger, dispatcher.Config{
		Workers:     int(command.Int("workers")),
		MaxAttempts: int(command.Int("max-attempts")),
	})

	if err := disp.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start dispatcher", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Worker started, consuming command topic")

	<-ctx.Done()

	logger.InfoContext(ctx, "Shutting down")

	if err := subscriber.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close subscriber", "error", err)
	}

	disp.Wait()

	return nil
}
