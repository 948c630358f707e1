package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/gantry-io/gantry/pkg/cmd"
	"github.com/gantry-io/gantry/pkg/log"
	"github.com/gantry-io/gantry/pkg/queue"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("gantry-ops")

	command := &cli.Command{
		Name:                  "gantry-ops",
		Usage:                 "Submit and steer pipeline executions",
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Gantry API")

			repository := cmd.NewRepository(command.String("database-url"), logger)
			defer func() {
				if err := repository.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close repository", "error", err)
				}
			}()

			publisher, _ := cmd.NewChannel(
				command.String("channel"), "gantry-ops", command.String("kafka-brokers"), logger)
			defer func() {
				if err := publisher.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close publisher", "error", err)
				}
			}()

			api := NewAPI(logger, repository, queue.NewWatermill(publisher, logger))

			if err := api.Start(int(command.Int("port"))); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
