// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/gantry-io/gantry/pkg/channels/gochannel"
	"github.com/gantry-io/gantry/pkg/channels/kafka"
)

// NewChannel builds the command-topic publisher and subscriber for the given
// provider.
func NewChannel(provider, serviceName, brokers string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName, brokers)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return pub, sub
	default:
		panic("unsupported channel provider: " + provider)
	}
}
