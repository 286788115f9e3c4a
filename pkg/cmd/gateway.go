package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/codagent/flowkit/pkg/gateway"
)

// NewGateway creates the outbound messaging gateway for the given provider:
// "kafka" in production, "gochannel" for local development.
func NewGateway(provider, serviceName string, logger *slog.Logger) (gateway.Gateway, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		publisher, _, err := gateway.CreateKafkaChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka channel: %w", err)
		}

		return gateway.NewWatermillGateway(publisher, logger), nil
	case "gochannel", "":
		publisher, _, err := gateway.CreateGoChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel: %w", err)
		}

		return gateway.NewWatermillGateway(publisher, logger), nil
	default:
		return nil, fmt.Errorf("unsupported gateway provider %q", provider)
	}
}
