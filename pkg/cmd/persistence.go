package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gantry-io/gantry/pkg/persistence"
	"github.com/gantry-io/gantry/pkg/persistence/memory"
	"github.com/gantry-io/gantry/pkg/persistence/postgres"
	"github.com/gantry-io/gantry/pkg/persistence/redis"
)

// NewRepository picks the execution repository from the database URL scheme:
// redis://, postgres:// or memory://.
func NewRepository(databaseURL string, logger *slog.Logger) persistence.ExecutionRepository {
	switch parseProvider(databaseURL) {
	case "redis":
		opts, err := goredis.ParseURL(databaseURL)
		if err != nil {
			panic(fmt.Errorf("invalid redis URL: %w", err))
		}

		return redis.NewRepository(goredis.NewClient(opts))
	case "postgres", "postgresql":
		repository, err := postgres.NewRepository(databaseURL, logger)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		return repository
	default:
		return memory.NewRepository()
	}
}

// NewRedisClient returns a client for components that need raw Redis access,
// like the waiting queue. Returns nil for non-Redis URLs.
func NewRedisClient(databaseURL string) *goredis.Client {
	if parseProvider(databaseURL) != "redis" {
		return nil
	}

	opts, err := goredis.ParseURL(databaseURL)
	if err != nil {
		panic(fmt.Errorf("invalid redis URL: %w", err))
	}

	return goredis.NewClient(opts)
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return provider
}
