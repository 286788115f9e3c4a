// Package cmd holds the shared wiring used by the flowkit binaries:
// persistence, gateway and counter selection from configuration values.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/codagent/flowkit/pkg/persistence/memory"
	"github.com/codagent/flowkit/pkg/persistence/postgresql"
	"github.com/codagent/flowkit/pkg/persistence/rediscounter"
)

// NewPersistence selects the storage backend from the database URL scheme:
// postgres for production, the in-memory store for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case databaseURL == "" || databaseURL == "memory://":
		logger.WarnContext(ctx, "Using in-memory persistence, data will not survive restarts")

		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q", databaseURL)
	}
}

// WithRedisCounters fronts the persistence layer's order-number allocation
// with Redis when a URL is configured; otherwise the store's own counters
// are kept.
func WithRedisCounters(ctx context.Context, logger *slog.Logger, p persistence.Persistence, redisURL string) (persistence.Persistence, error) {
	if redisURL == "" {
		return p, nil
	}

	allocator, err := rediscounter.NewAllocator(ctx, logger, redisURL)
	if err != nil {
		return nil, err
	}

	return &redisCounterPersistence{Persistence: p, counters: allocator}, nil
}

type redisCounterPersistence struct {
	persistence.Persistence

	counters persistence.CounterRepository
}

func (p *redisCounterPersistence) Counters() persistence.CounterRepository {
	return p.counters
}
