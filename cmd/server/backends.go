package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/session-coordinator/internal/config"
	httpapi "github.com/example/session-coordinator/internal/http"
	"github.com/example/session-coordinator/internal/journal"
	"github.com/example/session-coordinator/internal/storage"
	"github.com/example/session-coordinator/internal/stream"
)

type backends struct {
	name    string
	sink    journal.Sink
	history httpapi.HistoryReader
	checks  map[string]httpapi.Pinger
	closers []func() error
}

func (b *backends) close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("backend close", "error", err)
		}
	}
}

// openBackends picks the ride journal sink: Kafka, then Postgres, then
// Redis, then memory. A backend that cannot be reached is logged and
// skipped; the in-memory store is always available.
func openBackends(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) *backends {
	b := &backends{checks: map[string]httpapi.Pinger{}}

	if len(cfg.KafkaBrokers) > 0 {
		kp := stream.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		b.closers = append(b.closers, kp.Close)
		b.name, b.sink = "kafka", kp
		return b
	}

	if cfg.PGDSN != "" {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ps, err := storage.NewPostgresStore(pctx, cfg.PGDSN)
		cancel()
		if err != nil {
			logger.Warn("postgres unavailable, trying next sink", "error", err)
		} else {
			if cfg.RunMigrations {
				if err := ps.Migrate(ctx, cfg.MigrationFile); err != nil {
					logger.Error("migration failed", "file", cfg.MigrationFile, "error", err)
				} else {
					logger.Info("migration applied", "file", cfg.MigrationFile)
				}
			}
			b.closers = append(b.closers, ps.Close)
			b.checks["postgres"] = ps
			b.name, b.sink, b.history = "postgres", ps, ps
			return b
		}
	}

	if cfg.RedisAddr != "" {
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix, cfg.RideArchiveTTL)
		b.closers = append(b.closers, rs.Close)
		b.checks["redis"] = rs
		b.name, b.sink, b.history = "redis", rs, rs
		return b
	}

	mem := storage.NewMemoryStore(storage.DefaultHistoryLimit, cfg.MemoryMaxRides)
	b.name, b.sink, b.history = "memory", mem, mem
	return b
}
