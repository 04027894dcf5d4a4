package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/session-coordinator/internal/config"
	"github.com/example/session-coordinator/internal/journal"
	"github.com/example/session-coordinator/internal/logging"
	"github.com/example/session-coordinator/internal/models"
	"github.com/example/session-coordinator/internal/storage"
	"github.com/example/session-coordinator/internal/stream"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_ride_events_consumed_total",
		Help: "Total ride events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_ride_events_invalid_total",
		Help: "Total invalid messages received",
	})
	archiveWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_archive_writes_total",
		Help: "Total ride events archived",
	})
	archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_archive_errors_total",
		Help: "Total ride events that could not be archived",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, archiveWrites, archiveErrors)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat).With("component", "ride-archiver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		archives []journal.Sink
		checks   = map[string]pinger{}
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		archives = append(archives, ps)
		checks["postgres"] = ps
	}
	if cfg.RedisAddr != "" {
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix, cfg.RideArchiveTTL)
		defer rs.Close()
		archives = append(archives, rs)
		checks["redis"] = rs
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			for name, p := range checks {
				if err := p.Ping(r.Context()); err != nil {
					http.Error(w, name+" not ready", http.StatusServiceUnavailable)
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	c := &consumer{
		reader:   r,
		archives: archives,
		logger:   logger,
		attempts: cfg.WriteAttempts,
		delay:    cfg.RetryDelay,
	}
	c.run(ctx)
	logger.Info("shutting down consumer")
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type consumer struct {
	reader   messageReader
	archives []journal.Sink
	logger   *slog.Logger
	attempts int
	delay    time.Duration
}

// run reads until ctx is done. Read errors back off exponentially up to
// 30s; a successful read resets the backoff.
func (c *consumer) run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		c.handle(ctx, m)
	}
}

func (c *consumer) handle(ctx context.Context, m kafka.Message) {
	msgsConsumed.Inc()

	ev, err := stream.DecodeRideEvent(m)
	if err != nil || ev.RideID == "" {
		msgsInvalid.Inc()
		c.logger.Warn("invalid message", "offset", m.Offset, "error", err)
		return
	}
	// archives retry independently
	for _, s := range c.archives {
		if err := archiveWithRetry(ctx, s, ev, c.attempts, c.delay); err != nil {
			archiveErrors.Inc()
			c.logger.Error("archive failed", "ride_id", ev.RideID, "kind", ev.Kind, "error", err)
			continue
		}
		archiveWrites.Inc()
	}
}

// archiveWithRetry writes ev with retry and exponential backoff.
func archiveWithRetry(ctx context.Context, s journal.Sink, ev models.RideEvent, attempts int, delay time.Duration) error {
	return journal.WithRetry(ctx, attempts, delay, func(ctx context.Context) error {
		return s.RecordRide(ctx, ev)
	})
}
