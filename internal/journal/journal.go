// Package journal ships ride snapshots to durable history without making the
// session engine wait on I/O.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/session-coordinator/internal/models"
	"github.com/example/session-coordinator/internal/observability"
)

// Sink is where ride events end up (Kafka, Postgres, Redis, memory).
type Sink interface {
	RecordRide(ctx context.Context, ev models.RideEvent) error
}

type Journal struct {
	sink     Sink
	queue    chan models.RideEvent
	logger   *slog.Logger
	attempts int
	delay    time.Duration
	timeout  time.Duration
}

func New(sink Sink, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		sink:     sink,
		queue:    make(chan models.RideEvent, buffer),
		logger:   logger,
		attempts: 3,
		delay:    200 * time.Millisecond,
		timeout:  2 * time.Second,
	}
}

// Record queues ev and reports false if the queue was full.
func (j *Journal) Record(ev models.RideEvent) bool {
	select {
	case j.queue <- ev:
		return true
	default:
		observability.JournalDropped.Inc()
		return false
	}
}

// Run drains the queue into the sink until ctx is done, then flushes what
// is already queued.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case ev := <-j.queue:
			j.write(ctx, ev)
		case <-ctx.Done():
			j.flush()
			return
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	for {
		select {
		case ev := <-j.queue:
			j.write(ctx, ev)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, ev models.RideEvent) {
	if err := WithRetry(ctx, j.attempts, j.delay, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()
		return j.sink.RecordRide(wctx, ev)
	}); err != nil {
		observability.JournalErrors.Inc()
		j.logger.Error("ride journal write failed", "ride_id", ev.RideID, "kind", ev.Kind, "error", err)
		return
	}
	observability.JournalWrites.Inc()
}

// WithRetry calls fn up to attempts times, doubling delay between tries.
func WithRetry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
