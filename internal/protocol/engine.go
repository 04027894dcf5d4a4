// Package protocol is the session engine: it applies inbound events to the
// membership store and group registry and decides who hears about it.
//
// All state is owned by one goroutine (Run). Transport goroutines hand it
// events through Submit; nothing else touches the stores.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/session-coordinator/internal/membership"
	"github.com/example/session-coordinator/internal/models"
	"github.com/example/session-coordinator/internal/observability"
	"github.com/example/session-coordinator/internal/registry"
)

// Recorder receives ride snapshots. It must not block.
type Recorder interface {
	Record(ev models.RideEvent) bool
}

// State is the pair of stores the engine owns.
type State struct {
	Members *membership.Store
	Groups  *registry.Registry
}

func NewState(now func() time.Time) State {
	return State{Members: membership.NewStore(), Groups: registry.New(now)}
}

type Config struct {
	Router    Router
	Journal   Recorder // optional
	Logger    *slog.Logger
	Now       func() time.Time
	QueueSize int
}

type job struct {
	ev *Inbound
	fn func()
}

type Engine struct {
	members *membership.Store
	groups  *registry.Registry
	router  Router
	journal Recorder
	logger  *slog.Logger
	now     func() time.Time

	inbox   chan job
	stopped chan struct{}
}

func New(state State, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Engine{
		members: state.Members,
		groups:  state.Groups,
		router:  cfg.Router,
		journal: cfg.Journal,
		logger:  cfg.Logger,
		now:     cfg.Now,
		inbox:   make(chan job, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

// Run handles queued work one item at a time until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	e.logger.Info("engine started", "queue_size", cap(e.inbox))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return nil
		case j := <-e.inbox:
			if j.fn != nil {
				e.safely("call", j.fn)
				continue
			}
			if err := e.Handle(*j.ev); err != nil {
				e.logger.Warn("event rejected", "event", j.ev.Event, "conn_id", j.ev.ConnID, "error", err)
			}
		}
	}
}

// Submit queues ev for the loop. It blocks while the queue is full.
func (e *Engine) Submit(ctx context.Context, ev Inbound) error {
	return e.enqueue(ctx, job{ev: &ev})
}

// Disconnect queues the cleanup for a closed connection.
func (e *Engine) Disconnect(ctx context.Context, connID string) error {
	return e.Submit(ctx, Inbound{ConnID: connID, Event: EventDisconnect})
}

func (e *Engine) enqueue(ctx context.Context, j job) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- j:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and hands its result back over a channel, so a
// caller that gives up early never shares memory with the loop.
func call[T any](ctx context.Context, e *Engine, fn func() T) (T, error) {
	var zero T
	res := make(chan T, 1)
	if err := e.enqueue(ctx, job{fn: func() {
		var v T
		defer func() { res <- v }()
		v = fn()
	}}); err != nil {
		return zero, err
	}
	select {
	case v := <-res:
		return v, nil
	case <-e.stopped:
		return zero, ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type createResult struct {
	group models.Group
	err   error
}

// CreateRoom pre-registers an empty room.
func (e *Engine) CreateRoom(ctx context.Context, groupID, host string) (models.Group, error) {
	r, err := call(ctx, e, func() createResult {
		g, err := e.groups.Create(groupID, models.KindRoom, host)
		e.updateGauges()
		return createResult{group: g, err: err}
	})
	if err != nil {
		return models.Group{}, err
	}
	if r.err == nil {
		e.logger.Info("room created", "group_id", groupID, "host", host)
	}
	return r.group, r.err
}

// Groups returns a snapshot of every open group.
func (e *Engine) Groups(ctx context.Context) ([]models.Group, error) {
	return call(ctx, e, e.groups.List)
}

// Handle applies a single event. It is exported for the loop and for tests;
// callers outside the loop must not use it concurrently.
func (e *Engine) Handle(ev Inbound) (err error) {
	start := time.Now()
	handler, ok := e.handlerFor(ev.Event)
	if !ok {
		observability.EventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Event)
	}
	defer func() {
		if rec := recover(); rec != nil {
			observability.HandlerPanics.Inc()
			e.logger.Error("panic in event handler", "event", ev.Event, "conn_id", ev.ConnID, "panic", rec)
			err = fmt.Errorf("%s: handler panic: %v", ev.Event, rec)
		}
		result := "ok"
		switch {
		case errors.Is(err, ErrMalformedPayload):
			result = "malformed"
		case err != nil:
			result = "rejected"
		}
		observability.EventsTotal.WithLabelValues(ev.Event, result).Inc()
		observability.EventDuration.WithLabelValues(ev.Event).Observe(time.Since(start).Seconds())
		e.updateGauges()
	}()
	e.logger.Debug("event", "event", ev.Event, "conn_id", ev.ConnID)
	return handler(ev)
}

func (e *Engine) handlerFor(event string) (func(Inbound) error, bool) {
	switch event {
	case EventGoLive, EventActivate:
		return e.activate, true
	case EventReady:
		return e.ready, true
	case EventAccept:
		return e.accept, true
	case EventFindDrivers:
		return e.findDrivers, true
	case EventRequestDriver:
		return e.requestDriver, true
	case EventUpdateRide:
		return e.updateRide, true
	case EventJoinGroup, EventJoinRoom:
		return e.joinGroup, true
	case EventLeaveGroup, EventLeaveRoom:
		return e.leaveGroup, true
	case EventUpdateCode, EventUpdateShared:
		return e.updateCode, true
	case EventCloseGroup, EventCloseRoom:
		return e.closeGroup, true
	case EventDisconnect:
		return e.disconnect, true
	}
	return nil, false
}

func (e *Engine) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.HandlerPanics.Inc()
			e.logger.Error("panic in engine "+what, "panic", rec)
		}
	}()
	fn()
}

func (e *Engine) updateGauges() {
	observability.Participants.Set(float64(e.members.Len()))
	observability.Groups.Set(float64(e.groups.Len()))
}

func (e *Engine) emit(connID, event string, payload any) {
	observability.BroadcastsTotal.WithLabelValues("connection").Inc()
	e.router.Emit(connID, event, payload)
}

func (e *Engine) emitGroup(groupID, event string, payload any) {
	observability.BroadcastsTotal.WithLabelValues("group").Inc()
	e.router.EmitGroup(groupID, event, payload)
}

func (e *Engine) emitOthers(groupID, senderID, event string, payload any) {
	observability.BroadcastsTotal.WithLabelValues("group_except").Inc()
	e.router.EmitGroupExcept(groupID, senderID, event, payload)
}

func (e *Engine) emitAll(event string, payload any) {
	observability.BroadcastsTotal.WithLabelValues("all").Inc()
	e.router.EmitAll(event, payload)
}

func (e *Engine) record(kind string, g models.Group) {
	if e.journal == nil {
		return
	}
	if !e.journal.Record(models.RideEventFromGroup(kind, g, e.now())) {
		e.logger.Warn("ride journal full, event dropped", "ride_id", g.ID, "kind", kind)
	}
}
