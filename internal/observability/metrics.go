package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session_coordinator"

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Inbound events handled, by name and result"},
		[]string{"event", "result"},
	)
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent inside an event handler",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		},
		[]string{"event"},
	)
	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "handler_panics_total", Help: "Panics recovered inside event handlers"})

	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_open", Help: "Live websocket connections"})
	Participants    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "participants", Help: "Activated participants"})
	Groups          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "groups", Help: "Open rides and rooms"})

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcasts_total", Help: "Outbound events by audience"},
		[]string{"audience"},
	)
	SendDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "send_dropped_total", Help: "Frames dropped because a connection's send buffer was full"})

	JournalWrites  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "journal_writes_total", Help: "Ride events written to the journal sink"})
	JournalErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "journal_errors_total", Help: "Ride events the sink rejected after retries"})
	JournalDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "journal_dropped_total", Help: "Ride events dropped because the journal queue was full"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	WSUpgrades = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ws_upgrades_total", Help: "HTTP requests upgraded to websocket sessions"})
)
