package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle scheduler metrics
var (
	// CyclesTotal counts scheduler ticks by outcome (ran, skipped_running, empty)
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cycles_total",
			Help: "Scheduler cycles by outcome",
		},
		[]string{"outcome"},
	)

	// FeedPipelineTotal counts per-feed pipeline runs by status (ok, error, timeout)
	FeedPipelineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_pipeline_runs_total",
			Help: "Per-feed pipeline runs by feed kind and status",
		},
		[]string{"feed", "status"},
	)

	// StageDuration tracks pipeline stage latency in seconds
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"feed", "stage"},
	)

	// ConsecutiveEmptyCycles mirrors the scheduler skip counter
	ConsecutiveEmptyCycles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_consecutive_empty_cycles",
			Help: "Consecutive cycles without any subscriber",
		},
	)
)

// Provider metrics
var (
	// ProviderRequestsTotal counts upstream requests by endpoint and status
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Provider requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// RateLimitWarnings counts responses at or below the rate-limit low-water mark
	RateLimitWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_rate_limit_warnings_total",
			Help: "Provider responses with remaining quota at or below the low-water mark",
		},
	)

	// RateLimitRemaining is the last remaining quota reported by the provider
	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "provider_rate_limit_remaining",
			Help: "Remaining provider quota from the last response",
		},
	)

	// CircuitBreakerState tracks provider breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "provider_circuit_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Bus metrics
var (
	// BusPublishTotal counts published records by topic and status
	BusPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_total",
			Help: "Bus publishes by topic and status",
		},
		[]string{"topic", "status"},
	)

	// BusParseFailures counts tail lines dropped on the consume path
	BusParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_parse_failures_total",
			Help: "Bus records dropped because they could not be parsed",
		},
		[]string{"topic"},
	)

	// BusRecordsDefaulted counts records recovered with default values
	BusRecordsDefaulted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_records_defaulted_total",
			Help: "Bus records accepted after filling default values",
		},
		[]string{"topic"},
	)
)

// Subscriber and broadcast metrics
var (
	// Subscribers tracks live subscribers by feed kind
	Subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_subscribers",
			Help: "Live subscribers by feed kind",
		},
		[]string{"feed"},
	)

	// BroadcastDeliveries counts per-recipient broadcast results
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Broadcast deliveries by feed kind and result",
		},
		[]string{"feed", "result"},
	)
)

// Snapshot poller metrics
var (
	// SnapshotWrites counts snapshot poller persistence attempts by status
	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_writes_total",
			Help: "Snapshot poller writes by status",
		},
		[]string{"status"},
	)
)
