package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here. A single binary touches most
// of them anyway, and the unused ones only cost a zero-valued series.
//
// TODO(refactor): When the number of metrics grows significantly, split this
// package into sub-packages (metrics/webhook, metrics/catalog) to isolate
// initialization.

// namespace defines the global prefix for all metrics (e.g., brokkr_...).
const namespace = "brokkr"

// lowLatencyBuckets adds 1ms and 2ms resolution below the standard buckets.
// Rule evaluation and cache hits land well under 5ms, where the default
// buckets are blind. Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// WEBHOOK (HTTP)
	// -------------------------------------------------------------------------

	// WebhookReqDuration measures the latency of webhook HTTP requests.
	// Metric: brokkr_webhook_http_handling_seconds
	WebhookReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle webhook HTTP requests",
		Buckets:   prometheus.DefBuckets, // Platform round-trips dominate; default resolution is enough
	}, []string{"method", "path"})

	// WebhookReqTotal counts webhook HTTP requests by final status code.
	// Metric: brokkr_webhook_http_requests_total
	WebhookReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "http_requests_total",
		Help:      "Total webhook HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// RULE ENGINE
	// -------------------------------------------------------------------------

	// EngineEvaluationsTotal counts rule set evaluations by outcome.
	// Metric: brokkr_engine_evaluations_total
	EngineEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "evaluations_total",
		Help:      "Total rule set evaluations",
	}, []string{"outcome"}) // matched, unmatched

	// EngineEvalDuration measures evaluation latency. Evaluation is pure
	// in-memory work, hence the low latency buckets.
	EngineEvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "evaluation_seconds",
		Help:      "Time taken to evaluate a rule set against one snapshot",
		Buckets:   lowLatencyBuckets,
	})

	// EnginePredicateFaults counts predicate errors and panics. A non-flat
	// curve here means a rule file is shipping broken predicates.
	EnginePredicateFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "predicate_faults_total",
		Help:      "Total predicate errors or panics during evaluation",
	})

	// -------------------------------------------------------------------------
	// FIRMWARE CATALOG (Cache)
	// -------------------------------------------------------------------------

	CatalogHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "cache_hits_total",
		Help:      "Total catalog reads served fresh from memory",
	})

	CatalogMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "cache_misses_total",
		Help:      "Total catalog reads that had to wait on an upstream refresh",
	})

	// CatalogStaleServes tracks soft-failed reads: an expired catalog was
	// returned because the refresh behind it did not produce a fresh one.
	CatalogStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "cache_stale_serves_total",
		Help:      "Total catalog reads answered with expired data after a refresh failure",
	})

	CatalogRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "refresh_failures_total",
		Help:      "Total upstream catalog fetches that failed",
	})

	// CatalogRefreshDuration measures upstream fetch latency, successful
	// or not. Sample count also gives the refresh rate.
	CatalogRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "refresh_duration_seconds",
		Help:      "Time taken to fetch the firmware catalog from the platform",
		Buckets:   prometheus.DefBuckets,
	})

	// -------------------------------------------------------------------------
	// PLATFORM CLIENT
	// -------------------------------------------------------------------------

	// PlatformReqTotal counts platform API calls by operation and outcome.
	// Metric: brokkr_platform_requests_total
	PlatformReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "platform",
		Name:      "requests_total",
		Help:      "Total platform API requests",
	}, []string{"operation", "code"})

	// PlatformReqDuration measures platform API latency per operation,
	// including retries.
	PlatformReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "platform",
		Name:      "request_duration_seconds",
		Help:      "Time taken for platform API requests, retries included",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// -------------------------------------------------------------------------
	// UPDATER (Decisions)
	// -------------------------------------------------------------------------

	// UpdaterActionsTotal counts per-target decision outcomes.
	// Metric: brokkr_updater_actions_total
	UpdaterActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "updater",
		Name:      "actions_total",
		Help:      "Total per-target update decisions",
	}, []string{"target", "status"}) // none, skipped, deferred, requested

	// UpdaterDecisionWrites tracks decision log persistence outcomes.
	// Failures are soft (the decision still happened), so this counter is
	// the only place they are visible in aggregate.
	UpdaterDecisionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "updater",
		Name:      "decision_writes_total",
		Help:      "Total decision log writes",
	}, []string{"status"}) // success, fail

	// -------------------------------------------------------------------------
	// DATABASE (Connection Pool)
	// -------------------------------------------------------------------------

	// DBPoolConnections reports pgx pool sizes by state: max, total, idle,
	// in_use. Sampled by database.RunPoolMonitor rather than collected on
	// scrape, so values can lag by one monitor interval.
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current database pool connections by state",
	}, []string{"state"})

	// DBPoolAcquireCount counts successful connection acquisitions.
	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions from the pool",
	})

	// DBPoolAcquireDuration accumulates the total time spent waiting in
	// Acquire. rate() over this divided by rate() over the acquire count
	// gives the mean wait per acquisition.
	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections from the pool",
	})

	// DBPoolWaitCount counts acquisitions that had to wait for a free
	// connection. A rising curve means the pool is undersized.
	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total connection acquisitions that blocked on an exhausted pool",
	})

	// -------------------------------------------------------------------------
	// WARMER (Background)
	// -------------------------------------------------------------------------

	WarmerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "warmer",
		Name:      "cycles_total",
		Help:      "Total catalog warm cycles",
	}, []string{"status"}) // success, fail
)
