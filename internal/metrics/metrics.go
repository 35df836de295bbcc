// Package metrics provides Prometheus instrumentation for marketd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts marketplace events accepted by the ingestor,
	// partitioned by event kind.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_events_ingested_total",
		Help: "Marketplace events accepted into the event log",
	}, []string{"kind"})

	// EventsDeduplicated counts events fetched from the chain that were
	// already present in the event log.
	EventsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_events_deduplicated_total",
		Help: "Fetched events skipped because they were already recorded",
	}, []string{"kind"})

	// EventsDiscarded counts terminal events dropped as no-ops because no
	// active listing instance matched their key.
	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_events_discarded_total",
		Help: "Sold/Cancelled events discarded with no matching active listing",
	}, []string{"kind"})

	// EventsOutOfOrder counts batches rejected by the reducer for violating
	// the (block, log index) total order.
	EventsOutOfOrder = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_events_out_of_order_total",
		Help: "Event batches rejected for out-of-order delivery",
	})

	// EventsMalformed counts chain logs the boundary decoder rejected.
	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_events_malformed_total",
		Help: "Chain logs that could not be decoded into marketplace events",
	})

	// ActiveListings tracks the number of currently active listings.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketd_active_listings",
		Help: "Number of currently active listings in the read model",
	})

	// MetadataFailures counts non-fatal enrichment failures.
	MetadataFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_metadata_failures_total",
		Help: "Listing enrichment attempts that degraded to empty metadata",
	})

	// ChainRequests counts chain RPC calls by method and outcome.
	ChainRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_chain_requests_total",
		Help: "Chain RPC requests",
	}, []string{"method", "outcome"})

	// StakingOps counts ledger mutations by operation and outcome.
	StakingOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_staking_ops_total",
		Help: "Staking ledger operations",
	}, []string{"op", "outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// IngestCycleDuration tracks how long one full ingest cycle takes.
	IngestCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketd_ingest_cycle_duration_seconds",
		Help:    "Duration of one fetch+reduce ingest cycle",
		Buckets: prometheus.DefBuckets,
	})
)
