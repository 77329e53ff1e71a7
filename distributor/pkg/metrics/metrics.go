package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feevault_build_info",
			Help: "Build information of the fee vault distributor",
		},
		[]string{"version", "commit", "date"},
	)

	CrankTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feevault_crank_total",
			Help: "Total number of crank calls",
		},
		[]string{"status", "code"},
	)

	CrankDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feevault_crank_duration_seconds",
			Help:    "Duration of crank calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	DistributedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feevault_distributed_amount_total",
			Help: "Total quote amount transferred, in base units",
		},
		[]string{"recipient"},
	)

	DustCarriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feevault_dust_carried_total",
			Help: "Total quote amount carried between pages as dust",
		},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feevault_events_published_total",
			Help: "Total number of events handed to sinks",
		},
		[]string{"status"},
	)

	CrankerRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feevault_cranker_run_total",
			Help: "Total number of scheduled cranker runs per vault",
		},
		[]string{"status"},
	)

	CrankerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feevault_cranker_run_duration_seconds",
			Help:    "Duration of scheduled cranker runs across all vaults",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~164s
		},
	)

	AuditRowsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feevault_audit_rows_written_total",
			Help: "Total number of audit rows written to ClickHouse",
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feevault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feevault_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
