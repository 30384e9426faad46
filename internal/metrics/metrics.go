// Package metrics holds the Prometheus collectors of the media pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DerivationsTotal counts derivative writes by label and result (ok|error).
	DerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivations_total",
			Help: "Derivatives produced, by size label and result",
		},
		[]string{"label", "result"},
	)

	DerivationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_derivation_duration_seconds",
			Help:    "Time to decode, resize and store one derivative",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"label"},
	)

	// BackfillTotal counts resolver outcomes (hit|derived|degraded).
	BackfillTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_backfill_total",
			Help: "Backfill resolutions by outcome",
		},
		[]string{"outcome"},
	)

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_derive_queue_depth",
		Help: "Derivation jobs waiting for a worker",
	})

	QueueRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_derive_queue_rejected_total",
		Help: "Derivation jobs dropped because the queue was full",
	})

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Completed uploads by file kind and mode (single|chunked)",
		},
		[]string{"kind", "mode"},
	)

	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_upload_bytes_total",
		Help: "Bytes of completed uploads",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
