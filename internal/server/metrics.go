package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job metrics
	jobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rekap_jobs_active",
			Help: "Number of ingestion jobs currently running",
		},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_jobs_finished_total",
			Help: "Total number of finished ingestion jobs",
		},
		[]string{"status"}, // ok, failed
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_rate_limit_hits_total",
			Help: "Total number of rejected job submissions",
		},
		[]string{"type"}, // minute, hour, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rekap_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024, 25 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rekap_websocket_active_connections",
			Help: "Number of active progress WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"}, // progress, completed, error
	)
)
