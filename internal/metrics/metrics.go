// Package metrics holds the prometheus collectors shared by the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// External classifier metrics
	ClassifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_classifier_calls_total",
			Help: "Total number of external classifier calls",
		},
		[]string{"op", "status"}, // status: ok, transport, empty, decode, schema
	)

	ClassifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekap_classifier_duration_seconds",
			Help:    "External classifier call duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"op"},
	)

	// Marker detection metrics
	MarkerDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_marker_detections_total",
			Help: "Marker lookups by resolving tier and tag",
		},
		[]string{"tier", "tag"}, // tier: 0 when nothing was found
	)

	MarkerBudgetSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rekap_marker_budget_spent_total",
			Help: "Marker probe budget units spent",
		},
	)

	// Page handling metrics
	Pages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_pages_total",
			Help: "Pages handled per pipeline stage",
		},
		[]string{"stage", "outcome"}, // stage: recap, attach; outcome: accepted, rejected, attached, unassigned, skipped
	)

	// Ingestion metrics
	Ingestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekap_ingestions_total",
			Help: "Total number of document ingestions",
		},
		[]string{"type", "status"}, // type: pdf, image
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rekap_ingest_duration_seconds",
			Help:    "Document ingestion duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"type"},
	)
)
