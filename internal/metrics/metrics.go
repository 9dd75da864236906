// Package metrics exposes the Prometheus counters/gauges/histograms
// served alongside the admin JSON status endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_http_requests_total",
			Help: "Total number of HTTP requests per route and status code",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds per route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestor_queue_depth",
			Help: "Number of batches currently parked in the queue",
		},
	)

	QueueActiveSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestor_queue_active_slots",
			Help: "Number of batches currently occupying an execution slot",
		},
	)

	BatchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestor_batch_duration_seconds",
			Help:    "Wall-clock duration of a completed batch, from dequeue to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // ~1s .. ~2.3h
		},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_batches_total",
			Help: "Total number of batches reaching a terminal state, by outcome",
		},
		[]string{"outcome"}, // completed | failed | timed_out
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestor_websocket_connections",
			Help: "Number of currently connected WebSocket clients",
		},
	)
)
