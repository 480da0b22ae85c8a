package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. All metrics are low-cardinality (no camera_id/user_id
// labels; per-camera state lives in the Redis status cache instead).

var (
	// FramesReadTotal counts frames pulled from stream handlers
	FramesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nvr_frames_read_total",
			Help: "Total frames read by detection loops",
		},
	)

	// InferenceTotal counts detector inference runs by backend
	InferenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvr_inference_total",
			Help: "Total detector inference runs by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	// InferenceLatency tracks detector latency
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvr_inference_latency_ms",
			Help:    "Detector inference latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2500},
		},
		[]string{"backend"},
	)

	// EventsCreatedTotal counts persisted events by source path
	EventsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvr_events_created_total",
			Help: "Total events created by source (detector or safety_scan)",
		},
		[]string{"source", "severity"},
	)

	// EventsSuppressedTotal counts detections dropped before event creation
	EventsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvr_events_suppressed_total",
			Help: "Detections suppressed before event creation",
		},
		[]string{"reason"},
	)

	// EnrichmentTotal counts VLM enrichment outcomes
	EnrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvr_enrichment_total",
			Help: "VLM enrichment attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// SafetyScanTotal counts safety scan verdict outcomes
	SafetyScanTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvr_safety_scan_total",
			Help: "Safety scan verdicts by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveLoops is the number of live per-camera detection loops
	ActiveLoops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nvr_active_detection_loops",
			Help: "Number of live per-camera detection loops",
		},
	)

	// StreamReconnectsTotal counts stream handler reconnect attempts
	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nvr_stream_reconnects_total",
			Help: "Total stream handler reconnect attempts",
		},
	)
)

func RecordInference(backend string, ok bool, latencyMs float64) {
	outcome := "success"
	if !ok {
		outcome = "fail"
	}
	InferenceTotal.WithLabelValues(backend, outcome).Inc()
	if ok {
		InferenceLatency.WithLabelValues(backend).Observe(latencyMs)
	}
}

func RecordEventCreated(source string, severity string) {
	EventsCreatedTotal.WithLabelValues(source, severity).Inc()
}

func RecordSuppressed(reason string) {
	EventsSuppressedTotal.WithLabelValues(reason).Inc()
}

func RecordEnrichment(tier, outcome string) {
	EnrichmentTotal.WithLabelValues(tier, outcome).Inc()
}

func RecordSafetyScan(outcome string) {
	SafetyScanTotal.WithLabelValues(outcome).Inc()
}
