// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events drained from the queue, threat or not.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Name:      "events_processed_total",
		Help:      "Total number of network events processed.",
	})

	// ThreatsDetected counts confirmed threats.
	ThreatsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Name:      "threats_detected_total",
		Help:      "Total number of confirmed threats.",
	})

	// FalsePositives counts events the analysis stage judged benign.
	FalsePositives = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Name:      "false_positives_total",
		Help:      "Total number of events with a benign verdict.",
	})

	// AnalysisFailures counts events dropped after exhausting analysis retries.
	AnalysisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Name:      "analysis_failures_total",
		Help:      "Total number of events dropped due to analysis failure.",
	})

	// ResponseFailures counts threats whose response dispatch exhausted retries.
	ResponseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Name:      "response_failures_total",
		Help:      "Total number of threats with failed response dispatch.",
	})

	// EventsDropped counts events dropped by queue backpressure.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Name:      "events_dropped_total",
		Help:      "Total number of events dropped under queue overload.",
	})

	// QueueDepth is the current number of events waiting in the queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsentry",
		Name:      "queue_depth",
		Help:      "Current number of events in the processing queue.",
	})

	// PipelineUp is 1 while the pipeline supervisor is running.
	PipelineUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsentry",
		Name:      "pipeline_up",
		Help:      "Whether the monitoring pipeline is running.",
	})
)
