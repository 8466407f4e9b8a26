// Package metrics defines prometheus metric types for the flow manager and
// measurement lifecycle.
//
// When defining new operations or metrics, these are helpful values to track:
//   - things coming into or going out of the system: flows, frames, results files.
//   - the success or error status of any of the above.
//   - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollingHistogram tracks the interval between flow manager receiver
	// poll cycles.
	PollingHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netperfmeter_polling_interval_histogram",
			Help:    "flow manager poll loop interval distribution (seconds)",
			Buckets: prometheus.LinearBuckets(0, .1, 30),
		},
	)

	// ActiveFlowsGauge tracks the number of flows currently registered with
	// the flow manager.
	ActiveFlowsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netperfmeter_active_flows",
			Help: "Number of flows currently tracked by the flow manager.",
		},
	)

	// ActiveMeasurementsGauge tracks the number of live measurements.
	ActiveMeasurementsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netperfmeter_active_measurements",
			Help: "Number of measurements currently running.",
		},
	)

	// TransmittedBytesCounter counts payload bytes sent, by flow protocol.
	TransmittedBytesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperfmeter_transmitted_bytes_total",
			Help: "Total payload bytes transmitted.",
		}, []string{"protocol"})

	// ReceivedBytesCounter counts payload bytes received, by flow protocol.
	ReceivedBytesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperfmeter_received_bytes_total",
			Help: "Total payload bytes received.",
		}, []string{"protocol"})

	// LostBytesCounter counts bytes the defragmenter attributed to loss.
	LostBytesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperfmeter_lost_bytes_total",
			Help: "Total payload bytes attributed to loss by the defragmenter.",
		}, []string{"protocol"})

	// ErrorCount measures the number of errors, by kind (§7 error kinds).
	//
	// Example usage:
	//   metrics.ErrorCount.WithLabelValues("protocol-violation").Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperfmeter_error_total",
			Help: "The total number of errors encountered, by kind.",
		}, []string{"kind"})

	// ResultsFilesCounter counts Results-message files uploaded over the
	// control channel.
	ResultsFilesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netperfmeter_results_files_total",
			Help: "Number of result files streamed back over the control channel.",
		},
	)

	// FlowEventsCounter counts flow lifecycle notifications sent over the
	// event socket, by kind ("created"/"deleted").
	FlowEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperfmeter_flow_events_total",
			Help: "Number of flow lifecycle events broadcast over the event socket.",
		}, []string{"kind"})

	// CPUSampleHistogram tracks per-measurement total CPU utilization
	// samples, as a fraction in [0,1].
	CPUSampleHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netperfmeter_cpu_utilization_histogram",
			Help:    "Sampled total CPU utilization fraction.",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21),
		},
	)
)

func init() {
	log.Println("Prometheus metrics in netperfmeter/metrics are registered.")
}
