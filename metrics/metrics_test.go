package metrics_test

import (
	"testing"

	"github.com/dreibh/netperfmeter/metrics"
)

func TestMetricsAreUsable(t *testing.T) {
	metrics.ActiveFlowsGauge.Set(3)
	metrics.ActiveMeasurementsGauge.Inc()
	metrics.TransmittedBytesCounter.WithLabelValues("tcp").Add(1024)
	metrics.ReceivedBytesCounter.WithLabelValues("udp").Add(512)
	metrics.LostBytesCounter.WithLabelValues("udp").Add(64)
	metrics.ErrorCount.WithLabelValues("protocol-violation").Inc()
	metrics.ResultsFilesCounter.Inc()
	metrics.CPUSampleHistogram.Observe(0.42)
	metrics.PollingHistogram.Observe(0.1)
}
