package blesim

import (
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// MetricWriter is the time-series sink for adapter measurements.
// *influxdb.Client satisfies it.
type MetricWriter interface {
	WriteCallMetric(adapterID, operation, outcome, errorCode string, latency time.Duration)
	WriteEventMetric(adapterID, event string)
}

// TimeSeriesMetrics is a Metrics backed by a MetricWriter.
type TimeSeriesMetrics struct {
	adapterID string
	writer    MetricWriter
}

var _ Metrics = (*TimeSeriesMetrics)(nil)

// NewTimeSeriesMetrics creates metrics tagged with adapterID.
func NewTimeSeriesMetrics(adapterID string, writer MetricWriter) *TimeSeriesMetrics {
	return &TimeSeriesMetrics{adapterID: adapterID, writer: writer}
}

// RecordCall implements Metrics.
func (m *TimeSeriesMetrics) RecordCall(op Operation, outcome string, code ble.ErrorCode, latency time.Duration) {
	errorCode := ""
	if outcome == OutcomeError {
		errorCode = code.String()
	}
	m.writer.WriteCallMetric(m.adapterID, string(op), outcome, errorCode, latency)
}

// RecordEvent implements Metrics.
func (m *TimeSeriesMetrics) RecordEvent(event EventType) {
	m.writer.WriteEventMetric(m.adapterID, string(event))
}
