package blesim

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

type mockMetricWriter struct {
	calls  []writtenCall
	events []string
}

type writtenCall struct {
	adapterID, operation, outcome, errorCode string
	latency                                  time.Duration
}

func (m *mockMetricWriter) WriteCallMetric(adapterID, operation, outcome, errorCode string, latency time.Duration) {
	m.calls = append(m.calls, writtenCall{adapterID, operation, outcome, errorCode, latency})
}

func (m *mockMetricWriter) WriteEventMetric(_ string, event string) {
	m.events = append(m.events, event)
}

func TestTimeSeriesMetrics(t *testing.T) {
	w := &mockMetricWriter{}
	m := NewTimeSeriesMetrics("sim-01", w)

	m.RecordCall(OpConnect, OutcomeSuccess, 0, 5*time.Millisecond)
	m.RecordCall(OpReadCharacteristic, OutcomeError, ble.DeviceNotConnected, time.Millisecond)
	m.RecordEvent(EventScanResult)

	if len(w.calls) != 2 {
		t.Fatalf("wrote %d call metrics, want 2", len(w.calls))
	}
	if got := w.calls[0]; got.adapterID != "sim-01" || got.operation != "connect" || got.errorCode != "" || got.latency != 5*time.Millisecond {
		t.Errorf("success metric = %+v", got)
	}
	if got := w.calls[1]; got.outcome != OutcomeError || got.errorCode != "DeviceNotConnected" {
		t.Errorf("error metric = %+v", got)
	}
	if len(w.events) != 1 || w.events[0] != "scanResult" {
		t.Errorf("events = %v", w.events)
	}
}
