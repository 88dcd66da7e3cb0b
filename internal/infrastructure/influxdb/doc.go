// Package influxdb writes adapter telemetry to InfluxDB 2.x.
//
// Two measurements are written, both tagged with adapter_id:
//   - blemulator_calls: one point per resolved call (operation, outcome,
//     error_code; fields latency_ms and count)
//   - blemulator_events: one point per applied publish event (event; field count)
//
// Writes never block the adapter loop. Batch failures are reported through
// SetOnError.
package influxdb
