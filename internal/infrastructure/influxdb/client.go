package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Measurements written by the adapter.
const (
	// MeasurementCalls holds one point per resolved outbound call.
	MeasurementCalls = "blemulator_calls"

	// MeasurementEvents holds one point per applied publish event.
	MeasurementEvents = "blemulator_events"
)

// Client is the adapter's time-series sink. Points go through the
// library's non-blocking write API and are sent in batches; writes after
// Close are dropped.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	influx  influxdb2.Client
	writes  api.WriteAPI
	closed  atomic.Bool
	onError atomic.Pointer[func(error)]
}

// Connect pings the server and opens a write API on cfg.Org/cfg.Bucket.
//
// Returns:
//   - error: ErrDisabled when InfluxDB is off, ErrConnectionFailed when the
//     server does not answer the ping
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if healthy, err := influx.Ping(ctx); err != nil || !healthy {
		influx.Close()
		if err == nil {
			err = fmt.Errorf("server not healthy")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx: influx,
		writes: influx.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.writes.Errors())
	return c, nil
}

// writeOptions maps batch settings, falling back to defaults for values
// that are unset or negative.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
}

// forwardErrors hands asynchronous write failures to the SetOnError hook.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if hook := c.onError.Load(); hook != nil {
			(*hook)(err)
		}
	}
}

// SetOnError sets the hook for asynchronous write failures.
func (c *Client) SetOnError(hook func(err error)) {
	c.onError.Store(&hook)
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// Close flushes buffered points and releases the client. Safe to call twice.
func (c *Client) Close() error {
	if c.influx == nil || c.closed.Swap(true) {
		return nil
	}
	c.writes.Flush()
	c.influx.Close()
	return nil
}

// WriteCallMetric records the outcome and latency of one adapter call.
// errorCode is empty on success.
func (c *Client) WriteCallMetric(adapterID, operation, outcome, errorCode string, latency time.Duration) {
	c.write(callPoint(adapterID, operation, outcome, errorCode, latency, time.Now()))
}

// WriteEventMetric records one publish event applied by the adapter.
func (c *Client) WriteEventMetric(adapterID, event string) {
	c.write(eventPoint(adapterID, event, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if c.writes == nil || c.closed.Load() {
		return
	}
	c.writes.WritePoint(p)
}

func callPoint(adapterID, operation, outcome, errorCode string, latency time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"adapter_id": adapterID,
		"operation":  operation,
		"outcome":    outcome,
	}
	if errorCode != "" {
		tags["error_code"] = errorCode
	}
	return write.NewPoint(MeasurementCalls, tags, map[string]any{
		"latency_ms": float64(latency.Microseconds()) / 1000,
		"count":      1,
	}, at)
}

func eventPoint(adapterID, event string, at time.Time) *write.Point {
	return write.NewPoint(MeasurementEvents,
		map[string]string{"adapter_id": adapterID, "event": event},
		map[string]any{"count": 1},
		at,
	)
}
