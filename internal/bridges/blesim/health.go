package blesim

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is how often health is published when unset.
const defaultHealthInterval = 30 * time.Second

// statsTimeout bounds the adapter snapshot taken for each health message.
const statsTimeout = 2 * time.Second

// HealthStatus represents the operational status of the adapter.
type HealthStatus string

const (
	// HealthHealthy indicates the adapter is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the adapter is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the adapter loop is not answering.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the process is gone (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the adapter is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the adapter is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained health report of one adapter.
// Topic: blemulator/{adapter_id}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Adapter is the adapter identifier.
	Adapter string `json:"adapter"`

	// Timestamp is when this message was generated.
	Timestamp time.Time `json:"timestamp"`

	// Status is the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the service software version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is seconds since the reporter was created.
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`

	// Reason explains a non-healthy status.
	Reason string `json:"reason,omitempty"`

	// Adapter bookkeeping, absent when the loop did not answer.
	Stats *Stats `json:"stats,omitempty"`

	// Channel traffic.
	Channel *ChannelStats `json:"channel,omitempty"`
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(adapterID string) HealthMessage {
	return HealthMessage{
		Adapter:   adapterID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// StatsSource supplies the adapter snapshot. *Adapter satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// ChannelStatsSource supplies channel traffic. *MQTTChannel satisfies it.
type ChannelStatsSource interface {
	Stats() ChannelStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// AdapterID is the adapter identifier for health messages.
	AdapterID string

	// Version is the service software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Adapter provides the adapter snapshot (optional).
	Adapter StatsSource

	// Channel provides channel statistics (optional).
	Channel ChannelStatsSource
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	adapterID string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	adapter   StatsSource
	channel   ChannelStatsSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		adapterID: cfg.AdapterID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		adapter:   cfg.Adapter,
		channel:   cfg.Channel,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "", nil)
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "adapter starting", nil)
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason, stats := h.determineStatus()
	return h.publishStatus(status, reason, stats)
}

// LWTPayload returns the Last Will and Testament message payload.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.adapterID))
}

// LWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) LWTTopic() string {
	return HealthTopic(h.adapterID)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current adapter status.
func (h *HealthReporter) determineStatus() (HealthStatus, string, *Stats) {
	var stats *Stats
	if h.adapter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		snapshot, err := h.adapter.Stats(ctx)
		cancel()
		if err != nil {
			return HealthUnhealthy, "adapter loop not responding", nil
		}
		stats = &snapshot
	}

	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected", stats
	}
	if h.channel != nil && h.channel.Stats().BreakerState != "closed" {
		return HealthDegraded, "channel circuit open", stats
	}
	if stats != nil && stats.FatalErrors > 0 {
		return HealthDegraded, "simulation protocol violations", stats
	}

	return HealthHealthy, "", stats
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string, stats *Stats) error {
	if h.publisher == nil {
		return nil
	}

	msg := HealthMessage{
		Adapter:       h.adapterID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
		Stats:         stats,
	}
	if h.channel != nil {
		cs := h.channel.Stats()
		msg.Channel = &cs
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return h.publisher.Publish(HealthTopic(h.adapterID), payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
