package blesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/mqtt"
)

// Channel defaults.
const (
	// defaultBreakerFailures is the number of consecutive publish failures
	// that opens the circuit.
	defaultBreakerFailures uint32 = 5

	// defaultBreakerTimeout is how long the circuit stays open.
	defaultBreakerTimeout = 30 * time.Second

	// defaultBreakerInterval clears failure counts while closed.
	defaultBreakerInterval = 60 * time.Second

	// minTopicParts is the minimum number of parts in a routable topic:
	// blemulator/{adapter}/reply
	minTopicParts = 3
)

// MQTTClient is the subset of the MQTT client the channel needs.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MQTTChannelConfig holds configuration for an MQTTChannel.
type MQTTChannelConfig struct {
	// AdapterID scopes every topic: blemulator/{AdapterID}/...
	AdapterID string

	// QoS for calls and subscriptions. Default: 1.
	QoS byte

	// Client is the MQTT client. Required.
	Client MQTTClient

	// BreakerFailures is the consecutive publish failures that open the
	// circuit. Default: 5.
	BreakerFailures uint32

	// BreakerTimeout is how long the circuit stays open. Default: 30s.
	BreakerTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// ChannelStats is a snapshot of channel traffic.
type ChannelStats struct {
	Connected    bool   `json:"connected"`
	Sent         uint64 `json:"sent"`
	Received     uint64 `json:"received"`
	Rejected     uint64 `json:"rejected"`
	BreakerState string `json:"breaker_state"`
}

// MQTTChannel is a Channel over MQTT.
//
// Calls are published on blemulator/{id}/call, replies are read from
// blemulator/{id}/reply and publish events from blemulator/{id}/event/+.
// Publishing goes through a circuit breaker so a dead broker fails calls
// fast instead of stalling the adapter loop on every publish timeout.
//
// Inbound messages are queued and handed to the Inbound in arrival order on
// a goroutine of their own. The MQTT router must never wait on the adapter
// loop: while the loop blocks in Send for a PUBACK, that acknowledgement is
// read by the same client goroutine that runs the subscription handlers.
//
// Thread Safety: All methods are safe for concurrent use.
type MQTTChannel struct {
	client    MQTTClient
	adapterID string
	qos       byte
	breaker   *gobreaker.CircuitBreaker[struct{}]
	inbound   *dispatcher
	listening atomic.Bool

	sent     atomic.Uint64
	received atomic.Uint64
	rejected atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

var _ Channel = (*MQTTChannel)(nil)

// NewMQTTChannel creates a channel. Call Listen (via Adapter.Start) to begin
// receiving.
func NewMQTTChannel(cfg MQTTChannelConfig) (*MQTTChannel, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if cfg.AdapterID == "" {
		return nil, fmt.Errorf("adapter ID is required")
	}
	if strings.ContainsAny(cfg.AdapterID, "/+#") {
		return nil, fmt.Errorf("adapter ID %q must not contain MQTT topic separators or wildcards", cfg.AdapterID)
	}
	if mqtt.IsReservedAdapterID(cfg.AdapterID) {
		return nil, fmt.Errorf("adapter ID %q is reserved", cfg.AdapterID)
	}

	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	ch := &MQTTChannel{
		client:    cfg.Client,
		adapterID: cfg.AdapterID,
		qos:       qos,
		logger:    cfg.Logger,
	}
	ch.inbound = newDispatcher(func(err error) {
		ch.logWarn("inbound handler panicked", "error", err)
	})
	ch.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "channel:" + cfg.AdapterID,
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ch.logWarn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return ch, nil
}

// Send publishes one envelope on the call topic.
func (c *MQTTChannel) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	_, err = c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.client.Publish(CallTopic(c.adapterID), payload, c.qos, false)
	})
	if err != nil {
		c.rejected.Add(1)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
		}
		return fmt.Errorf("publishing %s: %w", env.Operation, err)
	}

	c.sent.Add(1)
	return nil
}

// Listen subscribes to the reply and event topics and routes them to in.
// It may be called once.
func (c *MQTTChannel) Listen(in Inbound) error {
	if in == nil {
		return fmt.Errorf("inbound handler is required")
	}
	if c.listening.Swap(true) {
		return fmt.Errorf("channel is already listening")
	}
	go c.inbound.run()

	handler := func(topic string, payload []byte) error {
		c.inbound.enqueue(func() {
			if err := c.route(in, topic, payload); err != nil {
				c.logWarn("dropping inbound message", "topic", topic, "error", err)
			}
		})
		return nil
	}

	replyTopic := ReplyTopic(c.adapterID)
	if err := c.client.Subscribe(replyTopic, c.qos, handler); err != nil {
		return fmt.Errorf("subscribe to replies: %w", err)
	}
	c.logInfo("subscribed to replies", "topic", replyTopic)

	eventTopic := EventSubscribeTopic(c.adapterID)
	if err := c.client.Subscribe(eventTopic, c.qos, handler); err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	c.logInfo("subscribed to events", "topic", eventTopic)
	return nil
}

// Close delivers every queued inbound message, then stops the delivery
// goroutine. Stop the adapter first so late messages fail fast.
func (c *MQTTChannel) Close() {
	if c.listening.Load() {
		c.inbound.stop()
	}
}

// route dispatches by topic shape:
//
//	blemulator/{id}/reply
//	blemulator/{id}/event/{type}
func (c *MQTTChannel) route(in Inbound, topic string, payload []byte) error {
	c.received.Add(1)

	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[0] != TopicPrefix || parts[1] != c.adapterID {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidPayload, topic)
	}

	switch parts[2] {
	case "reply":
		return in.HandleReply(payload)
	case "event":
		if len(parts) != minTopicParts+1 {
			return fmt.Errorf("%w: event topic %q", ErrInvalidPayload, topic)
		}
		return in.HandleEvent(EventType(parts[3]), payload)
	default:
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidPayload, topic)
	}
}

// Stats returns a snapshot of channel traffic.
func (c *MQTTChannel) Stats() ChannelStats {
	return ChannelStats{
		Connected:    c.client.IsConnected(),
		Sent:         c.sent.Load(),
		Received:     c.received.Load(),
		Rejected:     c.rejected.Load(),
		BreakerState: c.breaker.State().String(),
	}
}

// IsConnected reports whether the underlying MQTT client is connected.
func (c *MQTTChannel) IsConnected() bool {
	return c.client.IsConnected()
}

// SetLogger sets the logger for this channel.
func (c *MQTTChannel) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *MQTTChannel) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *MQTTChannel) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
