package blesim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/mqtt"
)

// Topic prefix for all simulated adapter traffic.
const TopicPrefix = mqtt.TopicPrefix

// EventType names an out-of-band publish event from the simulation engine.
type EventType string

// Publish events.
const (
	// EventScanResult carries one advertising report or a scan failure.
	EventScanResult EventType = "scanResult"

	// EventAdapterStateChanged carries a new adapter power state.
	EventAdapterStateChanged EventType = "adapterStateChanged"

	// EventConnectionStateChanged carries a device link state transition.
	EventConnectionStateChanged EventType = "connectionStateChanged"

	// EventCharacteristicNotification carries a monitored value or a
	// terminal monitor error.
	EventCharacteristicNotification EventType = "characteristicNotification"
)

// Envelope is one outbound call to the simulation engine.
type Envelope struct {
	// Operation is the method name (see operations.go).
	Operation Operation `json:"operation"`

	// CorrelationID identifies the reply that resolves this call.
	CorrelationID string `json:"correlationId"`

	// Arguments holds the operation-specific argument map.
	Arguments map[string]any `json:"arguments"`
}

// Reply is the engine's answer to one Envelope.
//
// Exactly one of Error and Value is meaningful; a JSON null Error counts as
// absent.
type Reply struct {
	// CorrelationID echoes the id of the call being answered.
	CorrelationID string `json:"correlationId"`

	// Error is the engine's error object, if the call failed.
	Error json.RawMessage `json:"error,omitempty"`

	// Value is the operation-specific success payload.
	Value json.RawMessage `json:"value,omitempty"`

	// local carries failures synthesised on this side (e.g. send failure or
	// shutdown) without a round trip through JSON.
	local *ble.Error
}

// HasError reports whether the reply carries an error.
func (r Reply) HasError() bool {
	return r.local != nil || !isNullJSON(r.Error)
}

// failure returns the decoded error of a failed reply, or nil on success.
func (r Reply) failure() *ble.Error {
	if r.local != nil {
		return r.local
	}
	if isNullJSON(r.Error) {
		return nil
	}
	bleErr, err := DecodeError(r.Error)
	if err != nil {
		return ble.NewError(ble.UnknownError, fmt.Sprintf("undecodable error payload: %v", err))
	}
	return bleErr
}

// localReply builds a Reply that fails with err.
func localReply(id string, err *ble.Error) Reply {
	return Reply{CorrelationID: id, local: err}
}

// ScanResultEvent is the payload of EventScanResult.
type ScanResultEvent struct {
	// ScanResult is the serialised advertising report.
	ScanResult json.RawMessage `json:"scanResult,omitempty"`

	// Error, when present, reports a scan failure and ends the scan.
	Error json.RawMessage `json:"error,omitempty"`
}

// AdapterStateEvent is the payload of EventAdapterStateChanged.
type AdapterStateEvent struct {
	State ble.AdapterState `json:"state"`
}

// ConnectionStateEvent is the payload of EventConnectionStateChanged.
type ConnectionStateEvent struct {
	PeripheralID    string              `json:"peripheralId"`
	ConnectionState ble.ConnectionState `json:"connectionState"`
}

// NotificationEvent is the payload of EventCharacteristicNotification.
type NotificationEvent struct {
	TransactionID  string          `json:"transactionId"`
	Characteristic json.RawMessage `json:"characteristic,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
}

// AdapterEvent is fanned out to observers (the WebSocket hub, recorders)
// after the adapter has applied it.
type AdapterEvent struct {
	// Type is the publish event type.
	Type EventType `json:"type"`

	// DeviceID is set for scan results and connection state events.
	DeviceID string `json:"device_id,omitempty"`

	// TransactionID is set for notifications.
	TransactionID string `json:"transaction_id,omitempty"`

	// Payload is the event-specific body, already decoded.
	Payload any `json:"payload"`

	// Timestamp is when the adapter applied the event.
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// Topic helpers
// =============================================================================

// CallTopic returns the topic the adapter publishes envelopes on.
//
// Example: blemulator/sim-01/call
func CallTopic(adapterID string) string {
	return mqtt.Topics{}.AdapterCall(adapterID)
}

// ReplyTopic returns the topic the engine publishes replies on.
//
// Example: blemulator/sim-01/reply
func ReplyTopic(adapterID string) string {
	return mqtt.Topics{}.AdapterReply(adapterID)
}

// EventTopic returns the topic for one publish event type.
//
// Example: blemulator/sim-01/event/scanResult
func EventTopic(adapterID string, event EventType) string {
	return mqtt.Topics{}.AdapterEvent(adapterID, string(event))
}

// EventSubscribeTopic returns the wildcard topic for all publish events.
//
// Example: blemulator/sim-01/event/+
func EventSubscribeTopic(adapterID string) string {
	return mqtt.Topics{}.AllAdapterEvents(adapterID)
}

// HealthTopic returns the retained health topic for an adapter.
//
// Example: blemulator/sim-01/health
func HealthTopic(adapterID string) string {
	return mqtt.Topics{}.AdapterHealth(adapterID)
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
