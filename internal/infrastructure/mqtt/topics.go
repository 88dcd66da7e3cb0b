package mqtt

import "fmt"

// TopicPrefix is the root of every blemulator topic.
//
// Adapter topics are scoped by adapter id: blemulator/{adapter_id}/{kind}
// Service topics are scoped by MQTT client id: blemulator/service/{client_id}/status
const TopicPrefix = "blemulator"

// topicService is the reserved second level for per-process topics.
// Adapter ids must not collide with it.
const topicService = "service"

// Topics provides builders for blemulator MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	callTopic := topics.AdapterCall("sim-01")
//	// Returns: "blemulator/sim-01/call"
type Topics struct{}

// =============================================================================
// Adapter Topics
// =============================================================================

// AdapterCall returns the topic the adapter publishes engine calls on.
//
// Example: blemulator/sim-01/call
func (Topics) AdapterCall(adapterID string) string {
	return fmt.Sprintf("%s/%s/call", TopicPrefix, adapterID)
}

// AdapterReply returns the topic the engine answers calls on.
//
// Example: blemulator/sim-01/reply
func (Topics) AdapterReply(adapterID string) string {
	return fmt.Sprintf("%s/%s/reply", TopicPrefix, adapterID)
}

// AdapterEvent returns the topic the engine publishes one event type on.
//
// Example: blemulator/sim-01/event/scanResult
func (Topics) AdapterEvent(adapterID, event string) string {
	return fmt.Sprintf("%s/%s/event/%s", TopicPrefix, adapterID, event)
}

// AdapterHealth returns the retained health topic of one adapter.
//
// Example: blemulator/sim-01/health
func (Topics) AdapterHealth(adapterID string) string {
	return fmt.Sprintf("%s/%s/health", TopicPrefix, adapterID)
}

// =============================================================================
// Service Topics
// =============================================================================

// ServiceStatus returns the online/offline status topic of one process.
//
// Example: blemulator/service/blemulator-7f3a/status
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/%s/status", TopicPrefix, topicService, clientID)
}

// =============================================================================
// Wildcard Patterns
// =============================================================================

// AllAdapterEvents returns a pattern matching every event of one adapter.
//
// Pattern: blemulator/sim-01/event/+
func (Topics) AllAdapterEvents(adapterID string) string {
	return fmt.Sprintf("%s/%s/event/+", TopicPrefix, adapterID)
}

// IsReservedAdapterID reports whether id would collide with service topics.
func IsReservedAdapterID(id string) bool {
	return id == topicService
}
