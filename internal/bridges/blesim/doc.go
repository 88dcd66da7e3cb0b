// Package blesim implements a BLE adapter backed by a remote simulation engine.
//
// The Adapter in this package satisfies ble.Adapter without touching a radio.
// Every operation that needs a peripheral's decision is forwarded as a JSON
// envelope over a message Channel to a simulation engine; the engine's replies
// and out-of-band events are rebuilt into ble value objects and cached.
//
// # Architecture
//
//	┌──────────────┐  ble.Adapter  ┌──────────────┐   MQTT    ┌──────────────┐
//	│ Application  │──────────────►│   Adapter    │◄─────────►│  Simulation  │
//	│  / HTTP API  │◄──────────────│ (this pkg)   │  Channel  │    Engine    │
//	└──────────────┘  completions  └──────────────┘           └──────────────┘
//
// # Key Responsibilities
//
//   - Correlate request envelopes with out-of-order replies (CorrelationRegistry)
//   - Decode engine payloads into ble values (decode.go)
//   - Cache discovered GATT trees per device (EntityCache, DeviceRegistry)
//   - Enforce real-stack ordering: scan before known, connect before
//     discover, discover before cached GATT access
//   - Route publish events (scan results, adapter state, connection state,
//     notifications) to the subscribers registered by adapter calls
//
// # Wire Contract
//
// Outbound, one envelope per call on blemulator/{adapter}/call:
//
//	{"operation":"connect","correlationId":"7","arguments":{"identifier":"AA:BB"}}
//
// Replies on blemulator/{adapter}/reply:
//
//	{"correlationId":"7","error":null,"value":{"id":"AA:BB","name":"HR"}}
//
// Events on blemulator/{adapter}/event/{scanResult|adapterStateChanged|
// connectionStateChanged|characteristicNotification}.
//
// # Threading Model
//
// One goroutine owns every cache and subscriber map; public methods and
// inbound messages are marshalled onto it. Completions and event callbacks run
// on a separate, ordered dispatcher goroutine so they may call back into the
// Adapter, including the synchronous cache accessors.
//
// # Thread Safety
//
// All exported methods of Adapter are safe for concurrent use.
package blesim
