// Package api implements the HTTP control API and WebSocket event stream
// for the simulated BLE adapter.
//
// This package provides:
//   - REST endpoints that drive the adapter (power, scanning, connections,
//     discovery, characteristic reads and writes, MTU negotiation)
//   - Read-only diagnostics (adapter bookkeeping, known devices, the GATT
//     cache of a connected device)
//   - A WebSocket hub that streams adapter publish events to subscribers
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Awaitable calls
//
// Adapter operations complete asynchronously through continuations. Each
// handler wraps the continuation in a blocking wait bounded by the
// configured call timeout; a request that times out cancels its
// transaction so the engine can drop the work.
//
// # Event channels
//
// WebSocket clients subscribe to any of:
//
//	scan              scan results and scan failures
//	adapter.state     adapter power state changes
//	connection.state  device link transitions
//	notification      monitored characteristic values
package api
