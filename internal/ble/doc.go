// Package ble defines the host-facing model of a central-role Bluetooth Low
// Energy adapter.
//
// It contains the value objects an application sees (devices, scan results,
// services, characteristics, descriptors), the closed error taxonomy shared by
// every adapter implementation, and the Adapter interface itself.
//
// # Asynchronous Operations
//
// Operations that need a decision from the peripheral side take a Completion.
// The completion is invoked exactly once, either with a value and a nil error
// or with a zero value and a non-nil error (typically *Error). When the method
// itself returns a non-nil error the completion is never invoked.
//
// Cached GATT accessors (ServicesForDevice and friends) are synchronous and
// fail with a typed *Error instead of returning an empty result.
//
// # UUIDs
//
// All UUIDs handed to or returned from an Adapter are normalised with
// NormalizeUUID, so lookups are case-insensitive and 16-bit assigned numbers
// such as "180D" compare equal to their 128-bit expansion.
package ble
