package ble

import (
	"strings"

	"github.com/google/uuid"
)

// BaseUUIDSuffix is the tail of the Bluetooth base UUID that 16-bit and 32-bit
// assigned numbers expand onto.
const BaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// Short UUID lengths in hex digits.
const (
	shortUUIDLen16 = 4
	shortUUIDLen32 = 8
)

// ClientCharacteristicConfigUUID is the descriptor UUID of the Client
// Characteristic Configuration Descriptor (CCCD).
const ClientCharacteristicConfigUUID = "00002902" + BaseUUIDSuffix

// NormalizeUUID returns the canonical lowercase form of a Bluetooth UUID.
//
// Accepted inputs:
//   - 128-bit UUIDs in any case, with or without braces/urn prefix
//   - 16-bit short form ("180D" -> "0000180d-0000-1000-8000-00805f9b34fb")
//   - 32-bit short form ("0000180D" -> same as above)
//
// Anything else is trimmed and lowercased, so comparisons stay
// case-insensitive even for malformed identifiers coming from a simulation.
func NormalizeUUID(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}

	switch len(trimmed) {
	case shortUUIDLen16:
		if isHex(trimmed) {
			return "0000" + strings.ToLower(trimmed) + BaseUUIDSuffix
		}
	case shortUUIDLen32:
		if isHex(trimmed) {
			return strings.ToLower(trimmed) + BaseUUIDSuffix
		}
	}

	if parsed, err := uuid.Parse(trimmed); err == nil {
		return parsed.String()
	}
	return strings.ToLower(trimmed)
}

// EqualUUID reports whether two UUIDs identify the same attribute.
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// NormalizeUUIDs normalises every element of in, returning a new slice.
// A nil input yields nil so "no filter" stays distinguishable from "empty filter".
func NormalizeUUIDs(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = NormalizeUUID(s)
	}
	return out
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
