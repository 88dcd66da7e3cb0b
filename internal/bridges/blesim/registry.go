package blesim

import (
	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// DeviceContainer pairs a device's canonical identity with its GATT cache.
type DeviceContainer struct {
	// Device is the canonical, adapter-facing device. Callers receive clones.
	Device ble.Device

	// Cache is cleared (never replaced) on disconnect.
	Cache *EntityCache

	// State is the last connection state applied for this device.
	State ble.ConnectionState
}

// DeviceRegistry maps device identifiers to their containers.
//
// Devices are created on first sighting (scan result or connect intent) and
// never removed; only their GATT caches are cleared.
//
// Thread Safety: Not safe for concurrent use; owned by the adapter loop.
type DeviceRegistry struct {
	devices map[string]*DeviceContainer
	order   []string
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*DeviceContainer),
	}
}

// EnsureKnown returns the container for id, creating it if unseen.
// A non-empty name fills a missing one but never overwrites an existing name.
func (r *DeviceRegistry) EnsureKnown(id string, name *string) *DeviceContainer {
	if dc, ok := r.devices[id]; ok {
		if dc.Device.Name == nil && name != nil && *name != "" {
			n := *name
			dc.Device.Name = &n
		}
		return dc
	}

	dc := &DeviceContainer{
		Device: ble.Device{ID: id, MTU: ble.DefaultMTU},
		Cache:  NewEntityCache(),
		State:  ble.Disconnected,
	}
	if name != nil && *name != "" {
		n := *name
		dc.Device.Name = &n
	}
	r.devices[id] = dc
	r.order = append(r.order, id)
	return dc
}

// ByID returns the container for id, or nil if the device was never seen.
func (r *DeviceRegistry) ByID(id string) *DeviceContainer {
	return r.devices[id]
}

// UpdateName replaces the device name when name is non-empty.
func (r *DeviceRegistry) UpdateName(id string, name *string) {
	dc, ok := r.devices[id]
	if !ok || name == nil || *name == "" {
		return
	}
	n := *name
	dc.Device.Name = &n
}

// UpdateConnectionState applies a link transition to the device's cache.
// CONNECTED marks the cache connected; DISCONNECTED clears it and resets the
// MTU. It reports false if the device is unknown.
func (r *DeviceRegistry) UpdateConnectionState(id string, state ble.ConnectionState) bool {
	dc, ok := r.devices[id]
	if !ok {
		return false
	}
	dc.State = state
	switch state {
	case ble.Connected:
		dc.Cache.SetConnected()
	case ble.Disconnected:
		dc.Cache.Clear()
		dc.Device.MTU = ble.DefaultMTU
	}
	return true
}

// OwnerOfGattID returns the first device, in insertion order, whose cache
// contains the given service, characteristic or descriptor id.
func (r *DeviceRegistry) OwnerOfGattID(gattID int) *DeviceContainer {
	for _, id := range r.order {
		dc := r.devices[id]
		if dc.Cache.ContainsID(gattID) {
			return dc
		}
	}
	return nil
}

// Devices returns clones of every known device in insertion order.
func (r *DeviceRegistry) Devices() []ble.Device {
	out := make([]ble.Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id].Device.Clone())
	}
	return out
}

// ConnectedCount returns the number of devices whose cache is connected.
func (r *DeviceRegistry) ConnectedCount() int {
	n := 0
	for _, dc := range r.devices {
		if dc.Cache.IsConnected() {
			n++
		}
	}
	return n
}

// Len returns the number of known devices.
func (r *DeviceRegistry) Len() int {
	return len(r.devices)
}
