package ble

import "bytes"

// DefaultMTU is the ATT MTU every freshly connected device starts with.
const DefaultMTU = 23

// MTUNotApplicable marks a device observed only through scanning.
const MTUNotApplicable = -1

// AdapterState is the power/availability state of the adapter.
type AdapterState string

// Adapter states.
const (
	StateUnknown      AdapterState = "Unknown"
	StateResetting    AdapterState = "Resetting"
	StateUnsupported  AdapterState = "Unsupported"
	StateUnauthorized AdapterState = "Unauthorized"
	StatePoweredOff   AdapterState = "PoweredOff"
	StatePoweredOn    AdapterState = "PoweredOn"
)

// IsValid reports whether s is one of the known adapter states.
func (s AdapterState) IsValid() bool {
	switch s {
	case StateUnknown, StateResetting, StateUnsupported, StateUnauthorized, StatePoweredOff, StatePoweredOn:
		return true
	}
	return false
}

// ConnectionState is the link state of a single device.
type ConnectionState string

// Connection states.
const (
	Connecting    ConnectionState = "connecting"
	Connected     ConnectionState = "connected"
	Disconnecting ConnectionState = "disconnecting"
	Disconnected  ConnectionState = "disconnected"
)

// IsValid reports whether s is one of the known connection states.
func (s ConnectionState) IsValid() bool {
	switch s {
	case Connecting, Connected, Disconnecting, Disconnected:
		return true
	}
	return false
}

// LogLevel is the adapter's own verbosity setting.
type LogLevel string

// Log levels, most verbose first after None.
const (
	LogNone    LogLevel = "None"
	LogVerbose LogLevel = "Verbose"
	LogDebug   LogLevel = "Debug"
	LogInfo    LogLevel = "Info"
	LogWarning LogLevel = "Warning"
	LogError   LogLevel = "Error"
)

// IsValid reports whether l is one of the known log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogNone, LogVerbose, LogDebug, LogInfo, LogWarning, LogError:
		return true
	}
	return false
}

// ScanMode selects the scan duty cycle.
type ScanMode int

// Scan modes.
const (
	ScanModeOpportunistic ScanMode = -1
	ScanModeLowPower      ScanMode = 0
	ScanModeBalanced      ScanMode = 1
	ScanModeLowLatency    ScanMode = 2
)

// ScanCallbackType selects which advertisements are reported.
type ScanCallbackType int

// Scan callback types.
const (
	ScanCallbackAllMatches ScanCallbackType = 1
	ScanCallbackFirstMatch ScanCallbackType = 2
	ScanCallbackMatchLost  ScanCallbackType = 4
)

// ConnectionPriority is the requested connection interval class.
type ConnectionPriority int

// Connection priorities.
const (
	ConnectionPriorityBalanced ConnectionPriority = 0
	ConnectionPriorityHigh     ConnectionPriority = 1
	ConnectionPriorityLowPower ConnectionPriority = 2
)

// Device is a peripheral known to the adapter.
type Device struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
	RSSI *int    `json:"rssi,omitempty"`
	MTU  int     `json:"mtu"`
}

// DisplayName returns the device name or "" when unnamed.
func (d Device) DisplayName() string {
	if d.Name == nil {
		return ""
	}
	return *d.Name
}

// Clone returns a deep copy of d.
func (d Device) Clone() Device {
	out := d
	if d.Name != nil {
		name := *d.Name
		out.Name = &name
	}
	if d.RSSI != nil {
		rssi := *d.RSSI
		out.RSSI = &rssi
	}
	return out
}

// AdvertisementData is the payload of one advertising report.
type AdvertisementData struct {
	ManufacturerData      []byte            `json:"manufacturerData,omitempty"`
	ServiceData           map[string][]byte `json:"serviceData,omitempty"`
	ServiceUUIDs          []string          `json:"serviceUuids,omitempty"`
	LocalName             *string           `json:"localName,omitempty"`
	TxPowerLevel          *int              `json:"txPowerLevel,omitempty"`
	SolicitedServiceUUIDs []string          `json:"solicitedServiceUuids,omitempty"`
	OverflowServiceUUIDs  []string          `json:"overflowServiceUuids,omitempty"`
}

// ScanResult is a single scan observation.
type ScanResult struct {
	Device        Device            `json:"device"`
	Advertisement AdvertisementData `json:"advertisement"`
	IsConnectable bool              `json:"isConnectable"`
}

// Service is a discovered GATT service.
type Service struct {
	ID        int    `json:"id"`
	UUID      string `json:"uuid"`
	DeviceID  string `json:"deviceId"`
	IsPrimary bool   `json:"isPrimary"`
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	ID          int                      `json:"id"`
	UUID        string                   `json:"uuid"`
	ServiceID   int                      `json:"serviceId"`
	ServiceUUID string                   `json:"serviceUuid"`
	DeviceID    string                   `json:"deviceId"`
	Properties  CharacteristicProperties `json:"properties"`
	IsNotifying bool                     `json:"isNotifying"`
	Value       []byte                   `json:"value"`
}

// ClientConfigValue returns the value a real stack would hold in this
// characteristic's Client Characteristic Configuration Descriptor.
func (c Characteristic) ClientConfigValue() []byte {
	if c.IsNotifying {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// Clone returns a deep copy of c.
func (c Characteristic) Clone() Characteristic {
	out := c
	out.Value = bytes.Clone(c.Value)
	return out
}

// Descriptor is a discovered GATT descriptor.
type Descriptor struct {
	ID                 int    `json:"id"`
	UUID               string `json:"uuid"`
	CharacteristicID   int    `json:"characteristicId"`
	CharacteristicUUID string `json:"characteristicUuid"`
	ServiceID          int    `json:"serviceId"`
	ServiceUUID        string `json:"serviceUuid"`
	DeviceID           string `json:"deviceId"`
	Value              []byte `json:"value"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Value = bytes.Clone(d.Value)
	return out
}

// CharacteristicProperties is the GATT property bitset.
type CharacteristicProperties uint8

// Property bits of the GATT characteristic declaration.
const (
	PropertyRead            CharacteristicProperties = 0x02
	PropertyWriteNoResponse CharacteristicProperties = 0x04
	PropertyWrite           CharacteristicProperties = 0x08
	PropertyNotify          CharacteristicProperties = 0x10
	PropertyIndicate        CharacteristicProperties = 0x20
)

// Has reports whether every bit in flag is set.
func (p CharacteristicProperties) Has(flag CharacteristicProperties) bool {
	return p&flag == flag
}

// IsReadable reports the READ bit.
func (p CharacteristicProperties) IsReadable() bool { return p.Has(PropertyRead) }

// IsWritableWithResponse reports the WRITE bit.
func (p CharacteristicProperties) IsWritableWithResponse() bool { return p.Has(PropertyWrite) }

// IsWritableWithoutResponse reports the WRITE_NO_RESPONSE bit.
func (p CharacteristicProperties) IsWritableWithoutResponse() bool {
	return p.Has(PropertyWriteNoResponse)
}

// IsNotifiable reports the NOTIFY bit.
func (p CharacteristicProperties) IsNotifiable() bool { return p.Has(PropertyNotify) }

// IsIndicatable reports the INDICATE bit.
func (p CharacteristicProperties) IsIndicatable() bool { return p.Has(PropertyIndicate) }
