package ble

import (
	"context"
	"time"
)

// Completion receives the single outcome of an asynchronous operation.
// err is nil on success; remote failures arrive as *Error.
type Completion[T any] func(value T, err error)

// ScanOptions configures StartDeviceScan.
type ScanOptions struct {
	// FilteredUUIDs restricts results to devices advertising one of these
	// services. Nil means no filter.
	FilteredUUIDs []string

	ScanMode     ScanMode
	CallbackType ScanCallbackType
}

// ConnectOptions configures ConnectToDevice.
type ConnectOptions struct {
	AutoConnect bool

	// RequestMTU is the MTU to negotiate right after connecting (0 = default).
	RequestMTU int

	// RefreshGATT asks the stack to drop any OS-level GATT cache on connect.
	RefreshGATT bool

	// Timeout is forwarded to the peripheral side; the adapter itself never
	// abandons a pending connect. Zero means no timeout.
	Timeout time.Duration
}

// Adapter is the central-role BLE client surface.
//
// Methods that return an error and take a Completion report
// marshalling/precondition failures through the return value; in that case
// the completion is never called. Otherwise the completion fires exactly once.
type Adapter interface {
	// =========================================================================
	// Lifecycle
	// =========================================================================

	CreateClient(ctx context.Context, restoreStateID string, onStateChange func(AdapterState), done Completion[struct{}]) error
	DestroyClient(ctx context.Context, done Completion[struct{}]) error
	Enable(ctx context.Context, transactionID string, done Completion[struct{}]) error
	Disable(ctx context.Context, transactionID string, done Completion[struct{}]) error
	GetCurrentState(ctx context.Context) (AdapterState, error)
	SetLogLevel(ctx context.Context, level LogLevel) error
	GetLogLevel(ctx context.Context) (LogLevel, error)

	// =========================================================================
	// Scanning
	// =========================================================================

	StartDeviceScan(ctx context.Context, opts ScanOptions, onResult func(ScanResult), onError func(error)) error
	StopDeviceScan(ctx context.Context) error

	// =========================================================================
	// Connection
	// =========================================================================

	ConnectToDevice(ctx context.Context, deviceID string, opts ConnectOptions, onState func(ConnectionState), done Completion[Device]) error
	CancelDeviceConnection(ctx context.Context, deviceID string, done Completion[Device]) error
	IsDeviceConnected(ctx context.Context, deviceID string, done Completion[bool]) error
	RequestMTUForDevice(ctx context.Context, deviceID string, mtu int, transactionID string, done Completion[Device]) error
	RequestConnectionPriorityForDevice(ctx context.Context, deviceID string, priority ConnectionPriority, transactionID string, done Completion[Device]) error
	ReadRSSIForDevice(ctx context.Context, deviceID string, transactionID string, done Completion[Device]) error
	GetKnownDevices(ctx context.Context, deviceIDs []string, done Completion[[]Device]) error
	GetConnectedDevices(ctx context.Context, serviceUUIDs []string, done Completion[[]Device]) error

	// =========================================================================
	// Discovery and cached GATT access
	// =========================================================================

	DiscoverAllServicesAndCharacteristicsForDevice(ctx context.Context, deviceID string, transactionID string, done Completion[Device]) error
	ServicesForDevice(ctx context.Context, deviceID string) ([]Service, error)
	CharacteristicsForDevice(ctx context.Context, deviceID, serviceUUID string) ([]Characteristic, error)
	CharacteristicsForService(ctx context.Context, serviceID int) ([]Characteristic, error)
	DescriptorsForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID string) ([]Descriptor, error)
	DescriptorsForService(ctx context.Context, serviceID int, characteristicUUID string) ([]Descriptor, error)
	DescriptorsForCharacteristic(ctx context.Context, characteristicID int) ([]Descriptor, error)

	// =========================================================================
	// Characteristics
	// =========================================================================

	ReadCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, transactionID string, done Completion[Characteristic]) error
	ReadCharacteristicForService(ctx context.Context, serviceID int, characteristicUUID, transactionID string, done Completion[Characteristic]) error
	ReadCharacteristic(ctx context.Context, characteristicID int, transactionID string, done Completion[Characteristic]) error

	WriteCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID string, value []byte, withResponse bool, transactionID string, done Completion[Characteristic]) error
	WriteCharacteristicForService(ctx context.Context, serviceID int, characteristicUUID string, value []byte, withResponse bool, transactionID string, done Completion[Characteristic]) error
	WriteCharacteristic(ctx context.Context, characteristicID int, value []byte, withResponse bool, transactionID string, done Completion[Characteristic]) error

	MonitorCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, transactionID string, onValue func(Characteristic), onError func(error)) error
	MonitorCharacteristicForService(ctx context.Context, serviceID int, characteristicUUID, transactionID string, onValue func(Characteristic), onError func(error)) error
	MonitorCharacteristic(ctx context.Context, characteristicID int, transactionID string, onValue func(Characteristic), onError func(error)) error

	// =========================================================================
	// Descriptors
	// =========================================================================

	ReadDescriptorForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, descriptorUUID, transactionID string, done Completion[Descriptor]) error
	ReadDescriptorForService(ctx context.Context, serviceID int, characteristicUUID, descriptorUUID, transactionID string, done Completion[Descriptor]) error
	ReadDescriptorForCharacteristic(ctx context.Context, characteristicID int, descriptorUUID, transactionID string, done Completion[Descriptor]) error
	ReadDescriptor(ctx context.Context, descriptorID int, transactionID string, done Completion[Descriptor]) error

	WriteDescriptorForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, descriptorUUID string, value []byte, transactionID string, done Completion[Descriptor]) error
	WriteDescriptorForService(ctx context.Context, serviceID int, characteristicUUID, descriptorUUID string, value []byte, transactionID string, done Completion[Descriptor]) error
	WriteDescriptorForCharacteristic(ctx context.Context, characteristicID int, descriptorUUID string, value []byte, transactionID string, done Completion[Descriptor]) error
	WriteDescriptor(ctx context.Context, descriptorID int, value []byte, transactionID string, done Completion[Descriptor]) error

	// =========================================================================
	// Transactions
	// =========================================================================

	CancelTransaction(ctx context.Context, transactionID string) error
}
