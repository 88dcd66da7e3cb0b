package blesim

import (
	"encoding/base64"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// Operation is the method name of an outbound call.
type Operation string

// Lifecycle operations.
const (
	OpCreateClient  Operation = "createClient"
	OpDestroyClient Operation = "destroyClient"
	OpEnable        Operation = "enable"
	OpDisable       Operation = "disable"
)

// Scanning operations.
const (
	OpStartScan Operation = "startScan"
	OpStopScan  Operation = "stopScan"
)

// Connection operations.
const (
	OpConnect                   Operation = "connect"
	OpDisconnect                Operation = "disconnect"
	OpIsDeviceConnected         Operation = "isDeviceConnected"
	OpReadRSSI                  Operation = "readRSSI"
	OpRequestConnectionPriority Operation = "requestConnectionPriority"
	OpRequestMTU                Operation = "requestMtu"
	OpGetKnownDevices           Operation = "getKnownDevices"
	OpGetConnectedDevices       Operation = "getConnectedDevices"
	OpDiscovery                 Operation = "discovery"
)

// Characteristic operations.
const (
	OpReadCharacteristicForDevice     Operation = "readCharacteristicForDevice"
	OpReadCharacteristicForService    Operation = "readCharacteristicForService"
	OpReadCharacteristic              Operation = "readCharacteristic"
	OpWriteCharacteristicForDevice    Operation = "writeCharacteristicForDevice"
	OpWriteCharacteristicForService   Operation = "writeCharacteristicForService"
	OpWriteCharacteristic             Operation = "writeCharacteristic"
	OpMonitorCharacteristicForDevice  Operation = "monitorCharacteristicForDevice"
	OpMonitorCharacteristicForService Operation = "monitorCharacteristicForService"
	OpMonitorCharacteristic           Operation = "monitorCharacteristic"
)

// Descriptor operations.
const (
	OpReadDescriptorForDevice          Operation = "readDescriptorForDevice"
	OpReadDescriptorForService         Operation = "readDescriptorForService"
	OpReadDescriptorForCharacteristic  Operation = "readDescriptorForCharacteristic"
	OpReadDescriptor                   Operation = "readDescriptor"
	OpWriteDescriptorForDevice         Operation = "writeDescriptorForDevice"
	OpWriteDescriptorForService        Operation = "writeDescriptorForService"
	OpWriteDescriptorForCharacteristic Operation = "writeDescriptorForCharacteristic"
	OpWriteDescriptor                  Operation = "writeDescriptor"
)

// OpCancelTransaction cancels a pending transaction on the engine.
const OpCancelTransaction Operation = "cancelTransaction"

// Argument names used in Envelope.Arguments.
const (
	argTransactionID      = "transactionId"
	argFilteredUUIDs      = "filteredUuids"
	argScanMode           = "scanMode"
	argCallbackType       = "callbackType"
	argIdentifier         = "identifier"
	argIsAutoConnect      = "isAutoConnect"
	argRequestMTU         = "requestMtu"
	argRefreshGATT        = "refreshGatt"
	argTimeout            = "timeout"
	argServiceID          = "serviceId"
	argServiceUUID        = "serviceUuid"
	argCharacteristicID   = "characteristicId"
	argCharacteristicUUID = "characteristicUuid"
	argDescriptorID       = "descriptorId"
	argDescriptorUUID     = "descriptorUuid"
	argValue              = "value"
	argWithResponse       = "withResponse"
	argMTU                = "mtu"
	argConnectionPriority = "connectionPriority"
	argDeviceIdentifiers  = "deviceIdentifiers"
	argServiceUUIDs       = "serviceUuids"
	argRestoreStateID     = "restoreStateIdentifier"
)

// opDescriptor pairs an operation name with the decoder of its success value.
// A nil decoder means the operation carries no meaningful value.
type opDescriptor[T any] struct {
	name   Operation
	decode func(raw []byte) (T, error)
}

// Operation table. Each adapter method picks one of these and hands it to
// call together with its argument map.
var (
	opCreateClient  = opDescriptor[struct{}]{name: OpCreateClient}
	opDestroyClient = opDescriptor[struct{}]{name: OpDestroyClient}
	opEnable        = opDescriptor[struct{}]{name: OpEnable}
	opDisable       = opDescriptor[struct{}]{name: OpDisable}

	opStartScan = opDescriptor[struct{}]{name: OpStartScan}
	opStopScan  = opDescriptor[struct{}]{name: OpStopScan}

	opConnect                   = opDescriptor[ble.Device]{name: OpConnect, decode: DecodeDevice}
	opDisconnect                = opDescriptor[ble.Device]{name: OpDisconnect, decode: DecodeDevice}
	opIsDeviceConnected         = opDescriptor[bool]{name: OpIsDeviceConnected, decode: DecodeBool}
	opReadRSSI                  = opDescriptor[ble.Device]{name: OpReadRSSI, decode: DecodeDevice}
	opRequestConnectionPriority = opDescriptor[ble.Device]{name: OpRequestConnectionPriority, decode: DecodeDevice}
	opRequestMTU                = opDescriptor[int]{name: OpRequestMTU, decode: DecodeInt}
	opGetKnownDevices           = opDescriptor[[]ble.Device]{name: OpGetKnownDevices, decode: DecodeDevices}
	opGetConnectedDevices       = opDescriptor[[]ble.Device]{name: OpGetConnectedDevices, decode: DecodeDevices}
	opDiscovery                 = opDescriptor[[]*CachedService]{name: OpDiscovery, decode: DecodeDiscovery}

	opCancelTransaction = opDescriptor[struct{}]{name: OpCancelTransaction}
)

// characteristicOps and descriptorOps hold the per-addressing-mode names so
// read/write/monitor share one code path per addressing mode.
type characteristicOps struct {
	read, write, monitor Operation
}

type descriptorOps struct {
	read, write Operation
}

var (
	charOpsForDevice  = characteristicOps{OpReadCharacteristicForDevice, OpWriteCharacteristicForDevice, OpMonitorCharacteristicForDevice}
	charOpsForService = characteristicOps{OpReadCharacteristicForService, OpWriteCharacteristicForService, OpMonitorCharacteristicForService}
	charOpsByID       = characteristicOps{OpReadCharacteristic, OpWriteCharacteristic, OpMonitorCharacteristic}

	descOpsForDevice         = descriptorOps{OpReadDescriptorForDevice, OpWriteDescriptorForDevice}
	descOpsForService        = descriptorOps{OpReadDescriptorForService, OpWriteDescriptorForService}
	descOpsForCharacteristic = descriptorOps{OpReadDescriptorForCharacteristic, OpWriteDescriptorForCharacteristic}
	descOpsByID              = descriptorOps{OpReadDescriptor, OpWriteDescriptor}
)

// =============================================================================
// Addressing
// =============================================================================

// charAddress locates a characteristic in one of three modes:
// device+service UUID+characteristic UUID, service id+characteristic UUID,
// or characteristic id alone.
type charAddress struct {
	deviceID           string
	serviceUUID        string
	serviceID          int
	characteristicUUID string
	characteristicID   int
	ops                characteristicOps
}

func charForDevice(deviceID, serviceUUID, characteristicUUID string) charAddress {
	return charAddress{
		deviceID:           deviceID,
		serviceUUID:        ble.NormalizeUUID(serviceUUID),
		characteristicUUID: ble.NormalizeUUID(characteristicUUID),
		ops:                charOpsForDevice,
	}
}

func charForService(serviceID int, characteristicUUID string) charAddress {
	return charAddress{
		serviceID:          serviceID,
		characteristicUUID: ble.NormalizeUUID(characteristicUUID),
		ops:                charOpsForService,
	}
}

func charByID(characteristicID int) charAddress {
	return charAddress{characteristicID: characteristicID, ops: charOpsByID}
}

func (c charAddress) args(transactionID string) map[string]any {
	args := map[string]any{argTransactionID: transactionID}
	switch c.ops {
	case charOpsForDevice:
		args[argIdentifier] = c.deviceID
		args[argServiceUUID] = c.serviceUUID
		args[argCharacteristicUUID] = c.characteristicUUID
	case charOpsForService:
		args[argServiceID] = c.serviceID
		args[argCharacteristicUUID] = c.characteristicUUID
	default:
		args[argCharacteristicID] = c.characteristicID
	}
	return args
}

// descAddress locates a descriptor in one of four modes.
type descAddress struct {
	char           charAddress
	descriptorUUID string
	descriptorID   int
	ops            descriptorOps
}

func descForDevice(deviceID, serviceUUID, characteristicUUID, descriptorUUID string) descAddress {
	return descAddress{
		char:           charForDevice(deviceID, serviceUUID, characteristicUUID),
		descriptorUUID: ble.NormalizeUUID(descriptorUUID),
		ops:            descOpsForDevice,
	}
}

func descForService(serviceID int, characteristicUUID, descriptorUUID string) descAddress {
	return descAddress{
		char:           charForService(serviceID, characteristicUUID),
		descriptorUUID: ble.NormalizeUUID(descriptorUUID),
		ops:            descOpsForService,
	}
}

func descForCharacteristic(characteristicID int, descriptorUUID string) descAddress {
	return descAddress{
		char:           charByID(characteristicID),
		descriptorUUID: ble.NormalizeUUID(descriptorUUID),
		ops:            descOpsForCharacteristic,
	}
}

func descByID(descriptorID int) descAddress {
	return descAddress{descriptorID: descriptorID, ops: descOpsByID}
}

func (d descAddress) args(transactionID string) map[string]any {
	if d.ops == descOpsByID {
		return map[string]any{
			argTransactionID: transactionID,
			argDescriptorID:  d.descriptorID,
		}
	}
	args := d.char.args(transactionID)
	args[argDescriptorUUID] = d.descriptorUUID
	return args
}

// encodeValue renders binary payloads the way the engine expects them.
func encodeValue(value []byte) string {
	return base64.StdEncoding.EncodeToString(value)
}

// timeoutMillis renders an optional timeout; zero means "no timeout".
func timeoutMillis(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return d.Milliseconds()
}
