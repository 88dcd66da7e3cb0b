package blesim

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// =============================================================================
// Preconditions
// =============================================================================

// checkPowered enforces the adapter-level preconditions shared by every
// cached GATT accessor.
func (a *Adapter) checkPowered() *ble.Error {
	switch a.adapterState {
	case ble.StateUnsupported:
		return ble.NewError(ble.BluetoothUnsupported, "bluetooth not supported")
	case ble.StatePoweredOn:
		return nil
	default:
		return ble.NewError(ble.BluetoothResetting, "bluetooth not powered on")
	}
}

// checkDevice enforces the device-level preconditions.
func checkDevice(dc *DeviceContainer, deviceID string) *ble.Error {
	switch {
	case dc == nil:
		return ble.NewError(ble.DeviceNotFound, "device not known").WithDevice(deviceID)
	case !dc.Cache.IsConnected():
		return ble.NewError(ble.DeviceNotConnected, "device not connected").WithDevice(deviceID)
	case !dc.Cache.HasServices():
		return ble.NewError(ble.ServicesNotDiscovered, "services not discovered").WithDevice(deviceID)
	}
	return nil
}

// gattDevice resolves a device for cached GATT access, checking every
// precondition in order: adapter supported, powered on, device known,
// connected, discovered.
func (a *Adapter) gattDevice(deviceID string) (*DeviceContainer, error) {
	if bleErr := a.checkPowered(); bleErr != nil {
		return nil, bleErr
	}
	dc := a.devices.ByID(deviceID)
	if bleErr := checkDevice(dc, deviceID); bleErr != nil {
		return nil, bleErr
	}
	return dc, nil
}

// gattOwner resolves the device owning a GATT id. An id no known device
// owns fails the device-known precondition.
func (a *Adapter) gattOwner(gattID int) (*DeviceContainer, error) {
	if bleErr := a.checkPowered(); bleErr != nil {
		return nil, bleErr
	}
	dc := a.devices.OwnerOfGattID(gattID)
	if dc == nil {
		return nil, ble.NewError(ble.DeviceNotFound, "no known device owns gatt id "+strconv.Itoa(gattID))
	}
	if bleErr := checkDevice(dc, dc.Device.ID); bleErr != nil {
		return nil, bleErr
	}
	return dc, nil
}

func serviceNotDiscovered(dc *DeviceContainer, serviceUUID string) *ble.Error {
	e := ble.NewError(ble.ServicesNotDiscovered, "service not discovered").WithDevice(dc.Device.ID)
	e.ServiceUUID = ble.NormalizeUUID(serviceUUID)
	return e
}

func characteristicNotDiscovered(dc *DeviceContainer, serviceUUID, characteristicUUID string) *ble.Error {
	e := ble.NewError(ble.CharacteristicsNotDiscovered, "characteristic not discovered").WithDevice(dc.Device.ID)
	e.ServiceUUID = ble.NormalizeUUID(serviceUUID)
	e.CharacteristicUUID = ble.NormalizeUUID(characteristicUUID)
	return e
}

func characteristicValues(cached []*CachedCharacteristic) []ble.Characteristic {
	out := make([]ble.Characteristic, 0, len(cached))
	for _, ch := range cached {
		out = append(out, ch.Characteristic.Clone())
	}
	return out
}

func descriptorValues(cached []*ble.Descriptor) []ble.Descriptor {
	out := make([]ble.Descriptor, 0, len(cached))
	for _, d := range cached {
		out = append(out, d.Clone())
	}
	return out
}

// =============================================================================
// Discovery and cached GATT access
// =============================================================================

// DiscoverAllServicesAndCharacteristicsForDevice asks the engine for the
// device's GATT tree and merges it into the cache.
func (a *Adapter) DiscoverAllServicesAndCharacteristicsForDevice(ctx context.Context, deviceID string, transactionID string, done ble.Completion[ble.Device]) error {
	return a.exec(ctx, func() error {
		args := map[string]any{
			argIdentifier:    deviceID,
			argTransactionID: transactionID,
		}
		onSuccess, onError := completion(a, done)
		call(a, opDiscovery, args, func(services []*CachedService) {
			dc := a.devices.ByID(deviceID)
			if dc == nil {
				onError(ble.NewError(ble.DeviceNotFound, "device not known").WithDevice(deviceID))
				return
			}
			if err := dc.Cache.AddServices(services); err != nil {
				onError(ble.NewError(ble.DeviceNotConnected, err.Error()).WithDevice(deviceID))
				return
			}
			a.logDebug("discovery merged", "device_id", deviceID, "services", len(services))
			onSuccess(dc.Device.Clone())
		}, onError)
		return nil
	})
}

// ServicesForDevice returns the device's cached services.
func (a *Adapter) ServicesForDevice(ctx context.Context, deviceID string) ([]ble.Service, error) {
	return query(ctx, a, func() ([]ble.Service, error) {
		dc, err := a.gattDevice(deviceID)
		if err != nil {
			return nil, err
		}
		cached := dc.Cache.Services()
		out := make([]ble.Service, 0, len(cached))
		for _, svc := range cached {
			out = append(out, svc.Service)
		}
		return out, nil
	})
}

// CharacteristicsForDevice returns the cached characteristics of one service.
func (a *Adapter) CharacteristicsForDevice(ctx context.Context, deviceID, serviceUUID string) ([]ble.Characteristic, error) {
	return query(ctx, a, func() ([]ble.Characteristic, error) {
		dc, err := a.gattDevice(deviceID)
		if err != nil {
			return nil, err
		}
		svc, ok := dc.Cache.ServiceByUUID(serviceUUID)
		if !ok {
			return nil, serviceNotDiscovered(dc, serviceUUID)
		}
		return characteristicValues(svc.Characteristics()), nil
	})
}

// CharacteristicsForService returns the cached characteristics of a service
// addressed by id.
func (a *Adapter) CharacteristicsForService(ctx context.Context, serviceID int) ([]ble.Characteristic, error) {
	return query(ctx, a, func() ([]ble.Characteristic, error) {
		dc, err := a.gattOwner(serviceID)
		if err != nil {
			return nil, err
		}
		svc, ok := dc.Cache.ServiceByID(serviceID)
		if !ok {
			return nil, ble.NewError(ble.ServicesNotDiscovered, "service not discovered").WithDevice(dc.Device.ID)
		}
		return characteristicValues(svc.Characteristics()), nil
	})
}

// DescriptorsForDevice returns the cached descriptors of one characteristic.
func (a *Adapter) DescriptorsForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID string) ([]ble.Descriptor, error) {
	return query(ctx, a, func() ([]ble.Descriptor, error) {
		dc, err := a.gattDevice(deviceID)
		if err != nil {
			return nil, err
		}
		svc, ok := dc.Cache.ServiceByUUID(serviceUUID)
		if !ok {
			return nil, serviceNotDiscovered(dc, serviceUUID)
		}
		ch, ok := svc.CharacteristicByUUID(characteristicUUID)
		if !ok {
			return nil, characteristicNotDiscovered(dc, serviceUUID, characteristicUUID)
		}
		return descriptorValues(ch.Descriptors()), nil
	})
}

// DescriptorsForService returns the cached descriptors of a characteristic
// within a service addressed by id.
func (a *Adapter) DescriptorsForService(ctx context.Context, serviceID int, characteristicUUID string) ([]ble.Descriptor, error) {
	return query(ctx, a, func() ([]ble.Descriptor, error) {
		dc, err := a.gattOwner(serviceID)
		if err != nil {
			return nil, err
		}
		svc, ok := dc.Cache.ServiceByID(serviceID)
		if !ok {
			return nil, ble.NewError(ble.ServicesNotDiscovered, "service not discovered").WithDevice(dc.Device.ID)
		}
		ch, ok := svc.CharacteristicByUUID(characteristicUUID)
		if !ok {
			return nil, characteristicNotDiscovered(dc, svc.Service.UUID, characteristicUUID)
		}
		return descriptorValues(ch.Descriptors()), nil
	})
}

// DescriptorsForCharacteristic returns the cached descriptors of a
// characteristic addressed by id.
func (a *Adapter) DescriptorsForCharacteristic(ctx context.Context, characteristicID int) ([]ble.Descriptor, error) {
	return query(ctx, a, func() ([]ble.Descriptor, error) {
		dc, err := a.gattOwner(characteristicID)
		if err != nil {
			return nil, err
		}
		ch, ok := dc.Cache.CharacteristicByID(characteristicID)
		if !ok {
			return nil, ble.NewError(ble.CharacteristicsNotDiscovered, "characteristic not discovered").WithDevice(dc.Device.ID)
		}
		return descriptorValues(ch.Descriptors()), nil
	})
}

// =============================================================================
// Characteristics
// =============================================================================

// ReadCharacteristicForDevice reads a characteristic addressed by UUID path.
func (a *Adapter) ReadCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.readCharacteristic(ctx, charForDevice(deviceID, serviceUUID, characteristicUUID), transactionID, done)
}

// ReadCharacteristicForService reads a characteristic of a service id.
func (a *Adapter) ReadCharacteristicForService(ctx context.Context, serviceID int, characteristicUUID, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.readCharacteristic(ctx, charForService(serviceID, characteristicUUID), transactionID, done)
}

// ReadCharacteristic reads a characteristic by id.
func (a *Adapter) ReadCharacteristic(ctx context.Context, characteristicID int, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.readCharacteristic(ctx, charByID(characteristicID), transactionID, done)
}

// WriteCharacteristicForDevice writes a characteristic addressed by UUID path.
func (a *Adapter) WriteCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID string, value []byte, withResponse bool, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.writeCharacteristic(ctx, charForDevice(deviceID, serviceUUID, characteristicUUID), value, withResponse, transactionID, done)
}

// WriteCharacteristicForService writes a characteristic of a service id.
func (a *Adapter) WriteCharacteristicForService(ctx context.Context, serviceID int, characteristicUUID string, value []byte, withResponse bool, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.writeCharacteristic(ctx, charForService(serviceID, characteristicUUID), value, withResponse, transactionID, done)
}

// WriteCharacteristic writes a characteristic by id.
func (a *Adapter) WriteCharacteristic(ctx context.Context, characteristicID int, value []byte, withResponse bool, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.writeCharacteristic(ctx, charByID(characteristicID), value, withResponse, transactionID, done)
}

// MonitorCharacteristicForDevice streams notifications of a characteristic
// addressed by UUID path.
func (a *Adapter) MonitorCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, transactionID string, onValue func(ble.Characteristic), onError func(error)) error {
	return a.monitorCharacteristic(ctx, charForDevice(deviceID, serviceUUID, characteristicUUID), transactionID, onValue, onError)
}

// MonitorCharacteristicForService streams notifications of a characteristic
// of a service id.
func (a *Adapter) MonitorCharacteristicForService(ctx context.Context, serviceID int, characteristicUUID, transactionID string, onValue func(ble.Characteristic), onError func(error)) error {
	return a.monitorCharacteristic(ctx, charForService(serviceID, characteristicUUID), transactionID, onValue, onError)
}

// MonitorCharacteristic streams notifications of a characteristic by id.
func (a *Adapter) MonitorCharacteristic(ctx context.Context, characteristicID int, transactionID string, onValue func(ble.Characteristic), onError func(error)) error {
	return a.monitorCharacteristic(ctx, charByID(characteristicID), transactionID, onValue, onError)
}

func (a *Adapter) readCharacteristic(ctx context.Context, addr charAddress, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.exec(ctx, func() error {
		op := opDescriptor[ble.Characteristic]{name: addr.ops.read, decode: DecodeCharacteristicValue}
		onSuccess, onError := completion(a, done)
		call(a, op, addr.args(transactionID), func(ch ble.Characteristic) {
			a.cacheCharacteristic(ch)
			onSuccess(ch)
		}, onError)
		return nil
	})
}

func (a *Adapter) writeCharacteristic(ctx context.Context, addr charAddress, value []byte, withResponse bool, transactionID string, done ble.Completion[ble.Characteristic]) error {
	return a.exec(ctx, func() error {
		op := opDescriptor[ble.Characteristic]{name: addr.ops.write, decode: DecodeCharacteristicValue}
		args := addr.args(transactionID)
		args[argValue] = encodeValue(value)
		args[argWithResponse] = withResponse

		onSuccess, onError := completion(a, done)
		call(a, op, args, func(ch ble.Characteristic) {
			a.cacheCharacteristic(ch)
			onSuccess(ch)
		}, onError)
		return nil
	})
}

// monitorCharacteristic installs a monitor under transactionID, superseding
// any registration already using it. An empty transactionID gets a fresh one.
func (a *Adapter) monitorCharacteristic(ctx context.Context, addr charAddress, transactionID string, onValue func(ble.Characteristic), onError func(error)) error {
	return a.exec(ctx, func() error {
		txID := transactionID
		if txID == "" {
			txID = ulid.MustNew(ulid.Timestamp(time.Now()), a.entropy).String()
		}

		if prev, ok := a.monitors[txID]; ok {
			delete(a.monitors, txID)
			a.deliverError(prev.onError, ble.NewError(ble.OperationCancelled, "monitor superseded"))
		}

		a.monitorSeq++
		reg := &monitorRegistration{seq: a.monitorSeq, onValue: onValue, onError: onError}
		a.monitors[txID] = reg
		a.logDebug("monitor registered", "transaction_id", txID, "seq", reg.seq)

		op := opDescriptor[struct{}]{name: addr.ops.monitor}
		call(a, op, addr.args(txID), func(struct{}) {}, func(e *ble.Error) {
			if cur, ok := a.monitors[txID]; ok && cur == reg {
				delete(a.monitors, txID)
				a.deliverError(reg.onError, e)
			}
		})
		return nil
	})
}

// applyNotification routes a notification to its monitor. Unknown
// transactions are tolerated since cancellation races the engine.
func (a *Adapter) applyNotification(transactionID string, ch *ble.Characteristic, notifyErr *ble.Error, raw []byte) {
	ev := AdapterEvent{Type: EventCharacteristicNotification, TransactionID: transactionID}
	switch {
	case notifyErr != nil:
		ev.Payload = notifyErr
		ev.DeviceID = notifyErr.DeviceID
	case ch != nil:
		ev.Payload = ch.Clone()
		ev.DeviceID = ch.DeviceID
	}
	a.noteEvent(ev, raw)

	reg, ok := a.monitors[transactionID]
	if !ok {
		a.logWarn("notification for unknown transaction", "transaction_id", transactionID)
		return
	}

	switch {
	case notifyErr != nil:
		delete(a.monitors, transactionID)
		a.deliverError(reg.onError, notifyErr)
	case ch != nil:
		a.cacheCharacteristic(*ch)
		if reg.onValue != nil {
			value := ch.Clone()
			onValue := reg.onValue
			a.dispatcher.enqueue(func() { onValue(value) })
		}
	default:
		a.logWarn("notification without value or error", "transaction_id", transactionID)
	}
}

// cacheCharacteristic refreshes the cached copy of ch, if any.
func (a *Adapter) cacheCharacteristic(ch ble.Characteristic) {
	if dc := a.ownerOf(ch.DeviceID, ch.ID); dc != nil {
		dc.Cache.UpdateCharacteristic(ch)
	}
}

func (a *Adapter) ownerOf(deviceID string, gattID int) *DeviceContainer {
	if deviceID != "" {
		if dc := a.devices.ByID(deviceID); dc != nil {
			return dc
		}
	}
	return a.devices.OwnerOfGattID(gattID)
}

// =============================================================================
// Descriptors
// =============================================================================

// ReadDescriptorForDevice reads a descriptor addressed by UUID path.
func (a *Adapter) ReadDescriptorForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, descriptorUUID, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.readDescriptor(ctx, descForDevice(deviceID, serviceUUID, characteristicUUID, descriptorUUID), transactionID, done)
}

// ReadDescriptorForService reads a descriptor under a service id.
func (a *Adapter) ReadDescriptorForService(ctx context.Context, serviceID int, characteristicUUID, descriptorUUID, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.readDescriptor(ctx, descForService(serviceID, characteristicUUID, descriptorUUID), transactionID, done)
}

// ReadDescriptorForCharacteristic reads a descriptor under a characteristic id.
func (a *Adapter) ReadDescriptorForCharacteristic(ctx context.Context, characteristicID int, descriptorUUID, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.readDescriptor(ctx, descForCharacteristic(characteristicID, descriptorUUID), transactionID, done)
}

// ReadDescriptor reads a descriptor by id.
func (a *Adapter) ReadDescriptor(ctx context.Context, descriptorID int, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.readDescriptor(ctx, descByID(descriptorID), transactionID, done)
}

// WriteDescriptorForDevice writes a descriptor addressed by UUID path.
func (a *Adapter) WriteDescriptorForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, descriptorUUID string, value []byte, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.writeDescriptor(ctx, descForDevice(deviceID, serviceUUID, characteristicUUID, descriptorUUID), value, transactionID, done)
}

// WriteDescriptorForService writes a descriptor under a service id.
func (a *Adapter) WriteDescriptorForService(ctx context.Context, serviceID int, characteristicUUID, descriptorUUID string, value []byte, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.writeDescriptor(ctx, descForService(serviceID, characteristicUUID, descriptorUUID), value, transactionID, done)
}

// WriteDescriptorForCharacteristic writes a descriptor under a characteristic id.
func (a *Adapter) WriteDescriptorForCharacteristic(ctx context.Context, characteristicID int, descriptorUUID string, value []byte, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.writeDescriptor(ctx, descForCharacteristic(characteristicID, descriptorUUID), value, transactionID, done)
}

// WriteDescriptor writes a descriptor by id.
func (a *Adapter) WriteDescriptor(ctx context.Context, descriptorID int, value []byte, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.writeDescriptor(ctx, descByID(descriptorID), value, transactionID, done)
}

func (a *Adapter) readDescriptor(ctx context.Context, addr descAddress, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.exec(ctx, func() error {
		op := opDescriptor[ble.Descriptor]{name: addr.ops.read, decode: DecodeDescriptor}
		onSuccess, onError := completion(a, done)
		call(a, op, addr.args(transactionID), func(d ble.Descriptor) {
			a.cacheDescriptor(d)
			onSuccess(d)
		}, onError)
		return nil
	})
}

func (a *Adapter) writeDescriptor(ctx context.Context, addr descAddress, value []byte, transactionID string, done ble.Completion[ble.Descriptor]) error {
	return a.exec(ctx, func() error {
		op := opDescriptor[ble.Descriptor]{name: addr.ops.write, decode: DecodeDescriptor}
		args := addr.args(transactionID)
		args[argValue] = encodeValue(value)

		onSuccess, onError := completion(a, done)
		call(a, op, args, func(d ble.Descriptor) {
			a.cacheDescriptor(d)
			onSuccess(d)
		}, onError)
		return nil
	})
}

func (a *Adapter) cacheDescriptor(d ble.Descriptor) {
	if dc := a.ownerOf(d.DeviceID, d.ID); dc != nil {
		dc.Cache.UpdateDescriptor(d)
	}
}

// =============================================================================
// Transactions
// =============================================================================

// CancelTransaction forwards a cancellation. Local monitor registrations stay
// until the engine reports a terminal error for the transaction.
func (a *Adapter) CancelTransaction(ctx context.Context, transactionID string) error {
	return a.exec(ctx, func() error {
		call(a, opCancelTransaction, map[string]any{argTransactionID: transactionID}, func(struct{}) {}, func(e *ble.Error) {
			a.logWarn("cancel transaction failed", "transaction_id", transactionID, "error", e)
		})
		return nil
	})
}
