package blesim

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// Decoders turn engine payloads into ble values. They never touch adapter
// state; cache mutation happens in the adapter.

// wireError is the engine's error object.
type wireError struct {
	ErrorCode          *int    `json:"errorCode"`
	Message            *string `json:"message"`
	DeviceID           string  `json:"deviceId"`
	ServiceUUID        string  `json:"serviceUuid"`
	CharacteristicUUID string  `json:"characteristicUuid"`
	DescriptorUUID     string  `json:"descriptorUuid"`
	Reason             string  `json:"reason"`
}

// wireDevice is the engine's device object.
type wireDevice struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
	RSSI *int    `json:"rssi"`
	MTU  *int    `json:"mtu"`
}

// wireScanResult is the engine's advertising report.
type wireScanResult struct {
	ID                    string            `json:"id"`
	Name                  *string           `json:"name"`
	RSSI                  *int              `json:"rssi"`
	ManufacturerData      *string           `json:"manufacturerData"`
	ServiceData           map[string]string `json:"serviceData"`
	ServiceUUIDs          []string          `json:"serviceUuids"`
	LocalName             *string           `json:"localName"`
	TxPowerLevel          *int              `json:"txPowerLevel"`
	LegacyTxPowerLevel    *int              `json:"txPowerLeveL"`
	SolicitedServiceUUIDs []string          `json:"solicitedServiceUuids"`
	OverflowServiceUUIDs  []string          `json:"overflowServiceUuids"`
}

// wireService is one service of a discovery reply.
type wireService struct {
	PeripheralID    string               `json:"peripheralId"`
	ID              int                  `json:"id"`
	UUID            string               `json:"uuid"`
	Characteristics []wireCharacteristic `json:"characteristics"`
}

// wireCharacteristic is a characteristic, standalone or nested in a service.
type wireCharacteristic struct {
	PeripheralID              string           `json:"peripheralId"`
	ID                        int              `json:"id"`
	UUID                      string           `json:"uuid"`
	ServiceID                 int              `json:"serviceId"`
	ServiceUUID               string           `json:"serviceUuid"`
	IsReadable                bool             `json:"isReadable"`
	IsWritableWithResponse    bool             `json:"isWritableWithResponse"`
	IsWritableWithoutResponse bool             `json:"isWritableWithoutResponse"`
	IsNotifiable              bool             `json:"isNotifiable"`
	IsIndicatable             bool             `json:"isIndicatable"`
	IsNotifying               bool             `json:"isNotifying"`
	Value                     *string          `json:"value"`
	Descriptors               []wireDescriptor `json:"descriptors"`
}

// wireDescriptor is a descriptor, standalone or nested in a characteristic.
type wireDescriptor struct {
	PeripheralID       string  `json:"peripheralId"`
	ID                 int     `json:"id"`
	UUID               string  `json:"uuid"`
	CharacteristicID   int     `json:"characteristicId"`
	CharacteristicUUID string  `json:"characteristicUuid"`
	ServiceID          int     `json:"serviceId"`
	ServiceUUID        string  `json:"serviceUuid"`
	Value              *string `json:"value"`
}

// DecodeError decodes an engine error object.
// Unknown codes map to ble.UnknownError; a missing code is a decode failure.
func DecodeError(raw []byte) (*ble.Error, error) {
	var w wireError
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: error object: %w", ErrInvalidPayload, err)
	}
	if w.ErrorCode == nil {
		return nil, fmt.Errorf("%w: error object without errorCode", ErrInvalidPayload)
	}

	bleErr := ble.NewError(ble.ParseErrorCode(*w.ErrorCode), "")
	if w.Message != nil {
		bleErr.Message = *w.Message
	}
	bleErr.DeviceID = w.DeviceID
	bleErr.ServiceUUID = ble.NormalizeUUID(w.ServiceUUID)
	bleErr.CharacteristicUUID = ble.NormalizeUUID(w.CharacteristicUUID)
	bleErr.DescriptorUUID = ble.NormalizeUUID(w.DescriptorUUID)
	bleErr.Reason = w.Reason
	return bleErr, nil
}

// DecodeDevice decodes a device object (id, optional name, rssi and mtu).
// A missing mtu leaves MTU at zero so callers can tell "not reported".
func DecodeDevice(raw []byte) (ble.Device, error) {
	var w wireDevice
	if err := json.Unmarshal(raw, &w); err != nil {
		return ble.Device{}, fmt.Errorf("%w: device: %w", ErrInvalidPayload, err)
	}
	return w.toDevice()
}

// DecodeDevices decodes an array of device objects.
func DecodeDevices(raw []byte) ([]ble.Device, error) {
	if isNullJSON(raw) {
		return []ble.Device{}, nil
	}
	var ws []wireDevice
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("%w: devices: %w", ErrInvalidPayload, err)
	}
	out := make([]ble.Device, 0, len(ws))
	for _, w := range ws {
		d, err := w.toDevice()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (w wireDevice) toDevice() (ble.Device, error) {
	if w.ID == "" {
		return ble.Device{}, fmt.Errorf("%w: device without id", ErrInvalidPayload)
	}
	d := ble.Device{ID: w.ID, Name: w.Name, RSSI: w.RSSI}
	if w.MTU != nil {
		d.MTU = *w.MTU
	}
	return d, nil
}

// DecodeScanResult decodes an advertising report.
//
// The simulated scan path cannot observe MTU or connectability, so MTU is
// fixed to ble.MTUNotApplicable and IsConnectable to false.
func DecodeScanResult(raw []byte) (ble.ScanResult, error) {
	var w wireScanResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return ble.ScanResult{}, fmt.Errorf("%w: scan result: %w", ErrInvalidPayload, err)
	}
	if w.ID == "" {
		return ble.ScanResult{}, fmt.Errorf("%w: scan result without id", ErrInvalidPayload)
	}

	adv := ble.AdvertisementData{
		ServiceUUIDs:          ble.NormalizeUUIDs(w.ServiceUUIDs),
		LocalName:             w.LocalName,
		TxPowerLevel:          w.TxPowerLevel,
		SolicitedServiceUUIDs: ble.NormalizeUUIDs(w.SolicitedServiceUUIDs),
		OverflowServiceUUIDs:  ble.NormalizeUUIDs(w.OverflowServiceUUIDs),
	}
	if adv.TxPowerLevel == nil {
		adv.TxPowerLevel = w.LegacyTxPowerLevel
	}

	if w.ManufacturerData != nil {
		data, err := decodeBase64(*w.ManufacturerData)
		if err != nil {
			return ble.ScanResult{}, fmt.Errorf("%w: manufacturerData: %w", ErrInvalidPayload, err)
		}
		adv.ManufacturerData = data
	}

	if len(w.ServiceData) > 0 {
		adv.ServiceData = make(map[string][]byte, len(w.ServiceData))
		for uuid, encoded := range w.ServiceData {
			data, err := decodeBase64(encoded)
			if err != nil {
				return ble.ScanResult{}, fmt.Errorf("%w: serviceData[%s]: %w", ErrInvalidPayload, uuid, err)
			}
			adv.ServiceData[ble.NormalizeUUID(uuid)] = data
		}
	}

	return ble.ScanResult{
		Device: ble.Device{
			ID:   w.ID,
			Name: w.Name,
			RSSI: w.RSSI,
			MTU:  ble.MTUNotApplicable,
		},
		Advertisement: adv,
		IsConnectable: false,
	}, nil
}

// DecodeCharacteristic decodes a characteristic and its nested descriptors.
//
// When service is nil the owning service is rebuilt from the payload's
// serviceId/serviceUuid/peripheralId fields.
func DecodeCharacteristic(raw []byte, service *ble.Service) (*CachedCharacteristic, error) {
	var w wireCharacteristic
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: characteristic: %w", ErrInvalidPayload, err)
	}
	return w.toCached(service)
}

// DecodeCharacteristicValue decodes a standalone characteristic reply into a
// plain value, for read/write/notification payloads.
func DecodeCharacteristicValue(raw []byte) (ble.Characteristic, error) {
	cached, err := DecodeCharacteristic(raw, nil)
	if err != nil {
		return ble.Characteristic{}, err
	}
	return cached.Characteristic, nil
}

// DecodeDescriptor decodes a standalone descriptor reply.
func DecodeDescriptor(raw []byte) (ble.Descriptor, error) {
	var w wireDescriptor
	if err := json.Unmarshal(raw, &w); err != nil {
		return ble.Descriptor{}, fmt.Errorf("%w: descriptor: %w", ErrInvalidPayload, err)
	}
	return w.toDescriptor()
}

// DecodeDiscovery decodes a discovery reply into service trees ready to be
// merged into an EntityCache. A null payload is an empty discovery.
func DecodeDiscovery(raw []byte) ([]*CachedService, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var ws []wireService
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("%w: discovery: %w", ErrInvalidPayload, err)
	}

	out := make([]*CachedService, 0, len(ws))
	for _, w := range ws {
		svc := newCachedService(ble.Service{
			ID:        w.ID,
			UUID:      ble.NormalizeUUID(w.UUID),
			DeviceID:  w.PeripheralID,
			IsPrimary: true,
		})
		for _, wc := range w.Characteristics {
			ch, err := wc.toCached(&svc.Service)
			if err != nil {
				return nil, err
			}
			svc.addCharacteristic(ch)
		}
		out = append(out, svc)
	}
	return out, nil
}

// DecodeInt decodes a bare integer reply (requestMtu).
func DecodeInt(raw []byte) (int, error) {
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: integer: %w", ErrInvalidPayload, err)
	}
	return v, nil
}

// DecodeBool decodes a bare boolean reply (isDeviceConnected).
func DecodeBool(raw []byte) (bool, error) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("%w: boolean: %w", ErrInvalidPayload, err)
	}
	return v, nil
}

func (w wireCharacteristic) toCached(service *ble.Service) (*CachedCharacteristic, error) {
	var props ble.CharacteristicProperties
	if w.IsReadable {
		props |= ble.PropertyRead
	}
	if w.IsWritableWithResponse {
		props |= ble.PropertyWrite
	}
	if w.IsWritableWithoutResponse {
		props |= ble.PropertyWriteNoResponse
	}
	if w.IsNotifiable {
		props |= ble.PropertyNotify
	}
	if w.IsIndicatable {
		props |= ble.PropertyIndicate
	}

	if service == nil {
		service = &ble.Service{
			ID:        w.ServiceID,
			UUID:      ble.NormalizeUUID(w.ServiceUUID),
			DeviceID:  w.PeripheralID,
			IsPrimary: true,
		}
	}

	ch := ble.Characteristic{
		ID:          w.ID,
		UUID:        ble.NormalizeUUID(w.UUID),
		ServiceID:   service.ID,
		ServiceUUID: service.UUID,
		DeviceID:    service.DeviceID,
		Properties:  props,
		IsNotifying: w.IsNotifying,
	}
	if ch.DeviceID == "" {
		ch.DeviceID = w.PeripheralID
	}
	if w.Value != nil {
		value, err := decodeBase64(*w.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: characteristic %d value: %w", ErrInvalidPayload, w.ID, err)
		}
		ch.Value = value
	}

	cached := newCachedCharacteristic(ch)
	for _, wd := range w.Descriptors {
		d, err := wd.toDescriptor()
		if err != nil {
			return nil, err
		}
		cached.addDescriptor(d)
	}
	return cached, nil
}

func (w wireDescriptor) toDescriptor() (ble.Descriptor, error) {
	d := ble.Descriptor{
		ID:                 w.ID,
		UUID:               ble.NormalizeUUID(w.UUID),
		CharacteristicID:   w.CharacteristicID,
		CharacteristicUUID: ble.NormalizeUUID(w.CharacteristicUUID),
		ServiceID:          w.ServiceID,
		ServiceUUID:        ble.NormalizeUUID(w.ServiceUUID),
		DeviceID:           w.PeripheralID,
	}
	if w.Value != nil {
		value, err := decodeBase64(*w.Value)
		if err != nil {
			return ble.Descriptor{}, fmt.Errorf("%w: descriptor %d value: %w", ErrInvalidPayload, w.ID, err)
		}
		d.Value = value
	}
	return d, nil
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
