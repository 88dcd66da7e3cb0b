package ble

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the closed set of BLE error kinds.
//
// Numeric values are part of the wire contract with simulation engines and
// must not change. Unrecognised codes decode to UnknownError.
type ErrorCode int

// General errors.
const (
	UnknownError              ErrorCode = 0
	BluetoothManagerDestroyed ErrorCode = 1
	OperationCancelled        ErrorCode = 2
	OperationTimedOut         ErrorCode = 3
	OperationStartFailed      ErrorCode = 4
	InvalidIdentifiers        ErrorCode = 5
)

// Adapter state errors.
const (
	BluetoothUnsupported       ErrorCode = 100
	BluetoothUnauthorized      ErrorCode = 101
	BluetoothPoweredOff        ErrorCode = 102
	BluetoothInUnknownState    ErrorCode = 103
	BluetoothResetting         ErrorCode = 104
	BluetoothStateChangeFailed ErrorCode = 105
)

// Device errors.
const (
	DeviceConnectionFailed ErrorCode = 200
	DeviceDisconnected     ErrorCode = 201
	DeviceRSSIReadFailed   ErrorCode = 202
	DeviceAlreadyConnected ErrorCode = 203
	DeviceNotFound         ErrorCode = 204
	DeviceNotConnected     ErrorCode = 205
	DeviceMTUChangeFailed  ErrorCode = 206
)

// Service errors.
const (
	ServicesDiscoveryFailed         ErrorCode = 300
	IncludedServicesDiscoveryFailed ErrorCode = 301
	ServiceNotFound                 ErrorCode = 302
	ServicesNotDiscovered           ErrorCode = 303
)

// Characteristic errors.
const (
	CharacteristicsDiscoveryFailed   ErrorCode = 400
	CharacteristicWriteFailed        ErrorCode = 401
	CharacteristicReadFailed         ErrorCode = 402
	CharacteristicNotifyChangeFailed ErrorCode = 403
	CharacteristicNotFound           ErrorCode = 404
	CharacteristicsNotDiscovered     ErrorCode = 405
	CharacteristicInvalidDataFormat  ErrorCode = 406
)

// Descriptor errors.
const (
	DescriptorsDiscoveryFailed  ErrorCode = 500
	DescriptorWriteFailed       ErrorCode = 501
	DescriptorReadFailed        ErrorCode = 502
	DescriptorNotFound          ErrorCode = 503
	DescriptorsNotDiscovered    ErrorCode = 504
	DescriptorInvalidDataFormat ErrorCode = 505
	DescriptorWriteNotAllowed   ErrorCode = 506
)

// Scanning errors.
const (
	ScanStartFailed          ErrorCode = 600
	LocationServicesDisabled ErrorCode = 601
)

var errorCodeNames = map[ErrorCode]string{
	UnknownError:                     "UnknownError",
	BluetoothManagerDestroyed:        "BluetoothManagerDestroyed",
	OperationCancelled:               "OperationCancelled",
	OperationTimedOut:                "OperationTimedOut",
	OperationStartFailed:             "OperationStartFailed",
	InvalidIdentifiers:               "InvalidIdentifiers",
	BluetoothUnsupported:             "BluetoothUnsupported",
	BluetoothUnauthorized:            "BluetoothUnauthorized",
	BluetoothPoweredOff:              "BluetoothPoweredOff",
	BluetoothInUnknownState:          "BluetoothInUnknownState",
	BluetoothResetting:               "BluetoothResetting",
	BluetoothStateChangeFailed:       "BluetoothStateChangeFailed",
	DeviceConnectionFailed:           "DeviceConnectionFailed",
	DeviceDisconnected:               "DeviceDisconnected",
	DeviceRSSIReadFailed:             "DeviceRSSIReadFailed",
	DeviceAlreadyConnected:           "DeviceAlreadyConnected",
	DeviceNotFound:                   "DeviceNotFound",
	DeviceNotConnected:               "DeviceNotConnected",
	DeviceMTUChangeFailed:            "DeviceMTUChangeFailed",
	ServicesDiscoveryFailed:          "ServicesDiscoveryFailed",
	IncludedServicesDiscoveryFailed:  "IncludedServicesDiscoveryFailed",
	ServiceNotFound:                  "ServiceNotFound",
	ServicesNotDiscovered:            "ServicesNotDiscovered",
	CharacteristicsDiscoveryFailed:   "CharacteristicsDiscoveryFailed",
	CharacteristicWriteFailed:        "CharacteristicWriteFailed",
	CharacteristicReadFailed:         "CharacteristicReadFailed",
	CharacteristicNotifyChangeFailed: "CharacteristicNotifyChangeFailed",
	CharacteristicNotFound:           "CharacteristicNotFound",
	CharacteristicsNotDiscovered:     "CharacteristicsNotDiscovered",
	CharacteristicInvalidDataFormat:  "CharacteristicInvalidDataFormat",
	DescriptorsDiscoveryFailed:       "DescriptorsDiscoveryFailed",
	DescriptorWriteFailed:            "DescriptorWriteFailed",
	DescriptorReadFailed:             "DescriptorReadFailed",
	DescriptorNotFound:               "DescriptorNotFound",
	DescriptorsNotDiscovered:         "DescriptorsNotDiscovered",
	DescriptorInvalidDataFormat:      "DescriptorInvalidDataFormat",
	DescriptorWriteNotAllowed:        "DescriptorWriteNotAllowed",
	ScanStartFailed:                  "ScanStartFailed",
	LocationServicesDisabled:         "LocationServicesDisabled",
}

// ParseErrorCode maps a wire code onto the closed set.
// Unknown values fall back to UnknownError so newer simulations never break
// older adapters.
func ParseErrorCode(code int) ErrorCode {
	c := ErrorCode(code)
	if _, ok := errorCodeNames[c]; ok {
		return c
	}
	return UnknownError
}

// String returns the symbolic name of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is a BLE failure with optional attribute context.
//
// Two *Error values match under errors.Is when their codes are equal, so
// callers can test for a kind without caring about the message:
//
//	if errors.Is(err, ble.NewError(ble.DeviceNotConnected, "")) { ... }
//
// or more simply with IsCode.
type Error struct {
	Code               ErrorCode `json:"errorCode"`
	Message            string    `json:"message"`
	DeviceID           string    `json:"deviceId,omitempty"`
	ServiceUUID        string    `json:"serviceUuid,omitempty"`
	CharacteristicUUID string    `json:"characteristicUuid,omitempty"`
	DescriptorUUID     string    `json:"descriptorUuid,omitempty"`
	Reason             string    `json:"reason,omitempty"`
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("ble: ")
	b.WriteString(e.Code.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.DeviceID != "" {
		fmt.Fprintf(&b, " (device %s)", e.DeviceID)
	}
	return b.String()
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDevice returns a copy of e annotated with a device id.
func (e *Error) WithDevice(deviceID string) *Error {
	cp := *e
	cp.DeviceID = deviceID
	return &cp
}

// IsCode reports whether err (or anything it wraps) is an *Error with code.
func IsCode(err error, code ErrorCode) bool {
	var bleErr *Error
	if !errors.As(err, &bleErr) {
		return false
	}
	return bleErr.Code == code
}

// CodeOf extracts the code of err, or UnknownError if err is not a BLE error.
func CodeOf(err error) ErrorCode {
	var bleErr *Error
	if errors.As(err, &bleErr) {
		return bleErr.Code
	}
	return UnknownError
}

// AsError converts any error into an *Error, wrapping foreign errors as
// UnknownError with their message preserved.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var bleErr *Error
	if errors.As(err, &bleErr) {
		return bleErr
	}
	return NewError(UnknownError, err.Error())
}
