package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
	"github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// BLE carries the adapter's error when the failure came from it.
	BLE *ble.Error `json:"ble_error,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeTimeout     = "timeout"
	ErrCodeUnavailable = "unavailable"
	ErrCodeUpstream    = "upstream_error"
	ErrCodeRateLimited = "rate_limited"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAdapterError maps an adapter failure onto an HTTP response.
func writeAdapterError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: err.Error(),
		BLE:     bleErrorOf(err),
	})
}

// classifyError picks the HTTP status and error code for an adapter error.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, blesim.ErrInvalidArgument):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, blesim.ErrScanInProgress), errors.Is(err, blesim.ErrAdapterAlreadyRegistered):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, blesim.ErrChannelUnavailable),
		errors.Is(err, blesim.ErrNotStarted),
		errors.Is(err, blesim.ErrAdapterStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}

	bleErr := bleErrorOf(err)
	if bleErr == nil {
		return http.StatusInternalServerError, ErrCodeInternal
	}

	switch bleErr.Code {
	case ble.DeviceNotFound, ble.ServiceNotFound, ble.CharacteristicNotFound, ble.DescriptorNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case ble.InvalidIdentifiers:
		return http.StatusBadRequest, ErrCodeBadRequest
	case ble.DeviceNotConnected, ble.DeviceAlreadyConnected,
		ble.ServicesNotDiscovered, ble.CharacteristicsNotDiscovered, ble.DescriptorsNotDiscovered,
		ble.BluetoothPoweredOff, ble.BluetoothResetting, ble.OperationCancelled:
		return http.StatusConflict, ErrCodeConflict
	case ble.OperationTimedOut:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case ble.BluetoothManagerDestroyed:
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusBadGateway, ErrCodeUpstream
	}
}

func bleErrorOf(err error) *ble.Error {
	var bleErr *ble.Error
	if errors.As(err, &bleErr) {
		return bleErr
	}
	return nil
}
