package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// MTU bounds accepted by POST /devices/{id}/mtu (ATT_MTU range).
const (
	minMTU = ble.DefaultMTU
	maxMTU = 517
)

// ConnectRequest is the optional body of POST /devices/{id}/connect.
type ConnectRequest struct {
	AutoConnect bool `json:"auto_connect"`
	RequestMTU  int  `json:"request_mtu"`
	RefreshGATT bool `json:"refresh_gatt"`
	TimeoutMS   int  `json:"timeout_ms"`
}

// MTURequest is the body of POST /devices/{id}/mtu.
type MTURequest struct {
	MTU int `json:"mtu"`
}

// WriteRequest is the body of PUT .../characteristics/{cuuid}.
// Exactly one of Value (base64 in JSON) or ValueHex must be set.
type WriteRequest struct {
	Value        []byte `json:"value,omitempty"`
	ValueHex     string `json:"value_hex,omitempty"`
	WithResponse *bool  `json:"with_response,omitempty"`
}

// CharacteristicResponse is a characteristic with its value also in hex.
type CharacteristicResponse struct {
	ble.Characteristic
	ValueHex          string `json:"value_hex"`
	ClientConfigValue []byte `json:"client_config_value"`
}

func newCharacteristicResponse(c ble.Characteristic) CharacteristicResponse {
	return CharacteristicResponse{
		Characteristic:    c,
		ValueHex:          hex.EncodeToString(c.Value),
		ClientConfigValue: c.ClientConfigValue(),
	}
}

// handleListDevices returns every device the adapter has seen.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.adapter.Devices(r.Context())
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	if devices == nil {
		devices = []ble.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one known device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.adapter.Device(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleConnect connects to a device and waits for the link.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RequestMTU != 0 && (req.RequestMTU < minMTU || req.RequestMTU > maxMTU) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("request_mtu must be between %d and %d", minMTU, maxMTU))
		return
	}

	deviceID := chi.URLParam(r, "id")
	opts := ble.ConnectOptions{
		AutoConnect: req.AutoConnect,
		RequestMTU:  req.RequestMTU,
		RefreshGATT: req.RefreshGATT,
		Timeout:     time.Duration(req.TimeoutMS) * time.Millisecond,
	}

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	// Link transitions reach clients through the hub, so no state
	// callback is registered here.
	dev, err := await(ctx, s.adapter, "", func(done ble.Completion[ble.Device]) error {
		return s.adapter.ConnectToDevice(ctx, deviceID, opts, nil, done)
	})
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDisconnect drops the link to a device.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	dev, err := await(ctx, s.adapter, "", func(done ble.Completion[ble.Device]) error {
		return s.adapter.CancelDeviceConnection(ctx, deviceID, done)
	})
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDiscover runs full GATT discovery and returns the services found.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	txID := newTransactionID()
	dev, err := await(ctx, s.adapter, txID, func(done ble.Completion[ble.Device]) error {
		return s.adapter.DiscoverAllServicesAndCharacteristicsForDevice(ctx, deviceID, txID, done)
	})
	if err != nil {
		writeAdapterError(w, err)
		return
	}

	services, err := s.adapter.ServicesForDevice(r.Context(), deviceID)
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device":   dev,
		"services": services,
	})
}

// handleRequestMTU negotiates a new MTU.
func (s *Server) handleRequestMTU(w http.ResponseWriter, r *http.Request) {
	var req MTURequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.MTU < minMTU || req.MTU > maxMTU {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("mtu must be between %d and %d", minMTU, maxMTU))
		return
	}

	deviceID := chi.URLParam(r, "id")
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	txID := newTransactionID()
	dev, err := await(ctx, s.adapter, txID, func(done ble.Completion[ble.Device]) error {
		return s.adapter.RequestMTUForDevice(ctx, deviceID, req.MTU, txID, done)
	})
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListServices returns the cached services of a connected device.
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.adapter.ServicesForDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": services,
		"count":    len(services),
	})
}

// handleListCharacteristics returns the cached characteristics of a service.
func (s *Server) handleListCharacteristics(w http.ResponseWriter, r *http.Request) {
	chars, err := s.adapter.CharacteristicsForDevice(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "suuid"))
	if err != nil {
		writeAdapterError(w, err)
		return
	}

	out := make([]CharacteristicResponse, 0, len(chars))
	for _, c := range chars {
		out = append(out, newCharacteristicResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"characteristics": out,
		"count":           len(out),
	})
}

// handleReadCharacteristic reads a characteristic value from the device.
func (s *Server) handleReadCharacteristic(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	serviceUUID := chi.URLParam(r, "suuid")
	charUUID := chi.URLParam(r, "cuuid")

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	txID := newTransactionID()
	c, err := await(ctx, s.adapter, txID, func(done ble.Completion[ble.Characteristic]) error {
		return s.adapter.ReadCharacteristicForDevice(ctx, deviceID, serviceUUID, charUUID, txID, done)
	})
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCharacteristicResponse(c))
}

// handleWriteCharacteristic writes a characteristic value.
func (s *Server) handleWriteCharacteristic(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, err := req.bytes()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	withResponse := true
	if req.WithResponse != nil {
		withResponse = *req.WithResponse
	}

	deviceID := chi.URLParam(r, "id")
	serviceUUID := chi.URLParam(r, "suuid")
	charUUID := chi.URLParam(r, "cuuid")

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	txID := newTransactionID()
	c, err := await(ctx, s.adapter, txID, func(done ble.Completion[ble.Characteristic]) error {
		return s.adapter.WriteCharacteristicForDevice(ctx, deviceID, serviceUUID, charUUID, value, withResponse, txID, done)
	})
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCharacteristicResponse(c))
}

// bytes returns the value to write.
func (req WriteRequest) bytes() ([]byte, error) {
	switch {
	case req.ValueHex != "" && len(req.Value) > 0:
		return nil, fmt.Errorf("set only one of value and value_hex")
	case req.ValueHex != "":
		b, err := hex.DecodeString(req.ValueHex)
		if err != nil {
			return nil, fmt.Errorf("value_hex: %w", err)
		}
		return b, nil
	case req.Value != nil:
		return req.Value, nil
	default:
		return nil, fmt.Errorf("value or value_hex is required")
	}
}
