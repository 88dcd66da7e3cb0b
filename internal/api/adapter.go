package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
	"github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"
)

// AdapterResponse is the body of GET /adapter.
type AdapterResponse struct {
	blesim.Stats
	Channel *blesim.ChannelStats `json:"channel,omitempty"`
}

// LogLevelRequest is the body of PUT /adapter/log-level.
type LogLevelRequest struct {
	Level ble.LogLevel `json:"level"`
}

// ScanRequest is the optional body of POST /scan/start.
type ScanRequest struct {
	FilteredUUIDs []string              `json:"filtered_uuids,omitempty"`
	ScanMode      ble.ScanMode          `json:"scan_mode"`
	CallbackType  *ble.ScanCallbackType `json:"callback_type,omitempty"`
}

// decodeOptionalJSON decodes the request body into v. An empty body leaves
// v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleGetAdapter returns the adapter's bookkeeping and channel traffic.
func (s *Server) handleGetAdapter(w http.ResponseWriter, r *http.Request) {
	stats, err := s.adapter.Stats(r.Context())
	if err != nil {
		writeAdapterError(w, err)
		return
	}

	resp := AdapterResponse{Stats: stats}
	if s.channel != nil {
		cs := s.channel.Stats()
		resp.Channel = &cs
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetLogLevel changes the adapter's own verbosity.
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req LogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !req.Level.IsValid() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown log level: "+string(req.Level))
		return
	}

	if err := s.adapter.SetLogLevel(r.Context(), req.Level); err != nil {
		writeAdapterError(w, err)
		return
	}
	level, err := s.adapter.GetLogLevel(r.Context())
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	s.logger.Info("adapter log level changed", "level", level)
	writeJSON(w, http.StatusOK, map[string]any{"level": level})
}

// handleEnable powers the simulated radio on.
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.switchPower(w, r, s.adapter.Enable)
}

// handleDisable powers the simulated radio off.
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.switchPower(w, r, s.adapter.Disable)
}

type powerFunc func(ctx context.Context, transactionID string, done ble.Completion[struct{}]) error

func (s *Server) switchPower(w http.ResponseWriter, r *http.Request, fn powerFunc) {
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	txID := newTransactionID()
	if _, err := await(ctx, s.adapter, txID, func(done ble.Completion[struct{}]) error {
		return fn(ctx, txID, done)
	}); err != nil {
		writeAdapterError(w, err)
		return
	}

	stats, err := s.adapter.Stats(r.Context())
	if err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txID,
		"adapter_state":  stats.AdapterState,
	})
}

// handleStartScan begins a scan. Results stream over the WebSocket
// "scan" channel rather than this response.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	opts := ble.ScanOptions{
		FilteredUUIDs: req.FilteredUUIDs,
		ScanMode:      req.ScanMode,
		CallbackType:  ble.ScanCallbackAllMatches,
	}
	if req.CallbackType != nil {
		opts.CallbackType = *req.CallbackType
	}

	err := s.adapter.StartDeviceScan(r.Context(), opts,
		func(ble.ScanResult) {},
		func(err error) {
			s.logger.Warn("device scan failed", "error", err)
		},
	)
	if err != nil {
		writeAdapterError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"scanning": true})
}

// handleStopScan ends the active scan.
func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	if err := s.adapter.StopDeviceScan(r.Context()); err != nil {
		writeAdapterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scanning": false})
}
