package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/atv-bridge/internal/atvremote"
	"github.com/nerrad567/atv-bridge/internal/profile"
	"github.com/nerrad567/atv-bridge/internal/registry"
	"github.com/nerrad567/atv-bridge/internal/session"
)

// deviceRequest is the request body for POST /devices.
type deviceRequest struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Address             string `json:"address"`
	Port                int    `json:"port"`
	Manufacturer        string `json:"manufacturer"`
	Model               string `json:"model"`
	MACAddress          string `json:"mac_address"`
	UseChromecast       *bool  `json:"use_chromecast"`
	UseExternalMetadata bool   `json:"use_external_metadata"`
}

// deviceResponse combines the persisted config with live session state.
type deviceResponse struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Address       string         `json:"address"`
	Port          int            `json:"port"`
	Manufacturer  string         `json:"manufacturer,omitempty"`
	Model         string         `json:"model,omitempty"`
	MACAddress    string         `json:"mac_address,omitempty"`
	AuthError     bool           `json:"auth_error"`
	UseChromecast bool           `json:"use_chromecast"`
	State         string         `json:"state"`
	Power         string         `json:"power"`
	Media         map[string]any `json:"media,omitempty"`
}

// deviceView builds a response from config and, when live, its session.
func (s *Server) deviceView(cfg registry.DeviceConfig) deviceResponse {
	resp := deviceResponse{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Address:       cfg.Address,
		Port:          cfg.Port,
		Manufacturer:  cfg.Manufacturer,
		Model:         cfg.Model,
		MACAddress:    cfg.MACAddress,
		AuthError:     cfg.AuthError,
		UseChromecast: cfg.UseChromecast,
		State:         string(session.StateDisconnected),
		Power:         string(session.PowerUnknown),
	}

	if sess, ok := s.registry.Session(cfg.ID); ok {
		resp.State = string(sess.State())
		resp.Power = string(sess.Power())
		if media := sess.MediaAttributes(); len(media) > 0 {
			resp.Media = media
		}
	}

	return resp
}

// handleListDevices returns all configured devices with their live state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	configs, err := s.registry.Devices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	devices := make([]deviceResponse, 0, len(configs))
	for _, cfg := range configs {
		devices = append(devices, s.deviceView(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	configs, err := s.registry.Devices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to get device")
		return
	}
	for _, cfg := range configs {
		if cfg.ID == id {
			writeJSON(w, http.StatusOK, s.deviceView(cfg))
			return
		}
	}
	writeNotFound(w, "device not found")
}

// handleAddDevice registers a device and starts its session. The first
// connection attempt typically lands in the pairing state; the caller then
// submits the on-screen PIN via the pairing endpoints.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	useChromecast := true
	if req.UseChromecast != nil {
		useChromecast = *req.UseChromecast
	}

	cfg := registry.DeviceConfig{
		ID:                  req.ID,
		Name:                req.Name,
		Address:             req.Address,
		Port:                req.Port,
		Manufacturer:        req.Manufacturer,
		Model:               req.Model,
		MACAddress:          req.MACAddress,
		UseChromecast:       useChromecast,
		UseExternalMetadata: req.UseExternalMetadata,
	}

	if err := s.registry.AddDevice(r.Context(), cfg); err != nil {
		if errors.Is(err, registry.ErrInvalidConfig) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to add device")
		return
	}

	writeJSON(w, http.StatusCreated, s.deviceView(cfg))
}

// handleRemoveDevice tears a device down and deletes its configuration.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.RemoveDevice(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to remove device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// commandRequest is the request body for POST /devices/{id}/command.
type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// handleCommand dispatches a command to a device session. Unsupported
// commands and unreachable devices map to negative results, never a 500.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	err := s.registry.Dispatch(r.Context(), id, req.Command, req.Params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
	case errors.Is(err, registry.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, profile.ErrNotSupported):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrQueueOverflow),
		errors.Is(err, atvremote.ErrDeviceUnreachable),
		errors.Is(err, atvremote.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, "command failed")
	}
}

// handleWake nudges a device in the error state to reconnect immediately.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.Wake(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"result": "waking"})
}

// handleStartPairing begins a fresh pairing exchange. The TV shows a PIN;
// the caller submits it via POST /devices/{id}/pairing/pin.
func (s *Server) handleStartPairing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.registry.StartPairing(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"result": "pairing"})
	case errors.Is(err, registry.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, atvremote.ErrDeviceUnreachable), errors.Is(err, atvremote.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, "pairing failed to start")
	}
}

// pinRequest is the request body for POST /devices/{id}/pairing/pin.
type pinRequest struct {
	PIN string `json:"pin"`
}

// handleFinishPairing submits the on-screen PIN. A wrong PIN returns 400 and
// leaves the exchange open for another attempt.
func (s *Server) handleFinishPairing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.PIN == "" {
		writeBadRequest(w, "pin is required")
		return
	}

	err := s.registry.FinishPairing(r.Context(), id, req.PIN)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"result": "paired"})
	case errors.Is(err, registry.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, session.ErrNotPairing):
		writeConflict(w, "device is not in the pairing state")
	case errors.Is(err, atvremote.ErrPairingFailed):
		writeError(w, http.StatusBadRequest, "pairing_failed", "device rejected the PIN; check the screen and retry")
	default:
		writeInternalError(w, "pairing failed")
	}
}
