// Package rest exposes the read-mostly HTTP status API used by dashboards
// and scripts that do not speak websockets.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/health"
	"github.com/browser-go/extension-bridge/logging"
	"github.com/browser-go/extension-bridge/router"
)

// response is the envelope wrapping every REST payload.  Code is 0 on
// success and -1 on failure.
type response struct {
	Code  int         `json:"code"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
	Stats interface{} `json:"stats,omitempty"`
}

// DeviceSummary is the row shape of device listings.
type DeviceSummary struct {
	DeviceID     string              `json:"deviceId"`
	State        string              `json:"state"`
	ConnectedAt  string              `json:"connectedAt"`
	LastSeen     string              `json:"lastSeen"`
	Capabilities device.Capabilities `json:"capabilities"`
}

// Handler serves the versioned status API.
type Handler struct {
	logger   log.Logger
	registry *device.Registry
	router   *router.Router
	monitor  *health.Monitor
}

// New produces a Handler over the given registry, router, and health monitor.
func New(registry *device.Registry, r *router.Router, monitor *health.Monitor, logger log.Logger) *Handler {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Handler{
		logger:   logger,
		registry: registry,
		router:   r,
		monitor:  monitor,
	}
}

// Routes mounts the API under /api/v1.
func (h *Handler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/devices", h.ListDevices).Methods("GET")
	api.HandleFunc("/devices/{deviceId}", h.GetDevice).Methods("GET")
	api.HandleFunc("/devices/{deviceId}", h.DisconnectDevice).Methods("DELETE")
	api.HandleFunc("/device/stats", h.Stats).Methods("GET")
}

func (h *Handler) respond(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error(h.logger).Log(
			logging.MessageKey(), "failed to encode response",
			logging.ErrorKey(), err,
		)
	}
}

func (h *Handler) summarize(d *device.Device) DeviceSummary {
	return DeviceSummary{
		DeviceID:     string(d.ID()),
		State:        d.State().String(),
		ConnectedAt:  d.RegisteredAt().UTC().Format(time.RFC3339),
		LastSeen:     d.LastSeen().UTC().Format(time.RFC3339),
		Capabilities: d.Capabilities(),
	}
}

// ListDevices answers GET /api/v1/devices with a summary of every device.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.registry.GetAll()
	summaries := make([]DeviceSummary, 0, len(devices))
	for _, d := range devices {
		summaries = append(summaries, h.summarize(d))
	}

	h.respond(w, http.StatusOK, response{Msg: "ok", Data: summaries})
}

// GetDevice answers GET /api/v1/devices/{deviceId} with one device's summary
// and routing metrics.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := device.ParseID(mux.Vars(r)["deviceId"])
	if err != nil {
		h.respond(w, http.StatusBadRequest, response{Code: -1, Msg: err.Error()})
		return
	}

	d, ok := h.registry.Get(id)
	if !ok {
		h.respond(w, http.StatusNotFound, response{Code: -1, Msg: device.NewDeviceNotFoundError(id).Error()})
		return
	}

	metrics, _ := h.router.MetricsFor(id)
	h.respond(w, http.StatusOK, response{
		Msg: "ok",
		Data: map[string]interface{}{
			"device":  h.summarize(d),
			"metrics": metrics,
		},
	})
}

// DisconnectDevice answers DELETE /api/v1/devices/{deviceId} by unregistering
// the device.  The extension transport receives a normal close.
func (h *Handler) DisconnectDevice(w http.ResponseWriter, r *http.Request) {
	id, err := device.ParseID(mux.Vars(r)["deviceId"])
	if err != nil {
		h.respond(w, http.StatusBadRequest, response{Code: -1, Msg: err.Error()})
		return
	}

	if err := h.registry.Unregister(id, "administrative disconnect"); err != nil {
		h.respond(w, http.StatusNotFound, response{Code: -1, Msg: err.Error()})
		return
	}

	h.respond(w, http.StatusOK, response{Msg: "ok"})
}

// Stats answers GET /api/v1/device/stats with the aggregate relay view.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, response{
		Msg: "ok",
		Stats: map[string]interface{}{
			"health":  h.monitor.Snapshot(),
			"devices": h.registry.Stats(),
			"routing": h.router.Snapshot(),
		},
	})
}
