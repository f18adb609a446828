// Package server is the thin HTTP health surface: /healthz and /readyz
// only, no CRUD API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lumirise/lumirise/internal/history"
	"github.com/lumirise/lumirise/internal/mqttsup"
)

type healthHandler struct {
	supervisor *mqttsup.Supervisor
	recorder   *history.Recorder
}

// NewHealthHandler reports mqtt_connected and last_write_error_age_sec.
func NewHealthHandler(supervisor *mqttsup.Supervisor, recorder *history.Recorder) http.Handler {
	return &healthHandler{supervisor: supervisor, recorder: recorder}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{
		MQTTConnected:   h.supervisor != nil && h.supervisor.IsConnected(),
		LastWriteErrorS: h.recorder.LastErrorAge().Seconds(),
	}
	switch {
	case st.MQTTConnected:
		st.Status = "ok"
	default:
		st.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	supervisor *mqttsup.Supervisor
	minError   time.Duration
	recorder   *history.Recorder
}

// NewReadyHandler returns 200 only once the MQTT session is up.
func NewReadyHandler(supervisor *mqttsup.Supervisor, recorder *history.Recorder, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{supervisor: supervisor, recorder: recorder, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.supervisor != nil && h.supervisor.IsConnected() && h.recorder.LastErrorAge() > h.minError
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
