package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandlerDegradedWithoutSupervisor(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (healthz always reports 200 with a status field)", rr.Code)
	}
	var body struct {
		Status        string  `json:"status"`
		MQTTConnected bool    `json:"mqtt_connected"`
		LastWriteErr  float64 `json:"last_write_error_age_sec"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.MQTTConnected {
		t.Fatalf("body = %+v, want degraded/not connected without a supervisor", body)
	}
	if body.LastWriteErr < 99999*3600-1 {
		t.Fatalf("last_write_error_age_sec = %v, want a large age for a nil recorder", body.LastWriteErr)
	}
}

func TestReadyHandlerNotReadyWithoutSupervisor(t *testing.T) {
	h := NewReadyHandler(nil, nil, time.Minute)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without a connected supervisor", rr.Code)
	}
	var body struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ready {
		t.Fatal("ready = true, want false without a supervisor")
	}
}
