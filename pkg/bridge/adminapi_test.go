// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"maunium.net/go/mautrix/event"
)

func TestAdminSettings(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	srv := httptest.NewServer(env.bridge.AdminHandler(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/settings", "application/json",
		strings.NewReader(`{"key":"federation.edu.typing","value":false}`))
	if err != nil {
		t.Fatalf("POST settings: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.bridge.Settings().ProcessTyping {
		t.Error("typing should be disabled")
	}

	resp, err = http.Get(srv.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET settings: %v", err)
	}
	defer resp.Body.Close()
	var got Settings
	if err = json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ServerName != testServer || got.ProcessTyping {
		t.Errorf("settings = %+v", got)
	}
}

func TestAdminSettingsRejectsBadInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	handler := env.bridge.AdminHandler(nil)

	tests := []struct {
		body string
		want int
	}{
		{`not json`, http.StatusBadRequest},
		{`{"key":"unknown","value":1}`, http.StatusBadRequest},
		{`{"key":"federation.domain","value":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.body, rec.Code, tt.want)
		}
	}
	if env.bridge.Settings().ServerName != testServer {
		t.Error("rejected change must not be applied")
	}
}

func TestAdminVerify(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.store.addLocalUser("alice")
	handler := env.bridge.AdminHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(`{"identifiers":["@alice:home.example","bad"]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]VerificationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["@alice:home.example"] != Verified || got["bad"] != UnableToVerify {
		t.Errorf("results = %v", got)
	}
}

func TestAdminGetEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.transport.Events["$known"] = &event.Event{Type: event.EventMessage, ID: "$known", RoomID: "!room:home.example"}
	handler := env.bridge.AdminHandler(nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/!room:home.example/$known", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"event_id":"$known"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/!room:home.example/$unknown", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}

	unconfigured := newUnconfiguredEnv()
	rec = httptest.NewRecorder()
	unconfigured.bridge.AdminHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/!room:home.example/$known", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAdminMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	env := newTestEnv()
	env.bridge.metrics = NewMetrics(reg)
	env.bridge.metrics.ObserveOutbound("message.saved", nil)

	rec := httptest.NewRecorder()
	env.bridge.AdminHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "federation_bridge_outbound_total") {
		t.Errorf("metrics output missing outbound counter")
	}

	rec = httptest.NewRecorder()
	env.bridge.AdminHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without gatherer", rec.Code)
	}
}
