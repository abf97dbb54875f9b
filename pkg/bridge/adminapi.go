// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"maunium.net/go/mautrix/id"
)

// maxAdminBodySize is the maximum allowed request body for admin API calls (1 MB).
const maxAdminBodySize = 1 << 20

type settingRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type verifyRequest struct {
	Identifiers []string `json:"identifiers"`
}

// AdminHandler returns the admin API router. gatherer may be nil to leave out
// the metrics endpoint.
func (b *Bridge) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", b.handleGetSettings)
		r.Post("/settings", b.handleApplySetting)
		r.Post("/verify", b.handleVerify)
		r.Get("/events/{roomID}/{eventID}", b.handleGetEvent)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// NewAdminServer wraps the admin API in an HTTP server listening on addr.
func (b *Bridge) NewAdminServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      b.AdminHandler(gatherer),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (b *Bridge) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if err = json.Unmarshal(body, into); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (b *Bridge) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, http.StatusOK, b.Settings())
}

func (b *Bridge) handleApplySetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !readJSON(w, r, &req) {
		return
	}
	b.log.Info().Str("remote_addr", r.RemoteAddr).Str("key", req.Key).Msg("Setting change requested")
	if err := b.ApplySetting(req.Key, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.writeJSON(w, http.StatusOK, b.Settings())
}

func (b *Bridge) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !readJSON(w, r, &req) {
		return
	}
	b.writeJSON(w, http.StatusOK, b.VerifyIdentifiers(r.Context(), req.Identifiers))
}

func (b *Bridge) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	roomID := id.RoomID(chi.URLParam(r, "roomID"))
	eventID := id.EventID(chi.URLParam(r, "eventID"))
	evt, err := b.GetEventByID(r.Context(), roomID, eventID)
	switch {
	case errors.Is(err, ErrConfigurationUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		b.log.Warn().Err(err).Stringer("event_id", eventID).Msg("Failed to fetch event for admin API")
		http.Error(w, "failed to fetch event", http.StatusBadGateway)
	case evt == nil:
		http.Error(w, "event not found", http.StatusNotFound)
	default:
		b.writeJSON(w, http.StatusOK, evt)
	}
}
