// Copyright 2024-2026 Aiku AI

package matrixtransport

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/appservice"
)

const testServer = "home.example"

// fakeHomeserver records client-server API requests and answers them from
// a path-keyed table.
type fakeHomeserver struct {
	mu       sync.Mutex
	requests []*http.Request
	handler  http.HandlerFunc
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeHomeserver) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) (*Transport, *appservice.AppService, *fakeHomeserver) {
	t.Helper()
	hs := &fakeHomeserver{handler: handler}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration: &appservice.Registration{
			ID:              "federation",
			AppToken:        "as-token",
			ServerToken:     "hs-token",
			SenderLocalpart: "federationbot",
		},
		HomeserverDomain: testServer,
		HomeserverURL:    srv.URL,
	})
	if err != nil {
		t.Fatalf("CreateFull: %v", err)
	}
	as.DefaultHTTPRetries = 0
	return New(as, 5*time.Second, zerolog.Nop()), as, hs
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
