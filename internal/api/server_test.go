package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantumlife/cadence/internal/config"
	"github.com/quantumlife/cadence/internal/core"
	"github.com/quantumlife/cadence/internal/engine"
	"github.com/quantumlife/cadence/internal/provider/fake"
	"github.com/quantumlife/cadence/internal/snapshot"
)

func testServer(t *testing.T, p *fake.Provider) (*Server, *engine.Controller) {
	t.Helper()
	syncCfg := config.SyncConfig{
		SyncIntervalMinutes:    15,
		LookaheadDays:          7,
		SignificanceThreshold:  3,
		MaxConsecutiveFailures: 3,
		RequestTimeoutSeconds:  5,
	}
	planCfg := config.Default().Planner
	ctrl := engine.New(p, snapshot.NewMemoryStore(), syncCfg, planCfg)
	t.Cleanup(ctrl.Close)
	return New(Config{Host: "localhost", Port: 0, Engine: ctrl}), ctrl
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus(t *testing.T) {
	s, _ := testServer(t, fake.New())

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status core.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != core.StateDisconnected {
		t.Errorf("state = %s, want disconnected", status.State)
	}
}

func TestHandleSync(t *testing.T) {
	p := fake.New()
	now := time.Now().UTC()
	s, ctrl := testServer(t, p)

	// Before connect the sync endpoint reports a conflict.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sync")
	if rec.Code != http.StatusConflict {
		t.Fatalf("sync while disconnected = %d, want 409", rec.Code)
	}

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	p.SetTimeline([]core.CalendarEvent{{
		ID:     "evt-1",
		Title:  "Standup",
		Start:  now.Add(time.Hour),
		End:    now.Add(2 * time.Hour),
		Source: core.SourceExternal,
	}}, nil)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Changes core.ChangeSet `json:"changes"`
		Count   int            `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Changes.Added) != 1 {
		t.Errorf("body = %+v, want one added event", body)
	}
}

func TestHandleSync_ProviderFailure(t *testing.T) {
	p := fake.New()
	s, ctrl := testServer(t, p)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	p.ListErr = core.ErrProviderTransient
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sync")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("sync on provider failure = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("error body missing: %s", rec.Body.String())
	}
}

func TestHandleOptimize_NotConnected(t *testing.T) {
	s, _ := testServer(t, fake.New())
	rec := doRequest(t, s, http.MethodPost, "/api/v1/optimize")
	if rec.Code != http.StatusConflict {
		t.Errorf("optimize before sync = %d, want 409", rec.Code)
	}
}

func TestHandleDriftAndChanges(t *testing.T) {
	p := fake.New()
	s, ctrl := testServer(t, p)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/drift")
	if rec.Code != http.StatusOK {
		t.Fatalf("drift = %d, want 200", rec.Code)
	}
	var score core.DriftScore
	if err := json.NewDecoder(rec.Body).Decode(&score); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if score.SignificantChange {
		t.Error("fresh connection reports significant change")
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/changes")
	if rec.Code != http.StatusOK {
		t.Fatalf("changes = %d, want 200", rec.Code)
	}
}

func TestHandleClearRecommendation(t *testing.T) {
	p := fake.New()
	s, ctrl := testServer(t, p)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/recommendation/clear")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear = %d, want 200", rec.Code)
	}
	if ctrl.Status().ShouldReoptimize {
		t.Error("recommendation still set after clear")
	}
}

func TestWebSocket_ReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration races the dial returning; wait for the hub to see us.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast("status", core.Status{State: core.StateConnected})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "status" {
		t.Errorf("frame type = %q, want status", frame.Type)
	}
}

func TestWebSocket_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Close()
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after Close, want 0", hub.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still alive after hub close")
	}
}
