package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/api/websocket"
	"github.com/efeuentertainment/vigiclient/internal/config"
	"github.com/efeuentertainment/vigiclient/internal/engine"
	"github.com/efeuentertainment/vigiclient/internal/interfaces"
	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

type fakeLifecycle struct {
	cfg       *config.Config
	snapshot  *engine.Snapshot
	events    []session.Event
	eventsErr error
	reloadErr error
	limit     int
	reloads   int
}

func (f *fakeLifecycle) Config() *config.Config            { return f.cfg }
func (f *fakeLifecycle) Snapshot() *engine.Snapshot        { return f.snapshot }
func (f *fakeLifecycle) Shutdown(ctx context.Context) error { return nil }

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:       "RUNNING",
		Initialized: f.snapshot.Initialized,
		Servers:     f.cfg.Servers,
	}
}

func (f *fakeLifecycle) RecentEvents(ctx context.Context, limit int) ([]session.Event, error) {
	f.limit = limit
	return f.events, f.eventsErr
}

func (f *fakeLifecycle) ReloadProfile(ctx context.Context) error {
	f.reloads++
	return f.reloadErr
}

func newTestServer(t *testing.T, journal bool) (*Server, *fakeLifecycle) {
	t.Helper()
	cfg := &config.Config{
		Servers:  []string{"wss://station.example/robot"},
		Database: config.DatabaseConfig{Enabled: journal},
	}
	lm := &fakeLifecycle{
		cfg: cfg,
		snapshot: &engine.Snapshot{
			Initialized: true,
			State:       session.StateEngaged,
			Owner:       "wss://station.example/robot",
			Running:     true,
			Commands16:  []engine.CommandState{{Name: "speed", Target: 40, Current: 20}},
			Outputs:     []mixer.OutputState{{Name: "left", Kind: "PwmDirDir", Value: 51}},
		},
	}
	logger := zaptest.NewLogger(t)
	return NewServer(cfg, lm, logger, websocket.NewHub(logger, 0)), lm
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: decode body: %v", method, path, err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s, lm := newTestServer(t, false)

	rec, body := do(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", rec.Code, body)
	}

	lm.snapshot = &engine.Snapshot{}
	_, body = do(t, s, http.MethodGet, "/health")
	if body["status"] != "uninitialized" {
		t.Errorf("status = %v, want uninitialized", body["status"])
	}
}

func TestSessionAndState(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec, body := do(t, s, http.MethodGet, "/api/v1/session")
	if rec.Code != http.StatusOK {
		t.Fatalf("session = %d", rec.Code)
	}
	if body["state"] != "engaged" || body["owner"] != "wss://station.example/robot" {
		t.Errorf("session body = %v", body)
	}

	_, body = do(t, s, http.MethodGet, "/api/v1/commands")
	cmds := body["commands16"].([]any)
	if len(cmds) != 1 || cmds[0].(map[string]any)["name"] != "speed" {
		t.Errorf("commands16 = %v", cmds)
	}

	_, body = do(t, s, http.MethodGet, "/api/v1/outputs")
	outs := body["outputs"].([]any)
	if len(outs) != 1 || outs[0].(map[string]any)["value"] != float64(51) {
		t.Errorf("outputs = %v", outs)
	}

	_, body = do(t, s, http.MethodGet, "/api/v1/system/status")
	if body["state"] != "RUNNING" || body["initialized"] != true {
		t.Errorf("status = %v", body)
	}
}

func TestEventsRoute(t *testing.T) {
	s, _ := newTestServer(t, false)
	if rec, _ := do(t, s, http.MethodGet, "/api/v1/events"); rec.Code != http.StatusNotFound {
		t.Errorf("events without journal = %d, want 404", rec.Code)
	}

	s, lm := newTestServer(t, true)
	lm.events = []session.Event{
		session.NewEvent(session.EventSleep, uuid.New(), "wss://station.example/robot", "inactivity", time.Now()),
	}

	rec, body := do(t, s, http.MethodGet, "/api/v1/events?limit=10")
	if rec.Code != http.StatusOK || body["count"] != float64(1) || lm.limit != 10 {
		t.Fatalf("events = %d %v limit=%d", rec.Code, body, lm.limit)
	}

	tests := []struct {
		query string
		err   error
		code  int
	}{
		{"?limit=0", nil, http.StatusBadRequest},
		{"?limit=abc", nil, http.StatusBadRequest},
		{"?limit=501", nil, http.StatusBadRequest},
		{"", interfaces.ErrJournalDisabled, http.StatusServiceUnavailable},
		{"", fmt.Errorf("query failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			lm.eventsErr = tt.err
			rec, body := do(t, s, http.MethodGet, "/api/v1/events"+tt.query)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if _, ok := body["error"]; !ok {
				t.Errorf("missing error body: %v", body)
			}
		})
	}
}

func TestReload(t *testing.T) {
	s, lm := newTestServer(t, false)

	if rec, _ := do(t, s, http.MethodPost, "/api/v1/system/reload"); rec.Code != http.StatusOK {
		t.Fatalf("reload = %d", rec.Code)
	}

	lm.reloadErr = fmt.Errorf("output left: %w", mixer.ErrConfiguration)
	rec, body := do(t, s, http.MethodPost, "/api/v1/system/reload")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reload with bad profile = %d", rec.Code)
	}
	if body["error"].(map[string]any)["code"] != "SYSTEM_RELOAD" {
		t.Errorf("error body = %v", body)
	}
	if lm.reloads != 2 {
		t.Errorf("reloads = %d, want 2", lm.reloads)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec, _ := do(t, s, http.MethodOptions, "/api/v1/session")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
