package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/nandi-live/pkg/gateway/config"
	"github.com/vango-go/nandi-live/pkg/gateway/lifecycle"
	"github.com/vango-go/nandi-live/pkg/gateway/live/sessions"
)

type readyBody struct {
	OK             bool     `json:"ok"`
	Draining       bool     `json:"draining"`
	ActiveSessions int      `json:"active_sessions"`
	Issues         []string `json:"issues"`
}

func readyConfig() config.Config {
	return config.Config{
		TransformURL:       "http://transform.test",
		AgentWSURL:         "ws://agent.test/ws",
		SupportedLanguages: []string{"Hindi", "English"},
		DefaultLanguage:    "English",
		GracePeriod:        2 * time.Second,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (int, readyBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body readyBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v body=%q", err, rr.Body.String())
	}
	return rr.Code, body
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyHandler_ReportsActiveSessions(t *testing.T) {
	tracker := sessions.NewTracker()
	unregister := tracker.Register("s_1", sessions.Handle{Cancel: func() {}})
	defer unregister()

	status, body := serveReady(t, ReadyHandler{Config: readyConfig(), Lifecycle: &lifecycle.Lifecycle{}, LiveSessions: tracker})
	if status != http.StatusOK || !body.OK {
		t.Fatalf("status=%d body=%+v", status, body)
	}
	if body.ActiveSessions != 1 || body.Draining {
		t.Fatalf("body=%+v", body)
	}
}

func TestReadyHandler_DrainingIs503(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)

	status, body := serveReady(t, ReadyHandler{Config: readyConfig(), Lifecycle: lc})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if body.OK || !body.Draining {
		t.Fatalf("body=%+v", body)
	}
}

func TestReadyHandler_ConfigIssuesNotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.AgentWSURL = ""
	cfg.DefaultLanguage = "Klingon"

	status, body := serveReady(t, ReadyHandler{Config: cfg})
	if status != http.StatusInternalServerError || body.OK {
		t.Fatalf("status=%d body=%+v", status, body)
	}
	if len(body.Issues) != 2 {
		t.Fatalf("issues=%v", body.Issues)
	}
}

func TestReadyHandler_DependencyPingFailure(t *testing.T) {
	h := ReadyHandler{
		Config: readyConfig(),
		Dependencies: map[string]Pinger{
			"directory": pingerFunc(func(context.Context) error { return errors.New("no primary") }),
			"cache":     pingerFunc(func(context.Context) error { return nil }),
		},
	}
	status, body := serveReady(t, h)
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d", status)
	}
	if len(body.Issues) != 1 || body.Issues[0] != "directory is unreachable" {
		t.Fatalf("issues=%v", body.Issues)
	}
}

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
