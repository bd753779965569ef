package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/vango-go/nandi-live/pkg/gateway/config"
	"github.com/vango-go/nandi-live/pkg/gateway/lifecycle"
	"github.com/vango-go/nandi-live/pkg/gateway/live/language"
	"github.com/vango-go/nandi-live/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is a backing store readiness can probe. *directory.Mongo satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config       config.Config
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	// Dependencies are probed on every request, keyed by the name reported
	// in issues.
	Dependencies map[string]Pinger
	PingTimeout  time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveSessions int      `json:"active_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if strings.TrimSpace(h.Config.TransformURL) == "" {
		issues = append(issues, "transform url is not configured")
	}
	if strings.TrimSpace(h.Config.AgentWSURL) == "" {
		issues = append(issues, "agent ws url is not configured")
	}
	if !language.NewSet(h.Config.SupportedLanguages...).Contains(h.Config.DefaultLanguage) {
		issues = append(issues, "default language is not a supported language")
	}
	if h.Config.GracePeriod <= 0 {
		issues = append(issues, "grace period must be > 0")
	}

	if len(h.Dependencies) > 0 {
		timeout := h.PingTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		names := make([]string, 0, len(h.Dependencies))
		for name := range h.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := h.Dependencies[name].Ping(ctx)
			cancel()
			if err != nil {
				issues = append(issues, name+" is unreachable")
			}
		}
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		ActiveSessions: h.LiveSessions.Count(),
		Issues:         issues,
	})
}
