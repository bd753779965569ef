package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/nandi-live/pkg/gateway/agentlink"
	"github.com/vango-go/nandi-live/pkg/gateway/config"
	"github.com/vango-go/nandi-live/pkg/gateway/handlers"
	"github.com/vango-go/nandi-live/pkg/gateway/lifecycle"
	"github.com/vango-go/nandi-live/pkg/gateway/live/sessions"
	"github.com/vango-go/nandi-live/pkg/gateway/mw"
	"github.com/vango-go/nandi-live/pkg/gateway/ratelimit"
	"github.com/vango-go/nandi-live/pkg/gateway/transform"
)

const drainNotice = "The assistant is restarting. Please reconnect in a moment."

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	backends    *Backends
	httpClient  *http.Client
	transformer transform.Transformer
	limiter     *ratelimit.Limiter
	lifecycle   *lifecycle.Lifecycle
	tracker     *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, backends *Backends) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if backends == nil {
		backends = &Backends{}
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	var transformer transform.Transformer = transform.NewClient(cfg.TransformURL, httpClient, transform.Options{
		Timeouts: transform.Timeouts{
			Greeting: cfg.GreetingTimeout,
			Outbound: cfg.OutboundTimeout,
			Inbound:  cfg.InboundTimeout,
		},
		IdentityFastPath: cfg.TransformIdentityFast,
	})
	if cfg.TransformRetryAttempts > 0 {
		transformer = transform.Retrying{Next: transformer, MaxRetries: uint64(cfg.TransformRetryAttempts)}
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		mux:         http.NewServeMux(),
		backends:    backends,
		httpClient:  httpClient,
		transformer: transformer,
		limiter: ratelimit.New(ratelimit.Config{
			ConnectRPS:             cfg.ConnectRPS,
			ConnectBurst:           cfg.ConnectBurst,
			MaxSessionsPerIdentity: cfg.MaxSessionsPerIdentity,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		tracker:   sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:       s.cfg,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.tracker,
		Dependencies: s.backends.Probes,
	})
	s.mux.Handle("/v1/sessions", handlers.SessionsHandler{LiveSessions: s.tracker})

	s.mux.Handle("/ws/chat/{identity}", handlers.LiveHandler{
		Config:       s.cfg,
		Directory:    s.backends.Directory,
		Transformer:  s.transformer,
		Logger:       s.logger,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.tracker,
		AgentOptions: agentlink.Options{
			Dialer: &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: s.cfg.AgentConnectTimeout,
			},
		},
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes /readyz fail and refuses new live sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) NotifyLiveSessionsDraining() int {
	return s.tracker.NotifyAll(drainNotice)
}

// WaitLiveSessions reports whether every live session ended before ctx.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.tracker.CancelAll()
}

func (s *Server) ActiveLiveSessions() int {
	return s.tracker.Count()
}
