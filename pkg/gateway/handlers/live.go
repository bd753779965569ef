package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/nandi-live/pkg/gateway/agentlink"
	"github.com/vango-go/nandi-live/pkg/gateway/apierror"
	"github.com/vango-go/nandi-live/pkg/gateway/config"
	"github.com/vango-go/nandi-live/pkg/gateway/directory"
	"github.com/vango-go/nandi-live/pkg/gateway/lifecycle"
	"github.com/vango-go/nandi-live/pkg/gateway/live/language"
	"github.com/vango-go/nandi-live/pkg/gateway/live/protocol"
	"github.com/vango-go/nandi-live/pkg/gateway/live/session"
	"github.com/vango-go/nandi-live/pkg/gateway/live/sessions"
	"github.com/vango-go/nandi-live/pkg/gateway/mw"
	"github.com/vango-go/nandi-live/pkg/gateway/ratelimit"
	"github.com/vango-go/nandi-live/pkg/gateway/transform"
)

// LiveHandler accepts /ws/chat/{identity} connections, admits them, resolves
// the session language and hands the socket to a session.Relay.
type LiveHandler struct {
	Config       config.Config
	Directory    directory.Directory
	Transformer  transform.Transformer
	Logger       *slog.Logger
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	// AgentOptions configures the upstream dial. Dialer defaults to
	// websocket.DefaultDialer.
	AgentOptions agentlink.Options
	Now          func() time.Time
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "method not allowed",
			Code:      "method_not_allowed",
			RequestID: reqID,
		})
		return
	}
	if !h.originAllowed(r) {
		apierror.Write(w, http.StatusForbidden, &apierror.Error{
			Type:      apierror.ErrPermission,
			Message:   "origin is not allowed",
			Param:     "Origin",
			RequestID: reqID,
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("request_id", reqID)
	now := h.now()

	// Admission decisions are reported with close codes so browser clients,
	// which cannot read a rejected handshake response, still see them.
	if h.Lifecycle.IsDraining() {
		h.reject(conn, protocol.CloseTryAgainLater, protocol.ReasonDraining)
		return
	}
	if d := h.Limiter.AllowConnect(ratelimit.RemoteKey(r.RemoteAddr), now); !d.Allowed {
		logger.Warn("live connect rate limited", "remote", ratelimit.RemoteKey(r.RemoteAddr))
		h.reject(conn, protocol.CloseTryAgainLater, protocol.ReasonRateLimited)
		return
	}

	identity, err := directory.ParseIdentity(r.PathValue("identity"))
	if err != nil {
		h.reject(conn, protocol.ClosePolicyViolation, protocol.ReasonInvalidIdentity)
		return
	}
	logger = logger.With("identity", identity.String())

	admit := h.Limiter.AcquireSession(identity.String(), now)
	if !admit.Allowed {
		logger.Warn("live session refused", "reason", "max sessions per identity")
		h.reject(conn, protocol.CloseTryAgainLater, protocol.ReasonRateLimited)
		return
	}
	releaseSlot := admit.Permit.Release
	defer releaseSlot()

	profile, err := h.Directory.Lookup(r.Context(), identity)
	if err != nil {
		if errors.Is(err, directory.ErrIdentityNotFound) {
			logger.Info("live session refused", "reason", protocol.ReasonFarmerNotFound)
			h.reject(conn, protocol.ClosePolicyViolation, protocol.ReasonFarmerNotFound)
			return
		}
		logger.Error("directory lookup failed", "error", err)
		h.reject(conn, protocol.CloseInternal, protocol.ReasonInternal)
		return
	}

	supported := language.NewSet(h.Config.SupportedLanguages...)
	lang := language.Resolve(profile.Preferences(), supported, h.Config.DefaultLanguage)

	sessionID := "s_" + uuid.NewString()
	relay, err := session.New(session.Dependencies{
		Conn:        conn,
		Dial:        h.dialAgent,
		Transformer: h.Transformer,
		Logger:      h.logger(),
		SessionID:   sessionID,
		Identity:    identity,
		Profile:     profile,
		Language:    lang,
		Now:         h.Now,
		Config: session.Config{
			GracePeriod:        h.Config.GracePeriod,
			PingInterval:       h.Config.WSPingInterval,
			WriteTimeout:       h.Config.WSWriteTimeout,
			ReadLimit:          h.Config.WSReadLimit,
			MaxSessionDuration: h.Config.MaxSessionDuration,
		},
	})
	if err != nil {
		logger.Error("failed to initialize live session", "error", err)
		h.reject(conn, protocol.CloseInternal, protocol.ReasonInternal)
		return
	}

	unregister := h.LiveSessions.Register(sessionID, sessions.Handle{
		Cancel: relay.Cancel,
		Notify: relay.Notify,
		Info: sessions.Info{
			Identity:  identity.String(),
			Language:  lang,
			StartedAt: relay.StartedAt(),
		},
		StateFn: func() string { return relay.State().String() },
	})
	// Free the identity slot before the session leaves the registry so a
	// client that reconnects after seeing it gone is admitted.
	defer func() {
		releaseSlot()
		unregister()
	}()

	// The relay outlives the request context once the connection is hijacked;
	// shutdown reaches it through the tracker.
	outcome, err := relay.Run(context.Background())
	stats := relay.Stats()
	attrs := []any{
		"session_id", sessionID,
		"outcome", string(outcome),
		"inbound", stats.Inbound,
		"outbound", stats.Outbound,
	}
	if err != nil {
		logger.Warn("live session ended with error", append(attrs, "error", err)...)
		return
	}
	logger.Debug("live session ended", attrs...)
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// dialAgent opens the agent link once the greeting is queued.
func (h LiveHandler) dialAgent(ctx context.Context) (session.AgentLink, error) {
	timeout := h.Config.AgentConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	link, err := agentlink.Open(dialCtx, h.Config.AgentWSURL, h.agentOptions())
	if err != nil {
		h.logger().Error("agent connect failed", "error", err)
		return nil, err
	}
	return link, nil
}

func (h LiveHandler) agentOptions() agentlink.Options {
	opts := h.AgentOptions
	if opts.PingInterval <= 0 {
		opts.PingInterval = h.Config.WSPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = h.Config.WSWriteTimeout
	}
	return opts
}

// reject ends a connection that never reached a relay.
func (h LiveHandler) reject(conn *websocket.Conn, code int, reason string) {
	writeTimeout := h.Config.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h LiveHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
