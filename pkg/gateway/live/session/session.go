// Package session runs the duplex relay between one user connection and one
// agent link: greeting handshake, the inbound and outbound pumps, and
// teardown.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/nandi-live/pkg/gateway/agentlink"
	"github.com/vango-go/nandi-live/pkg/gateway/directory"
	"github.com/vango-go/nandi-live/pkg/gateway/live/language"
	"github.com/vango-go/nandi-live/pkg/gateway/live/protocol"
	"github.com/vango-go/nandi-live/pkg/gateway/transform"
)

const (
	greetingTemplate = "Hello %s, I am the NANDI assistant. How can I help you?"
	fallbackTemplate = "Hello %s."

	outboundPriorityQueueSize = 8
)

var (
	ErrUserDisconnect = errors.New("user disconnected")
	ErrAgentClosed    = errors.New("agent closed the stream")
	ErrCanceled       = errors.New("session canceled")
	ErrSessionTimeout = errors.New("session exceeded max duration")
	ErrInternal       = errors.New("internal relay error")

	errNoticeBackpressure = errors.New("notice queue full")
)

type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome names why a relay ended.
type Outcome string

const (
	OutcomeUserDisconnect   Outcome = "user_disconnect"
	OutcomeAgentClosed      Outcome = "agent_closed"
	OutcomeLinkFailure      Outcome = "link_failure"
	OutcomeTransformFailure Outcome = "transform_failure"
	OutcomeCanceled         Outcome = "canceled"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeInternal         Outcome = "internal"
)

// Classify maps the error that ended a relay to its Outcome. A nil error has
// no outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAgentClosed):
		return OutcomeAgentClosed
	case errors.Is(err, ErrUserDisconnect):
		return OutcomeUserDisconnect
	case errors.Is(err, ErrSessionTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.Is(err, transform.ErrTransform):
		return OutcomeTransformFailure
	case errors.Is(err, agentlink.ErrLink):
		return OutcomeLinkFailure
	default:
		return OutcomeInternal
	}
}

// classifyEnd is Classify for Run, where pumps that stop without an error
// mean the agent stream ended.
func classifyEnd(err error) Outcome {
	if err == nil {
		return OutcomeAgentClosed
	}
	return Classify(err)
}

// closeFor is the close frame sent to the user for an outcome. Every relay
// that ends with the user still connected closes normally; the reason names
// the cause.
func closeFor(o Outcome) closeFrame {
	switch o {
	case OutcomeUserDisconnect:
		return closeFrame{}
	case OutcomeAgentClosed:
		return closeFrame{code: protocol.CloseNormal}
	case OutcomeCanceled:
		return closeFrame{code: protocol.CloseNormal, reason: "session ended"}
	case OutcomeTimeout:
		return closeFrame{code: protocol.CloseNormal, reason: "session time limit reached"}
	case OutcomeLinkFailure:
		return closeFrame{code: protocol.CloseNormal, reason: "agent unavailable"}
	case OutcomeTransformFailure:
		return closeFrame{code: protocol.CloseNormal, reason: "translation failed"}
	default:
		return closeFrame{code: protocol.CloseNormal, reason: protocol.ReasonInternal}
	}
}

// Conn is the user socket. *websocket.Conn satisfies it.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// AgentLink is the upstream agent connection. *agentlink.Link satisfies it.
type AgentLink interface {
	Send(ctx context.Context, q protocol.AgentQuery) error
	Receive() <-chan string
	Err() error
	Close() error
}

type Config struct {
	GracePeriod        time.Duration
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration // 0 => no read deadline
	ReadLimit          int64
	MaxSessionDuration time.Duration // 0 => unbounded
	OutboundQueueSize  int
}

type Dependencies struct {
	Conn        Conn
	Link        AgentLink
	// Dial opens the agent link after the greeting when Link is nil.
	Dial        func(ctx context.Context) (AgentLink, error)
	Transformer transform.Transformer
	Logger      *slog.Logger
	SessionID   string
	Identity    directory.SessionIdentity
	Profile     directory.Profile
	Language    string
	Config      Config
	Now         func() time.Time
}

// Relay is one live session. Run may be called once.
type Relay struct {
	conn        Conn
	link        AgentLink
	dial        func(ctx context.Context) (AgentLink, error)
	transformer transform.Transformer
	logger      *slog.Logger
	sessionID   string
	identity    directory.SessionIdentity
	profile     directory.Profile
	language    string
	cfg         Config
	now         func() time.Time
	startedAt   time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	state   atomic.Int32
	ran     atomic.Bool
	inbound atomic.Int64
	agentTx atomic.Int64

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	closeMu  sync.Mutex
	closeMsg closeFrame
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// Stats counts relayed envelopes.
type Stats struct {
	Inbound  int64 // user events sent to the agent
	Outbound int64 // agent messages forwarded to the user
}

func New(deps Dependencies) (*Relay, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Link == nil && deps.Dial == nil {
		return nil, fmt.Errorf("agent link or dial is required")
	}
	if deps.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if deps.Identity.IsZero() {
		return nil, fmt.Errorf("session identity is required")
	}
	if strings.TrimSpace(deps.Language) == "" {
		return nil, fmt.Errorf("session language is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.GracePeriod <= 0 {
		deps.Config.GracePeriod = 2 * time.Second
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 64
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	r := &Relay{
		conn:             deps.Conn,
		link:             deps.Link,
		dial:             deps.Dial,
		transformer:      deps.Transformer,
		logger:           deps.Logger,
		sessionID:        deps.SessionID,
		identity:         deps.Identity,
		profile:          deps.Profile,
		language:         deps.Language,
		cfg:              deps.Config,
		now:              deps.Now,
		startedAt:        deps.Now(),
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	r.state.Store(int32(StateHandshaking))
	return r, nil
}

func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) StartedAt() time.Time { return r.startedAt }

func (r *Relay) Stats() Stats {
	return Stats{Inbound: r.inbound.Load(), Outbound: r.agentTx.Load()}
}

// Cancel ends the session with OutcomeCanceled. Safe to call at any time.
func (r *Relay) Cancel() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel(ErrCanceled)
}

// Notify sends a best-effort system notice to the user.
func (r *Relay) Notify(text string) error {
	if r == nil {
		return nil
	}
	if s := r.State(); s == StateClosing || s == StateClosed {
		return nil
	}
	return r.sendPriority(protocol.SystemMessage(text))
}

// Run drives the session until it ends and returns why. The error is nil for
// OutcomeUserDisconnect and OutcomeAgentClosed.
func (r *Relay) Run(ctx context.Context) (Outcome, error) {
	if !r.ran.CompareAndSwap(false, true) {
		return OutcomeInternal, fmt.Errorf("%w: relay already ran", ErrInternal)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, func() { r.cancel(ErrCanceled) })
	defer stop()
	defer r.cancel(ErrCanceled)

	scope := r.ctx
	if r.cfg.MaxSessionDuration > 0 {
		var cancelTimeout context.CancelFunc
		scope, cancelTimeout = context.WithTimeoutCause(scope, r.cfg.MaxSessionDuration, ErrSessionTimeout)
		defer cancelTimeout()
	}

	if r.cfg.ReadLimit > 0 {
		r.conn.SetReadLimit(r.cfg.ReadLimit)
	}
	if r.cfg.ReadTimeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		r.conn.SetPongHandler(func(string) error {
			return r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		})
	}

	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       r.conn,
			ctx:      writerCtx,
			cfg:      r.cfg,
			priority: r.outboundPriority,
			normal:   r.outboundNormal,
			closing:  r.closeFrame,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	readCh := make(chan inboundFrame, 16)
	go r.readLoop(readCh)

	r.greet(scope)
	err := r.openLink(scope)
	if err == nil {
		r.setState(StateActive)
		r.logger.Info("live session active", "session_id", r.sessionID, "identity", r.identity.String(), "language", r.language)
		err = r.runPumps(scope, readCh, writerErrCh)
	}

	outcome := classifyEnd(err)
	r.setState(StateClosing)
	r.setCloseFrame(closeFor(outcome))

	if r.link != nil {
		_ = r.link.Close()
	}
	stopWriter()
	select {
	case <-writerErrCh:
	case <-time.After(r.cfg.GracePeriod):
		r.logger.Warn("live writer did not stop within grace period", "session_id", r.sessionID)
	}
	_ = r.conn.Close()
	r.setState(StateClosed)

	stats := r.Stats()
	attrs := []any{
		"session_id", r.sessionID,
		"identity", r.identity.String(),
		"outcome", string(outcome),
		"inbound", stats.Inbound,
		"outbound", stats.Outbound,
		"duration_ms", r.now().Sub(r.startedAt).Milliseconds(),
	}
	switch outcome {
	case OutcomeUserDisconnect, OutcomeAgentClosed:
		r.logger.Info("live session closed", attrs...)
		return outcome, nil
	case OutcomeCanceled, OutcomeTimeout:
		r.logger.Info("live session closed", attrs...)
		return outcome, err
	default:
		r.logger.Warn("live session failed", append(attrs, "error", err)...)
		if outcome == OutcomeInternal && !errors.Is(err, ErrInternal) {
			err = fmt.Errorf("%w: %v", ErrInternal, err)
		}
		return outcome, err
	}
}

// openLink dials the agent when the relay was built without a link.
func (r *Relay) openLink(ctx context.Context) error {
	if r.link != nil {
		return nil
	}
	link, err := r.dial(ctx)
	if err == nil {
		r.link = link
		return nil
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if !errors.Is(err, agentlink.ErrLink) {
		err = &agentlink.LinkFailure{Stage: agentlink.StageConnect, Err: err}
	}
	return err
}

// runPumps runs both directions until one ends and returns the error that
// ended the session.
func (r *Relay) runPumps(scope context.Context, readCh <-chan inboundFrame, writerErrCh <-chan error) error {
	g, gctx := errgroup.WithContext(scope)
	var firstErr error
	var firstOnce sync.Once
	record := func(err error) error {
		if err != nil {
			firstOnce.Do(func() { firstErr = err })
		}
		return err
	}
	g.Go(func() error { return record(r.inboundPump(gctx, readCh)) })
	g.Go(func() error { return record(r.outboundPump(gctx)) })
	g.Go(func() error {
		select {
		case err, ok := <-writerErrCh:
			if ok && err != nil {
				return record(fmt.Errorf("%w: write: %v", ErrUserDisconnect, err))
			}
			return record(fmt.Errorf("%w: writer stopped", ErrUserDisconnect))
		case <-gctx.Done():
			return nil
		}
	})

	waitCh := make(chan error, 1)
	go func() { waitCh <- g.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-gctx.Done():
		grace := time.NewTimer(r.cfg.GracePeriod)
		select {
		case err = <-waitCh:
		case <-grace.C:
			r.logger.Warn("live pump did not stop within grace period", "session_id", r.sessionID)
			_ = r.link.Close()
			firstOnce.Do(func() { firstErr = context.Cause(gctx) })
			err = firstErr
			cf := closeFor(classifyEnd(err))
			r.setCloseFrame(cf)
			r.writeCloseNow(cf)
			_ = r.conn.Close()
		}
		grace.Stop()
	}
	if firstErr != nil {
		err = firstErr
	}
	if err == nil {
		err = context.Cause(scope)
	}
	return err
}

// greet sends the translated greeting, or the untranslated fallback when the
// transform fails. It never fails the session.
func (r *Relay) greet(ctx context.Context) {
	first := r.profile.FirstName()
	if first == "" {
		first = r.profile.Name
	}
	text, err := r.transformer.Transform(ctx, transform.Request{
		Op:         transform.OpGreeting,
		Content:    transform.Text(fmt.Sprintf(greetingTemplate, first)),
		SourceLang: language.English,
		TargetLang: r.language,
	})
	if err != nil {
		r.logger.Warn("greeting transform failed, sending fallback", "session_id", r.sessionID, "language", r.language, "error", err)
		text = fmt.Sprintf(fallbackTemplate, r.profile.Name)
	}
	if err := r.sendNormal(ctx, protocol.AgentMessage(text)); err != nil {
		r.logger.Debug("greeting not delivered", "session_id", r.sessionID, "error", err)
	}
}

// inboundPump forwards user events to the agent, one at a time and in order.
func (r *Relay) inboundPump(ctx context.Context, readCh <-chan inboundFrame) error {
	for {
		var frame inboundFrame
		var ok bool
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case frame, ok = <-readCh:
		}
		if !ok {
			return fmt.Errorf("%w: reader stopped", ErrUserDisconnect)
		}
		if frame.err != nil {
			return fmt.Errorf("%w: %v", ErrUserDisconnect, frame.err)
		}
		if frame.messageType != websocket.TextMessage {
			_ = r.Notify("binary frames are not supported")
			continue
		}

		ev, err := protocol.DecodeClientEvent(frame.data)
		if err != nil {
			r.logger.Debug("ignoring malformed user frame", "session_id", r.sessionID, "error", err)
			_ = r.Notify(err.Error())
			continue
		}

		content := transform.Text(ev.Message)
		if ev.IsAudio() {
			content = transform.Media(ev.URL)
		}
		english, err := r.transformer.Transform(ctx, transform.Request{
			Op:         transform.OpInbound,
			Content:    content,
			SourceLang: r.language,
			TargetLang: language.English,
		})
		if err != nil {
			return scopeErr(ctx, err)
		}
		if err := r.link.Send(ctx, protocol.AgentQuery{FarmerID: r.identity.String(), Query: english}); err != nil {
			return scopeErr(ctx, err)
		}
		r.inbound.Add(1)
	}
}

// outboundPump forwards agent messages to the user in arrival order.
func (r *Relay) outboundPump(ctx context.Context) error {
	messages := r.link.Receive()
	for {
		var msg string
		var ok bool
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case msg, ok = <-messages:
		}
		if !ok {
			if err := r.link.Err(); err != nil {
				return scopeErr(ctx, err)
			}
			return ErrAgentClosed
		}

		text, err := r.transformer.Transform(ctx, transform.Request{
			Op:         transform.OpOutbound,
			Content:    transform.Text(msg),
			SourceLang: language.English,
			TargetLang: r.language,
		})
		if err != nil {
			return scopeErr(ctx, err)
		}
		if err := r.sendNormal(ctx, protocol.AgentMessage(text)); err != nil {
			return err
		}
		r.agentTx.Add(1)
	}
}

func (r *Relay) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-r.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) sendNormal(ctx context.Context, msg protocol.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode frame: %v", ErrInternal, err)
	}
	select {
	case r.outboundNormal <- outboundFrame{payload: payload}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// sendPriority never blocks; when the notice queue is full the oldest notice
// is dropped.
func (r *Relay) sendPriority(msg protocol.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := outboundFrame{payload: payload}
	for i := 0; i < 4; i++ {
		select {
		case r.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-r.outboundPriority:
		default:
		}
	}
	return errNoticeBackpressure
}

func (r *Relay) setState(s State) { r.state.Store(int32(s)) }

// writeCloseNow sends the close frame without waiting on the writer, which
// may be blocked. Gorilla allows WriteControl alongside other writers.
func (r *Relay) writeCloseNow(cf closeFrame) {
	if cf.code == 0 {
		return
	}
	timeout := r.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	msg := websocket.FormatCloseMessage(cf.code, cf.reason)
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}

func (r *Relay) setCloseFrame(cf closeFrame) {
	r.closeMu.Lock()
	r.closeMsg = cf
	r.closeMu.Unlock()
}

func (r *Relay) closeFrame() closeFrame {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	return r.closeMsg
}

// scopeErr prefers the scope's cause once it is done, so a call aborted by
// cancellation is not reported as its own failure.
func scopeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}
