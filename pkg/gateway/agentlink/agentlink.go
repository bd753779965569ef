// Package agentlink manages the upstream websocket to the conversational agent
// for a single live session.
package agentlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/nandi-live/pkg/gateway/live/protocol"
)

const (
	StageConnect = "connect"
	StageSend    = "send"
	StageReceive = "receive"
)

var ErrLink = errors.New("agent link failed")

// LinkFailure is fatal to the session that owns the link.
type LinkFailure struct {
	Stage string
	Err   error
}

func (e *LinkFailure) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "agent link " + e.Stage + " failed"
	}
	return fmt.Sprintf("agent link %s: %v", e.Stage, e.Err)
}

func (e *LinkFailure) Unwrap() error { return e.Err }

func (e *LinkFailure) Is(target error) bool { return target == ErrLink }

// IsConnectFailure reports whether err is a failure to open the link.
func IsConnectFailure(err error) bool {
	var lf *LinkFailure
	return errors.As(err, &lf) && lf.Stage == StageConnect
}

type Options struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	PingInterval time.Duration
	WriteTimeout time.Duration
	Buffer       int
}

// Link is one upstream agent connection. Receive yields agent messages in
// arrival order until the upstream closes or fails; it is not restartable.
type Link struct {
	conn *websocket.Conn
	opts Options

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error

	messages  chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func Open(ctx context.Context, endpoint string, opts Options) (*Link, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, &LinkFailure{Stage: StageConnect, Err: errors.New("agent endpoint is required")}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}

	conn, resp, err := opts.Dialer.DialContext(ctx, endpoint, opts.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &LinkFailure{Stage: StageConnect, Err: err}
	}

	l := &Link{
		conn:     conn,
		opts:     opts,
		messages: make(chan string, opts.Buffer),
		closed:   make(chan struct{}),
	}
	go l.readLoop()
	go l.keepAliveLoop()
	return l, nil
}

func (l *Link) Send(ctx context.Context, q protocol.AgentQuery) error {
	select {
	case <-l.closed:
		return &LinkFailure{Stage: StageSend, Err: errors.New("link is closed")}
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(l.opts.WriteTimeout)
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
	}
	_ = l.conn.SetWriteDeadline(deadline)
	if err := l.conn.WriteJSON(q); err != nil {
		return &LinkFailure{Stage: StageSend, Err: err}
	}
	return nil
}

func (l *Link) Receive() <-chan string {
	if l == nil {
		ch := make(chan string)
		close(ch)
		return ch
	}
	return l.messages
}

// Err returns why the receive sequence ended. It is nil while the link is
// open, after a normal upstream close, and after Close.
func (l *Link) Err() error {
	if l == nil {
		return nil
	}
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Link) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = l.conn.Close()
	})
	return nil
}

func (l *Link) readLoop() {
	defer close(l.messages)
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			l.setReadErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case l.messages <- string(data):
		case <-l.closed:
			return
		}
	}
}

func (l *Link) setReadErr(err error) {
	select {
	case <-l.closed:
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	l.errMu.Lock()
	l.err = &LinkFailure{Stage: StageReceive, Err: err}
	l.errMu.Unlock()
}

func (l *Link) keepAliveLoop() {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			_ = l.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(l.opts.WriteTimeout))
		}
	}
}
