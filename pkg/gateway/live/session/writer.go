package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	payload []byte
}

// closeFrame is the close control frame sent when the writer shuts down.
// A zero code sends none (the peer is already gone).
type closeFrame struct {
	code   int
	reason string
}

// outboundWriter owns every write to the user socket: queued frames in
// order, keepalive pings, and the final close frame.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
	closing  func() closeFrame
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var pendingNormal *outboundFrame

	for {
		if w.ctx != nil {
			select {
			case <-w.ctx.Done():
				if pendingNormal != nil {
					_ = w.writeFrame(*pendingNormal, writeTimeout)
				}
				w.flushOnShutdown(writeTimeout)
				w.writeClose(writeTimeout)
				_ = w.ws.Close()
				return nil
			default:
			}
		}

		// Notices go out before agent messages that are still queued.
		select {
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if pendingNormal != nil {
			select {
			case frame, ok := <-w.priority:
				if !ok {
					w.priority = nil
					continue
				}
				if err := w.writeFrame(frame, writeTimeout); err != nil {
					return err
				}
				continue
			default:
			}
			if err := w.writeFrame(*pendingNormal, writeTimeout); err != nil {
				return err
			}
			pendingNormal = nil
			continue
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		var done <-chan struct{}
		if w.ctx != nil {
			done = w.ctx.Done()
		}

		select {
		case <-done:
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			pendingNormal = &frame
		}
	}
}

// flushOnShutdown drains what was queued before shutdown, priority first,
// for at most half the grace period.
func (w *outboundWriter) flushOnShutdown(writeTimeout time.Duration) {
	flushTimeout := w.cfg.GracePeriod / 2
	if flushTimeout <= 0 {
		flushTimeout = 100 * time.Millisecond
	}
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)

	for _, ch := range []<-chan outboundFrame{w.priority, w.normal} {
		if ch == nil {
			continue
		}
	drain:
		for time.Now().Before(deadline) {
			select {
			case frame, ok := <-ch:
				if !ok {
					break drain
				}
				if err := w.writeFrame(frame, writeTimeout); err != nil {
					return
				}
			default:
				break drain
			}
		}
	}
}

func (w *outboundWriter) writeClose(writeTimeout time.Duration) {
	if w.closing == nil {
		return
	}
	cf := w.closing()
	if cf.code == 0 {
		return
	}
	msg := websocket.FormatCloseMessage(cf.code, cf.reason)
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	if len(frame.payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}
