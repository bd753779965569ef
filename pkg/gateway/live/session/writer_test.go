package session

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	closed bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func text(s string) outboundFrame { return outboundFrame{payload: []byte(s)} }

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- text(`{"sender":"agent","message":"answer"}`)
	priority <- text(`{"sender":"system","message":"draining"}`)
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d: %+v", len(writes), writes)
	}
	if !strings.Contains(writes[0].data, `"sender":"system"`) {
		t.Fatalf("first write was not the notice: %q", writes[0].data)
	}
}

func TestOutboundWriter_NormalFramesKeepOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 8)
	for _, s := range []string{"a", "b", "c", "d"} {
		normal <- text(s)
	}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: Config{PingInterval: time.Hour}, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var got []string
	for _, wr := range ws.snapshot() {
		if wr.messageType != websocket.TextMessage {
			t.Fatalf("write type=%d, want TextMessage", wr.messageType)
		}
		got = append(got, wr.data)
	}
	if strings.Join(got, ",") != "a,b,c,d" {
		t.Fatalf("order=%v", got)
	}
}

func TestOutboundWriter_FlushesQueueThenSendsCloseFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 2)
	priority <- text("notice")
	normal <- text("last answer")

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second, GracePeriod: time.Second},
		priority: priority,
		normal:   normal,
		closing:  func() closeFrame { return closeFrame{code: websocket.CloseNormalClosure, reason: "translation failed"} },
	}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 3 {
		t.Fatalf("expected 3 writes, got %d: %+v", len(writes), writes)
	}
	if writes[0].data != "notice" || writes[1].data != "last answer" {
		t.Fatalf("unexpected flush order: %+v", writes)
	}
	closeMsg := writes[2]
	if closeMsg.messageType != websocket.CloseMessage {
		t.Fatalf("last write type=%d, want CloseMessage", closeMsg.messageType)
	}
	if code := binary.BigEndian.Uint16([]byte(closeMsg.data[:2])); code != websocket.CloseNormalClosure {
		t.Fatalf("close code=%d, want %d", code, websocket.CloseNormalClosure)
	}
	if closeMsg.data[2:] != "translation failed" {
		t.Fatalf("close reason=%q", closeMsg.data[2:])
	}
	if !ws.closed {
		t.Fatalf("expected socket to be closed")
	}
}

func TestOutboundWriter_NoCloseFrameWhenPeerGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour},
		priority: make(chan outboundFrame),
		normal:   make(chan outboundFrame),
		closing:  func() closeFrame { return closeFrame{} },
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if writes := ws.snapshot(); len(writes) != 0 {
		t.Fatalf("expected no writes, got %+v", writes)
	}
	if !ws.closed {
		t.Fatalf("expected socket to be closed")
	}
}

func TestOutboundWriter_SendsPings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: 10 * time.Millisecond, WriteTimeout: time.Second},
		priority: make(chan outboundFrame),
		normal:   make(chan outboundFrame),
	}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, wr := range ws.snapshot() {
			if wr.messageType == websocket.PingMessage {
				cancel()
				<-done
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no ping written")
}
