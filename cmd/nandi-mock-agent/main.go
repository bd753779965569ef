// Command nandi-mock-agent is a scripted conversational agent for local runs
// of the relay. It answers the first query with an acknowledgement and a
// fixed set of follow-ups, then closes the stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/nandi-live/pkg/gateway/live/protocol"
)

type step struct {
	delay time.Duration
	text  string
}

var defaultScript = []step{
	{delay: 2 * time.Second, text: "Based on the latest forecast, we expect light rain tomorrow."},
	{delay: 3 * time.Second, text: "The current market price for your main crop is stable. Is there anything else I can help with?"},
	{delay: 4 * time.Second, text: "Thank you for using NANDI."},
}

type agentHandler struct {
	script []step
	// cadence scales every step delay; 0 sends the script back to back.
	cadence float64
	logger  *slog.Logger
}

func (h agentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var q protocol.AgentQuery
	if err := conn.ReadJSON(&q); err != nil {
		h.logger.Warn("failed to read query", "error", err)
		return
	}
	h.logger.Info("query received", "farmer_id", q.FarmerID, "query", q.Query)

	send := func(text string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(text)) == nil
	}
	if !send(fmt.Sprintf("Okay, I've received your query about '%s'. Let me check.", q.Query)) {
		return
	}
	for _, s := range h.script {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Duration(float64(s.delay) * h.cadence)):
		}
		if !send(s.text) {
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	h.logger.Info("script finished", "farmer_id", q.FarmerID)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("nandi-mock-agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":8090", "listen address")
	cadence := fs.Float64("cadence", 1, "multiplier applied to the scripted delays")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *cadence < 0 {
		fmt.Fprintln(stderr, "nandi-mock-agent: -cadence must be >= 0")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	mux := http.NewServeMux()
	mux.Handle("/ws", agentHandler{script: defaultScript, cadence: *cadence, logger: logger})
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("mock agent listening", "addr", *addr)

	select {
	case err := <-errCh:
		fmt.Fprintf(stderr, "nandi-mock-agent: %v\n", err)
		return 1
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}
