package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	EventText  = "text"
	EventAudio = "audio"

	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Close codes used when the gateway ends a user connection.
const (
	CloseNormal          = websocket.CloseNormalClosure
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseInternal        = websocket.CloseInternalServerErr
	CloseTryAgainLater   = websocket.CloseTryAgainLater
)

const (
	ReasonFarmerNotFound  = "farmer not found"
	ReasonInvalidIdentity = "invalid session identity"
	ReasonInternal        = "internal error"
	ReasonDraining        = "gateway is draining"
	ReasonRateLimited     = "too many sessions"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientEvent is one frame from the user: literal text or a reference to
// recorded audio.
type ClientEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (e ClientEvent) IsAudio() bool { return e.Type == EventAudio }

// ServerMessage is one frame to the user.
type ServerMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// AgentQuery is the frame sent to the conversational agent.
type AgentQuery struct {
	FarmerID string `json:"farmer_id"`
	Query    string `json:"query"`
}

// DecodeClientEvent parses a user frame. A missing type is read as text,
// which is what the browser chat page sends.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ClientEvent{}, badRequest("invalid json frame", "")
	}
	ev.Type = strings.ToLower(strings.TrimSpace(ev.Type))
	if ev.Type == "" {
		ev.Type = EventText
	}
	switch ev.Type {
	case EventText:
		if strings.TrimSpace(ev.Message) == "" {
			return ClientEvent{}, badRequest("text.message is required", "message")
		}
	case EventAudio:
		if strings.TrimSpace(ev.URL) == "" {
			return ClientEvent{}, badRequest("audio.url is required", "url")
		}
	default:
		return ClientEvent{}, unsupported(fmt.Sprintf("unsupported event type %q", ev.Type), "type")
	}
	return ev, nil
}

func AgentMessage(text string) ServerMessage {
	return ServerMessage{Sender: SenderAgent, Message: text}
}

func SystemMessage(text string) ServerMessage {
	return ServerMessage{Sender: SenderSystem, Message: text}
}
