package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/nandi-live/pkg/gateway/apierror"
	"github.com/vango-go/nandi-live/pkg/gateway/live/sessions"
)

// SessionsHandler lists the active live sessions.
type SessionsHandler struct {
	LiveSessions *sessions.Tracker
}

func (h SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "method not allowed",
			Code:      "method_not_allowed",
			RequestID: requestIDFromContext(r.Context()),
		})
		return
	}

	list := h.LiveSessions.List()
	if list == nil {
		list = []sessions.Info{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Object string          `json:"object"`
		Data   []sessions.Info `json:"data"`
	}{Object: "list", Data: list})
}
