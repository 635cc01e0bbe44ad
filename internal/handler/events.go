package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/larder/internal/auth"
	"github.com/dukerupert/larder/internal/authz"
	"github.com/dukerupert/larder/internal/bus"
	ws "github.com/dukerupert/larder/internal/websocket"
)

// EventsHandler serves the per-household live event stream over WebSocket.
type EventsHandler struct {
	guard  *authz.Guard
	broker *bus.Broker
	logger *slog.Logger
}

func NewEventsHandler(guard *authz.Guard, broker *bus.Broker, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{guard: guard, broker: broker, logger: logger}
}

// Subscribe authorizes the caller for the household, then upgrades to a
// WebSocket carrying that household's events from now on. Disconnecting
// releases the subscription immediately.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}

	decision, err := h.guard.Check(auth.UserID(r.Context()), householdID, authz.ActionRead)
	if err != nil {
		h.logger.Error("authorization check", "error", err)
		writeError(w, err)
		return
	}
	if !decision.Allow {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": decision.Reason})
		return
	}

	ws.Handle(h.broker, h.logger)(w, r, householdID)
}
