package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/larder/internal/bus"
)

// Handle returns an HTTP handler that upgrades the connection and streams a
// single household's events. Authorization happens before the upgrade, in the
// route that resolves householdID.
func Handle(broker *bus.Broker, logger *slog.Logger) func(w http.ResponseWriter, r *http.Request, householdID int64) {
	return func(w http.ResponseWriter, r *http.Request, householdID int64) {
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		sub := broker.Subscribe(householdID)
		client := NewClient(sub, conn)
		client.Run(r.Context())
	}
}
