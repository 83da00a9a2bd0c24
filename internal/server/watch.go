package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWatchInterval is how often a watched run is re-read.
const DefaultWatchInterval = time.Second

// watchLogTail bounds the log lines sent in each watch frame.
const watchLogTail = 20

// WithWatchInterval sets how often WatchRun re-reads the run.
func WithWatchInterval(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.watchInterval = d
		}
	}
}

// WatchRun handles GET /runs/{id}/watch. It upgrades to a WebSocket, sends
// the run snapshot, then sends it again whenever it changes. The server
// closes the socket normally once the run reaches a terminal status.
func (h *Handlers) WatchRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	current, err := h.service.Get(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get run", slog.String("run_id", runID))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is the only way to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(toRunResponse(current, watchLogTail)); err != nil {
		return
	}
	last := current.UpdatedAt

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	for !current.IsTerminal() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := h.service.Get(ctx, runID)
		if err != nil {
			h.logger.Warn("watch: failed to read run",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
			continue
		}
		current = next
		if current.UpdatedAt.Equal(last) {
			continue
		}
		if err := conn.WriteJSON(toRunResponse(current, watchLogTail)); err != nil {
			return
		}
		last = current.UpdatedAt
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(current.Status))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
