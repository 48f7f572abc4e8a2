package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vita/internal/app"
	"vita/internal/domain"
	"vita/internal/metrics"
)

const wsWriteTimeout = 10 * time.Second

// wsHandler serves progress streams over a websocket. Each text message is an ExecuteRequest;
// the server answers with the run's progress events, the last one being result or error, and
// then waits for the next request.
type wsHandler struct {
	app      *app.App
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func newWSHandler(a *app.App, log zerolog.Logger) *wsHandler {
	return &wsHandler{
		app: a,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		var req ExecuteRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if h.write(conn, domain.ProgressEvent{Type: domain.EventError, Error: "bad_request", Message: "invalid request: " + err.Error()}) != nil {
				return
			}
			continue
		}
		if !h.serveRun(ctx, conn, req) {
			return
		}
	}
}

// serveRun streams one run. It reports false once the connection is unusable.
func (h *wsHandler) serveRun(ctx context.Context, conn *websocket.Conn, req ExecuteRequest) bool {
	ch, err := h.app.AskStream(ctx, app.AskRequest{
		Prompt:    req.Prompt,
		SessionID: sessionFor(ctx, req.SessionID),
		History:   req.ConversationHistory,
	})
	if err != nil {
		return h.write(conn, domain.ProgressEvent{Type: domain.EventError, Error: "bad_request", Message: err.Error()}) == nil
	}
	ok := true
	for ev := range ch {
		if !ok {
			continue
		}
		if err := h.write(conn, ev); err != nil {
			h.log.Debug().Err(err).Str("run_id", ev.RunID).Msg("websocket write")
			ok = false
		}
	}
	return ok
}

func (h *wsHandler) write(conn *websocket.Conn, ev domain.ProgressEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
