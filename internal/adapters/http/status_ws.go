package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/app"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusStream pushes the state on every change until either side goes away.
func (h *handlers) statusStream(c *gin.Context) {
	logger := log.With().Str("module", "adapters.http").Str("ct", c.GetString(clientTokenKey)).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	defer ws.Close()

	updates, unsubscribe := h.svc.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readPump(ws, cancel, logger)
	h.writePump(ctx, ws, updates, logger)
	logger.Debug().Msg("status stream closed")
}

func (h *handlers) pongWait() time.Duration { return h.pingPeriod * 10 / 9 }

// readPump only serves control frames; anything the client sends is dropped.
func (h *handlers) readPump(ws *websocket.Conn, cancel context.CancelFunc, logger zerolog.Logger) {
	defer cancel()
	ws.SetReadLimit(h.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongWait()))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			logger.Debug().Err(err).Msg("readPump closing")
			return
		}
	}
}

func (h *handlers) writePump(ctx context.Context, ws *websocket.Conn, updates <-chan app.State, logger zerolog.Logger) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(NewStateResponse(st)); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}
