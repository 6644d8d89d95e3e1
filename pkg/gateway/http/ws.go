package webhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/chatwire/chatwire/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamEvents upgrades the connection and forwards the session's event
// stream verbatim. Each connection gets its own subscriber so slow clients
// never stall the gateway's own event reader.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("session"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, envelope{false, "missing session"})
		return
	}
	if _, err := h.svc.Get(name); err != nil {
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsLog := h.logger.With().Str("remote", conn.RemoteAddr().String()).Str("session", name).Logger()

	readCtx, cancel := context.WithCancel(context.Background())
	sub, owned, err := h.streams.BuildFeedSubscriber(readCtx, name)
	if err != nil {
		wsLog.Warn().Err(err).Msg("could not build event subscriber")
		cancel()
		_ = conn.Close()
		return
	}
	ch, err := sub.Subscribe(readCtx, protocol.TopicForSession(name))
	if err != nil {
		wsLog.Warn().Err(err).Msg("could not subscribe to session topic")
		cancel()
		if owned {
			_ = sub.Close()
		}
		_ = conn.Close()
		return
	}

	// Drain client frames so pings are answered and close is detected.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			if owned {
				_ = sub.Close()
			}
			_ = conn.Close()
			wsLog.Debug().Msg("event feed closed")
		}()
		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}()
}
