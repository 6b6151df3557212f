package api

import (
	"errors"
	"net/http"

	"github.com/RichardoC/goblin/internal/llm"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamSession upgrades to a WebSocket. Each client frame {"content": ...}
// is one Send; the reply comes back as delta frames followed by done or error.
func (h *Handler) StreamSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("session_id", r.PathValue("id")))
	logger.Debug("stream opened")

	for {
		var req MessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("stream closed", zap.Error(err))
			}
			return
		}

		ctx, cancel := h.callContext(r.Context())
		entry.mu.Lock()
		if entry.closed {
			entry.mu.Unlock()
			cancel()
			_ = conn.WriteJSON(StreamFrame{Type: "error", Error: "session has ended"})
			return
		}
		reply, err := entry.session.SendStream(ctx, req.Content, func(delta string) error {
			return conn.WriteJSON(StreamFrame{Type: "delta", Content: delta})
		})
		entry.mu.Unlock()
		cancel()

		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return
			}
			logger.Error("Failed to process message", zap.Error(err), zap.String("kind", llm.KindName(err)))
			if werr := conn.WriteJSON(StreamFrame{Type: "error", Error: err.Error(), Kind: llm.KindName(err)}); werr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(StreamFrame{Type: "done", Content: reply}); err != nil {
			return
		}
	}
}
