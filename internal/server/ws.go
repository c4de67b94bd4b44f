package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hyperide/backend/internal/auth"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/protocol"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSocket upgrades the connection and bridges it to the broker: every
// message on the four workspace topics is forwarded to the client in topic
// order, and inbound command envelopes are dispatched against the services.
func (h *httpHandler) handleSocket(c *gin.Context) {
	session := h.sessionFrom(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serveSocket(c.Request.Context(), conn, session)
}

func (h *httpHandler) serveSocket(parent context.Context, conn *websocket.Conn, session auth.Session) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer conn.Close()

	updates, cancelUpdates := h.broker.Subscribe(ctx, broker.TopicUpdates)
	defer cancelUpdates()
	files, cancelFiles := h.broker.Subscribe(ctx, broker.TopicFiles)
	defer cancelFiles()
	public, cancelPublic := h.broker.Subscribe(ctx, broker.TopicPublic)
	defer cancelPublic()
	presenceStream, cancelPresence := h.broker.Subscribe(ctx, broker.TopicPresence)
	defer cancelPresence()

	// Single writer goroutine; gorilla permits one concurrent writer.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			var message broker.Message
			select {
			case message = <-updates:
			case message = <-files:
			case message = <-public:
			case message = <-presenceStream:
			case <-ctx.Done():
				return
			}
			if err := conn.WriteJSON(message); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var envelope protocol.CommandEnvelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			h.logger.Warn("malformed command frame",
				zap.String("user", session.User), zap.Error(err))
			continue
		}
		h.dispatchCommand(ctx, session, envelope)
	}

	cancel()
	<-writeDone
	h.logger.Debug("websocket session closed", zap.String("user", session.User))
}
