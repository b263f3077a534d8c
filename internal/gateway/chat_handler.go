package gateway

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/eleven-am/voice-relay/internal/chatroom"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/shared"
	"github.com/labstack/echo/v4"
)

// ChatHandler serves /ws/:client_id, a plain text broadcast room.
type ChatHandler struct {
	room    *chatroom.Room
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewChatHandler(room *chatroom.Room, m *metrics.Metrics, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		room:    room,
		metrics: m,
		logger:  logger.With("component", "chat_handler"),
	}
}

func (h *ChatHandler) HandleChat(c echo.Context) error {
	clientID, err := strconv.Atoi(c.Param("client_id"))
	if err != nil {
		return shared.BadRequest("invalid_client_id", "client id must be an integer")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}

	ctx := c.Request().Context()
	log := h.logger.With("client_id", clientID)
	conn := newWSClientConnection(ws, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn.pingLoop()
	}()

	defer func() {
		if err := h.room.Leave(context.WithoutCancel(ctx), conn); err != nil {
			log.Warn("announce leave failed", "error", err)
		}
		h.metrics.ChatLeft()
		_ = conn.Close()
		wg.Wait()
	}()

	h.metrics.ChatJoined()
	if err := h.room.Join(ctx, conn, clientID); err != nil {
		log.Warn("join chat room failed", "error", err)
		return nil
	}

	conn.readLoop(ctx, func(data []byte) {
		if err := h.room.Say(ctx, clientID, string(data)); err != nil {
			log.Warn("broadcast chat line failed", "error", err)
		}
	})
	return nil
}
