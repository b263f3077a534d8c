package gateway

import (
	"github.com/labstack/echo/v4"
)

type Handler struct {
	voice *VoiceHandler
	chat  *ChatHandler
	limit RateLimiterConfig
}

func NewHandler(voice *VoiceHandler, chat *ChatHandler, limit RateLimiterConfig) *Handler {
	return &Handler{
		voice: voice,
		chat:  chat,
		limit: limit,
	}
}

// RegisterRoutes mounts the websocket endpoints. The static voice route wins
// over the chat parameter route.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	limited := RateLimiter(h.limit)
	g.GET("/voice", h.voice.HandleVoice, limited)
	g.GET("/:client_id", h.chat.HandleChat, limited)
}
