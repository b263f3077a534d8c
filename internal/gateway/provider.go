package gateway

import (
	"log/slog"

	"github.com/eleven-am/voice-relay/internal/chatroom"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/voicesession"
	"go.uber.org/fx"
)

type Credentials struct {
	GoogleAPIKey string
}

func ProvideVoiceHandler(mgr *voicesession.Manager, creds Credentials, m *metrics.Metrics, logger *slog.Logger) *VoiceHandler {
	return NewVoiceHandler(VoiceHandlerConfig{
		Manager: mgr,
		APIKey:  creds.GoogleAPIKey,
		Metrics: m,
		Logger:  logger,
	})
}

func ProvideChatHandler(room *chatroom.Room, m *metrics.Metrics, logger *slog.Logger) *ChatHandler {
	return NewChatHandler(room, m, logger)
}

func ProvideHandler(voice *VoiceHandler, chat *ChatHandler, limit RateLimiterConfig) *Handler {
	return NewHandler(voice, chat, limit)
}

var Module = fx.Options(
	fx.Provide(
		ProvideVoiceHandler,
		ProvideChatHandler,
		ProvideHandler,
	),
)
