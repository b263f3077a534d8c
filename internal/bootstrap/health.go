package bootstrap

import (
	"github.com/eleven-am/voice-relay/internal/chatroom"
	"github.com/eleven-am/voice-relay/internal/health"
	"github.com/eleven-am/voice-relay/internal/voicesession"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideHealthHandler(
	cfg *Config,
	redis *redis.Client,
	voiceSessionMgr *voicesession.Manager,
	room *chatroom.Room,
) *health.Handler {
	return health.NewHandler(health.Config{
		Redis:         redis,
		Conversations: voiceSessionMgr,
		Chat:          room,
		HasCredential: cfg.GoogleAPIKey != "",
		Version:       version,
	})
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
