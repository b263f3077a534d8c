package bootstrap

import (
	"github.com/eleven-am/voice-relay/internal/gateway"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	GatewayHandler *gateway.Handler
	SessionHandler *session.Handler
	Metrics        *metrics.Metrics
	Config         *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	params.GatewayHandler.RegisterRoutes(e.Group("/ws"))
	params.SessionHandler.RegisterRoutes(e.Group("/api/sessions"))

	e.GET("/metrics", echo.WrapHandler(params.Metrics.Handler()))

	e.Static("/static", params.Config.StaticDir)
	e.GET("/", func(c echo.Context) error {
		return c.File(params.Config.IndexHTML)
	})
}

var HandlersModule = fx.Options(
	gateway.Module,
	fx.Invoke(RegisterRoutes),
)
