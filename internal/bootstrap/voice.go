package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-relay/internal/chatroom"
	"github.com/eleven-am/voice-relay/internal/gateway"
	"github.com/eleven-am/voice-relay/internal/live"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/session"
	"github.com/eleven-am/voice-relay/internal/voicesession"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideLiveConfig(cfg *Config) live.Config {
	return live.Config{
		Model:          cfg.GeminiModel,
		Voice:          cfg.GeminiVoice,
		Language:       cfg.GeminiLanguage,
		Persona:        cfg.GeminiPersona,
		ConnectTimeout: cfg.LiveConnectTimeout,
		PollInterval:   cfg.LivePollInterval,
	}
}

// ProvideConnector returns a nil connector when no API key is configured; the
// voice handler refuses connections before one would be needed.
func ProvideConnector(cfg *Config, logger *slog.Logger) (live.Connector, error) {
	if cfg.GoogleAPIKey == "" {
		logger.Warn("GOOGLE_API_KEY not set, voice relay disabled")
		return nil, nil
	}
	connector, err := live.NewGenAIConnector(context.Background(), cfg.GoogleAPIKey)
	if err != nil {
		return nil, err
	}
	return connector, nil
}

func ProvideCredentials(cfg *Config) gateway.Credentials {
	return gateway.Credentials{GoogleAPIKey: cfg.GoogleAPIKey}
}

func ProvideRateLimiterConfig(cfg *Config) gateway.RateLimiterConfig {
	limit := gateway.DefaultRateLimiterConfig()
	limit.RequestsPerSecond = cfg.RateLimitRPS
	limit.Burst = cfg.RateLimitBurst
	return limit
}

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	return session.NewStore(redisClient)
}

func ProvideSessionHandler(store *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, logger.With("handler", "session"))
}

func ProvideVoiceSessionManager(
	lc fx.Lifecycle,
	connector live.Connector,
	liveCfg live.Config,
	store *session.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
) *voicesession.Manager {
	mgr := voicesession.NewManager(voicesession.ManagerConfig{
		Connector: connector,
		Live:      liveCfg,
		Metrics:   m,
		Recorder:  store,
		Log:       logger,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mgr.Close(ctx)
		},
	})
	return mgr
}

func ProvideChatRoom(lc fx.Lifecycle, cfg *Config, redisClient *redis.Client, logger *slog.Logger) *chatroom.Room {
	room := chatroom.NewRoom(redisClient, cfg.ChatRoom, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return room.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return room.Close()
		},
	})
	return room
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideLiveConfig,
		ProvideConnector,
		ProvideCredentials,
		ProvideRateLimiterConfig,
		ProvideSessionStore,
		ProvideSessionHandler,
		ProvideVoiceSessionManager,
		ProvideChatRoom,
	),
)
