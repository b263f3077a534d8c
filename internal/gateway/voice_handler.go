package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/transport"
	"github.com/eleven-am/voice-relay/internal/voicesession"
	"github.com/labstack/echo/v4"
)

const (
	missingCredentialMessage = "Google API key not configured"
	conversationCloseTimeout = 5 * time.Second
)

// VoiceHandler serves /ws/voice: it bridges one client socket to one
// conversation for the lifetime of the connection.
type VoiceHandler struct {
	manager       *voicesession.Manager
	hasCredential bool
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

type VoiceHandlerConfig struct {
	Manager *voicesession.Manager
	// APIKey is the upstream credential. Connections are refused with close
	// code 4010 while it is empty.
	APIKey  string
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func NewVoiceHandler(cfg VoiceHandlerConfig) *VoiceHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &VoiceHandler{
		manager:       cfg.Manager,
		hasCredential: cfg.APIKey != "",
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "voice_handler"),
	}
}

func (h *VoiceHandler) HandleVoice(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}

	ctx := c.Request().Context()
	conn := newWSClientConnection(ws, h.logger)
	defer conn.Close()

	if !h.hasCredential {
		h.logger.Warn("rejecting voice connection: missing upstream credential")
		if err := conn.Send(ctx, transport.Error(missingCredentialMessage)); err != nil {
			h.logger.Debug("send credential error failed", "error", err)
		}
		_ = conn.CloseWith(transport.CloseMissingCredential, "")
		return nil
	}

	conv := h.manager.Open(conn)
	log := h.logger.With("conversation_id", conv.ID())
	log.Info("voice client connected", "remote", c.RealIP())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn.pingLoop()
	}()

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conversationCloseTimeout)
		defer cancel()
		if err := conv.Close(closeCtx); err != nil {
			log.Warn("close conversation failed", "error", err)
		}
		_ = conn.Close()
		wg.Wait()
		log.Info("voice client disconnected")
	}()

	if err := conv.Begin(ctx); err != nil {
		log.Warn("initial session start failed", "error", err)
	}

	conn.readLoop(ctx, func(data []byte) {
		h.dispatch(ctx, conv, log, data)
	})
	return nil
}

// dispatch handles one client frame. Frames that do not decode are ignored.
func (h *VoiceHandler) dispatch(ctx context.Context, conv *voicesession.Conversation, log *slog.Logger, data []byte) {
	msg, err := transport.DecodeClientMessage(data)
	if err != nil {
		h.metrics.Malformed()
		log.Debug("ignoring malformed frame", "error", err)
		return
	}

	switch msg.Type {
	case transport.MessageTypeAudioAppend:
		if msg.Delta == "" {
			return
		}
		audio, err := msg.Audio()
		if err != nil {
			h.metrics.Malformed()
			log.Debug("ignoring undecodable audio", "error", err)
			return
		}
		conv.ProcessAudio(audio)

	case transport.MessageTypeSessionReset:
		if err := conv.Reset(ctx); err != nil && !errors.Is(err, voicesession.ErrConversationClosed) {
			log.Warn("session reset failed", "error", err)
		}

	default:
		log.Debug("ignoring unknown message type", "type", msg.Type)
	}
}
