package voicesession

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-relay/internal/live"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrConversationClosed = errors.New("conversation closed")

// Conversation is the per-connection owner of the current VoiceSession and
// its response pumps. All session swaps happen under mu.
type Conversation struct {
	id        string
	connector live.Connector
	sink      transport.Sink
	cfg       Config
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	current    *VoiceSession
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	closed     bool

	closeOnce sync.Once
	onClose   func(id string)
}

func newConversation(id string, connector live.Connector, sink transport.Sink, cfg Config, log *slog.Logger, onClose func(string)) *Conversation {
	cfg.ConversationID = id
	return &Conversation{
		id:        id,
		connector: connector,
		sink:      sink,
		cfg:       cfg,
		log:       log.With("conversation_id", id),
		metrics:   cfg.Metrics,
		onClose:   onClose,
	}
}

func (c *Conversation) ID() string {
	return c.id
}

// Current returns the active session, or nil between a failed start and the
// next successful reset.
func (c *Conversation) Current() *VoiceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Begin starts the first session and announces session.ready. A failed start
// is reported to the client as an error event; the conversation stays open so
// the client can reset.
func (c *Conversation) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConversationClosed
	}

	next, err := c.startSession(ctx)
	if err != nil {
		return err
	}

	c.current = next
	c.send(ctx, transport.SessionReady())
	c.launchPumps(next)
	return nil
}

// Reset replaces the current session. The old session is stopped before its
// successor connects, and its pumps are joined before the new pumps run, so
// session.reset.done is never followed by output from the old session.
func (c *Conversation) Reset(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "conversation reset", trace.WithAttributes(
		attribute.String("conversation.id", c.id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConversationClosed
	}

	c.metrics.Reset()
	record(c.cfg.Recorder, c.log, "increment_resets", func(ctx context.Context, r Recorder) error {
		return r.IncrementResets(ctx)
	})

	old := c.current
	c.current = nil
	if old != nil {
		if err := old.Stop(ctx); err != nil {
			c.log.Warn("stop previous session failed", "session_id", old.ID(), "error", err)
		}
	}

	next, err := c.startSession(ctx)
	if err != nil {
		c.joinPumps()
		return err
	}

	c.joinPumps()
	c.current = next
	c.launchPumps(next)

	c.send(ctx, transport.ResetDone())
	c.log.Info("conversation reset", "session_id", next.ID())
	return nil
}

// ProcessAudio forwards audio to the current session. Audio is dropped while
// no session is active.
func (c *Conversation) ProcessAudio(data []byte) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.ProcessAudio(data)
}

// Close stops the current session and joins its pumps. Only the first call
// does any work.
func (c *Conversation) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		s := c.current
		c.current = nil
		if s != nil {
			err = s.Stop(ctx)
		}
		c.joinPumps()
		c.mu.Unlock()

		if c.onClose != nil {
			c.onClose(c.id)
		}
		c.log.Info("conversation closed")
	})
	return err
}

// startSession must be called with mu held.
func (c *Conversation) startSession(ctx context.Context) (*VoiceSession, error) {
	next := New(c.connector, c.sink, c.cfg, c.log)
	if err := next.Start(ctx); err != nil {
		_ = next.Stop(context.WithoutCancel(ctx))
		c.log.Error("start voice session failed", "error", err)
		c.send(ctx, transport.Error(err.Error()))
		return nil, err
	}
	return next, nil
}

// launchPumps must be called with mu held.
func (c *Conversation) launchPumps(s *VoiceSession) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pumpCancel = cancel
	c.pumpDone = done

	go func() {
		defer close(done)
		if err := s.ProcessResponses(ctx); err != nil {
			c.log.Warn("response pumps ended", "session_id", s.ID(), "error", err)
		}
	}()
}

// joinPumps must be called with mu held.
func (c *Conversation) joinPumps() {
	if c.pumpCancel == nil {
		return
	}
	c.pumpCancel()
	<-c.pumpDone
	c.pumpCancel = nil
	c.pumpDone = nil
}

func (c *Conversation) send(ctx context.Context, evt transport.ServerEvent) {
	if err := c.sink.Send(ctx, evt); err != nil {
		c.log.Warn("send event failed", "type", evt.Type, "error", err)
	}
}
