package voicesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-relay/internal/live"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/session"
	"github.com/eleven-am/voice-relay/internal/shared"
	"github.com/eleven-am/voice-relay/internal/transport"
	"golang.org/x/sync/errgroup"
)

const audioRetryDelay = 100 * time.Millisecond

// VoiceSession couples one live.Session to a client sink. It is started once
// and stopped once; a reset builds a new VoiceSession.
type VoiceSession struct {
	id             string
	conversationID string

	upstream *live.Session
	sink     transport.Sink
	cfg      live.Config

	metrics  *metrics.Metrics
	recorder Recorder
	log      *slog.Logger

	running  atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

type Config struct {
	ConversationID string
	Live           live.Config
	Metrics        *metrics.Metrics
	Recorder       Recorder
}

func New(connector live.Connector, sink transport.Sink, cfg Config, log *slog.Logger) *VoiceSession {
	if log == nil {
		log = slog.Default()
	}

	id := shared.NewID("sess_")
	log = log.With("session_id", id)

	return &VoiceSession{
		id:             id,
		conversationID: cfg.ConversationID,
		upstream:       live.NewSession(connector, cfg.Live, log),
		sink:           sink,
		cfg:            cfg.Live,
		metrics:        cfg.Metrics,
		recorder:       cfg.Recorder,
		log:            log,
	}
}

func (s *VoiceSession) ID() string {
	return s.id
}

func (s *VoiceSession) Running() bool {
	return s.running.Load()
}

// Start opens the upstream stream. On failure the session is unusable and
// should be stopped.
func (s *VoiceSession) Start(ctx context.Context) error {
	if err := s.upstream.Connect(ctx); err != nil {
		s.metrics.ConnectFailed()
		record(s.recorder, s.log, "increment_errors", func(ctx context.Context, r Recorder) error {
			return r.IncrementErrors(ctx)
		})
		return err
	}

	s.running.Store(true)
	s.started.Store(true)
	s.metrics.SessionStarted()

	record(s.recorder, s.log, "create", func(ctx context.Context, r Recorder) error {
		return r.CreateRecord(ctx, &session.Record{
			ID:             s.id,
			ConversationID: s.conversationID,
			Model:          s.cfg.Model,
			Voice:          s.cfg.Voice,
		})
	})

	s.log.Info("voice session started")
	return nil
}

// Stop closes the upstream session. Later calls return the first result.
func (s *VoiceSession) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.stopErr = s.upstream.Close(ctx)

		if !s.started.Load() {
			return
		}

		status := session.StatusEnded
		if s.stopErr != nil {
			status = session.StatusError
		}
		record(s.recorder, s.log, "end", func(ctx context.Context, r Recorder) error {
			return r.EndRecord(ctx, s.id, status, s.stopErr)
		})
		s.log.Info("voice session stopped")
	})
	return s.stopErr
}

// ProcessAudio forwards one block of client audio. Send failures are logged;
// the relay keeps going.
func (s *VoiceSession) ProcessAudio(data []byte) {
	if len(data) == 0 {
		return
	}
	s.metrics.AudioIn(len(data))
	if err := s.upstream.SendAudio(data); err != nil {
		s.log.Warn("forward audio failed", "error", err)
	}
}

// ProcessResponses runs the transcript and audio pumps until both finish or
// ctx is cancelled. Cancellation is not an error.
func (s *VoiceSession) ProcessResponses(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpTranscripts(gctx) })
	g.Go(func() error { return s.pumpAudio(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *VoiceSession) pumpTranscripts(ctx context.Context) error {
	for evt := range s.upstream.Transcripts(ctx) {
		if !s.running.Load() {
			return nil
		}
		if err := s.sink.Send(ctx, transport.Transcript(string(evt.Speaker), evt.Text)); err != nil {
			return fmt.Errorf("send transcript: %w", err)
		}
		s.metrics.Transcript(string(evt.Speaker))
	}
	return ctx.Err()
}

func (s *VoiceSession) pumpAudio(ctx context.Context) error {
	for s.running.Load() {
		err := s.upstream.AudioChunks(ctx, func(chunk []byte) error {
			if err := s.sink.Send(ctx, transport.AudioDelta(chunk)); err != nil {
				return err
			}
			s.metrics.AudioChunk()
			return nil
		})

		switch {
		case err == nil:
			s.metrics.TurnCompleted()
			if err := s.sink.Send(ctx, transport.AudioDone()); err != nil {
				s.log.Warn("send audio done failed", "error", err)
			}
			continue
		case errors.Is(err, live.ErrSessionClosed):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}

		if !s.running.Load() {
			return nil
		}
		s.log.Warn("audio pump error, retrying", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(audioRetryDelay):
		}
	}
	return nil
}
