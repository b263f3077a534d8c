package live

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// Session owns one Gemini Live stream. Server messages are split into a
// transcript queue and an audio queue, each drained by exactly one reader.
type Session struct {
	cfg       Config
	connector Connector
	log       *slog.Logger

	transcripts *queue[TranscriptEvent]
	audio       *queue[audioItem]

	running   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	closed bool

	// sendMu orders audio writes against stream shutdown.
	sendMu sync.Mutex

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSession(connector Connector, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:         cfg.withDefaults(),
		connector:   connector,
		log:         log.With("component", "live_session"),
		transcripts: newQueue[TranscriptEvent](),
		audio:       newQueue[audioItem](),
		ready:       make(chan struct{}),
	}
}

func (s *Session) Connect(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "live connect", trace.WithAttributes(
		attribute.String("live.model", s.cfg.Model),
		attribute.String("live.voice", s.cfg.Voice),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	stream, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrSessionClosed
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.stream = stream
	s.cancel = cancel
	s.running.Store(true)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.receiveLoop(loopCtx, stream)

	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("live session connected", "model", s.cfg.Model, "voice", s.cfg.Voice)
	return nil
}

func (s *Session) dial(ctx context.Context) (Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		stream Stream
		err    error
	}
	resCh := make(chan result, 1)

	go func() {
		stream, err := s.connector.Connect(dialCtx, s.cfg.Model, connectConfig(s.cfg))
		resCh <- result{stream: stream, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
			}
			return nil, fmt.Errorf("connect live session: %w", res.err)
		}
		return res.stream, nil
	case <-dialCtx.Done():
		// A connector that ignores ctx may still hand back a stream later.
		go func() {
			if res := <-resCh; res.stream != nil {
				_ = res.stream.Close()
			}
		}()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
		}
		return nil, dialCtx.Err()
	}
}

// Ready is closed once the stream is open.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) Running() bool {
	return s.running.Load()
}

// SendAudio forwards one PCM16 16kHz block. Audio arriving while the session
// is not connected is dropped without error.
func (s *Session) SendAudio(data []byte) error {
	if len(data) == 0 || !s.running.Load() {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil || !s.running.Load() {
		return nil
	}

	err := stream.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			Data:     data,
			MIMEType: InputMIMEType,
		},
	})
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

func (s *Session) receiveLoop(ctx context.Context, stream Stream) {
	defer s.wg.Done()
	defer s.detach(stream)

	for {
		msg, err := stream.Receive()
		if err != nil {
			if ctx.Err() != nil || !s.running.Load() {
				return
			}
			s.log.Error("live receive failed", "error", err)
			return
		}
		if ctx.Err() != nil || !s.running.Load() {
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}

	if msg.GoAway != nil {
		s.log.Warn("live server requested disconnect")
	}

	content := msg.ServerContent
	if content == nil {
		return
	}

	if t := content.InputTranscription; t != nil {
		s.pushTranscript(SpeakerUser, t.Text)
	}
	if t := content.OutputTranscription; t != nil {
		s.pushTranscript(SpeakerAssistant, t.Text)
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			s.audio.Push(audioItem{data: part.InlineData.Data})
		}
	}

	if content.TurnComplete {
		s.audio.Push(audioItem{turnComplete: true})
	}
}

func (s *Session) pushTranscript(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.transcripts.Push(TranscriptEvent{Speaker: speaker, Text: text})
}

// detach clears the stream handle when the receive loop ends so later sends
// become no-ops.
func (s *Session) detach(stream Stream) {
	s.mu.Lock()
	current := s.stream == stream
	if current {
		s.stream = nil
	}
	s.mu.Unlock()

	if !current {
		return
	}

	s.sendMu.Lock()
	err := stream.Close()
	s.sendMu.Unlock()
	if err != nil {
		s.log.Debug("close live stream", "error", err)
	}
}

// Transcripts yields transcripts in arrival order until the session stops or
// ctx is cancelled.
func (s *Session) Transcripts(ctx context.Context) iter.Seq[TranscriptEvent] {
	return func(yield func(TranscriptEvent) bool) {
		for s.running.Load() {
			evt, ok := s.transcripts.Poll(ctx, s.cfg.PollInterval)
			if ctx.Err() != nil {
				return
			}
			if !ok {
				continue
			}
			if !yield(evt) {
				return
			}
		}
	}
}

// AudioChunks delivers the chunks of one assistant turn to onChunk and returns
// nil once the turn is complete. It returns ErrSessionClosed if the session
// stops before the turn ends.
func (s *Session) AudioChunks(ctx context.Context, onChunk func([]byte) error) error {
	for {
		if !s.running.Load() {
			return ErrSessionClosed
		}

		item, ok := s.audio.Poll(ctx, s.cfg.PollInterval)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ok {
			continue
		}
		if item.turnComplete {
			return nil
		}
		if err := onChunk(item.data); err != nil {
			return err
		}
	}
}

// Close stops the receive loop and waits for it to exit. It is safe to call
// more than once and before Connect.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.running.Store(false)

		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		stream := s.stream
		s.stream = nil
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		if stream != nil {
			s.sendMu.Lock()
			err := stream.Close()
			s.sendMu.Unlock()
			if err != nil {
				s.log.Debug("close live stream", "error", err)
			}
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
