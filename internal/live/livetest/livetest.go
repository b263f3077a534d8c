// Package livetest provides a scripted in-memory Gemini Live upstream for tests.
package livetest

import (
	"context"
	"errors"
	"sync"

	"github.com/eleven-am/voice-relay/internal/live"
	"google.golang.org/genai"
)

var ErrStreamClosed = errors.New("livetest: stream closed")

type Stream struct {
	mu        sync.Mutex
	sent      [][]byte
	mimeTypes []string
	sendErr   error

	messages  chan *genai.LiveServerMessage
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func NewStream() *Stream {
	return &Stream{
		messages: make(chan *genai.LiveServerMessage, 256),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (s *Stream) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if input.Audio != nil {
		s.sent = append(s.sent, input.Audio.Data)
		s.mimeTypes = append(s.mimeTypes, input.Audio.MIMEType)
	}
	return nil
}

func (s *Stream) Receive() (*genai.LiveServerMessage, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	default:
	}

	select {
	case msg := <-s.messages:
		return msg, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, ErrStreamClosed
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Emit queues server messages for the receive loop.
func (s *Stream) Emit(msgs ...*genai.LiveServerMessage) {
	for _, msg := range msgs {
		s.messages <- msg
	}
}

// Fail makes the next Receive return err.
func (s *Stream) Fail(err error) {
	s.errs <- err
}

func (s *Stream) SetSendError(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Stream) MIMETypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.mimeTypes))
	copy(out, s.mimeTypes)
	return out
}

func (s *Stream) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Connector hands out a fresh Stream per Connect call. With Hang set, Connect
// blocks until its context ends.
type Connector struct {
	mu      sync.Mutex
	Err     error
	Hang    bool
	streams []*Stream
	models  []string
	configs []*genai.LiveConnectConfig
}

func NewConnector() *Connector {
	return &Connector{}
}

func (c *Connector) Connect(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (live.Stream, error) {
	c.mu.Lock()
	hang, err := c.Hang, c.Err
	c.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	stream := NewStream()
	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.models = append(c.models, model)
	c.configs = append(c.configs, cfg)
	c.mu.Unlock()

	return stream, nil
}

func (c *Connector) SetHang(hang bool) {
	c.mu.Lock()
	c.Hang = hang
	c.mu.Unlock()
}

func (c *Connector) SetErr(err error) {
	c.mu.Lock()
	c.Err = err
	c.mu.Unlock()
}

func (c *Connector) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	return out
}

func (c *Connector) Last() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

func (c *Connector) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.models...)
}

func (c *Connector) Configs() []*genai.LiveConnectConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*genai.LiveConnectConfig(nil), c.configs...)
}

func OutputTranscript(text string) *genai.LiveServerMessage {
	return &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		OutputTranscription: &genai.Transcription{Text: text},
	}}
}

func InputTranscript(text string) *genai.LiveServerMessage {
	return &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: text},
	}}
}

func Audio(chunks ...[]byte) *genai.LiveServerMessage {
	parts := make([]*genai.Part, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: c, MIMEType: "audio/pcm;rate=24000"}})
	}
	return &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Role: "model", Parts: parts},
	}}
}

func TurnComplete() *genai.LiveServerMessage {
	return &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}}
}
