package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eleven-am/voice-relay/internal/live"
	"github.com/eleven-am/voice-relay/internal/live/livetest"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/transport"
	"github.com/eleven-am/voice-relay/internal/voicesession"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type voiceFixture struct {
	server    *httptest.Server
	connector *livetest.Connector
	manager   *voicesession.Manager
	metrics   *metrics.Metrics
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVoiceFixture(t *testing.T, apiKey string) *voiceFixture {
	t.Helper()
	connector := livetest.NewConnector()
	m := metrics.New()
	mgr := voicesession.NewManager(voicesession.ManagerConfig{
		Connector: connector,
		Live: live.Config{
			ConnectTimeout: 200 * time.Millisecond,
			PollInterval:   10 * time.Millisecond,
		},
		Metrics: m,
		Log:     testLogger(),
	})

	h := NewVoiceHandler(VoiceHandlerConfig{
		Manager: mgr,
		APIKey:  apiKey,
		Metrics: m,
		Logger:  testLogger(),
	})

	e := echo.New()
	e.GET("/ws/voice", h.HandleVoice)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		server.Close()
		_ = mgr.Close(context.Background())
	})

	return &voiceFixture{server: server, connector: connector, manager: mgr, metrics: m}
}

func (f *voiceFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/voice"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) transport.ServerEvent {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt transport.ServerEvent
	if err := ws.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func readUntil(t *testing.T, ws *websocket.Conn, msgType transport.MessageType) []transport.ServerEvent {
	t.Helper()
	var events []transport.ServerEvent
	for i := 0; i < 50; i++ {
		evt := readEvent(t, ws)
		events = append(events, evt)
		if evt.Type == msgType {
			return events
		}
	}
	t.Fatalf("never received %s, got %v", msgType, events)
	return nil
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func appendMessage(audio []byte) map[string]string {
	return map[string]string{
		"type":  string(transport.MessageTypeAudioAppend),
		"delta": base64.StdEncoding.EncodeToString(audio),
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestVoiceHandler_MissingCredential(t *testing.T) {
	f := newVoiceFixture(t, "")
	ws := f.dial(t)

	evt := readEvent(t, ws)
	if evt.Type != transport.MessageTypeError || evt.Message != "Google API key not configured" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != transport.CloseMissingCredential {
		t.Errorf("expected close code %d, got %d", transport.CloseMissingCredential, closeErr.Code)
	}

	if n := len(f.connector.Streams()); n != 0 {
		t.Errorf("no upstream session should be opened, got %d", n)
	}
	if f.manager.Count() != 0 {
		t.Error("no conversation should be created without a credential")
	}
}

func TestVoiceHandler_ConversationRoundTrip(t *testing.T) {
	f := newVoiceFixture(t, "test-key")
	ws := f.dial(t)

	if evt := readEvent(t, ws); evt.Type != transport.MessageTypeSessionReady {
		t.Fatalf("expected session.ready first, got %+v", evt)
	}

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sendJSON(t, ws, appendMessage(pcm))

	eventually(t, func() bool { return len(f.connector.Last().Sent()) == 1 })
	if got := f.connector.Last().Sent()[0]; string(got) != string(pcm) {
		t.Errorf("upstream received %v, want %v", got, pcm)
	}

	f.connector.Last().Emit(
		livetest.OutputTranscript("こんにちは"),
		livetest.Audio([]byte("reply-audio")),
		livetest.TurnComplete(),
	)

	events := readUntil(t, ws, transport.MessageTypeAudioDone)
	var sawTranscript, sawAudio bool
	for _, evt := range events {
		switch evt.Type {
		case transport.MessageTypeTranscript:
			if evt.Sender != "assistant" || evt.Text != "こんにちは" {
				t.Errorf("unexpected transcript: %+v", evt)
			}
			sawTranscript = true
		case transport.MessageTypeAudioDelta:
			decoded, err := base64.StdEncoding.DecodeString(evt.Delta)
			if err != nil || string(decoded) != "reply-audio" {
				t.Errorf("unexpected audio delta: %+v", evt)
			}
			sawAudio = true
		}
	}
	if !sawAudio {
		t.Error("expected an audio delta before audio.done")
	}
	if !sawTranscript {
		evt := readEvent(t, ws)
		if evt.Type != transport.MessageTypeTranscript || evt.Text != "こんにちは" {
			t.Errorf("expected assistant transcript, got %+v", evt)
		}
	}

	if got := testutil.ToFloat64(f.metrics.AudioBytesIn); got != float64(len(pcm)) {
		t.Errorf("expected %d bytes in, got %v", len(pcm), got)
	}
}

func TestVoiceHandler_Reset(t *testing.T) {
	f := newVoiceFixture(t, "test-key")
	ws := f.dial(t)
	readEvent(t, ws)

	first := f.connector.Last()
	sendJSON(t, ws, map[string]string{"type": string(transport.MessageTypeSessionReset)})

	events := readUntil(t, ws, transport.MessageTypeResetDone)
	for _, evt := range events {
		if evt.Type == transport.MessageTypeSessionReady {
			t.Error("reset must not send session.ready")
		}
	}

	if len(f.connector.Streams()) != 2 {
		t.Fatalf("expected two upstream sessions, got %d", len(f.connector.Streams()))
	}
	if !first.IsClosed() {
		t.Error("first upstream session should be closed")
	}

	second := f.connector.Last()
	second.Emit(livetest.InputTranscript("もう一度"))
	evt := readEvent(t, ws)
	if evt.Type != transport.MessageTypeTranscript || evt.Sender != "user" {
		t.Errorf("expected user transcript from new session, got %+v", evt)
	}
}

func TestVoiceHandler_MalformedFramesIgnored(t *testing.T) {
	f := newVoiceFixture(t, "test-key")
	ws := f.dial(t)
	readEvent(t, ws)

	frames := []string{
		"not json",
		`{"type":"input_audio_buffer.append","delta":"%%%"}`,
		`{"type":"input_audio_buffer.append","delta":""}`,
		`{"type":"unknown.kind"}`,
		`{"type":`,
	}
	for _, frame := range frames {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	sendJSON(t, ws, appendMessage([]byte("ok")))

	eventually(t, func() bool { return len(f.connector.Last().Sent()) == 1 })

	if got := testutil.ToFloat64(f.metrics.MalformedMessages); got != 3 {
		t.Errorf("expected 3 malformed frames counted, got %v", got)
	}

	sendJSON(t, ws, map[string]string{"type": string(transport.MessageTypeSessionReset)})
	readUntil(t, ws, transport.MessageTypeResetDone)
}

func TestVoiceHandler_ConnectFailureKeepsSocketOpen(t *testing.T) {
	f := newVoiceFixture(t, "test-key")
	f.connector.SetErr(errors.New("upstream refused"))
	ws := f.dial(t)

	evt := readEvent(t, ws)
	if evt.Type != transport.MessageTypeError {
		t.Fatalf("expected error event, got %+v", evt)
	}

	sendJSON(t, ws, appendMessage([]byte("dropped")))

	f.connector.SetErr(nil)
	sendJSON(t, ws, map[string]string{"type": string(transport.MessageTypeSessionReset)})
	readUntil(t, ws, transport.MessageTypeResetDone)

	if n := len(f.connector.Last().Sent()); n != 0 {
		t.Errorf("audio sent before any session must be dropped, got %d", n)
	}
}

func TestVoiceHandler_DisconnectClosesConversation(t *testing.T) {
	f := newVoiceFixture(t, "test-key")
	ws := f.dial(t)
	readEvent(t, ws)

	eventually(t, func() bool { return f.manager.Count() == 1 })
	stream := f.connector.Last()

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	eventually(t, func() bool { return f.manager.Count() == 0 })
	if !stream.IsClosed() {
		t.Error("upstream session should be closed when the client leaves")
	}
	if got := testutil.ToFloat64(f.metrics.ActiveConversations); got != 0 {
		t.Errorf("expected no active conversations, got %v", got)
	}
}
