package voicesession

import (
	"context"
	"errors"
	"testing"

	"github.com/eleven-am/voice-relay/internal/live/livetest"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestManager(connector *livetest.Connector) (*Manager, *metrics.Metrics, *mockRecorder) {
	m := metrics.New()
	rec := newMockRecorder()
	mgr := NewManager(ManagerConfig{
		Connector: connector,
		Live:      testLiveConfig(),
		Metrics:   m,
		Recorder:  rec,
		Log:       testLogger(),
	})
	return mgr, m, rec
}

func openConversation(t *testing.T, connector *livetest.Connector) (*Conversation, *mockSink) {
	t.Helper()
	mgr, _, _ := newTestManager(connector)
	sink := &mockSink{}
	conv := mgr.Open(sink)
	t.Cleanup(func() { _ = conv.Close(context.Background()) })
	return conv, sink
}

func TestConversation_BeginSendsReady(t *testing.T) {
	connector := livetest.NewConnector()
	conv, sink := openConversation(t, connector)

	if err := conv.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	types := sink.Types()
	if len(types) != 1 || types[0] != transport.MessageTypeSessionReady {
		t.Fatalf("expected only session.ready, got %v", types)
	}
	if conv.Current() == nil {
		t.Error("expected an active session")
	}
}

func TestConversation_BeginFailureKeepsConversation(t *testing.T) {
	connector := livetest.NewConnector()
	connector.SetHang(true)
	conv, sink := openConversation(t, connector)

	if err := conv.Begin(context.Background()); err == nil {
		t.Fatal("expected begin to fail")
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Type != transport.MessageTypeError {
		t.Fatalf("expected one error event, got %v", sink.Types())
	}
	if events[0].Message == "" {
		t.Error("error event should carry a message")
	}
	if conv.Current() != nil {
		t.Error("no session should be active after a failed start")
	}

	conv.ProcessAudio([]byte{1, 2, 3})

	connector.SetHang(false)
	if err := conv.Reset(context.Background()); err != nil {
		t.Fatalf("reset after failed begin: %v", err)
	}
	sink.waitFor(t, transport.MessageTypeResetDone, 1)
	if conv.Current() == nil {
		t.Error("reset should install a session")
	}
}

func TestConversation_ProcessAudioForwardsToCurrent(t *testing.T) {
	connector := livetest.NewConnector()
	conv, _ := openConversation(t, connector)
	_ = conv.Begin(context.Background())

	conv.ProcessAudio([]byte("chunk"))

	sent := connector.Last().Sent()
	if len(sent) != 1 || string(sent[0]) != "chunk" {
		t.Errorf("unexpected forwarded audio: %v", sent)
	}
}

func TestConversation_ProcessAudioWithoutSessionDropped(t *testing.T) {
	connector := livetest.NewConnector()
	conv, _ := openConversation(t, connector)

	conv.ProcessAudio([]byte("early"))

	if len(connector.Streams()) != 0 {
		t.Error("audio before begin must not open a stream")
	}
}

func TestConversation_Reset(t *testing.T) {
	connector := livetest.NewConnector()
	conv, sink := openConversation(t, connector)
	if err := conv.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	first := connector.Last()
	firstSession := conv.Current()

	first.Emit(livetest.OutputTranscript("old reply"))

	if err := conv.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if !first.IsClosed() {
		t.Error("previous stream should be closed")
	}
	if len(connector.Streams()) != 2 {
		t.Fatalf("expected a second stream, got %d", len(connector.Streams()))
	}
	if conv.Current() == firstSession {
		t.Error("current session should be replaced")
	}
	if firstSession.Running() {
		t.Error("previous session should be stopped")
	}

	types := sink.Types()
	if types[len(types)-1] != transport.MessageTypeResetDone {
		t.Fatalf("expected reset.done last, got %v", types)
	}
	readyCount := 0
	for _, typ := range types {
		if typ == transport.MessageTypeSessionReady {
			readyCount++
		}
	}
	if readyCount != 1 {
		t.Errorf("session.ready should only be sent on the initial start, got %d", readyCount)
	}

	second := connector.Last()
	second.Emit(livetest.OutputTranscript("new reply"))
	eventually(t, func() bool {
		for _, e := range sink.Events() {
			if e.Text == "new reply" {
				return true
			}
		}
		return false
	})

	events := sink.Events()
	resetAt := -1
	for i, e := range events {
		if e.Type == transport.MessageTypeResetDone {
			resetAt = i
		}
	}
	for _, e := range events[resetAt+1:] {
		if e.Text == "old reply" {
			t.Error("output from the previous session arrived after reset.done")
		}
	}

	conv.ProcessAudio([]byte("after"))
	if len(second.Sent()) != 1 {
		t.Error("audio after reset should go to the new stream")
	}
	if len(first.Sent()) != 0 {
		t.Error("audio after reset must not reach the old stream")
	}
}

func TestConversation_ResetFailure(t *testing.T) {
	connector := livetest.NewConnector()
	conv, sink := openConversation(t, connector)
	_ = conv.Begin(context.Background())

	boom := errors.New("upstream unavailable")
	connector.SetErr(boom)

	if err := conv.Reset(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected reset error, got %v", err)
	}

	types := sink.Types()
	if types[len(types)-1] != transport.MessageTypeError {
		t.Errorf("expected error event, got %v", types)
	}
	for _, typ := range types {
		if typ == transport.MessageTypeResetDone {
			t.Error("reset.done must not be sent when the reset fails")
		}
	}
	if conv.Current() != nil {
		t.Error("no session should remain after a failed reset")
	}
}

func TestConversation_CloseIdempotent(t *testing.T) {
	connector := livetest.NewConnector()
	mgr, m, _ := newTestManager(connector)
	conv := mgr.Open(&mockSink{})
	_ = conv.Begin(context.Background())

	for i := 0; i < 3; i++ {
		if err := conv.Close(context.Background()); err != nil {
			t.Errorf("close %d: %v", i, err)
		}
	}

	if !connector.Last().IsClosed() {
		t.Error("stream should be closed")
	}
	if mgr.Count() != 0 {
		t.Errorf("expected conversation removed, count %d", mgr.Count())
	}
	if got := testutil.ToFloat64(m.ActiveConversations); got != 0 {
		t.Errorf("expected active gauge back to 0, got %v", got)
	}
}

func TestConversation_AfterClose(t *testing.T) {
	connector := livetest.NewConnector()
	conv, _ := openConversation(t, connector)
	_ = conv.Close(context.Background())

	if err := conv.Begin(context.Background()); !errors.Is(err, ErrConversationClosed) {
		t.Errorf("begin after close: expected ErrConversationClosed, got %v", err)
	}
	if err := conv.Reset(context.Background()); !errors.Is(err, ErrConversationClosed) {
		t.Errorf("reset after close: expected ErrConversationClosed, got %v", err)
	}
	conv.ProcessAudio([]byte{1})
}

func TestConversation_ResetCounted(t *testing.T) {
	connector := livetest.NewConnector()
	mgr, m, rec := newTestManager(connector)
	conv := mgr.Open(&mockSink{})
	defer conv.Close(context.Background())

	_ = conv.Begin(context.Background())
	_ = conv.Reset(context.Background())
	_ = conv.Reset(context.Background())

	if got := testutil.ToFloat64(m.Resets); got != 2 {
		t.Errorf("expected 2 resets, got %v", got)
	}
	if rec.resets != 2 {
		t.Errorf("expected 2 recorded resets, got %d", rec.resets)
	}
	if got := testutil.ToFloat64(m.SessionsStarted); got != 3 {
		t.Errorf("expected 3 sessions started, got %v", got)
	}
}
