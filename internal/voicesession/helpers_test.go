package voicesession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/voice-relay/internal/live"
	"github.com/eleven-am/voice-relay/internal/session"
	"github.com/eleven-am/voice-relay/internal/transport"
)

type mockSink struct {
	mu     sync.Mutex
	events []transport.ServerEvent
	err    error
}

func (m *mockSink) Send(_ context.Context, evt transport.ServerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *mockSink) Events() []transport.ServerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.ServerEvent(nil), m.events...)
}

func (m *mockSink) Types() []transport.MessageType {
	var types []transport.MessageType
	for _, e := range m.Events() {
		types = append(types, e.Type)
	}
	return types
}

func (m *mockSink) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockSink) waitFor(t *testing.T, msgType transport.MessageType, n int) []transport.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var matched []transport.ServerEvent
		for _, e := range m.Events() {
			if e.Type == msgType {
				matched = append(matched, e)
			}
		}
		if len(matched) >= n {
			return matched
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, have %v", n, msgType, m.Types())
	return nil
}

type mockRecorder struct {
	mu            sync.Mutex
	created       []string
	ended         map[string]session.Status
	resets        int
	errors        int
	conversations int
	fail          bool
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{ended: make(map[string]session.Status)}
}

var errRecorder = errors.New("redis down")

func (r *mockRecorder) CreateRecord(_ context.Context, rec *session.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRecorder
	}
	r.created = append(r.created, rec.ID)
	return nil
}

func (r *mockRecorder) EndRecord(_ context.Context, id string, status session.Status, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRecorder
	}
	r.ended[id] = status
	return nil
}

func (r *mockRecorder) IncrementResets(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return nil
}

func (r *mockRecorder) IncrementErrors(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
	return nil
}

func (r *mockRecorder) IncrementConversations(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLiveConfig() live.Config {
	return live.Config{
		ConnectTimeout: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
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
