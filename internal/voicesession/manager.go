package voicesession

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-relay/internal/live"
	"github.com/eleven-am/voice-relay/internal/metrics"
	"github.com/eleven-am/voice-relay/internal/shared"
	"github.com/eleven-am/voice-relay/internal/transport"
)

type Manager struct {
	connector live.Connector
	cfg       Config
	metrics   *metrics.Metrics
	log       *slog.Logger

	conversations map[string]*Conversation
	mu            sync.RWMutex
}

type ManagerConfig struct {
	Connector live.Connector
	Live      live.Config
	Metrics   *metrics.Metrics
	Recorder  Recorder
	Log       *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Manager{
		connector: cfg.Connector,
		cfg: Config{
			Live:     cfg.Live,
			Metrics:  cfg.Metrics,
			Recorder: cfg.Recorder,
		},
		metrics:       cfg.Metrics,
		log:           cfg.Log.With("component", "voicesession_manager"),
		conversations: make(map[string]*Conversation),
	}
}

// Open registers a conversation for sink. The caller must Close it.
func (m *Manager) Open(sink transport.Sink) *Conversation {
	conv := newConversation(shared.NewID("conv_"), m.connector, sink, m.cfg, m.log, m.remove)

	m.mu.Lock()
	m.conversations[conv.ID()] = conv
	m.mu.Unlock()

	m.metrics.ConversationOpened()
	record(m.cfg.Recorder, m.log, "increment_conversations", func(ctx context.Context, r Recorder) error {
		return r.IncrementConversations(ctx)
	})

	m.log.Info("conversation opened", "conversation_id", conv.ID())
	return conv
}

func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.conversations[id]
	delete(m.conversations, id)
	m.mu.Unlock()

	if ok {
		m.metrics.ConversationClosed()
	}
}

// Close ends every open conversation.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, c)
	}
	m.mu.RUnlock()

	var errs []error
	for _, c := range convs {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ConversationInfo struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id,omitempty"`
	Running        bool   `json:"running"`
}

func (m *Manager) List() []ConversationInfo {
	m.mu.RLock()
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, c)
	}
	m.mu.RUnlock()

	infos := make([]ConversationInfo, 0, len(convs))
	for _, c := range convs {
		info := ConversationInfo{ConversationID: c.ID()}
		if s := c.Current(); s != nil {
			info.SessionID = s.ID()
			info.Running = s.Running()
		}
		infos = append(infos, info)
	}
	return infos
}
