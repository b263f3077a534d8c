package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConversations prometheus.Gauge
	SessionsStarted     prometheus.Counter
	ConnectFailures     prometheus.Counter
	Resets              prometheus.Counter

	Transcripts    *prometheus.CounterVec
	AudioChunksOut prometheus.Counter
	TurnsCompleted prometheus.Counter
	AudioBytesIn   prometheus.Counter

	MalformedMessages prometheus.Counter
	ChatConnections   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveConversations: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_conversations",
			Help: "Current number of connected voice clients",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_live_sessions_started_total",
			Help: "Total number of upstream live sessions opened",
		}),
		ConnectFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_live_connect_failures_total",
			Help: "Total number of upstream connect attempts that failed or timed out",
		}),
		Resets: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_session_resets_total",
			Help: "Total number of client requested session resets",
		}),

		Transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_transcripts_total",
			Help: "Transcripts delivered to clients by speaker",
		}, []string{"speaker"}),
		AudioChunksOut: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_chunks_out_total",
			Help: "Synthesized audio chunks delivered to clients",
		}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_turns_completed_total",
			Help: "Assistant turns completed",
		}),
		AudioBytesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_bytes_in_total",
			Help: "Client audio bytes received",
		}),

		MalformedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_malformed_messages_total",
			Help: "Client frames ignored because they could not be decoded",
		}),
		ChatConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_chat_connections",
			Help: "Current number of chat room clients",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConversationOpened() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

func (m *Metrics) ConversationClosed() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.ConnectFailures.Inc()
}

func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.Resets.Inc()
}

func (m *Metrics) Transcript(speaker string) {
	if m == nil {
		return
	}
	m.Transcripts.WithLabelValues(speaker).Inc()
}

func (m *Metrics) AudioChunk() {
	if m == nil {
		return
	}
	m.AudioChunksOut.Inc()
}

func (m *Metrics) TurnCompleted() {
	if m == nil {
		return
	}
	m.TurnsCompleted.Inc()
}

func (m *Metrics) AudioIn(n int) {
	if m == nil {
		return
	}
	m.AudioBytesIn.Add(float64(n))
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

func (m *Metrics) ChatJoined() {
	if m == nil {
		return
	}
	m.ChatConnections.Inc()
}

func (m *Metrics) ChatLeft() {
	if m == nil {
		return
	}
	m.ChatConnections.Dec()
}
