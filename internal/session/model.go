package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

// Record tracks one upstream live session. A conversation that resets
// produces one record per session it opened.
type Record struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Model          string     `json:"model"`
	Voice          string     `json:"voice"`
	Status         Status     `json:"status"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	LastActiveAt   time.Time  `json:"last_active_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

func (r *Record) RedisKey() string {
	return RecordRedisKey(r.ID)
}

func RecordRedisKey(id string) string {
	return "relay_session:" + id
}

type Stats struct {
	Date          string `json:"date"`
	Sessions      int64  `json:"sessions"`
	Resets        int64  `json:"resets"`
	Errors        int64  `json:"errors"`
	Conversations int64  `json:"conversations"`
}

func StatsRedisKey(date string) string {
	return "relay_stats:" + date
}
