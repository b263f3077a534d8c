package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-relay/internal/voicesession"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type Stats struct {
	Conversations int          `json:"conversations"`
	ChatMembers   int          `json:"chat_members"`
	Requests      RequestStats `json:"requests"`
	Runtime       RuntimeStats `json:"runtime"`
}

type DetailsResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type ConversationsResponse struct {
	Total         int                             `json:"total"`
	Conversations []voicesession.ConversationInfo `json:"conversations"`
}

// ConversationLister is satisfied by *voicesession.Manager.
type ConversationLister interface {
	Count() int
	List() []voicesession.ConversationInfo
}

type MemberCounter interface {
	Count() int
}

type Handler struct {
	redis         *redis.Client
	conversations ConversationLister
	chat          MemberCounter
	hasCredential bool
	version       string
	startTime     time.Time

	totalRequests     uint64
	activeConnections int64
}

type Config struct {
	Redis         *redis.Client
	Conversations ConversationLister
	Chat          MemberCounter
	HasCredential bool
	Version       string
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		redis:         cfg.Redis,
		conversations: cfg.Conversations,
		chat:          cfg.Chat,
		hasCredential: cfg.HasCredential,
		version:       cfg.Version,
		startTime:     time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/details", h.Details)
	e.GET("/health/conversations", h.Conversations)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) IncrementConnections() {
	atomic.AddInt64(&h.activeConnections, 1)
}

func (h *Handler) DecrementConnections() {
	atomic.AddInt64(&h.activeConnections, -1)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Details(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"redis", h.checkRedis},
		{"upstream", h.checkUpstream},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	overallStatus := computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := Stats{
		Requests: RequestStats{
			TotalRequests:     atomic.LoadUint64(&h.totalRequests),
			ActiveConnections: atomic.LoadInt64(&h.activeConnections),
		},
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: memStats.Alloc / 1024 / 1024,
			MemorySysMB:   memStats.Sys / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}
	if h.conversations != nil {
		stats.Conversations = h.conversations.Count()
	}
	if h.chat != nil {
		stats.ChatMembers = h.chat.Count()
	}

	resp := DetailsResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats:         stats,
		Components:    components,
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, resp)
}

func (h *Handler) Conversations(c echo.Context) error {
	var infos []voicesession.ConversationInfo
	if h.conversations != nil {
		infos = h.conversations.List()
	}
	if infos == nil {
		infos = []voicesession.ConversationInfo{}
	}
	return c.JSON(http.StatusOK, ConversationsResponse{
		Total:         len(infos),
		Conversations: infos,
	})
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.redis == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "redis not configured",
		}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// checkUpstream reports whether a credential is configured. It never dials.
func (h *Handler) checkUpstream(context.Context) ComponentStatus {
	if !h.hasCredential {
		return ComponentStatus{
			Status: StatusDegraded,
			Error:  "api key not configured",
		}
	}
	return ComponentStatus{Status: StatusHealthy}
}

func computeOverallStatus(components map[string]ComponentStatus) Status {
	if status, ok := components["redis"]; ok && status.Status == StatusUnhealthy {
		return StatusUnhealthy
	}

	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
