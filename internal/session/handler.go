package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/voice-relay/internal/shared"
	"github.com/labstack/echo/v4"
)

const maxStatsDays = 30

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		logger: logger.With("component", "session_handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/stats", h.GetStats)
	g.GET("/:id", h.GetRecord)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return shared.BadRequest("missing_id", "session id is required")
	}

	rec, err := h.store.GetRecord(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("get session record failed", "id", id, "error", err)
		return shared.InternalError("get_failed", "failed to get session")
	}

	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetStats(c echo.Context) error {
	days := 7
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			return shared.BadRequest("invalid_days", "days must be between 1 and 30")
		}
		days = n
	}

	stats, err := h.store.GetStats(c.Request().Context(), days)
	if err != nil {
		h.logger.Error("get session stats failed", "error", err)
		return shared.InternalError("stats_failed", "failed to get stats")
	}
	if stats == nil {
		stats = []*Stats{}
	}

	return c.JSON(http.StatusOK, stats)
}
