package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/efeuentertainment/vigiclient/internal/interfaces"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// GET /api/v1/session
func (s *Server) getSession(c *gin.Context) {
	snap := s.lm.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"initialized":    snap.Initialized,
		"state":          snap.State,
		"owner":          snap.Owner,
		"session_id":     snap.SessionID,
		"running":        snap.Running,
		"latency_alarm":  snap.LatencyAlarm,
		"latency_ms":     snap.LatencyMs,
		"camera":         snap.Camera,
		"dropped_events": snap.Dropped,
		"updated_at":     snap.UpdatedAt,
	})
}

// GET /api/v1/commands
func (s *Server) getCommands(c *gin.Context) {
	snap := s.lm.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"commands16": snap.Commands16,
		"commands8":  snap.Commands8,
		"commands1":  snap.Commands1,
	})
}

// GET /api/v1/outputs
func (s *Server) getOutputs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"outputs": s.lm.Snapshot().Outputs,
	})
}

// GET /api/v1/events?limit=50
func (s *Server) listEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("EVENTS_400", "Invalid limit", raw))
			return
		}
		limit = n
	}

	events, err := s.lm.RecentEvents(c.Request.Context(), limit)
	if errors.Is(err, interfaces.ErrJournalDisabled) {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("EVENTS_503", "Journal unavailable", err.Error()))
		return
	}
	if err != nil {
		s.logger.Error("Failed to list session events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("EVENTS_500", "Failed to list events", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
