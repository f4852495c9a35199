package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/reload re-reads the hardware profile from disk.
func (s *Server) reloadProfile(c *gin.Context) {
	if err := s.lm.ReloadProfile(c.Request.Context()); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, mixer.ErrConfiguration) {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, types.NewErrorResponse("SYSTEM_RELOAD", "Failed to reload profile", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Profile applied",
	})
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// Request context ends with the response
	go s.lm.Shutdown(context.Background())
}
