package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/burrowhq/burrow/internal/api/dto"
	"github.com/burrowhq/burrow/internal/logging"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

// AdminHandler serves the operator-only endpoints.
type AdminHandler struct {
	logger *logging.Logger
}

func NewAdminHandler(logger *logging.Logger) *AdminHandler {
	return &AdminHandler{logger: logger}
}

// RecentLogs returns the tail of the in-memory log ring, oldest first.
func (h *AdminHandler) RecentLogs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	lines := h.logger.Recent(limit)
	c.JSON(http.StatusOK, dto.RecentLogsResponse{
		Lines: lines,
		Count: len(lines),
	})
}
