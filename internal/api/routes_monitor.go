package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingcache/internal/util"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// handleManagerStatus returns the manager status view.
func (s *Server) handleManagerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Status())
}

// handleHolders lists every installed holder with its occupancy.
func (s *Server) handleHolders(c *gin.Context) {
	holders := s.manager.Holders()
	c.JSON(http.StatusOK, gin.H{
		"holders": holders,
		"total":   len(holders),
	})
}

// handleAudit returns recent admin actions, newest first.
func (s *Server) handleAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log not available"})
		return
	}

	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := s.audit.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read audit log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleUsage returns current host and process load.
func (s *Server) handleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, util.GetUsage())
}

// handleHealth returns the latest health report.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "health checks not running"})
		return
	}
	report, ok := s.health.Last()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no health check has run yet"})
		return
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
