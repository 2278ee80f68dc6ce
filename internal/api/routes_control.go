package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingcache/internal/db"
	"github.com/energizer-project/pingcache/internal/server"
)

type switchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type whitelistRequest struct {
	Entry string `json:"entry" binding:"required"`
	Note  string `json:"note"`
}

type playersRequest struct {
	Count *int `json:"count" binding:"required"`
}

// handleReload re-reads the configuration and rebuilds all content.
func (s *Server) handleReload(c *gin.Context) {
	if err := s.manager.Reload(c.Request.Context(), actor(c)); err != nil {
		if errors.Is(err, server.ErrInvalidConfig) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("API: reload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	st := s.manager.Status()
	s.logger.Info().Str("actor", actor(c)).Int64("generation", st.Generation).Msg("API: content reloaded")
	c.JSON(http.StatusOK, gin.H{
		"status":     "reloaded",
		"generation": st.Generation,
		"holders":    st.Default.Holders + st.MaintenanceSet.Holders,
		"problems":   st.Problems,
	})
}

func (s *Server) handleGetMaintenance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": s.manager.Maintenance()})
}

// handleSetMaintenance switches maintenance mode to the requested value.
func (s *Server) handleSetMaintenance(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.manager.SetMaintenance(c.Request.Context(), *req.Enabled, actor(c)); err != nil {
		s.maintenanceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (s *Server) handleToggleMaintenance(c *gin.Context) {
	enabled, err := s.manager.ToggleMaintenance(c.Request.Context(), actor(c))
	if err != nil {
		s.maintenanceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) maintenanceError(c *gin.Context, err error) {
	if errors.Is(err, server.ErrNotReady) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error().Err(err).Msg("API: failed to switch maintenance")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) handleGetShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": s.manager.ShutdownScheduled()})
}

// handleSetShutdown switches the shutdown scheduler. While it is on, only
// the shutdown whitelist may connect to the listener.
func (s *Server) handleSetShutdown(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.manager.SetShutdownScheduled(c.Request.Context(), *req.Enabled, actor(c)); err != nil {
		s.logger.Error().Err(err).Msg("API: failed to switch shutdown scheduler")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (s *Server) handleToggleShutdown(c *gin.Context) {
	enabled, err := s.manager.ToggleShutdownScheduled(c.Request.Context(), actor(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("API: failed to switch shutdown scheduler")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) handleListWhitelist(c *gin.Context) {
	entries, err := s.manager.Whitelist()
	if err != nil {
		s.logger.Error().Err(err).Msg("API: failed to list whitelist")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list whitelist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleAddWhitelist adds an IP or CIDR entry to the kick whitelist.
func (s *Server) handleAddWhitelist(c *gin.Context) {
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := s.manager.AddWhitelist(c.Request.Context(), req.Entry, req.Note, actor(c))
	if err != nil {
		s.whitelistError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"entry": req.Entry, "added": added})
}

// handleRemoveWhitelist removes the entry named by the entry query
// parameter. CIDR entries contain a slash, so they are not path segments.
func (s *Server) handleRemoveWhitelist(c *gin.Context) {
	entry := c.Query("entry")
	if entry == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry is required"})
		return
	}

	removed, err := s.manager.RemoveWhitelist(c.Request.Context(), entry, actor(c))
	if err != nil {
		s.whitelistError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found", "entry": entry})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "removed": true})
}

func (s *Server) whitelistError(c *gin.Context, err error) {
	if errors.Is(err, db.ErrInvalidEntry) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error().Err(err).Msg("API: whitelist edit failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// handleSetPlayers sets the static player count.
func (s *Server) handleSetPlayers(c *gin.Context) {
	var req playersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Count < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must not be negative"})
		return
	}

	occ, err := s.manager.SetPlayers(c.Request.Context(), *req.Count, actor(c))
	if err != nil {
		if errors.Is(err, server.ErrNotStatic) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"occupancy": occ})
}
