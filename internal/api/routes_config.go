package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingcache/internal/config"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	snap := s.cfg.Snapshot()
	redact(&snap)

	c.JSON(http.StatusOK, gin.H{
		"main":             snap.Main,
		"maintenance":      snap.Maintenance,
		"listener":         snap.Listener,
		"shutdown":         snap.Shutdown,
		"application_data": snap.ApplicationData,
	})
}

// handleValidate validates the configuration file on disk without
// installing it.
func (s *Server) handleValidate(c *gin.Context) {
	if s.cfg.Path() == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "configuration has no backing file"})
		return
	}

	fresh, err := config.ReadFile(s.cfg.Path())
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "error": err.Error()})
		return
	}
	snap := fresh.Snapshot()
	result := config.ValidateSnapshot(&snap)
	c.JSON(http.StatusOK, gin.H{
		"valid":    result.IsValid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

func redact(snap *config.Snapshot) {
	if snap.ApplicationData.Security.APIToken != "" {
		snap.ApplicationData.Security.APIToken = redacted
	}
	if snap.ApplicationData.Players.RedisPassword != "" {
		snap.ApplicationData.Players.RedisPassword = redacted
	}
}
