package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/protocol"
	"github.com/energizer-project/pingcache/internal/server"
	"github.com/energizer-project/pingcache/internal/util"
)

var legacyByName = map[string]protocol.LegacyVersion{
	"13": protocol.Legacy13,
	"14": protocol.Legacy14,
	"16": protocol.Legacy16,
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pingcache",
		"version": util.Version,
	})
}

// handleStatus returns the response a client would receive, in structured
// form. Query: protocol (default newest), host (virtual host:port),
// legacy (13, 14 or 16).
func (s *Server) handleStatus(c *gin.Context) {
	req := motd.Request{
		Protocol:    motd.MaximumProtocol,
		VirtualHost: c.Query("host"),
	}
	if v := c.Query("protocol"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid protocol"})
			return
		}
		req.Protocol = n
	}
	if v := c.Query("legacy"); v != "" {
		legacy, ok := legacyByName[v]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "legacy must be 13, 14 or 16"})
			return
		}
		req.Legacy = legacy
		req.Protocol = motd.NoProtocol
	}

	ping, res, err := s.manager.Compat(req)
	switch {
	case errors.Is(err, server.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case errors.Is(err, motd.ErrUnresolvedVersion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ping":        ping,
		"era":         res.Era.String(),
		"protocol":    res.Protocol,
		"substituted": res.Substituted,
		"domain":      res.Domain,
		"maintenance": s.manager.Maintenance(),
	})
}

// handleInfo returns host information and the installed generation.
func (s *Server) handleInfo(c *gin.Context) {
	st := s.manager.Status()
	c.JSON(http.StatusOK, gin.H{
		"version":     util.Version,
		"system":      util.GetSystemInfo(),
		"uptime_sec":  int64(util.Uptime().Seconds()),
		"generation":  st.Generation,
		"maintenance": st.Maintenance,
	})
}
