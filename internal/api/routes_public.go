package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cubeforge-project/cubeforge/internal/server"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "cubeforge",
		"software": server.Software,
	})
}

// handleStatus returns the server summary.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"server":   s.game.Status(),
		"software": server.Software,
	}
	if s.heartbeat != nil {
		last, ok := s.heartbeat.LastResult()
		resp["heartbeat"] = gin.H{
			"join_url":  s.heartbeat.JoinURL(),
			"last_beat": last,
			"success":   ok,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handlePlayers lists every connection, logged in or not.
func (s *Server) handlePlayers(c *gin.Context) {
	players := s.game.Players()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handleLevels lists the loaded levels.
func (s *Server) handleLevels(c *gin.Context) {
	levels := s.game.Levels()
	c.JSON(http.StatusOK, gin.H{
		"levels": levels,
		"total":  len(levels),
	})
}

// handleBans returns the ban list.
func (s *Server) handleBans(c *gin.Context) {
	bans, err := s.game.Bans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bans":  bans,
		"total": len(bans),
	})
}
