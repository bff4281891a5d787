package api

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
)

// outputSender collects command output for a single API request.
type outputSender struct {
	mu    sync.Mutex
	lines []string
}

func (o *outputSender) Name() string       { return "@api" }
func (o *outputSender) HasRank(_ int) bool { return true }

func (o *outputSender) SendMessage(msg string) {
	o.mu.Lock()
	o.lines = append(o.lines, protocol.StripColorCodes(msg))
	o.mu.Unlock()
}

func (o *outputSender) output() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.lines...)
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

// handleCommand runs a console command and returns its output.
func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender := &outputSender{}
	result := s.game.RunCommand(sender, strings.TrimPrefix(strings.TrimSpace(req.Command), "/"))
	s.logger.Info().Str("command", req.Command).Stringer("result", result).Msg("API: command executed")

	c.JSON(http.StatusOK, gin.H{
		"result": result.String(),
		"output": sender.output(),
	})
}

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

// handleBroadcast sends a chat message to every player.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.game.Broadcast(protocol.ConvertColorCodes(req.Message))
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// handleSave writes every level to disk.
func (s *Server) handleSave(c *gin.Context) {
	force := c.Query("force") == "true"
	n := s.game.SaveLevels(force)
	c.JSON(http.StatusOK, gin.H{"saved": n})
}

type kickRequest struct {
	Reason string `json:"reason"`
}

// handleKick disconnects a player.
func (s *Server) handleKick(c *gin.Context) {
	var req kickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "Kicked by an operator"
	}

	p, ok := s.game.Player(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	p.Disconnect(req.Reason)
	s.logger.Info().Str("player", p.Name()).Str("reason", req.Reason).Msg("API: player kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "player": p.Name()})
}

type banRequest struct {
	Name   string `json:"name" binding:"required"`
	Reason string `json:"reason"`
}

// handleAddBan bans a name and disconnects the player when online.
func (s *Server) handleAddBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "No reason given"
	}

	added, err := s.game.BanPlayer(req.Name, req.Reason, "@api")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !added {
		c.JSON(http.StatusConflict, gin.H{"error": "already banned", "name": req.Name})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "banned", "name": req.Name})
}

// handleRemoveBan lifts a ban.
func (s *Server) handleRemoveBan(c *gin.Context) {
	name := c.Param("name")
	removed, err := s.game.PardonPlayer(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not banned", "name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pardoned", "name": name})
}
