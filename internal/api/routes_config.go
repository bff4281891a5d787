package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cubeforge-project/cubeforge/internal/config"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets hidden.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.GetAPI()
	if apiCfg.Token != "" {
		apiCfg.Token = redacted
	}
	mqttCfg := s.cfg.GetMQTT()
	if mqttCfg.Password != "" {
		mqttCfg.Password = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"server":    s.cfg.GetServer(),
		"broadcast": s.cfg.GetBroadcast(),
		"paths":     s.cfg.GetPaths(),
		"api":       apiCfg,
		"mqtt":      mqttCfg,
		"logging":   s.cfg.GetLogging(),
	})
}

type serverFieldRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleSetServerField changes one server setting, validates and saves
// the configuration.
func (s *Server) handleSetServerField(c *gin.Context) {
	var req serverFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetServer()
	if err := s.cfg.UpdateServerField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetServer(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Err().Error(), "errors": result.Errors})
		return
	}
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.logger.Info().Str("key", req.Key).Interface("value", req.Value).Msg("API: server setting updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"server": s.cfg.GetServer(),
	})
}

// handleReload re-reads the configuration and reloads plugins.
func (s *Server) handleReload(c *gin.Context) {
	if err := s.game.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
