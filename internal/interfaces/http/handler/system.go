package handler

import (
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves liveness
type SystemHandler struct {
	BaseHandler
	started time.Time
}

// NewSystemHandler creates a system handler
func NewSystemHandler() *SystemHandler {
	return &SystemHandler{started: time.Now()}
}

// RegisterRoutes mounts /health
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}

// Health godoc
// @Summary      Liveness probe
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	h.Success(c, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
