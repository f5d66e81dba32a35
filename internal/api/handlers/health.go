package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "channelgrab",
		"mode":    string(h.Config.Mode()),
	})
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   string(h.Config.Mode()),
		"worker": h.Worker.IsActive(),
	})
}
