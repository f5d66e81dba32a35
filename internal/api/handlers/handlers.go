package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluffyriot/channelgrab/internal/config"
	"github.com/fluffyriot/channelgrab/internal/engine"
	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/worker"
)

type Handler struct {
	Service *engine.Service
	Worker  *worker.Worker
	Config  *config.AppConfig
}

func NewHandler(svc *engine.Service, w *worker.Worker, cfg *config.AppConfig) *Handler {
	return &Handler{
		Service: svc,
		Worker:  w,
		Config:  cfg,
	}
}

// Register wires every route onto the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.RootHandler)
	r.GET("/health", h.HealthCheckHandler)

	cmd := r.Group("/cmd")
	{
		cmd.POST("/scrape", h.ScrapeHandler)
		cmd.POST("/join", h.JoinHandler)
		cmd.POST("/refresh-channel-meta", h.RefreshChannelMetaHandler)
		cmd.GET("/search", h.SearchHandler)
	}

	media := r.Group("/media")
	{
		media.GET("/photo", h.PhotoHandler)
		media.GET("/video", h.VideoHandler)
		media.GET("/text", h.TextHandler)
		media.GET("/full", h.FullContentHandler)
	}
}

// respondFailure maps a source-contract error onto an HTTP status and
// the user-facing message.
func respondFailure(c *gin.Context, err error) {
	var rl *ingest.RateLimitedError

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ingest.ErrBadChannelName):
		status = http.StatusBadRequest
	case errors.Is(err, ingest.ErrChannelNotFound),
		errors.Is(err, ingest.ErrChannelInvalid),
		errors.Is(err, ingest.ErrNotChannel):
		status = http.StatusNotFound
	case errors.Is(err, ingest.ErrChannelPrivate):
		status = http.StatusForbidden
	case errors.As(err, &rl):
		status = http.StatusTooManyRequests
	}

	c.JSON(status, gin.H{
		"status":  "error",
		"message": ingest.FailureMessage(err),
	})
}
