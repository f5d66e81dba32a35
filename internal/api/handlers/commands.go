package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluffyriot/channelgrab/internal/ingest"
)

// searchTextLimit bounds the text snippet in search results; the full
// HTML is available via /media/text.
const searchTextLimit = 500

type channelRequest struct {
	ChannelUsername string `json:"channel_username"`
}

type scrapeRequest struct {
	ChannelUsername string `json:"channel_username"`
	Limit           int    `json:"limit"`
	ForTraining     bool   `json:"for_training"`
}

func (h *Handler) ScrapeHandler(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelUsername == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": ingest.FailureMessage(ingest.ErrBadChannelName),
		})
		return
	}

	result, err := h.Service.Scrape(c.Request.Context(), req.ChannelUsername, req.Limit, req.ForTraining)
	if err != nil {
		respondFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"channel":  result.Channel,
		"found":    result.Found,
		"post_ids": result.PostIDs,
	})
}

func (h *Handler) JoinHandler(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelUsername == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": ingest.FailureMessage(ingest.ErrBadChannelName),
		})
		return
	}

	result, err := h.Service.Join(c.Request.Context(), req.ChannelUsername)
	if err != nil {
		respondFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"channel_id": result.ChannelID,
		"title":      result.Title,
	})
}

func (h *Handler) RefreshChannelMetaHandler(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelUsername == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": ingest.FailureMessage(ingest.ErrBadChannelName),
		})
		return
	}

	if err := h.Service.RefreshChannelMeta(c.Request.Context(), req.ChannelUsername); err != nil {
		respondFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) SearchHandler(c *gin.Context) {
	channel := c.Query("channel_username")
	query := c.Query("query")
	if channel == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "channel_username and query required",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "limit must be 1..100",
		})
		return
	}
	scanLimit, _ := strconv.Atoi(c.DefaultQuery("scan_limit", "0"))

	posts, err := h.Service.Search(c.Request.Context(), channel, query, limit, scanLimit)
	if err != nil {
		respondFailure(c, err)
		return
	}

	views := make([]searchPostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, searchPostView{
			MessageID: p.ID,
			Text:      truncateText(p.Text, searchTextLimit),
			Date:      p.PostedAt,
			HasPhoto:  p.HasMedia(),
			MediaType: p.MediaType,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"channel_username": channel,
		"query":            query,
		"count":            len(views),
		"posts":            views,
	})
}

// searchPostView is the trimmed wire shape for search hits: a snippet
// instead of the full post, no media refs.
type searchPostView struct {
	MessageID int64            `json:"message_id"`
	Text      string           `json:"text"`
	Date      time.Time        `json:"date"`
	HasPhoto  bool             `json:"has_photo"`
	MediaType ingest.MediaType `json:"media_type"`
}

func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
