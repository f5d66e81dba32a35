package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// mediaParams reads the channel and message id every /media route
// takes. Reports false after writing the error response.
func mediaParams(c *gin.Context) (string, int64, bool) {
	channel := c.Query("channel_username")
	rawID := c.Query("message_id")
	if channel == "" || rawID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "channel_username and message_id required",
		})
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "message_id must be a positive integer",
		})
		return "", 0, false
	}
	return channel, id, true
}

func (h *Handler) PhotoHandler(c *gin.Context) {
	channel, id, ok := mediaParams(c)
	if !ok {
		return
	}

	data, err := h.Service.Photo(c.Request.Context(), channel, id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No photo found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *Handler) VideoHandler(c *gin.Context) {
	channel, id, ok := mediaParams(c)
	if !ok {
		return
	}

	data, err := h.Service.VideoThumbnail(c.Request.Context(), channel, id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No video found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *Handler) TextHandler(c *gin.Context) {
	channel, id, ok := mediaParams(c)
	if !ok {
		return
	}

	post, err := h.Service.Post(c.Request.Context(), channel, id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Post not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"text":   post.Text,
	})
}

func (h *Handler) FullContentHandler(c *gin.Context) {
	channel, id, ok := mediaParams(c)
	if !ok {
		return
	}

	content, err := h.Service.FullContent(c.Request.Context(), channel, id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	if content == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Post not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"text":         content.Text,
		"media_type":   content.MediaType,
		"media_base64": content.MediaBase64,
	})
}
