// Package syncer pushes ingested channels and posts into the core API.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluffyriot/channelgrab/internal/ingest"
)

type Client struct {
	httpClient http.Client
	baseURL    string
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// PostRecord is the wire shape of one post in the bulk endpoint.
type PostRecord struct {
	TelegramChannelID int64     `json:"telegram_channel_id"`
	TelegramMessageID int64     `json:"telegram_message_id"`
	Text              string    `json:"text"`
	MediaType         string    `json:"media_type,omitempty"`
	MediaFileID       string    `json:"media_file_id,omitempty"`
	Views             int       `json:"views,omitempty"`
	PostedAt          time.Time `json:"posted_at"`
	URL               string    `json:"url"`
}

func RecordFromPost(channelID int64, p *ingest.Post) PostRecord {
	return PostRecord{
		TelegramChannelID: channelID,
		TelegramMessageID: p.ID,
		Text:              p.Text,
		MediaType:         string(p.MediaType),
		MediaFileID:       p.MediaFileID(),
		Views:             p.Views,
		PostedAt:          p.PostedAt,
		URL:               p.SourceURL,
	}
}

type ChannelRecord struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	Title      string `json:"title"`
}

// UpsertChannel registers or updates a channel in the core API.
func (c *Client) UpsertChannel(ctx context.Context, info *ingest.ChannelInfo) error {
	body := ChannelRecord{
		TelegramID: info.TelegramID,
		Username:   info.Username,
		Title:      info.Title,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/channels/", body, nil)
}

// BulkInsertPosts stores posts and returns the core API's ids for
// them, in request order.
func (c *Client) BulkInsertPosts(ctx context.Context, channelID int64, posts []*ingest.Post, forTraining bool) ([]string, error) {
	records := make([]PostRecord, 0, len(posts))
	for _, p := range posts {
		records = append(records, RecordFromPost(channelID, p))
	}

	body := struct {
		ChannelID   int64        `json:"channel_id"`
		Posts       []PostRecord `json:"posts"`
		ForTraining bool         `json:"for_training"`
	}{ChannelID: channelID, Posts: records, ForTraining: forTraining}

	var resp struct {
		PostIDs []string `json:"post_ids"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/posts/bulk", body, &resp); err != nil {
		return nil, err
	}
	return resp.PostIDs, nil
}

func (c *Client) SetChannelDescription(ctx context.Context, channelID int64, description string) error {
	body := struct {
		Description string `json:"description"`
	}{Description: description}
	path := fmt.Sprintf("/api/v1/channels/%d/description", channelID)
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}

// UploadChannelAvatar sends the channel's avatar as a multipart JPEG.
func (c *Client) UploadChannelAvatar(ctx context.Context, channelID int64, jpegData []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "avatar.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(jpegData); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/channels/%d/avatar", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())

	return c.checkStatus(req)
}

// ListChannels fetches every channel the core API knows about.
func (c *Client) ListChannels(ctx context.Context) ([]ChannelRecord, error) {
	var out []ChannelRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/channels/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("core api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("core api %s %s: unexpected HTTP status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("core api %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) checkStatus(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("core api %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("core api %s %s: unexpected HTTP status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return nil
}
