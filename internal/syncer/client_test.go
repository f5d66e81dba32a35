package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffyriot/channelgrab/internal/ingest"
)

func TestUpsertChannel(t *testing.T) {
	var got ChannelRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/channels/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	err := c.UpsertChannel(context.Background(), &ingest.ChannelInfo{
		TelegramID: -1000000000042,
		Username:   "newschan",
		Title:      "News Channel",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(-1000000000042), got.TelegramID)
	assert.Equal(t, "newschan", got.Username)
	assert.Equal(t, "News Channel", got.Title)
}

func TestBulkInsertPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/posts/bulk", r.URL.Path)

		var req struct {
			ChannelID   int64        `json:"channel_id"`
			Posts       []PostRecord `json:"posts"`
			ForTraining bool         `json:"for_training"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(-42), req.ChannelID)
		assert.True(t, req.ForTraining)
		require.Len(t, req.Posts, 2)
		assert.Equal(t, int64(10), req.Posts[0].TelegramMessageID)
		assert.Equal(t, "10,11", req.Posts[0].MediaFileID)

		fmt.Fprint(w, `{"post_ids":["aaa","bbb"]}`)
	}))
	defer srv.Close()

	posts := []*ingest.Post{
		{ID: 10, Channel: "c", Text: "album", MediaType: ingest.MediaPhoto, MediaRefs: []string{"10", "11"}},
		{ID: 12, Channel: "c", Text: "plain"},
	}

	c := New(srv.URL, 5*time.Second)
	ids, err := c.BulkInsertPosts(context.Background(), -42, posts, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbb"}, ids)
}

func TestSetChannelDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/channels/-42/description", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"description":"all the news"}`, string(body))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	require.NoError(t, c.SetChannelDescription(context.Background(), -42, "all the news"))
}

func TestUploadChannelAvatar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/channels/-42/avatar", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "avatar.jpg", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, data)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	require.NoError(t, c.UploadChannelAvatar(context.Background(), -42, []byte{0xFF, 0xD8, 0xFF}))
}

func TestListChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `[{"telegram_id":-1,"username":"a","title":"A"},{"telegram_id":-2,"username":"b","title":"B"}]`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	channels, err := c.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "a", channels[0].Username)
}

func TestErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	err := c.UpsertChannel(context.Background(), &ingest.ChannelInfo{Username: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRecordFromPost(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := RecordFromPost(-7, &ingest.Post{
		ID:        33,
		Channel:   "c",
		Text:      "<b>hi</b>",
		MediaType: ingest.MediaVideo,
		MediaRefs: []string{"33"},
		Views:     100,
		PostedAt:  now,
		SourceURL: "https://t.me/c/33",
	})

	assert.Equal(t, int64(-7), rec.TelegramChannelID)
	assert.Equal(t, int64(33), rec.TelegramMessageID)
	assert.Equal(t, "video", rec.MediaType)
	assert.Equal(t, "33", rec.MediaFileID)
	assert.Equal(t, now, rec.PostedAt)
}
