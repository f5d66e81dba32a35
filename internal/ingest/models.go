package ingest

import (
	"hash/fnv"
	"strings"
	"time"
)

type MediaType string

const (
	MediaNone     MediaType = ""
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaVoice    MediaType = "voice"
	MediaDocument MediaType = "document"
	MediaOther    MediaType = "other"
)

// Post is the unit produced by either source backend. Text is HTML.
// MediaRefs is non-empty exactly when MediaType is set; the first ref is
// the cover. A post with no text and no media is never constructed.
type Post struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	MediaType MediaType `json:"media_type,omitempty"`
	MediaRefs []string  `json:"media_refs,omitempty"`
	Views     int       `json:"views,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
	SourceURL string    `json:"url"`
}

func (p *Post) HasMedia() bool {
	return p.MediaType != MediaNone && len(p.MediaRefs) > 0
}

// MediaFileID renders MediaRefs the way the delivery layer expects:
// comma-joined message ids for albums, a single ref otherwise.
func (p *Post) MediaFileID() string {
	return strings.Join(p.MediaRefs, ",")
}

type ChannelInfo struct {
	TelegramID  int64  `json:"telegram_id"`
	Username    string `json:"username"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type JoinResult struct {
	ChannelID int64
	Title     string
}

// NormalizeChannel strips the @ sigil and lowercases a channel handle.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "@"))
}

// PseudoChannelID derives a stable negative channel id from a username
// for deployments where no real Telegram id is available. The
// -1_000_000_000_000 offset mimics Telegram's channel id space so the
// backend treats both backends' ids uniformly.
func PseudoChannelID(channel string) int64 {
	h := fnv.New64a()
	h.Write([]byte(NormalizeChannel(channel)))
	return -1_000_000_000_000 - int64(h.Sum64()%1_000_000_000_000)
}
