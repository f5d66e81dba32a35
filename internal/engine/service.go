// Package engine ties an acquisition backend to the core API and the
// notification channel. Handlers and the poll worker only talk to the
// Service.
package engine

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/media"
	"github.com/fluffyriot/channelgrab/internal/notify"
	"github.com/fluffyriot/channelgrab/internal/syncer"
)

// CoreAPI is the slice of the core backend the engine needs.
type CoreAPI interface {
	UpsertChannel(ctx context.Context, info *ingest.ChannelInfo) error
	BulkInsertPosts(ctx context.Context, channelID int64, posts []*ingest.Post, forTraining bool) ([]string, error)
	SetChannelDescription(ctx context.Context, channelID int64, description string) error
	UploadChannelAvatar(ctx context.Context, channelID int64, jpegData []byte) error
	ListChannels(ctx context.Context) ([]syncer.ChannelRecord, error)
}

type Notifier interface {
	NewPosts(ctx context.Context, ev notify.Event) error
}

// avatarSource is implemented by backends that can produce avatar
// bytes directly instead of a URL.
type avatarSource interface {
	GetChannelAvatar(ctx context.Context, channel string) ([]byte, error)
}

type Service struct {
	source     ingest.Source
	mediaSrc   ingest.MediaSource
	core       CoreAPI
	notifier   Notifier
	downloader *media.Downloader
	compressor *media.Compressor

	mu         sync.Mutex
	channelIDs map[string]int64
}

func New(source ingest.Source, mediaSrc ingest.MediaSource, core CoreAPI, notifier Notifier, dl *media.Downloader, comp *media.Compressor) *Service {
	return &Service{
		source:     source,
		mediaSrc:   mediaSrc,
		core:       core,
		notifier:   notifier,
		downloader: dl,
		compressor: comp,
		channelIDs: make(map[string]int64),
	}
}

type ScrapeResult struct {
	Channel string   `json:"channel"`
	Found   int      `json:"found"`
	PostIDs []string `json:"post_ids,omitempty"`
}

// Scrape fetches a channel's recent posts and stores them through the
// core API. It does not notify; bulk history is not "new posts".
func (s *Service) Scrape(ctx context.Context, channel string, limit int, forTraining bool) (*ScrapeResult, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}

	info, err := s.source.GetChannelInfo(ctx, channel)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ingest.ErrChannelNotFound
	}
	if err := s.core.UpsertChannel(ctx, info); err != nil {
		return nil, err
	}
	s.rememberChannel(channel, info.TelegramID)

	posts, err := s.source.GetLatestPosts(ctx, channel, limit)
	if err != nil {
		return nil, err
	}

	result := &ScrapeResult{Channel: channel, Found: len(posts)}
	if len(posts) > 0 {
		ids, err := s.core.BulkInsertPosts(ctx, info.TelegramID, posts, forTraining)
		if err != nil {
			return nil, err
		}
		result.PostIDs = ids
	}
	return result, nil
}

// Join subscribes the acquisition identity to a channel and registers
// it with the core API.
func (s *Service) Join(ctx context.Context, channel string) (*ingest.JoinResult, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}

	res, err := s.source.JoinChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	s.rememberChannel(channel, res.ChannelID)

	if err := s.core.UpsertChannel(ctx, &ingest.ChannelInfo{
		TelegramID: res.ChannelID,
		Username:   channel,
		Title:      res.Title,
	}); err != nil {
		log.Printf("engine: register channel %s: %v", channel, err)
	}
	return res, nil
}

// RefreshChannelMeta re-syncs title, description and avatar.
func (s *Service) RefreshChannelMeta(ctx context.Context, channel string) error {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return ingest.ErrBadChannelName
	}

	info, err := s.source.GetChannelInfo(ctx, channel)
	if err != nil {
		return err
	}
	if info == nil {
		return ingest.ErrChannelNotFound
	}
	if err := s.core.UpsertChannel(ctx, info); err != nil {
		return err
	}
	s.rememberChannel(channel, info.TelegramID)

	if info.Description != "" {
		if err := s.core.SetChannelDescription(ctx, info.TelegramID, info.Description); err != nil {
			log.Printf("engine: sync description for %s: %v", channel, err)
		}
	}

	avatar := s.channelAvatar(ctx, channel, info)
	if len(avatar) > 0 {
		if err := s.core.UploadChannelAvatar(ctx, info.TelegramID, avatar); err != nil {
			log.Printf("engine: sync avatar for %s: %v", channel, err)
		}
	}
	return nil
}

func (s *Service) channelAvatar(ctx context.Context, channel string, info *ingest.ChannelInfo) []byte {
	if av, ok := s.source.(avatarSource); ok {
		data, err := av.GetChannelAvatar(ctx, channel)
		if err != nil {
			log.Printf("engine: fetch avatar for %s: %v", channel, err)
			return nil
		}
		return data
	}
	if info.AvatarURL == "" {
		return nil
	}
	data, err := s.downloader.Fetch(ctx, info.AvatarURL)
	if err != nil || data == nil {
		if err != nil {
			log.Printf("engine: fetch avatar for %s: %v", channel, err)
		}
		return nil
	}
	return s.compressor.Compress(data)
}

// Post fetches one post. (nil, nil) when absent.
func (s *Service) Post(ctx context.Context, channel string, id int64) (*ingest.Post, error) {
	return s.source.GetPost(ctx, channel, id)
}

func (s *Service) Photo(ctx context.Context, channel string, id int64) ([]byte, error) {
	return s.mediaSrc.GetPhotoBytes(ctx, channel, id)
}

func (s *Service) VideoThumbnail(ctx context.Context, channel string, id int64) ([]byte, error) {
	return s.mediaSrc.GetVideoThumbnail(ctx, channel, id)
}

// FullContent is the combined text-plus-media payload of one post.
type FullContent struct {
	Text        string           `json:"text"`
	MediaType   ingest.MediaType `json:"media_type,omitempty"`
	MediaBase64 string           `json:"media_base64,omitempty"`
}

func (s *Service) FullContent(ctx context.Context, channel string, id int64) (*FullContent, error) {
	post, err := s.source.GetPost(ctx, channel, id)
	if err != nil || post == nil {
		return nil, err
	}

	out := &FullContent{Text: post.Text, MediaType: post.MediaType}

	var data []byte
	switch post.MediaType {
	case ingest.MediaPhoto:
		data, err = s.mediaSrc.GetPhotoBytes(ctx, channel, id)
	case ingest.MediaVideo:
		data, err = s.mediaSrc.GetVideoThumbnail(ctx, channel, id)
	}
	if err != nil {
		log.Printf("engine: media for %s/%d: %v", channel, id, err)
	}
	if len(data) > 0 {
		out.MediaBase64 = base64.StdEncoding.EncodeToString(data)
	}
	return out, nil
}

func (s *Service) Search(ctx context.Context, channel, query string, limit, scanLimit int) ([]*ingest.Post, error) {
	return s.source.SearchPosts(ctx, channel, query, limit, scanLimit)
}

// SyncRecent stores a channel's n newest posts and announces any the
// core API accepted. The poll worker's unit of work.
func (s *Service) SyncRecent(ctx context.Context, channel string, n int) (int, error) {
	channel = ingest.NormalizeChannel(channel)

	posts, err := s.source.GetLatestPosts(ctx, channel, n)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	channelID, err := s.channelID(ctx, channel)
	if err != nil {
		return 0, err
	}

	ids, err := s.core.BulkInsertPosts(ctx, channelID, posts, false)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		if err := s.notifier.NewPosts(ctx, notify.Event{
			ChannelID:       channelID,
			ChannelUsername: channel,
			PostIDs:         ids,
		}); err != nil {
			log.Printf("engine: notify for %s: %v", channel, err)
		}
	}
	return len(ids), nil
}

// HandleLivePost is the sink for update-stream posts. Failures are
// logged, never propagated, so the update loop keeps running.
func (s *Service) HandleLivePost(post *ingest.Post) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	channelID, err := s.channelID(ctx, post.Channel)
	if err != nil {
		log.Printf("engine: live post %s/%d: %v", post.Channel, post.ID, err)
		return
	}

	ids, err := s.core.BulkInsertPosts(ctx, channelID, []*ingest.Post{post}, false)
	if err != nil {
		log.Printf("engine: live post %s/%d: %v", post.Channel, post.ID, err)
		return
	}
	if len(ids) == 0 {
		return
	}
	if err := s.notifier.NewPosts(ctx, notify.Event{
		ChannelID:       channelID,
		ChannelUsername: post.Channel,
		PostIDs:         ids,
	}); err != nil {
		log.Printf("engine: notify for %s: %v", post.Channel, err)
	}
}

// KnownChannels lists usernames to poll, preferring the core API's
// registry and falling back to channels seen this process.
func (s *Service) KnownChannels(ctx context.Context) []string {
	records, err := s.core.ListChannels(ctx)
	if err != nil {
		log.Printf("engine: list channels: %v", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]string, 0, len(s.channelIDs))
		for c := range s.channelIDs {
			out = append(out, c)
		}
		return out
	}

	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.Username != "" {
			out = append(out, ingest.NormalizeChannel(r.Username))
		}
	}
	return out
}

func (s *Service) rememberChannel(channel string, id int64) {
	s.mu.Lock()
	s.channelIDs[channel] = id
	s.mu.Unlock()
}

// channelID resolves a channel's id, registering the channel with the
// core API the first time it is seen.
func (s *Service) channelID(ctx context.Context, channel string) (int64, error) {
	s.mu.Lock()
	if id, ok := s.channelIDs[channel]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	info, err := s.source.GetChannelInfo(ctx, channel)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, ingest.ErrChannelNotFound
	}
	if err := s.core.UpsertChannel(ctx, info); err != nil {
		return 0, err
	}
	s.rememberChannel(channel, info.TelegramID)
	return info.TelegramID, nil
}
