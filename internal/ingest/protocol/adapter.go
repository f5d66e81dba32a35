package protocol

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/ingest/album"
	"github.com/fluffyriot/channelgrab/internal/ingest/format"
	"github.com/fluffyriot/channelgrab/internal/media"
)

// albumWindow is how many ids around a grouped message are fetched to
// collect the rest of its album.
const albumWindow = 9

// historyOverfetch compensates for album fragments and service
// messages collapsing during post assembly.
const historyOverfetch = 3

// Adapter implements ingest.Source and ingest.MediaSource on top of an
// authorized MTProto session.
type Adapter struct {
	client     *Client
	compressor *media.Compressor

	mu       sync.Mutex
	resolved map[string]*tg.Channel
}

func NewAdapter(client *Client, comp *media.Compressor) *Adapter {
	return &Adapter{
		client:     client,
		compressor: comp,
		resolved:   make(map[string]*tg.Channel),
	}
}

// classify maps MTProto errors onto the source contract.
func classify(err error) error {
	if wait, isFlood := telegram.AsFloodWait(err); isFlood {
		return &ingest.RateLimitedError{Wait: wait}
	}
	switch {
	case tgerr.Is(err, "CHANNEL_PRIVATE"):
		return ingest.ErrChannelPrivate
	case tgerr.Is(err, "USERNAME_NOT_OCCUPIED"):
		return ingest.ErrChannelNotFound
	case tgerr.Is(err, "USERNAME_INVALID"):
		return ingest.ErrChannelInvalid
	}
	return &ingest.TransportError{Op: "mtproto", Err: err}
}

func (a *Adapter) resolveChannel(ctx context.Context, channel string) (*tg.Channel, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}

	a.mu.Lock()
	if ch, ok := a.resolved[channel]; ok {
		a.mu.Unlock()
		return ch, nil
	}
	a.mu.Unlock()

	if err := a.client.Ready(ctx); err != nil {
		return nil, &ingest.TransportError{Op: "mtproto", Err: err}
	}

	res, err := a.client.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: channel,
	})
	if err != nil {
		return nil, classify(err)
	}

	for _, chat := range res.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			a.mu.Lock()
			a.resolved[channel] = ch
			a.mu.Unlock()
			return ch, nil
		}
	}
	return nil, ingest.ErrNotChannel
}

func inputChannel(ch *tg.Channel) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

// markedChannelID is the -100-prefixed id convention the rest of the
// pipeline uses for channels.
func markedChannelID(id int64) int64 {
	return -1_000_000_000_000 - id
}

func messagesOf(resp tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := resp.(type) {
	case *tg.MessagesMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesChannelMessages:
		return v.Messages
	default:
		return nil
	}
}

// getMessages fetches specific ids. Absent ids simply do not appear in
// the result.
func (a *Adapter) getMessages(ctx context.Context, ch *tg.Channel, ids []int64) ([]*tg.Message, error) {
	req := &tg.ChannelsGetMessagesRequest{Channel: inputChannel(ch)}
	for _, id := range ids {
		req.ID = append(req.ID, &tg.InputMessageID{ID: int(id)})
	}

	resp, err := a.client.API().ChannelsGetMessages(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	var out []*tg.Message
	for _, m := range messagesOf(resp) {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (a *Adapter) GetPost(ctx context.Context, channel string, id int64) (*ingest.Post, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	msgs, err := a.getMessages(ctx, ch, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]

	gid, grouped := msg.GetGroupedID()
	if !grouped {
		return buildPost(ingest.NormalizeChannel(channel), msg), nil
	}

	// Album member: fetch neighbors and merge the whole group.
	var ids []int64
	for i := id - albumWindow; i <= id+albumWindow; i++ {
		if i > 0 {
			ids = append(ids, i)
		}
	}
	neighbors, err := a.getMessages(ctx, ch, ids)
	if err != nil {
		return nil, err
	}

	var members []*ingest.Post
	for _, m := range neighbors {
		if g, ok := m.GetGroupedID(); ok && g == gid {
			if p := buildPost(ingest.NormalizeChannel(channel), m); p != nil {
				members = append(members, p)
			}
		}
	}
	return album.Merge(members), nil
}

func (a *Adapter) history(ctx context.Context, ch *tg.Channel, limit int) ([]tg.MessageClass, error) {
	resp, err := a.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		Limit: limit,
	})
	if err != nil {
		return nil, classify(err)
	}
	return messagesOf(resp), nil
}

func (a *Adapter) GetLatestPostIDs(ctx context.Context, channel string, limit int) ([]int64, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	msgs, err := a.history(ctx, ch, limit)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, m := range msgs {
		switch v := m.(type) {
		case *tg.Message:
			ids = append(ids, int64(v.ID))
		case *tg.MessageService:
			ids = append(ids, int64(v.ID))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (a *Adapter) GetLatestPosts(ctx context.Context, channel string, limit int) ([]*ingest.Post, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	msgs, err := a.history(ctx, ch, limit*historyOverfetch)
	if err != nil {
		return nil, err
	}
	return buildPosts(ingest.NormalizeChannel(channel), msgs, limit), nil
}

func (a *Adapter) SearchPosts(ctx context.Context, channel, query string, limit, scanLimit int) ([]*ingest.Post, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if scanLimit <= 0 {
		scanLimit = 200
	}

	candidates, err := a.GetLatestPosts(ctx, channel, scanLimit)
	if err != nil {
		return nil, err
	}

	var matches []*ingest.Post
	for _, p := range candidates {
		if len(matches) >= limit {
			break
		}
		if ingest.MatchesQuery(p.Text, query) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (a *Adapter) GetChannelInfo(ctx context.Context, channel string) (*ingest.ChannelInfo, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	info := &ingest.ChannelInfo{
		TelegramID: markedChannelID(ch.ID),
		Username:   ingest.NormalizeChannel(channel),
		Title:      ch.Title,
	}

	full, err := a.client.API().ChannelsGetFullChannel(ctx, inputChannel(ch))
	if err != nil {
		// Title and id are enough to proceed; the description stays
		// empty.
		return info, nil
	}
	if channelFull, ok := full.FullChat.(*tg.ChannelFull); ok {
		info.Description = channelFull.About
	}
	return info, nil
}

func (a *Adapter) JoinChannel(ctx context.Context, channel string) (*ingest.JoinResult, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	_, err = a.client.API().ChannelsJoinChannel(ctx, inputChannel(ch))
	if err != nil && !tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
		return nil, classify(err)
	}
	return &ingest.JoinResult{ChannelID: markedChannelID(ch.ID), Title: ch.Title}, nil
}

// buildPost converts one raw message. nil when the message carries
// neither text nor recognizable media.
func buildPost(channel string, msg *tg.Message) *ingest.Post {
	post := &ingest.Post{
		ID:        int64(msg.ID),
		Channel:   channel,
		Text:      format.MessageHTML(msg.Message, msg.Entities),
		Views:     msg.Views,
		PostedAt:  time.Unix(int64(msg.Date), 0).UTC(),
		SourceURL: fmt.Sprintf("https://t.me/%s/%d", channel, msg.ID),
	}
	if mt := mediaTypeOf(msg.Media); mt != ingest.MediaNone {
		post.MediaType = mt
		post.MediaRefs = []string{strconv.Itoa(msg.ID)}
	}
	if post.Text == "" && !post.HasMedia() {
		return nil
	}
	return post
}

// buildPosts assembles history output: album fragments merge into one
// post each, singles without text are dropped, result is newest first.
func buildPosts(channel string, messages []tg.MessageClass, limit int) []*ingest.Post {
	var posts []*ingest.Post
	groups := make(map[int64][]*ingest.Post)
	var order []int64

	for _, m := range messages {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		p := buildPost(channel, msg)
		if p == nil {
			continue
		}
		if gid, grouped := msg.GetGroupedID(); grouped {
			if _, seen := groups[gid]; !seen {
				order = append(order, gid)
			}
			groups[gid] = append(groups[gid], p)
			continue
		}
		if p.Text == "" {
			continue
		}
		posts = append(posts, p)
	}

	for _, gid := range order {
		if merged := album.MergeStrict(groups[gid]); merged != nil {
			posts = append(posts, merged)
		}
	}

	sort.Slice(posts, func(i, j int) bool { return posts[i].ID > posts[j].ID })
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts
}

// mediaTypeOf classifies message media for the Post model.
func mediaTypeOf(m tg.MessageMediaClass) ingest.MediaType {
	switch v := m.(type) {
	case nil, *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		return ingest.MediaNone
	case *tg.MessageMediaPhoto:
		return ingest.MediaPhoto
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return ingest.MediaOther
		}
		for _, attr := range doc.Attributes {
			switch at := attr.(type) {
			case *tg.DocumentAttributeVideo:
				return ingest.MediaVideo
			case *tg.DocumentAttributeAudio:
				if at.Voice {
					return ingest.MediaVoice
				}
				return ingest.MediaAudio
			}
		}
		return ingest.MediaDocument
	default:
		return ingest.MediaOther
	}
}
