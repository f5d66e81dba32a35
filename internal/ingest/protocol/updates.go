package protocol

import (
	"context"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/ingest/album"
)

// LiveHandler turns the update stream into ingest posts. Singles are
// emitted as they arrive; album fragments pass through the debounced
// aggregator so each album surfaces exactly once.
type LiveHandler struct {
	maxAge time.Duration
	albums *album.Aggregator
	emit   func(*ingest.Post)
	now    func() time.Time
}

func NewLiveHandler(maxAge, debounce time.Duration, emit func(*ingest.Post)) *LiveHandler {
	return &LiveHandler{
		maxAge: maxAge,
		albums: album.New(debounce, emit),
		emit:   emit,
		now:    time.Now,
	}
}

// Dispatcher builds the update handler to hand to the client.
func (h *LiveHandler) Dispatcher() telegram.UpdateHandler {
	d := tg.NewUpdateDispatcher()
	d.OnNewChannelMessage(h.onNewChannelMessage)
	return d
}

func (h *LiveHandler) onNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return nil
	}
	ch := e.Channels[peer.ChannelID]
	if ch == nil || ch.Username == "" {
		return nil
	}

	// Replayed history after a reconnect arrives as updates too; only
	// genuinely fresh posts go downstream.
	posted := time.Unix(int64(msg.Date), 0)
	if h.now().Sub(posted) > h.maxAge {
		return nil
	}

	post := buildPost(ingest.NormalizeChannel(ch.Username), msg)
	if post == nil {
		return nil
	}

	if gid, grouped := msg.GetGroupedID(); grouped {
		h.albums.Add(gid, post)
		return nil
	}
	h.emit(post)
	return nil
}

// Close drains any albums still buffered.
func (h *LiveHandler) Close() {
	h.albums.FlushAll()
}
