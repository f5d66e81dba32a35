// Package notify announces freshly stored posts over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel the delivery bot subscribes to.
const Channel = "channels:new_posts"

// Event is one new-posts announcement. PostIDs are the core API ids
// returned by the bulk insert.
type Event struct {
	ChannelID       int64    `json:"channel_id"`
	ChannelUsername string   `json:"channel_username"`
	PostIDs         []string `json:"post_ids"`
}

type Publisher struct {
	rdb *redis.Client
}

func New(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opts)}, nil
}

// NewPosts publishes the event. It is sent twice: the consumer can
// miss a message while resubscribing and dedupes on post ids.
func (p *Publisher) NewPosts(ctx context.Context, ev Event) error {
	if len(ev.PostIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel, payload).Err()
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}
