package ingest

import "context"

// Source is the retrieval contract both acquisition backends implement.
// Call sites never branch on backend identity.
//
// Reads are idempotent: for the same channel and id, GetPost returns
// content-equal results modulo the channel's own edits and deletions.
// Absent posts/channels are (nil, nil).
type Source interface {
	// GetPost fetches exactly one post by id.
	GetPost(ctx context.Context, channel string, id int64) (*Post, error)

	// GetLatestPostIDs discovers the most recent ids, descending,
	// without fetching full content.
	GetLatestPostIDs(ctx context.Context, channel string, limit int) ([]int64, error)

	// GetLatestPosts returns the most recent posts, descending by id,
	// deduplicated.
	GetLatestPosts(ctx context.Context, channel string, limit int) ([]*Post, error)

	// GetChannelInfo fetches channel metadata.
	GetChannelInfo(ctx context.Context, channel string) (*ChannelInfo, error)

	// SearchPosts materializes up to scanLimit candidates and returns
	// those whose visible text contains query (case-insensitive),
	// newest first, truncated to limit.
	SearchPosts(ctx context.Context, channel, query string, limit, scanLimit int) ([]*Post, error)

	// JoinChannel subscribes the acquisition identity to the channel.
	// The web-scrape backend needs no membership and reports success.
	JoinChannel(ctx context.Context, channel string) (*JoinResult, error)
}

// MediaSource resolves a post's media to delivery-ready JPEG bytes.
// Video resolves to a thumbnail frame only; raw video is never served.
type MediaSource interface {
	GetPhotoBytes(ctx context.Context, channel string, messageID int64) ([]byte, error)
	GetVideoThumbnail(ctx context.Context, channel string, messageID int64) ([]byte, error)
}
