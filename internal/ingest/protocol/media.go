package protocol

import (
	"bytes"
	"context"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/fluffyriot/channelgrab/internal/ingest"
)

// GetPhotoBytes downloads the post's photo and recompresses it for
// delivery.
func (a *Adapter) GetPhotoBytes(ctx context.Context, channel string, messageID int64) ([]byte, error) {
	msg, _, err := a.mediaMessage(ctx, channel, messageID)
	if err != nil || msg == nil {
		return nil, err
	}

	mediaPhoto, ok := msg.Media.(*tg.MessageMediaPhoto)
	if !ok {
		return nil, nil
	}
	photo, ok := mediaPhoto.Photo.(*tg.Photo)
	if !ok {
		return nil, nil
	}

	data, err := a.download(ctx, &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     largestSize(photo.Sizes),
	})
	if err != nil {
		return nil, err
	}
	return a.compressor.Compress(data), nil
}

// GetVideoThumbnail downloads the stored preview frame of a video
// message. Raw video bytes are never served.
func (a *Adapter) GetVideoThumbnail(ctx context.Context, channel string, messageID int64) ([]byte, error) {
	msg, _, err := a.mediaMessage(ctx, channel, messageID)
	if err != nil || msg == nil {
		return nil, err
	}

	mediaDoc, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, nil
	}
	doc, ok := mediaDoc.Document.(*tg.Document)
	if !ok {
		return nil, nil
	}
	thumb := largestSize(doc.Thumbs)
	if thumb == "" {
		return nil, nil
	}

	data, err := a.download(ctx, &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
		ThumbSize:     thumb,
	})
	if err != nil {
		return nil, err
	}
	return a.compressor.Compress(data), nil
}

// GetChannelAvatar downloads the channel's current profile photo.
func (a *Adapter) GetChannelAvatar(ctx context.Context, channel string) ([]byte, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	photo, ok := ch.Photo.(*tg.ChatPhoto)
	if !ok {
		return nil, nil
	}

	data, err := a.download(ctx, &tg.InputPeerPhotoFileLocation{
		Peer:    &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		PhotoID: photo.PhotoID,
		Big:     true,
	})
	if err != nil {
		return nil, err
	}
	return a.compressor.Compress(data), nil
}

func (a *Adapter) mediaMessage(ctx context.Context, channel string, messageID int64) (*tg.Message, *tg.Channel, error) {
	ch, err := a.resolveChannel(ctx, channel)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := a.getMessages(ctx, ch, []int64{messageID})
	if err != nil {
		return nil, nil, err
	}
	if len(msgs) == 0 {
		return nil, nil, nil
	}
	return msgs[0], ch, nil
}

func (a *Adapter) download(ctx context.Context, loc tg.InputFileLocationClass) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(a.client.API(), loc).Stream(ctx, &buf); err != nil {
		return nil, &ingest.TransportError{Op: "mtproto download", Err: err}
	}
	return buf.Bytes(), nil
}

// largestSize picks the biggest stored thumbnail variant.
func largestSize(sizes []tg.PhotoSizeClass) string {
	best := ""
	bestArea := -1
	for _, s := range sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if v.W*v.H > bestArea {
				bestArea = v.W * v.H
				best = v.Type
			}
		case *tg.PhotoSizeProgressive:
			if v.W*v.H > bestArea {
				bestArea = v.W * v.H
				best = v.Type
			}
		}
	}
	return best
}
