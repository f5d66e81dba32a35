package webscrape

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/media"
)

func postPage(text, extra string) string {
	return fmt.Sprintf(`<html><body>
<div class="tgme_widget_message">
  <div class="tgme_widget_message_text">%s</div>
  %s
  <span class="tgme_widget_message_meta">
    <time class="datetime" datetime="2025-03-01T12:00:00+00:00">12:00</time>
  </span>
  <span class="tgme_widget_message_views">1.2K</span>
</div>
</body></html>`, text, extra)
}

const photoWrap = `<a class="tgme_widget_message_photo_wrap" style="width:800px;background-image:url('https://cdn.example/photo1.jpg')"></a>`

const videoWrap = `<div class="tgme_widget_message_video_wrap">
  <i class="tgme_widget_message_video_thumb" style="background-image:url('https://cdn.example/thumb.jpg')"></i>
  <video src="https://cdn.example/video.mp4"></video>
</div>`

func feedPage(channel string, ids []int64) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<a href="https://t.me/%s/%d">post</a>`, channel, id)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// testChannel serves t.me-shaped pages for one channel.
type testChannel struct {
	name    string
	posts   map[int64]string
	feedIDs []int64
	page    string
}

func newTestServer(t *testing.T, ch *testChannel) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		if path == "s/"+ch.name {
			fmt.Fprint(w, feedPage(ch.name, ch.feedIDs))
			return
		}
		if path == ch.name {
			fmt.Fprint(w, ch.page)
			return
		}

		parts := strings.SplitN(path, "/", 2)
		if len(parts) == 2 && parts[0] == ch.name {
			id, err := strconv.ParseInt(parts[1], 10, 64)
			if err == nil {
				if page, ok := ch.posts[id]; ok {
					fmt.Fprint(w, page)
					return
				}
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestScraper(srv *httptest.Server, concurrent, missThreshold int) *Scraper {
	dl := media.NewDownloader(5 * time.Second)
	comp := media.NewCompressor(800, 50)
	return New(Config{
		BaseURL:       srv.URL,
		Timeout:       5 * time.Second,
		Concurrent:    concurrent,
		MissThreshold: missThreshold,
	}, dl, comp)
}

func TestGetPostParsesFields(t *testing.T) {
	ch := &testChannel{
		name: "newsfeed",
		posts: map[int64]string{
			42: postPage("Hello <b>World</b><br/>second line", photoWrap),
		},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	post, err := s.GetPost(context.Background(), "@NewsFeed", 42)
	require.NoError(t, err)
	require.NotNil(t, post)

	assert.Equal(t, int64(42), post.ID)
	assert.Equal(t, "newsfeed", post.Channel)
	assert.Equal(t, "Hello <b>World</b>\nsecond line", post.Text)
	assert.Equal(t, ingest.MediaPhoto, post.MediaType)
	assert.Equal(t, []string{"https://cdn.example/photo1.jpg"}, post.MediaRefs)
	assert.Equal(t, 1200, post.Views)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), post.PostedAt)
	assert.True(t, strings.HasSuffix(post.SourceURL, "/newsfeed/42"))
}

func TestGetPostVideo(t *testing.T) {
	ch := &testChannel{
		name:  "clips",
		posts: map[int64]string{7: postPage("watch this", videoWrap)},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	post, err := s.GetPost(context.Background(), "clips", 7)
	require.NoError(t, err)
	require.NotNil(t, post)

	assert.Equal(t, ingest.MediaVideo, post.MediaType)
	assert.Equal(t, []string{"https://cdn.example/video.mp4"}, post.MediaRefs)
}

func TestGetPostAbsent(t *testing.T) {
	ch := &testChannel{name: "quiet", posts: map[int64]string{}}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	post, err := s.GetPost(context.Background(), "quiet", 99)
	require.NoError(t, err)
	assert.Nil(t, post)
}

func TestGetPostNoWidget(t *testing.T) {
	ch := &testChannel{
		name:  "deleted",
		posts: map[int64]string{5: `<html><body><div class="tgme_page">nothing here</div></body></html>`},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	post, err := s.GetPost(context.Background(), "deleted", 5)
	require.NoError(t, err)
	assert.Nil(t, post)
}

func TestGetPostEmptyChannel(t *testing.T) {
	ch := &testChannel{name: "x"}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	_, err := s.GetPost(context.Background(), "  @ ", 1)
	assert.ErrorIs(t, err, ingest.ErrBadChannelName)
}

func TestGetLatestPostIDs(t *testing.T) {
	ch := &testChannel{
		name:    "feedtest",
		feedIDs: []int64{3, 9, 5, 9},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	ids, err := s.GetLatestPostIDs(context.Background(), "feedtest", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 5, 3}, ids)

	ids, err = s.GetLatestPostIDs(context.Background(), "feedtest", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 5}, ids)
}

func TestGetLatestPostsFeedStrategy(t *testing.T) {
	ch := &testChannel{
		name:    "smallchan",
		feedIDs: []int64{1, 2, 3, 4},
		posts: map[int64]string{
			1: postPage("one", ""),
			2: postPage("two", ""),
			4: postPage("four", ""),
			// id 3 deleted
		},
	}
	s := newTestScraper(newTestServer(t, ch), 3, 10)

	posts, err := s.GetLatestPosts(context.Background(), "smallchan", 10)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	assert.Equal(t, int64(4), posts[0].ID)
	assert.Equal(t, int64(2), posts[1].ID)
	assert.Equal(t, int64(1), posts[2].ID)
}

func TestGetLatestPostsSyntheticFallback(t *testing.T) {
	// Feed page yields nothing; the scraper probes ids 1..limit.
	ch := &testChannel{
		name:    "nofeed",
		feedIDs: nil,
		posts: map[int64]string{
			1: postPage("first", ""),
			3: postPage("third", ""),
		},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	posts, err := s.GetLatestPosts(context.Background(), "nofeed", 5)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, int64(3), posts[0].ID)
	assert.Equal(t, int64(1), posts[1].ID)
}

func TestGetLatestPostsScanStrategy(t *testing.T) {
	// limit above the feed page size switches to the id scan. Posts
	// exist for 30..26; the miss run below them stops the walk.
	posts := make(map[int64]string)
	for id := int64(26); id <= 30; id++ {
		posts[id] = postPage(fmt.Sprintf("post %d", id), "")
	}
	ch := &testChannel{
		name:    "bigchan",
		feedIDs: []int64{30},
		posts:   posts,
	}
	s := newTestScraper(newTestServer(t, ch), 5, 10)

	got, err := s.GetLatestPosts(context.Background(), "bigchan", 25)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, int64(30), got[0].ID)
	assert.Equal(t, int64(26), got[4].ID)
}

func TestGetLatestPostsScanMissResetsOnHit(t *testing.T) {
	// A hole bigger than one batch but with posts after it: the hit
	// resets the consecutive-miss counter, so the scan continues.
	posts := map[int64]string{
		20: postPage("top", ""),
		12: postPage("after hole", ""),
	}
	ch := &testChannel{
		name:    "holechan",
		feedIDs: []int64{20},
		posts:   posts,
	}
	s := newTestScraper(newTestServer(t, ch), 4, 12)

	got, err := s.GetLatestPosts(context.Background(), "holechan", 25)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].ID)
	assert.Equal(t, int64(12), got[1].ID)
}

func TestSearchPosts(t *testing.T) {
	ch := &testChannel{
		name:    "searchable",
		feedIDs: []int64{1, 2, 3, 4},
		posts: map[int64]string{
			1: postPage("golang tips", ""),
			2: postPage("cooking recipes", ""),
			3: postPage("More GOLANG tricks", ""),
			4: postPage("<b>GoLang</b> weekly", ""),
		},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	posts, err := s.SearchPosts(context.Background(), "searchable", "golang", 10, 20)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	// Newest first.
	assert.Equal(t, int64(4), posts[0].ID)
	assert.Equal(t, int64(3), posts[1].ID)
	assert.Equal(t, int64(1), posts[2].ID)
}

func TestSearchPostsLimitShortCircuits(t *testing.T) {
	ch := &testChannel{
		name:    "searchable",
		feedIDs: []int64{1, 2, 3},
		posts: map[int64]string{
			1: postPage("match a", ""),
			2: postPage("match b", ""),
			3: postPage("match c", ""),
		},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	posts, err := s.SearchPosts(context.Background(), "searchable", "match", 2, 20)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestSearchPostsEmptyQuery(t *testing.T) {
	ch := &testChannel{name: "x"}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	posts, err := s.SearchPosts(context.Background(), "x", "   ", 5, 20)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestGetChannelInfo(t *testing.T) {
	ch := &testChannel{
		name: "infochan",
		page: `<html><body>
<div class="tgme_channel_info_header_title">Info Channel</div>
<div class="tgme_channel_info_description">Daily facts</div>
<img class="tgme_channel_info_header_image" src="https://cdn.example/avatar.jpg">
</body></html>`,
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	info, err := s.GetChannelInfo(context.Background(), "@InfoChan")
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, "infochan", info.Username)
	assert.Equal(t, "Info Channel", info.Title)
	assert.Equal(t, "Daily facts", info.Description)
	assert.Equal(t, "https://cdn.example/avatar.jpg", info.AvatarURL)
	assert.Equal(t, ingest.PseudoChannelID("infochan"), info.TelegramID)
	assert.Less(t, info.TelegramID, int64(-1_000_000_000_000))
}

func TestGetChannelInfoTitleFallback(t *testing.T) {
	ch := &testChannel{name: "bare", page: "<html><body></body></html>"}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	info, err := s.GetChannelInfo(context.Background(), "bare")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "bare", info.Title)
}

func TestJoinChannel(t *testing.T) {
	ch := &testChannel{
		name: "joinme",
		page: `<div class="tgme_channel_info_header_title">Join Me</div>`,
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	res, err := s.JoinChannel(context.Background(), "joinme")
	require.NoError(t, err)
	assert.Equal(t, "Join Me", res.Title)
	assert.Equal(t, ingest.PseudoChannelID("joinme"), res.ChannelID)
}

func TestGetPhotoBytes(t *testing.T) {
	// Photo URL points back at the test server, which serves a real
	// JPEG; the result must still decode as one.
	var srv *httptest.Server
	mux := http.NewServeMux()
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	var raw bytes.Buffer
	require.NoError(t, jpeg.Encode(&raw, img, nil))

	mux.HandleFunc("/photos/p.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(raw.Bytes())
	})
	mux.HandleFunc("/picchan/5", func(w http.ResponseWriter, r *http.Request) {
		wrap := fmt.Sprintf(`<a class="tgme_widget_message_photo_wrap" style="background-image:url('%s/photos/p.jpg')"></a>`, srv.URL)
		fmt.Fprint(w, postPage("pic", wrap))
	})

	s := newTestScraper(srv, 2, 10)

	data, err := s.GetPhotoBytes(context.Background(), "picchan", 5)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, decoded.Bounds().Dx())
}

func TestGetPhotoBytesNoPhoto(t *testing.T) {
	ch := &testChannel{
		name:  "textonly",
		posts: map[int64]string{1: postPage("just text", "")},
	}
	s := newTestScraper(newTestServer(t, ch), 2, 10)

	data, err := s.GetPhotoBytes(context.Background(), "textonly", 1)
	require.NoError(t, err)
	assert.Nil(t, data)
}
