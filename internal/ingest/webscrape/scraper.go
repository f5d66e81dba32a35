package webscrape

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/media"
)

// widgetUserAgent makes t.me serve the full embed widget markup instead
// of the stripped bot page.
const widgetUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_13_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/77.0.3865.90 Safari/537.36 TelegramBot (like TwitterBot)"

// feedPageSize is how many posts a single t.me/s/<channel> page shows.
// Requests above it switch to the id-scan strategy.
const feedPageSize = 20

const defaultSearchScan = 200

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	Concurrent    int
	MissThreshold int
}

// Scraper reads public channels through t.me embed pages without any
// Telegram credentials. It implements ingest.Source and
// ingest.MediaSource.
type Scraper struct {
	httpClient    http.Client
	baseURL       string
	concurrent    int
	missThreshold int

	downloader *media.Downloader
	compressor *media.Compressor
}

func New(cfg Config, dl *media.Downloader, comp *media.Compressor) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://t.me"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Concurrent <= 0 {
		cfg.Concurrent = 10
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = 50
	}
	return &Scraper{
		httpClient:    http.Client{Timeout: cfg.Timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		concurrent:    cfg.Concurrent,
		missThreshold: cfg.MissThreshold,
		downloader:    dl,
		compressor:    comp,
	}
}

// fetchDoc retrieves a t.me page. A 404 yields (nil, nil): the channel
// or post does not exist.
func (s *Scraper) fetchDoc(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ingest.TransportError{Op: "scrape", Err: err}
	}
	req.Header.Set("User-Agent", widgetUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &ingest.TransportError{Op: "scrape", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ingest.TransportError{Op: "scrape", Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ingest.TransportError{Op: "scrape", Err: err}
	}
	return doc, nil
}

// scrapePost fetches one post's embed page. nil means the post is
// absent (404 or no message widget in the page).
func (s *Scraper) scrapePost(ctx context.Context, channel string, id int64) (*scrapedPost, error) {
	url := fmt.Sprintf("%s/%s/%d?embed=1&mode=tme", s.baseURL, channel, id)
	doc, err := s.fetchDoc(ctx, url)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	p := parseMessage(doc, channel, id, time.Now())
	if p == nil {
		return nil, nil
	}
	p.url = fmt.Sprintf("%s/%s/%d", s.baseURL, channel, id)
	return p, nil
}

func (s *Scraper) GetPost(ctx context.Context, channel string, id int64) (*ingest.Post, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}
	p, err := s.scrapePost(ctx, channel, id)
	if err != nil || p == nil {
		return nil, err
	}
	return p.toPost(), nil
}

// GetLatestPostIDs reads the channel feed page and returns post ids
// newest first, at most limit of them. An unreachable or empty feed is
// an empty list.
func (s *Scraper) GetLatestPostIDs(ctx context.Context, channel string, limit int) ([]int64, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}

	doc, err := s.fetchDoc(ctx, fmt.Sprintf("%s/s/%s", s.baseURL, channel))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	ids := parsePostIDs(doc, channel)
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetLatestPosts fetches up to limit recent posts, newest first. Small
// requests go through the feed page; larger ones walk ids downward
// from the newest known post.
func (s *Scraper) GetLatestPosts(ctx context.Context, channel string, limit int) ([]*ingest.Post, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}
	if limit <= 0 {
		limit = 10
	}

	if limit <= feedPageSize {
		ids, err := s.GetLatestPostIDs(ctx, channel, limit)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			// Feed unavailable; probe the first ids directly.
			for id := int64(limit); id >= 1; id-- {
				ids = append(ids, id)
			}
		}
		return s.fetchMany(ctx, channel, ids, limit)
	}

	newest, err := s.GetLatestPostIDs(ctx, channel, 1)
	if err != nil {
		return nil, err
	}
	if len(newest) == 0 {
		return nil, nil
	}
	return s.scanDown(ctx, channel, newest[0], limit)
}

// fetchMany fetches the given ids concurrently, keeping their order.
// Individual failures are logged and skipped.
func (s *Scraper) fetchMany(ctx context.Context, channel string, ids []int64, limit int) ([]*ingest.Post, error) {
	results := s.fetchBatch(ctx, channel, ids)

	posts := make([]*ingest.Post, 0, len(ids))
	for _, p := range results {
		if p != nil {
			posts = append(posts, p)
		}
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// fetchBatch resolves ids in parallel into an id-aligned slice, nil
// where the post is absent or the fetch failed.
func (s *Scraper) fetchBatch(ctx context.Context, channel string, ids []int64) []*ingest.Post {
	results := make([]*ingest.Post, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrent)
	for i, id := range ids {
		g.Go(func() error {
			p, err := s.scrapePost(gctx, channel, id)
			if err != nil {
				log.Printf("webscrape: %s/%d: %v", channel, id, err)
				return nil
			}
			if p == nil {
				return nil
			}
			results[i] = p.toPost()
			return nil
		})
	}
	g.Wait()

	return results
}

// scanDown walks message ids downward from startID in batches, stopping
// at limit posts, id zero, or a run of consecutive misses long enough
// to conclude the channel history has ended.
func (s *Scraper) scanDown(ctx context.Context, channel string, startID int64, limit int) ([]*ingest.Post, error) {
	var posts []*ingest.Post
	consecutive := 0
	current := startID

	for current > 0 && len(posts) < limit && consecutive < s.missThreshold {
		var ids []int64
		for i := 0; i < s.concurrent && current-int64(i) > 0; i++ {
			ids = append(ids, current-int64(i))
		}

		results := s.fetchBatch(ctx, channel, ids)

		trailing := 0
		for _, p := range results {
			if p != nil {
				posts = append(posts, p)
				trailing = 0
			} else {
				trailing++
			}
		}

		// A fully empty batch extends the previous run of misses;
		// any hit inside the batch restarts the count.
		if trailing == len(results) {
			consecutive += trailing
		} else {
			consecutive = trailing
		}

		current -= int64(len(ids))
	}

	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// SearchPosts scans up to scanLimit recent posts for a visible-text
// substring match, newest first, stopping once limit matches are found.
func (s *Scraper) SearchPosts(ctx context.Context, channel, query string, limit, scanLimit int) ([]*ingest.Post, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if scanLimit <= 0 {
		scanLimit = defaultSearchScan
	}

	candidates, err := s.GetLatestPosts(ctx, channel, scanLimit)
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

// GetChannelInfo scrapes the channel root page. The title falls back
// to the username when the page does not expose one.
func (s *Scraper) GetChannelInfo(ctx context.Context, channel string) (*ingest.ChannelInfo, error) {
	channel = ingest.NormalizeChannel(channel)
	if channel == "" {
		return nil, ingest.ErrBadChannelName
	}

	doc, err := s.fetchDoc(ctx, fmt.Sprintf("%s/%s", s.baseURL, channel))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	info := &ingest.ChannelInfo{
		TelegramID: ingest.PseudoChannelID(channel),
		Username:   channel,
		Title:      strings.TrimSpace(doc.Find("div.tgme_channel_info_header_title").First().Text()),
	}
	if info.Title == "" {
		info.Title = strings.TrimSpace(doc.Find("div.tgme_page_title").First().Text())
	}
	if info.Title == "" {
		info.Title = channel
	}
	info.Description = strings.TrimSpace(doc.Find("div.tgme_channel_info_description").First().Text())
	if info.Description == "" {
		info.Description = strings.TrimSpace(doc.Find("div.tgme_page_description").First().Text())
	}
	if src, ok := doc.Find("img.tgme_channel_info_header_image").First().Attr("src"); ok {
		info.AvatarURL = src
	} else if src, ok := doc.Find("img.tgme_page_photo_image").First().Attr("src"); ok {
		info.AvatarURL = src
	}
	return info, nil
}

// JoinChannel requires no membership in web-scrape mode; it verifies
// the channel page exists and hands back a synthetic channel id.
func (s *Scraper) JoinChannel(ctx context.Context, channel string) (*ingest.JoinResult, error) {
	info, err := s.GetChannelInfo(ctx, channel)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ingest.ErrChannelNotFound
	}
	return &ingest.JoinResult{ChannelID: info.TelegramID, Title: info.Title}, nil
}

// GetPhotoBytes downloads and recompresses the post's first photo.
func (s *Scraper) GetPhotoBytes(ctx context.Context, channel string, messageID int64) ([]byte, error) {
	channel = ingest.NormalizeChannel(channel)
	p, err := s.scrapePost(ctx, channel, messageID)
	if err != nil || p == nil {
		return nil, err
	}
	if len(p.photoURLs) == 0 {
		return nil, nil
	}
	data, err := s.downloader.Fetch(ctx, p.photoURLs[0])
	if err != nil || data == nil {
		return nil, err
	}
	return s.compressor.Compress(data), nil
}

// GetVideoThumbnail returns the recompressed preview frame of the
// post's video. Raw video bytes are never served.
func (s *Scraper) GetVideoThumbnail(ctx context.Context, channel string, messageID int64) ([]byte, error) {
	channel = ingest.NormalizeChannel(channel)
	p, err := s.scrapePost(ctx, channel, messageID)
	if err != nil || p == nil {
		return nil, err
	}
	thumbURL := p.videoThumbURL
	if thumbURL == "" && len(p.photoURLs) > 0 {
		thumbURL = p.photoURLs[0]
	}
	if thumbURL == "" {
		return nil, nil
	}
	data, err := s.downloader.Fetch(ctx, thumbURL)
	if err != nil || data == nil {
		return nil, err
	}
	return s.compressor.Compress(data), nil
}
