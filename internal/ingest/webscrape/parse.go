package webscrape

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fluffyriot/channelgrab/internal/ingest"
)

var (
	bgImageRe = regexp.MustCompile(`background-image:url\('([^']+)'\)`)
	brTagRe   = regexp.MustCompile(`<br\s*/?>`)
)

// scrapedPost is everything extracted from one embed page. Media URL
// details beyond the Post model stay here so the media endpoints can
// resolve them without refetching the model.
type scrapedPost struct {
	id            int64
	channel       string
	textHTML      string
	views         int
	postedAt      time.Time
	photoURLs     []string
	videoURL      string
	videoThumbURL string
	url           string
}

func (p *scrapedPost) toPost() *ingest.Post {
	post := &ingest.Post{
		ID:        p.id,
		Channel:   p.channel,
		Text:      p.textHTML,
		Views:     p.views,
		PostedAt:  p.postedAt,
		SourceURL: p.url,
	}
	switch {
	case len(p.photoURLs) > 0:
		post.MediaType = ingest.MediaPhoto
		post.MediaRefs = p.photoURLs
	case p.videoURL != "":
		post.MediaType = ingest.MediaVideo
		post.MediaRefs = []string{p.videoURL}
	}
	if post.Text == "" && !post.HasMedia() {
		return nil
	}
	return post
}

// parseMessage extracts a post from an embed-mode page. Returns nil
// when the page carries no message widget (deleted or never existed).
func parseMessage(doc *goquery.Document, channel string, id int64, now time.Time) *scrapedPost {
	if doc.Find("div.tgme_widget_message").Length() == 0 {
		return nil
	}

	p := &scrapedPost{id: id, channel: channel}

	if sel := doc.Find("div.tgme_widget_message_text").First(); sel.Length() > 0 {
		if inner, err := sel.Html(); err == nil {
			p.textHTML = strings.TrimSpace(brTagRe.ReplaceAllString(inner, "\n"))
		}
	}

	p.postedAt = parseMessageDate(doc, now)
	p.views = parseCount(doc.Find("span.tgme_widget_message_views").First().Text())

	doc.Find("a.tgme_widget_message_photo_wrap").Each(func(_ int, s *goquery.Selection) {
		if url := styleBackgroundURL(s); url != "" {
			p.photoURLs = append(p.photoURLs, url)
		}
	})
	if len(p.photoURLs) == 0 {
		doc.Find("img.tgme_widget_message_photo").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("src"); ok && src != "" {
				p.photoURLs = append(p.photoURLs, src)
			}
		})
	}

	doc.Find("div.tgme_widget_message_video_wrap").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Find("video[src]").First().Attr("src"); ok && src != "" {
			p.videoURL = src
			return false
		}
		if href, ok := s.Find("a[href]").First().Attr("href"); ok && href != "" {
			p.videoURL = href
			return false
		}
		return true
	})
	if p.videoURL == "" {
		if src, ok := doc.Find("video[src]").First().Attr("src"); ok {
			p.videoURL = src
		}
	}
	if thumb := styleBackgroundURL(doc.Find("i.tgme_widget_message_video_thumb").First()); thumb != "" {
		p.videoThumbURL = thumb
	}

	return p
}

// parseMessageDate prefers the machine-readable datetime attribute,
// then the displayed text, then ingestion time.
func parseMessageDate(doc *goquery.Document, now time.Time) time.Time {
	timeElem := doc.Find("span.tgme_widget_message_meta time.datetime").First()
	if timeElem.Length() == 0 {
		timeElem = doc.Find("a.tgme_widget_message_date time").First()
	}
	if attr, ok := timeElem.Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, attr); err == nil {
			return ts.UTC()
		}
	}
	text := strings.TrimSpace(timeElem.Text())
	if text == "" {
		text = strings.TrimSpace(doc.Find("a.tgme_widget_message_date").First().Text())
	}
	for _, layout := range []string{time.RFC3339, "02.01.2006 15:04", "Jan 2, 2006 at 15:04"} {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC()
		}
	}
	return now.UTC()
}

func styleBackgroundURL(s *goquery.Selection) string {
	style, ok := s.Attr("style")
	if !ok {
		return ""
	}
	match := bgImageRe.FindStringSubmatch(style)
	if len(match) != 2 {
		return ""
	}
	return match[1]
}

// parseCount reads t.me counters like "1,234", "5.6K" or "1.2M".
func parseCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1e3
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1e6
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * mult)
}

// parsePostIDs pulls post ids out of feed-page links pointing back at
// the channel itself, first-seen order preserved.
func parsePostIDs(doc *goquery.Document, channel string) []int64 {
	linkRe := regexp.MustCompile(`(?:/s/)?` + regexp.QuoteMeta(channel) + `/(\d+)`)
	seen := make(map[int64]struct{})
	var ids []int64

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		match := linkRe.FindStringSubmatch(href)
		if match == nil {
			return
		}
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	})

	return ids
}
