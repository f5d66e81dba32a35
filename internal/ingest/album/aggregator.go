// Package album collapses grouped-media messages into a single post.
//
// Telegram delivers an album as N independent messages sharing a
// grouped id, with the caption on at most one of them. The aggregator
// buffers fragments per group and emits one merged post after the
// stream has been quiet for a debounce window.
package album

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fluffyriot/channelgrab/internal/ingest"
)

type Aggregator struct {
	debounce time.Duration
	emit     func(*ingest.Post)

	mu     sync.Mutex
	groups map[int64]*group
}

type group struct {
	members []*ingest.Post
	// gen invalidates an in-flight timer when a late fragment lands
	// between the timer firing and flush acquiring the lock.
	gen   int
	timer *time.Timer
}

func New(debounce time.Duration, emit func(*ingest.Post)) *Aggregator {
	return &Aggregator{
		debounce: debounce,
		emit:     emit,
		groups:   make(map[int64]*group),
	}
}

// Add buffers one album fragment and restarts the group's debounce
// window.
func (a *Aggregator) Add(groupID int64, fragment *ingest.Post) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g := a.groups[groupID]
	if g == nil {
		g = &group{}
		a.groups[groupID] = g
	}
	g.members = append(g.members, fragment)
	g.gen++
	gen := g.gen

	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(a.debounce, func() {
		a.flush(groupID, gen)
	})
}

func (a *Aggregator) flush(groupID int64, gen int) {
	a.mu.Lock()
	g := a.groups[groupID]
	if g == nil || g.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.groups, groupID)
	members := g.members
	a.mu.Unlock()

	if post := Merge(members); post != nil {
		a.emit(post)
	}
}

// FlushAll drains every pending group immediately. Called on shutdown
// so buffered albums are not lost.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	pending := make([][]*ingest.Post, 0, len(a.groups))
	for id, g := range a.groups {
		if g.timer != nil {
			g.timer.Stop()
		}
		pending = append(pending, g.members)
		delete(a.groups, id)
	}
	a.mu.Unlock()

	for _, members := range pending {
		if post := Merge(members); post != nil {
			a.emit(post)
		}
	}
}

// Merge collapses album fragments into one post. The canonical
// fragment is the lowest-id member with text, or the lowest-id member
// when no fragment carries a caption. When any fragment carries media,
// MediaRefs become every member id in ascending order; otherwise the
// merged post stays text-only.
func Merge(members []*ingest.Post) *ingest.Post {
	return merge(members, false)
}

// MergeStrict is Merge for batch retrieval: an album where no fragment
// carries text yields nil instead of a caption-less post.
func MergeStrict(members []*ingest.Post) *ingest.Post {
	return merge(members, true)
}

func merge(members []*ingest.Post, requireText bool) *ingest.Post {
	if len(members) == 0 {
		return nil
	}
	if len(members) == 1 && !requireText {
		return members[0]
	}

	sorted := make([]*ingest.Post, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var canonical *ingest.Post
	for _, m := range sorted {
		if m.Text != "" {
			canonical = m
			break
		}
	}
	if canonical == nil {
		if requireText {
			return nil
		}
		canonical = sorted[0]
	}

	refs := make([]string, 0, len(sorted))
	mediaType := ingest.MediaNone
	for _, m := range sorted {
		refs = append(refs, strconv.FormatInt(m.ID, 10))
		if mediaType == ingest.MediaNone && m.MediaType != ingest.MediaNone {
			mediaType = m.MediaType
		}
	}
	if mediaType == ingest.MediaNone {
		refs = nil
	}

	merged := *canonical
	merged.MediaType = mediaType
	merged.MediaRefs = refs
	return &merged
}
