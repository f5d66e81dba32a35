package format

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/gotd/td/tg"
)

type span struct {
	start, end int
	entity     tg.MessageEntityClass
}

// MessageHTML renders message text plus its formatting entities as a
// single HTML string. Literal text is always escaped; only the
// synthesized tags are raw. Entities that overlap already-rendered
// output without being fully contained in it are dropped rather than
// producing invalid nesting.
func MessageHTML(text string, entities []tg.MessageEntityClass) string {
	if text == "" {
		return ""
	}
	if len(entities) == 0 {
		return html.EscapeString(text)
	}

	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		start := ByteIndex(text, e.GetOffset())
		end := ByteIndex(text, e.GetOffset()+e.GetLength())
		if start >= end {
			continue
		}
		spans = append(spans, span{start: start, end: end, entity: e})
	}

	// Containers sort before their same-start children.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var b strings.Builder
	writeSpans(&b, text, spans, 0, len(text))
	return b.String()
}

// writeSpans emits the region [lo,hi) of text, wrapping every span that
// fits entirely inside it. spans is sorted by start ascending, longer
// first at equal starts.
func writeSpans(b *strings.Builder, text string, spans []span, lo, hi int) {
	pos := lo
	for i := 0; i < len(spans); {
		s := spans[i]
		if s.start < pos || s.end > hi {
			// Overlaps earlier output or escapes the enclosing span.
			i++
			continue
		}

		b.WriteString(html.EscapeString(text[pos:s.start]))

		// Spans starting before s.end belong inside s (or get dropped
		// there when they straddle its right edge).
		j := i + 1
		for j < len(spans) && spans[j].start < s.end {
			j++
		}

		open, closing, flat := tags(s, text)
		b.WriteString(open)
		if flat {
			b.WriteString(html.EscapeString(text[s.start:s.end]))
		} else {
			writeSpans(b, text, spans[i+1:j], s.start, s.end)
		}
		b.WriteString(closing)

		pos = s.end
		i = j
	}
	b.WriteString(html.EscapeString(text[pos:hi]))
}

// tags returns the HTML wrapper for an entity. flat entities render
// their content as plain escaped text with no nested formatting.
func tags(s span, text string) (open, closing string, flat bool) {
	content := text[s.start:s.end]

	switch e := s.entity.(type) {
	case *tg.MessageEntityBold:
		return "<b>", "</b>", false
	case *tg.MessageEntityItalic:
		return "<i>", "</i>", false
	case *tg.MessageEntityUnderline:
		return "<u>", "</u>", false
	case *tg.MessageEntityStrike:
		return "<s>", "</s>", false
	case *tg.MessageEntityCode:
		return "<code>", "</code>", true
	case *tg.MessageEntityPre:
		if e.Language != "" {
			return fmt.Sprintf(`<pre><code class="language-%s">`, html.EscapeString(e.Language)), "</code></pre>", true
		}
		return "<pre>", "</pre>", true
	case *tg.MessageEntityTextURL:
		return fmt.Sprintf(`<a href="%s">`, html.EscapeString(e.URL)), "</a>", false
	case *tg.MessageEntityURL:
		return fmt.Sprintf(`<a href="%s">`, html.EscapeString(content)), "</a>", false
	case *tg.MessageEntityEmail:
		return fmt.Sprintf(`<a href="mailto:%s">`, html.EscapeString(content)), "</a>", false
	case *tg.MessageEntityMention:
		username := strings.TrimPrefix(content, "@")
		return fmt.Sprintf(`<a href="https://t.me/%s">`, html.EscapeString(username)), "</a>", false
	case *tg.MessageEntityMentionName:
		return fmt.Sprintf(`<a href="tg://user?id=%d">`, e.UserID), "</a>", false
	case *tg.MessageEntityBlockquote:
		return "<blockquote>", "</blockquote>", false
	case *tg.MessageEntitySpoiler:
		return `<span class="tg-spoiler">`, "</span>", false
	case *tg.MessageEntityCustomEmoji:
		// No HTML equivalent; degrade to the plain fallback glyph.
		return "", "", true
	default:
		// Hashtags, bot commands and the like carry no formatting.
		return "", "", false
	}
}
