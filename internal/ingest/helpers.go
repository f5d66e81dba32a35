package ingest

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML reduces a post's HTML text to the visible text, with runs
// of whitespace collapsed. Used for search matching and text snippets
// so a query never matches a tag or attribute.
func StripHTML(input string) string {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return ""
	}

	var b strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)

	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}

// MatchesQuery reports whether a post's visible text contains query,
// case-insensitively.
func MatchesQuery(htmlText, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	return strings.Contains(strings.ToLower(StripHTML(htmlText)), q)
}
