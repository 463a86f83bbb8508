// Package rss parses RSS 2.0 and Atom feeds into FeedItem records,
// tolerating both formats' item/entry shapes via an XPath query over
// local-name() (namespace-agnostic, since Atom feeds are sometimes
// served with a default namespace and sometimes without). Uses
// lestrrat-go/libxml2 for the DOM/XPath layer and PuerkitoBio/goquery
// for HTML fragment sanitization.
package rss

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lestrrat-go/libxml2"
	"github.com/lestrrat-go/libxml2/types"
	"github.com/lestrrat-go/libxml2/xpath"

	"github.com/hoodinformatik/openthreat/internal/sources"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ParseFeed decodes an RSS 2.0 or Atom document into FeedItems. It does
// not classify which dialect it was given — the item/entry XPath query
// matches either shape by local name.
func ParseFeed(data []byte) ([]sources.FeedItem, error) {
	doc, err := libxml2.ParseString(string(data))
	if err != nil {
		return nil, fmt.Errorf("rss: parse document: %w", err)
	}
	defer doc.Free()

	root, err := doc.DocumentElement()
	if err != nil {
		return nil, fmt.Errorf("rss: no document element: %w", err)
	}

	xctx, err := xpath.NewContext(root)
	if err != nil {
		return nil, fmt.Errorf("rss: build xpath context: %w", err)
	}
	defer xctx.Free()

	nodes, err := findNodes(xctx, `//*[local-name()='item' or local-name()='entry']`)
	if err != nil {
		return nil, fmt.Errorf("rss: query items: %w", err)
	}

	items := make([]sources.FeedItem, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, itemFromNode(n))
	}
	return items, nil
}

func itemFromNode(n types.Node) sources.FeedItem {
	return sources.FeedItem{
		Title:       stripHTML(firstText(n, "local-name()='title'")),
		URL:         linkOf(n),
		Author:      stripHTML(firstText(n, "local-name()='author'", "local-name()='creator'")),
		Summary:     stripHTML(firstText(n, "local-name()='description'", "local-name()='summary'", "local-name()='content'")),
		PublishedAt: strings.TrimSpace(firstText(n, "local-name()='pubDate'", "local-name()='published'", "local-name()='updated'", "local-name()='date'")),
		Categories:  allText(n, "local-name()='category'"),
	}
}

// linkOf handles RSS's <link>text</link> and Atom's <link href="..."/>
// (preferring rel="alternate" or the first link when rel is absent).
func linkOf(n types.Node) string {
	nctx, err := xpath.NewContext(n)
	if err != nil {
		return ""
	}
	defer nctx.Free()

	if href := attrOf(nctx, `.//*[local-name()='link'][not(@rel) or @rel='alternate'][1]`, "href"); href != "" {
		return href
	}
	return strings.TrimSpace(firstText(n, "local-name()='link'"))
}

func attrOf(nctx *xpath.Context, query, attr string) string {
	result, err := nctx.Find(query)
	if err != nil {
		return ""
	}
	defer result.Free()
	list := result.NodeList()
	if len(list) == 0 {
		return ""
	}
	if el, ok := list[0].(types.Element); ok {
		if v, err := el.GetAttribute(attr); err == nil {
			return v.Value()
		}
	}
	return ""
}

func firstText(n types.Node, predicates ...string) string {
	texts := allText(n, predicates...)
	if len(texts) == 0 {
		return ""
	}
	return texts[0]
}

func allText(n types.Node, predicates ...string) []string {
	nctx, err := xpath.NewContext(n)
	if err != nil {
		return nil
	}
	defer nctx.Free()

	var out []string
	for _, pred := range predicates {
		result, err := nctx.Find(fmt.Sprintf(".//*[%s]", pred))
		if err != nil {
			continue
		}
		for _, node := range result.NodeList() {
			if v := strings.TrimSpace(node.NodeValue()); v != "" {
				out = append(out, v)
			}
		}
		result.Free()
		if len(out) > 0 {
			return out
		}
	}
	return out
}

func findNodes(xctx *xpath.Context, query string) ([]types.Node, error) {
	result, err := xctx.Find(query)
	if err != nil {
		return nil, err
	}
	defer result.Free()
	return result.NodeList(), nil
}

// stripHTML renders an HTML fragment down to its visible text,
// collapsing runs of whitespace the way feed titles/summaries often
// carry them after escaping.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
	}
	text := doc.Find("body").Text()
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// dateLayouts is the three-grammar fallback: RFC-822 (RSS), ISO-8601
// with optional sub-seconds/Z (Atom), then date-only.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05", // no zone; parsing accepts sub-seconds here too
	"2006-01-02",
}

// ParseDate tries each supported feed date grammar in order.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("rss: unrecognized date %q: %w", s, lastErr)
}
