package extract

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// computeDOMStats walks the parsed document's underlying *html.Node tree
// (rather than re-parsing) to produce per-tag occurrence counts and
// per-depth tag counts, the canonical form chosen in the design notes over
// the alternative "dedicated walker vs extractor tag counts" variants seen
// upstream.
func computeDOMStats(doc *goquery.Document) DOMStats {
	stats := DOMStats{Tags: map[string]int{}, TagsAtDepth: map[int]int{}}
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type == html.ElementNode {
			stats.Tags[n.Data]++
			stats.TagsAtDepth[depth]++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	for _, n := range doc.Nodes {
		walk(n, 0)
	}
	return stats
}
