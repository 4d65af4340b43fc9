// Package extract implements the pure (url, content-type, raw bytes) →
// ExtractedContent transformation: DOM walking, link/resource
// classification, heading collection, DOM statistics, and boilerplate
// pruning. It is CPU-bound and intended to be run off the I/O core.
package extract

import (
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/chronicle/canon"
)

// DOMStats is the per-tag and per-depth occurrence summary (§3 "domst").
type DOMStats struct {
	Tags        map[string]int `json:"tags"`
	TagsAtDepth map[int]int    `json:"tags_at_depth"`
}

// ExtractedContent is the bundle of artifacts derived from one raw HTML
// document, before interning.
type ExtractedContent struct {
	EffectiveURL string
	Content      string // all visible text, whitespace-collapsed
	Pruned       string // visible text with boilerplate subtrees removed
	Headings     []string
	Links        []string
	Resources    []string
	DOMStats     DOMStats
}

// discardSubtrees is the set of elements whose children are not counted
// toward visible text content (by default these elements do not display
// their children, or their content is not prose).
var discardSubtrees = map[string]bool{
	"audio": true, "embed": true, "head": true, "iframe": true, "img": true,
	"noframes": true, "noscript": true, "object": true, "script": true,
	"style": true, "template": true, "video": true,
}

// Extract parses rawBytes as HTML5 and produces an ExtractedContent bundle.
// redirURL is the final redirected URL of the page; contentType is the
// declared HTTP Content-Type header, used only to pick a charset (the
// canonical byte form is always decoded to UTF-8 first, see Decode).
func Extract(redirURL, contentType string, rawBytes []byte) (*ExtractedContent, error) {
	text, err := Decode(contentType, rawBytes)
	if err != nil {
		text = string(rawBytes)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, err
	}

	effectiveURL := redirURL
	if baseHref, ok := doc.Find("head base[href]").First().Attr("href"); ok {
		if resolved, rerr := resolveURL(redirURL, baseHref); rerr == nil {
			if c, cerr := canon.Canonicalize(resolved); cerr == nil {
				effectiveURL = c
			}
		}
	}

	ec := &ExtractedContent{EffectiveURL: effectiveURL}
	ec.Links, ec.Resources = extractLinksAndResources(doc, effectiveURL)
	ec.Headings = extractHeadings(doc)
	ec.DOMStats = computeDOMStats(doc)
	ec.Content = collapseWhitespace(extractVisibleText(doc))
	ec.Pruned = prune(doc)

	return ec, nil
}

// mimeAndCharset parses a Content-Type header into its MIME type and
// charset parameter, defaulting the charset to utf-8.
func mimeAndCharset(contentType string) (mimeType, charset string) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "text/html", "utf-8"
	}
	charset = params["charset"]
	if charset == "" {
		charset = "utf-8"
	}
	return mt, charset
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func extractVisibleText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, node *goquery.Selection) {
			if goquery.NodeName(node) == "#text" {
				b.WriteString(node.Text())
				b.WriteByte(' ')
				return
			}
			name := goquery.NodeName(node)
			if discardSubtrees[name] {
				return
			}
			walk(node)
		})
	}
	walk(doc.Selection)
	return b.String()
}

func extractHeadings(doc *goquery.Document) []string {
	var out []string
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			out = append(out, text)
		}
	})
	return out
}
