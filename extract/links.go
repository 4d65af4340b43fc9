package extract

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// linkKind is the hyperlink/resource discrimination for a URL-bearing
// attribute (§4.6, supplemented from the attribute table in the original
// extractor).
type linkKind int

const (
	kindResource linkKind = iota
	kindHyperlink
)

// attrExtractor pulls zero or more URLs and their kind out of an element.
type attrExtractor func(sel *goquery.Selection) (linkKind, []string)

func singleAttr(kind linkKind, name string) attrExtractor {
	return func(sel *goquery.Selection) (linkKind, []string) {
		if v, ok := sel.Attr(name); ok {
			v = strings.TrimSpace(v)
			if v != "" {
				return kind, []string{v}
			}
		}
		return kind, nil
	}
}

func multiAttr(kind linkKind, names ...string) attrExtractor {
	return func(sel *goquery.Selection) (linkKind, []string) {
		var urls []string
		for _, name := range names {
			if v, ok := sel.Attr(name); ok {
				v = strings.TrimSpace(v)
				if v != "" {
					urls = append(urls, v)
				}
			}
		}
		return kind, urls
	}
}

// srcSrcsetAttr handles img's src plus its comma-separated srcset, where
// each image-candidate's URL is the first whitespace-separated field.
func srcSrcsetAttr(sel *goquery.Selection) (linkKind, []string) {
	var urls []string
	if v, ok := sel.Attr("src"); ok {
		v = strings.TrimSpace(v)
		if v != "" {
			urls = append(urls, v)
		}
	}
	if v, ok := sel.Attr("srcset"); ok {
		for _, candidate := range strings.Split(v, ",") {
			fields := strings.Fields(strings.TrimSpace(candidate))
			if len(fields) > 0 {
				urls = append(urls, fields[0])
			}
		}
	}
	return kindResource, urls
}

// linkHrefAttr classifies link[href] by its rel attribute: icon, pingback,
// prefetch, stylesheet -> resource; alternate, author, help, license, next,
// prev, search, sidebar -> link; anything else -> discarded.
func linkHrefAttr(sel *goquery.Selection) (linkKind, []string) {
	href, hasHref := sel.Attr("href")
	rel, hasRel := sel.Attr("rel")
	if !hasHref || !hasRel || strings.TrimSpace(href) == "" {
		return kindResource, nil
	}
	rels := strings.Fields(rel)
	for _, r := range rels {
		switch r {
		case "icon", "pingback", "prefetch", "stylesheet":
			return kindResource, []string{strings.TrimSpace(href)}
		}
	}
	for _, r := range rels {
		switch r {
		case "alternate", "author", "help", "license", "next", "prev", "search", "sidebar":
			return kindHyperlink, []string{strings.TrimSpace(href)}
		}
	}
	return kindResource, nil
}

// attrExtractors maps each element name that may carry a hyperlink or
// resource URL to how to extract it.
var attrExtractors = map[string]attrExtractor{
	// resources
	"audio":    singleAttr(kindResource, "src"),
	"embed":    singleAttr(kindResource, "src"),
	"iframe":   singleAttr(kindResource, "src"),
	"img":      srcSrcsetAttr,
	"script":   singleAttr(kindResource, "src"),
	"source":   singleAttr(kindResource, "src"),
	"track":    singleAttr(kindResource, "src"),
	"video":    multiAttr(kindResource, "src", "poster"),
	"object":   singleAttr(kindResource, "data"),
	"menuitem": singleAttr(kindResource, "icon"),

	// hyperlinks
	"a":          singleAttr(kindHyperlink, "href"),
	"area":       singleAttr(kindHyperlink, "href"),
	"form":       singleAttr(kindHyperlink, "action"),
	"button":     singleAttr(kindHyperlink, "formaction"),
	"blockquote": singleAttr(kindHyperlink, "cite"),
	"del":        singleAttr(kindHyperlink, "cite"),
	"ins":        singleAttr(kindHyperlink, "cite"),
	"q":          singleAttr(kindHyperlink, "cite"),

	// very special
	"link": linkHrefAttr,
}

// inputExtractor handles <input>, which carries "formaction" (a hyperlink)
// rather than "src" (the original extractor table assigns "input" to
// formaction, since the later map entry wins over the earlier "src" one).
var inputExtractor = singleAttr(kindHyperlink, "formaction")

func extractLinksAndResources(doc *goquery.Document, effectiveURL string) (links, resources []string) {
	linkSet := map[string]bool{}
	resourceSet := map[string]bool{}

	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		name := goquery.NodeName(sel)
		var extractor attrExtractor
		if name == "input" {
			extractor = inputExtractor
		} else {
			extractor = attrExtractors[name]
		}
		if extractor == nil {
			return
		}
		kind, urls := extractor(sel)
		for _, u := range urls {
			resolved, err := resolveURL(effectiveURL, u)
			if err != nil {
				continue
			}
			if withinSameDocument(effectiveURL, resolved) {
				continue
			}
			if kind == kindHyperlink {
				linkSet[resolved] = true
			} else {
				resourceSet[resolved] = true
			}
		}
	})

	return sortedKeys(linkSet), sortedKeys(resourceSet)
}

// withinSameDocument reports whether url, after defragmenting, equals the
// effective document URL defragmented — i.e. it's an anchor-only link.
func withinSameDocument(docURL, candidate string) bool {
	return defrag(docURL) == defrag(candidate)
}

func defrag(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
