package extract

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pruneScoreThreshold is the minimum weighted score a block element must
// reach to be retained as main content; blocks at or below it are
// discarded as boilerplate.
const pruneScoreThreshold = 0.0

const (
	wTextDensity   = 3.0
	wLinkDensity   = -2.0
	wTagWeight     = 1.5
	wClassIDWeight = 1.0
	wTextLength    = 0.5
)

var positiveClassIDPatterns = []string{
	"content", "article", "post", "entry", "body", "main", "text",
}

var negativeClassIDPatterns = []string{
	"sidebar", "ad", "widget", "nav", "menu", "comment", "footer",
	"header", "banner", "popup", "modal", "cookie", "social", "share",
	"related", "recommend", "promo",
}

// prune computes the pruned text: the document's visible text with
// boilerplate-like subtrees removed, via a scoring pass over each
// top-level block in <body>. The precise boilerplate-detection algorithm
// is treated as a black box by callers of the extractor; this is one
// reasonable concrete realization of it.
func prune(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		return collapseWhitespace(doc.Text())
	}

	var kept []string
	body.Children().Each(func(_ int, el *goquery.Selection) {
		if score(el) > pruneScoreThreshold {
			kept = append(kept, el.Text())
		}
	})

	if len(kept) == 0 {
		return collapseWhitespace(body.Text())
	}
	return collapseWhitespace(strings.Join(kept, " "))
}

func score(el *goquery.Selection) float64 {
	fullHTML, err := goquery.OuterHtml(el)
	if err != nil {
		return 0
	}

	text := strings.TrimSpace(el.Text())
	textLen := len(text)
	totalLen := len(fullHTML)

	textDensity := 0.0
	if totalLen > 0 {
		textDensity = float64(textLen) / float64(totalLen)
	}

	linkTextLen := 0
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkTextLen += len(strings.TrimSpace(a.Text()))
	})
	linkDensity := 0.0
	if textLen > 0 {
		linkDensity = float64(linkTextLen) / float64(textLen)
	}

	tagW := tagWeight(el)
	classIDW := classIDWeight(el)
	textLenScore := math.Log10(float64(textLen) + 1)

	return textDensity*wTextDensity +
		linkDensity*wLinkDensity +
		tagW*wTagWeight +
		classIDW*wClassIDWeight +
		textLenScore*wTextLength
}

func tagWeight(el *goquery.Selection) float64 {
	switch goquery.NodeName(el) {
	case "article", "main", "section":
		return 5.0
	case "nav", "footer", "aside", "header":
		return -5.0
	default:
		return 0.0
	}
}

func classIDWeight(el *goquery.Selection) float64 {
	class, _ := el.Attr("class")
	id, _ := el.Attr("id")
	combined := strings.ToLower(class + " " + id)

	s := 0.0
	for _, pat := range positiveClassIDPatterns {
		if strings.Contains(combined, pat) {
			s += 3.0
			break
		}
	}
	for _, pat := range negativeClassIDPatterns {
		if strings.Contains(combined, pat) {
			s -= 3.0
			break
		}
	}
	return s
}
