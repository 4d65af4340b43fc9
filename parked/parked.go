// Package parked implements the three-tier regex-based parked-domain
// classifier: a set of ordered strong/weak1/weak2 rules applied to raw
// HTML, plus a fallback "generalparking" heuristic.
package parked

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs a reporting tag with the regex that must match for it to fire.
type Rule struct {
	Tag   string
	Regex *regexp.Regexp
}

// sizeLimit is the default byte-size short-circuit: pages larger than this
// are never considered parked.
const sizeLimit = 200_000

// Mode selects a rules-to-use allowlist, applied to the strong rule set only.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeBalanced Mode = "balanced"
	ModeMin      Mode = "min"
)

// Classifier evaluates the three ordered rule tiers against raw HTML.
type Classifier struct {
	Strong, Weak1, Weak2 []Rule
	SizeLimit            int
	Allowlist            map[string]bool // restricts Strong to a Mode's subset; nil = all
}

// NewClassifier returns a Classifier with the default small rule set (the
// rule *content* is out of scope for this system; this ships enough to
// exercise the mechanism end to end).
func NewClassifier() *Classifier {
	return &Classifier{
		Strong:    defaultStrongRules,
		Weak1:     defaultWeak1Rules,
		Weak2:     defaultWeak2Rules,
		SizeLimit: sizeLimit,
	}
}

// Result is the classifier's verdict.
type Result struct {
	Parked       bool
	MatchedRules []string
}

// Classify applies the decision procedure from §4.8:
//  1. If len(html) exceeds the size limit, not parked.
//  2. Apply all strong rules (filtered by the allowlist, if any).
//  3. Apply weak1 and weak2 rules.
//  4. Parked if any strong rule matched, or both weak tiers matched.
//  5. Otherwise apply the "Click here to go to <keyword>" + meta-keywords
//     fallback heuristic against tppunknown.com and the registered domain.
//  6. Otherwise not parked.
func (c *Classifier) Classify(html, registeredDomain string) Result {
	if len(html) > c.effectiveSizeLimit() {
		return Result{}
	}

	sMatches := matchRules(html, c.allowedStrong())
	w1Matches := matchRules(html, c.Weak1)
	w2Matches := matchRules(html, c.Weak2)

	if len(sMatches) > 0 || (len(w1Matches) > 0 && len(w2Matches) > 0) {
		return Result{Parked: true, MatchedRules: concat(sMatches, w1Matches, w2Matches)}
	}

	if matchesGeneralParkingHeuristic(html, registeredDomain) {
		return Result{Parked: true, MatchedRules: []string{"generalparking"}}
	}

	return Result{}
}

func (c *Classifier) effectiveSizeLimit() int {
	if c.SizeLimit > 0 {
		return c.SizeLimit
	}
	return sizeLimit
}

func (c *Classifier) allowedStrong() []Rule {
	if c.Allowlist == nil {
		return c.Strong
	}
	var out []Rule
	for _, r := range c.Strong {
		if c.Allowlist[r.Tag] {
			out = append(out, r)
		}
	}
	return out
}

func matchRules(html string, rules []Rule) []string {
	var out []string
	for _, r := range rules {
		if r.Regex.MatchString(html) {
			out = append(out, r.Tag)
		}
	}
	return out
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func matchesGeneralParkingHeuristic(html, registeredDomain string) bool {
	lower := strings.ToLower(html)
	keywords := []string{"tppunknown.com"}
	if kw := lastTwoLabels(registeredDomain); kw != "" {
		keywords = append(keywords, strings.ToLower(kw))
	}
	for _, kw := range keywords {
		clickPhrase := strings.ToLower(fmt.Sprintf("Click here to go to %s", kw))
		metaPhrase := strings.ToLower(fmt.Sprintf(`<meta name="keywords" content="%s">`, kw))
		if strings.Contains(lower, clickPhrase) && strings.Contains(lower, metaPhrase) {
			return true
		}
	}
	return false
}

// lastTwoLabels returns the final two dot-separated labels of domain,
// matching the keyword the general-parking heuristic keys on: for a
// multi-label registered domain like "example.co.uk" that's "co.uk", not
// the full registrable name.
func lastTwoLabels(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return domain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// ModeAllowlist returns the strong-rule tag allowlist for a preset mode.
func ModeAllowlist(mode Mode) map[string]bool {
	switch mode {
	case ModeMin:
		return map[string]bool{"sedoparking": true}
	case ModeBalanced:
		return map[string]bool{"sedoparking": true, "parkingcrew": true, "bodisparking": true}
	case ModeFull:
		return nil // no restriction
	default:
		return nil
	}
}
