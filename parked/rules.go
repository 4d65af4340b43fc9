package parked

import "regexp"

// defaultStrongRules, defaultWeak1Rules and defaultWeak2Rules are a small,
// representative default rule set. The rule content itself is an external
// collaborator in the source system; these exist to exercise the
// mechanism end to end, not as a research-grade parking detector.
var defaultStrongRules = []Rule{
	{Tag: "sedoparking", Regex: regexp.MustCompile(`(?i)sedoparking\.com`)},
	{Tag: "parkingcrew", Regex: regexp.MustCompile(`(?i)parkingcrew\.net`)},
	{Tag: "bodisparking", Regex: regexp.MustCompile(`(?i)bodis\.com`)},
	{Tag: "godaddyparking", Regex: regexp.MustCompile(`(?i)parkingpage\.godaddy\.com`)},
}

var defaultWeak1Rules = []Rule{
	{Tag: "domain-for-sale", Regex: regexp.MustCompile(`(?i)this domain (is|may be) for sale`)},
	{Tag: "buy-this-domain", Regex: regexp.MustCompile(`(?i)buy this domain`)},
}

var defaultWeak2Rules = []Rule{
	{Tag: "related-links", Regex: regexp.MustCompile(`(?i)related (links|searches)`)},
	{Tag: "sponsored-listings", Regex: regexp.MustCompile(`(?i)sponsored listings?`)},
}
