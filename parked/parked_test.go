package parked

import (
	"strings"
	"testing"
)

func TestClassifyStrongRuleParked(t *testing.T) {
	c := NewClassifier()
	html := `<html><body><iframe src="https://sedoparking.com/x"></iframe></body></html>`
	res := c.Classify(html, "example.com")
	if !res.Parked {
		t.Fatal("expected parked on strong rule match")
	}
	if len(res.MatchedRules) == 0 || res.MatchedRules[0] != "sedoparking" {
		t.Errorf("unexpected matched rules: %v", res.MatchedRules)
	}
}

func TestClassifyRequiresBothWeakTiers(t *testing.T) {
	c := NewClassifier()
	onlyWeak1 := `<html><body>This domain is for sale.</body></html>`
	if c.Classify(onlyWeak1, "example.com").Parked {
		t.Error("a single weak tier should not be enough to classify as parked")
	}

	bothWeak := `<html><body>This domain is for sale. See related links below.</body></html>`
	if !c.Classify(bothWeak, "example.com").Parked {
		t.Error("both weak tiers matching should classify as parked")
	}
}

func TestClassifyGeneralParkingHeuristic(t *testing.T) {
	c := NewClassifier()
	html := `<html><head><meta name="keywords" content="example.com"></head>` +
		`<body>Click here to go to example.com</body></html>`
	res := c.Classify(html, "example.com")
	if !res.Parked || res.MatchedRules[0] != "generalparking" {
		t.Errorf("expected generalparking match, got %+v", res)
	}
}

func TestClassifyOversizedNeverParked(t *testing.T) {
	c := NewClassifier()
	html := "<html>" + strings.Repeat("sedoparking.com ", 20000) + "</html>"
	if len(html) <= c.effectiveSizeLimit() {
		t.Fatal("test fixture did not exceed the size limit")
	}
	res := c.Classify(html, "example.com")
	if res.Parked {
		t.Error("oversized page should never be classified as parked")
	}
}

func TestModeAllowlistRestrictsStrongRules(t *testing.T) {
	c := NewClassifier()
	c.Allowlist = ModeAllowlist(ModeMin)
	html := `<html><body><iframe src="https://bodis.com/x"></iframe></body></html>`
	res := c.Classify(html, "example.com")
	if res.Parked {
		t.Error("bodisparking should be excluded from the min allowlist")
	}
}
