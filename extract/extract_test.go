package extract

import "testing"

const sampleHTML = `<!DOCTYPE html>
<html><head><title>Sample</title></head>
<body>
<article class="content"><h1>Heading One</h1><p>Some real article text that is reasonably long so it scores above the pruning threshold.</p>
<a href="/local">local link</a>
<a href="https://other.example/page#frag">other page</a>
<a href="#top">same document anchor</a>
<img src="/img/pic.png" srcset="/img/pic-2x.png 2x, /img/pic-1x.png 1x">
</article>
<nav class="nav"><a href="/nav1">nav link</a></nav>
</body></html>`

func TestExtractLinksAndResources(t *testing.T) {
	ec, err := Extract("https://example.org/page", "text/html; charset=utf-8", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	wantLinks := map[string]bool{
		"https://example.org/local":       true,
		"https://other.example/page#frag": true,
		"https://example.org/nav1":        true,
	}
	for _, l := range ec.Links {
		if !wantLinks[l] {
			t.Errorf("unexpected link %q", l)
		}
		delete(wantLinks, l)
	}
	for missing := range wantLinks {
		t.Errorf("missing expected link %q, got %v", missing, ec.Links)
	}

	foundImg := false
	for _, r := range ec.Resources {
		if r == "https://example.org/img/pic-2x.png" || r == "https://example.org/img/pic.png" {
			foundImg = true
		}
	}
	if !foundImg {
		t.Errorf("expected an image resource, got %v", ec.Resources)
	}
}

func TestExtractDiscardsSameDocumentAnchors(t *testing.T) {
	ec, err := Extract("https://example.org/page", "text/html", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, l := range ec.Links {
		if l == "https://example.org/page" || l == "https://example.org/page#top" {
			t.Errorf("same-document anchor should have been discarded, got %q", l)
		}
	}
}

func TestExtractHeadingsAndDOMStats(t *testing.T) {
	ec, err := Extract("https://example.org/page", "text/html", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ec.Headings) != 1 || ec.Headings[0] != "Heading One" {
		t.Errorf("unexpected headings: %v", ec.Headings)
	}
	if ec.DOMStats.Tags["a"] < 3 {
		t.Errorf("expected at least 3 <a> tags counted, got %d", ec.DOMStats.Tags["a"])
	}
}

func TestExtractBaseHref(t *testing.T) {
	htmlWithBase := `<html><head><base href="https://cdn.example/"></head><body><a href="x">x</a></body></html>`
	ec, err := Extract("https://example.org/page", "text/html", []byte(htmlWithBase))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ec.EffectiveURL != "https://cdn.example/" {
		t.Errorf("expected effective URL from base href, got %q", ec.EffectiveURL)
	}
	want := "https://cdn.example/x"
	if len(ec.Links) != 1 || ec.Links[0] != want {
		t.Errorf("expected link resolved against base href, got %v", ec.Links)
	}
}
