package canon

import "testing"

func TestCanonicalizeBasic(t *testing.T) {
	cases := []struct{ in, want string }{
		{"HTTP://Example.COM:80/", "http://example.com/"},
		{"https://example.com:443/a/b", "https://example.com/a/b"},
		{"http://example.com", "http://example.com/"},
		{"http://example.com/a b", "http://example.com/a%20b"},
		{"http://xn--nxasmq6b.example/", "http://xn--nxasmq6b.example/"},
	}
	for _, c := range cases {
		got, err := Canonicalize(c.in)
		if err != nil {
			t.Errorf("Canonicalize(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalizeRejectsNonHTTP(t *testing.T) {
	bad := []string{
		"ftp://example.com/",
		"mailto:foo@example.com",
		"http://",
		"not a url at all \x00",
	}
	for _, s := range bad {
		if _, err := Canonicalize(s); err == nil {
			t.Errorf("Canonicalize(%q): expected error, got none", s)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	corpus := []string{
		"HTTP://Example.COM:80/a/../b?x=1#frag",
		"https://example.com/path%2fwith%20escapes",
		"http://example.com/%zz",
	}
	for _, s := range corpus {
		once, err := Canonicalize(s)
		if err != nil {
			t.Errorf("Canonicalize(%q): %v", s, err)
			continue
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Errorf("Canonicalize(Canonicalize(%q)): %v", s, err)
			continue
		}
		if once != twice {
			t.Errorf("not idempotent: canon(%q) = %q, canon(that) = %q", s, once, twice)
		}
	}
}

func TestCanonicalizeSchemeSlashCollapse(t *testing.T) {
	got, err := Canonicalize("http:/example.org/path")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "http://example.org/path" {
		t.Errorf("got %q, want http://example.org/path", got)
	}
}
