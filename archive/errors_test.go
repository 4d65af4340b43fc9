package archive

import "testing"

func TestClassifyStatusArchiveOverload(t *testing.T) {
	body := []byte("<html>The Internet Archive is overloaded...web.archive.org...</html>")
	class, _ := classifyStatus(503, body)
	if class != statusArchiveError {
		t.Errorf("expected archive error classification, got %v", class)
	}
}

func TestClassifyStatusReplayedUpstream(t *testing.T) {
	body := []byte("<html>Site temporarily down</html>")
	class, reason := classifyStatus(503, body)
	if class != statusUpstream {
		t.Errorf("expected upstream classification, got %v", class)
	}
	if FineResult(503, reason) != "503 Service Unavailable" {
		t.Errorf("unexpected fine result: %q", FineResult(503, reason))
	}
	if CoarseResult(503) != "service unavailable (503)" {
		t.Errorf("unexpected coarse result: %q", CoarseResult(503))
	}
}

func TestClassifyStatusAlwaysUpstream(t *testing.T) {
	body := []byte("web.archive.org mentioned but status is always-upstream")
	for _, code := range []int{200, 401, 403, 404, 410, 451} {
		class, _ := classifyStatus(code, body)
		if class != statusUpstream {
			t.Errorf("status %d: expected always-upstream classification, got %v", code, class)
		}
	}
}

func TestClassifyRedirectWebPrefix(t *testing.T) {
	next, internal, ok := classifyRedirect("web.archive.org", "http://foo.example/a", "/web/20200101000000/http://bar.example/b")
	if !ok || !internal {
		t.Fatalf("expected internal redirect, got ok=%v internal=%v", ok, internal)
	}
	want := "https://web.archive.org/web/20200101000000/http://bar.example/b"
	if next != want {
		t.Errorf("got %q, want %q", next, want)
	}
}

func TestClassifyRedirectExternal(t *testing.T) {
	next, internal, ok := classifyRedirect("web.archive.org", "http://foo.example/a", "http://bar.example/b")
	if !ok || internal {
		t.Fatalf("expected external redirect, got ok=%v internal=%v", ok, internal)
	}
	if next != "http://bar.example/b" {
		t.Errorf("got %q, want http://bar.example/b", next)
	}
}

func TestClassifyRedirectInvalid(t *testing.T) {
	if _, _, ok := classifyRedirect("web.archive.org", "http://foo.example/a", ""); ok {
		t.Error("expected empty Location to be treated as invalid")
	}
}

func TestCoarseResultTaxonomy(t *testing.T) {
	cases := map[int]string{
		200: "ok",
		301: "redirection loop",
		400: "bad request (400)",
		404: "page not found (404/410)",
		410: "page not found (404/410)",
		502: "proxy error (502/504/52x)",
		504: "proxy error (502/504/52x)",
		523: "proxy error (502/504/52x)",
		999: "other HTTP response",
		0:   "crawler failure",
	}
	for code, want := range cases {
		if got := CoarseResult(code); got != want {
			t.Errorf("CoarseResult(%d) = %q, want %q", code, got, want)
		}
	}
}
