package capturefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/har"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.cap")
	want := Capture{
		OriginalURL:  "https://example.org/a",
		FinalURL:     "https://example.org/a/",
		CoarseResult: "ok",
		FineDetail:   "200 OK",
		Elapsed:      1500 * time.Millisecond,
		HTML:         []byte("<html><body>hi</body></html>"),
		Log: har.HAR{
			Log: &har.Log{
				Version: "1.2",
				Creator: &har.Creator{Name: "test", Version: "1"},
			},
		},
	}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.OriginalURL != want.OriginalURL || got.FinalURL != want.FinalURL {
		t.Errorf("urls = %+v", got)
	}
	if got.CoarseResult != want.CoarseResult || got.FineDetail != want.FineDetail {
		t.Errorf("result/detail = %+v", got)
	}
	if got.Elapsed != want.Elapsed {
		t.Errorf("Elapsed = %v, want %v", got.Elapsed, want.Elapsed)
	}
	if string(got.HTML) != string(want.HTML) {
		t.Errorf("HTML = %q, want %q", got.HTML, want.HTML)
	}
	if got.Log.Log == nil || got.Log.Log.Creator == nil || got.Log.Log.Creator.Name != "test" {
		t.Errorf("Log = %+v", got.Log)
	}
}

func TestWriteReadEmptyContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.cap")
	want := Capture{
		OriginalURL:  "https://example.org/missing",
		FinalURL:     "https://example.org/missing",
		CoarseResult: "page not found (404/410)",
		FineDetail:   "404 Not Found",
	}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.HTML) != 0 {
		t.Errorf("HTML = %q, want empty", got.HTML)
	}
}

func TestReadRejectsUnknownMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cap")
	if err := os.WriteFile(path, []byte("not a capture file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected an error for an unrecognized magic header")
	}
}
