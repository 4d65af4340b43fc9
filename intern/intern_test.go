package intern

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/use-agent/chronicle/store"
)

type fakeRepo struct {
	artifacts map[[32]byte]int64
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{artifacts: map[[32]byte]int64{}, nextID: 1}
}

func (r *fakeRepo) InternURL(ctx context.Context, canonicalURL string) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) GetAvailability(ctx context.Context, archive string, urlID int64) (*store.Availability, bool, error) {
	return nil, false, nil
}

func (r *fakeRepo) CreateAvailability(ctx context.Context, a store.Availability) error { return nil }
func (r *fakeRepo) MarkProcessed(ctx context.Context, archive string, urlID int64) error {
	return nil
}
func (r *fakeRepo) CapturedTimestamps(ctx context.Context, archive string, urlID int64) (map[time.Time]bool, error) {
	return nil, nil
}

func (r *fakeRepo) InternHTMLContent(ctx context.Context, hash [32]byte, content []byte) (int64, bool, bool, error) {
	id, existed := r.artifacts[hash]
	if !existed {
		id = r.nextID
		r.nextID++
		r.artifacts[hash] = id
	}
	return id, existed, false, nil
}

func (r *fakeRepo) InternArtifact(ctx context.Context, kind string, hash [32]byte, blob []byte) (int64, error) {
	id, existed := r.artifacts[hash]
	if !existed {
		id = r.nextID
		r.nextID++
		r.artifacts[hash] = id
	}
	return id, nil
}

func (r *fakeRepo) InternPrunedSegmented(ctx context.Context, hash [32]byte, plaintext string, segmented []byte) (int64, error) {
	id, existed := r.artifacts[hash]
	if !existed {
		id = r.nextID
		r.nextID++
		r.artifacts[hash] = id
	}
	return id, nil
}

func (r *fakeRepo) SetExtracted(ctx context.Context, htmlContentID int64, artifacts store.ExtractedArtifacts, isParked bool, parkingRules []string) error {
	return nil
}
func (r *fakeRepo) InsertHistoricalPage(ctx context.Context, p store.HistoricalPage) error {
	return nil
}
func (r *fakeRepo) SetExtractedAndInsertHistoricalPage(ctx context.Context, htmlContentID int64, artifacts store.ExtractedArtifacts, isParked bool, parkingRules []string, p store.HistoricalPage) error {
	return nil
}
func (r *fakeRepo) UnprocessedURLIDs(ctx context.Context, archive string) ([]int64, error) {
	return nil, nil
}
func (r *fakeRepo) PartiallyProcessedURLIDs(ctx context.Context, archive string) ([]int64, error) {
	return nil, nil
}
func (r *fakeRepo) ProcessedCount(ctx context.Context, archive string) (int, error) { return 0, nil }
func (r *fakeRepo) URLString(ctx context.Context, urlID int64) (string, error)      { return "", nil }
func (r *fakeRepo) Close() error                                                    { return nil }

func TestOriginalCompressesAndRoundTrips(t *testing.T) {
	s := New(newFakeRepo())
	raw := []byte("<html><body>hello</body></html>")
	id, olen, err := s.Original(context.Background(), raw)
	if err != nil {
		t.Fatalf("Original: %v", err)
	}
	if olen != len(raw) {
		t.Errorf("olen = %d, want %d", olen, len(raw))
	}
	if id == 0 {
		t.Error("expected a non-zero interned id")
	}
}

func TestOriginalDeduplicatesIdenticalContent(t *testing.T) {
	s := New(newFakeRepo())
	raw := []byte("duplicate content")
	id1, _, err := s.Original(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	id2, _, err := s.Original(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("expected identical content to dedupe to the same id, got %d and %d", id1, id2)
	}
}

func TestTextSanitizesNUL(t *testing.T) {
	s := New(newFakeRepo())
	id, err := s.Text(context.Background(), "content", "hello\x00world")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want, err := s.Text(context.Background(), "content", "hello�world")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if id != want {
		t.Errorf("NUL text interned as id %d, want the id %d of its U+FFFD-replaced form", id, want)
	}
}

// TestJSONSanitizesEmbeddedNUL exercises the path where encoding/json
// renders an embedded NUL byte as a six-byte escape sequence that
// sanitizeJSONNUL must rewrite before the blob is hashed and interned.
func TestJSONSanitizesEmbeddedNUL(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo)

	type payload struct {
		Text string `json:"text"`
	}
	v := payload{Text: "a\x00b"}

	blob, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(blob, jsonNULEscape) {
		t.Fatalf("test fixture does not exercise the NUL escape path: %s", blob)
	}

	if _, err := s.JSON(context.Background(), "links", v); err != nil {
		t.Fatalf("JSON: %v", err)
	}

	sanitized := sanitizeJSONNUL(blob)
	if bytes.Contains(sanitized, jsonNULEscape) {
		t.Error("sanitized blob still contains the NUL escape sequence")
	}
	if !bytes.Contains(sanitized, jsonReplacementEscape) {
		t.Error("sanitized blob does not contain the replacement escape sequence")
	}
}

func TestHashIsContentAddressed(t *testing.T) {
	a := Hash([]byte("same"))
	b := Hash([]byte("same"))
	c := Hash([]byte("different"))
	if a != b {
		t.Error("identical content must hash identically")
	}
	if a == c {
		t.Error("different content must not collide in this test")
	}
}

func TestOriginalIsZlibCompressed(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo)
	raw := bytes.Repeat([]byte("a"), 1000)
	id, _, err := s.Original(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(raw)
	w.Close()

	if got, ok := repo.artifacts[Hash(buf.Bytes())]; !ok || got != id {
		t.Error("Original did not intern the zlib-compressed form of the input")
	}

	r, err := zlib.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("decompressed content does not match original")
	}
}
