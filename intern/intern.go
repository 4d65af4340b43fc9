// Package intern implements content-addressed insert-or-lookup for each
// extracted-content artifact kind, keyed by the SHA-256 of its canonical
// byte form. Hash equality is the sole deduplication criterion; this
// package guarantees canonical byte form before hashing and never hashes
// on behalf of a caller that hasn't already canonicalized its input.
package intern

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/use-agent/chronicle/store"
)

// Store interns every artifact kind for one extracted document into repo,
// in the canonical byte forms the data model requires: zlib-compressed
// original HTML, UTF-8 plaintext for content/pruned/headings, and JSON for
// links/resources/DOM-stats.
type Store struct {
	repo store.Repository
}

// New returns a Store backed by repo.
func New(repo store.Repository) *Store {
	return &Store{repo: repo}
}

// Hash returns the SHA-256 digest of the canonical byte form b.
func Hash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// Original interns the zlib-compressed raw HTML bytes and returns the
// interned id plus the original uncompressed length ("olen").
func (s *Store) Original(ctx context.Context, rawHTML []byte) (id int64, olen int, err error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(rawHTML); err != nil {
		return 0, 0, fmt.Errorf("intern: compress original: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, 0, fmt.Errorf("intern: close zlib writer: %w", err)
	}
	compressed := buf.Bytes()
	id, err = s.repo.InternArtifact(ctx, "original", Hash(compressed), compressed)
	if err != nil {
		return 0, 0, err
	}
	return id, len(rawHTML), nil
}

// HTMLContent interns the raw (uncompressed) HTML by hash and reports
// whether a corresponding extracted-content row already exists (so the
// caller can skip re-running extraction for already-seen HTML) along with
// whatever parked-domain verdict was already stored for that hash.
func (s *Store) HTMLContent(ctx context.Context, rawHTML []byte) (id int64, hasExtracted bool, isParked bool, err error) {
	return s.repo.InternHTMLContent(ctx, Hash(rawHTML), rawHTML)
}

// Text interns a plaintext field (content, headings-as-joined-text, etc.)
// under the given artifact kind, after NUL-sanitizing it.
func (s *Store) Text(ctx context.Context, kind, text string) (int64, error) {
	clean := []byte(sanitizeNUL(text))
	return s.repo.InternArtifact(ctx, kind, Hash(clean), clean)
}

// JSON marshals v, replaces any NUL escape sequence produced by the
// marshaler with the replacement-character escape sequence (since some
// storage back-ends disallow NUL inside text), and interns the result
// under kind.
func (s *Store) JSON(ctx context.Context, kind string, v any) (int64, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("intern: marshal %s: %w", kind, err)
	}
	blob = sanitizeJSONNUL(blob)
	return s.repo.InternArtifact(ctx, kind, Hash(blob), blob)
}

// PrunedSegmented interns the pruned plaintext jointly with its segmented
// JSON array, since segmentation is a dependent derived form of the
// plaintext it was computed from.
func (s *Store) PrunedSegmented(ctx context.Context, prunedText string, segmented any) (int64, error) {
	clean := sanitizeNUL(prunedText)
	var segJSON []byte
	if segmented != nil {
		blob, err := json.Marshal(segmented)
		if err != nil {
			return 0, fmt.Errorf("intern: marshal segmented: %w", err)
		}
		segJSON = sanitizeJSONNUL(blob)
	}
	return s.repo.InternPrunedSegmented(ctx, Hash([]byte(clean)), clean, segJSON)
}

// sanitizeNUL replaces U+0000 with the Unicode replacement character,
// since some storage back-ends disallow NUL bytes in text columns.
func sanitizeNUL(s string) string {
	if !bytes.ContainsRune([]byte(s), 0) {
		return s
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == 0 {
			r = 0xFFFD
		}
		out = append(out, r)
	}
	return string(out)
}

// jsonNULEscape and jsonReplacementEscape are the six-byte JSON escape
// sequences encoding/json emits for U+0000 and U+FFFD respectively,
// spelled out character by character so the source never embeds the
// control or replacement character itself.
var jsonNULEscape = []byte{'\\', 'u', '0', '0', '0', '0'}
var jsonReplacementEscape = []byte{'\\', 'u', 'F', 'F', 'F', 'D'}

func sanitizeJSONNUL(b []byte) []byte {
	return bytes.ReplaceAll(b, jsonNULEscape, jsonReplacementEscape)
}
