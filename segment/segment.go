// Package segment implements language-aware word segmentation of
// already-extracted text: a language-independent pre-segmentation pass,
// per-language handlers, and an external-process runner for segmenters
// that wrap a long-running child process.
package segment

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Lang is one of the languages with dedicated segmentation behavior.
type Lang string

const (
	LangDefault    Lang = ""
	LangThai       Lang = "th"
	LangJapanese   Lang = "ja"
	LangChinese    Lang = "zh"
	LangChineseTrd Lang = "zh-Hant"
	LangVietnamese Lang = "vi"
	LangArabic     Lang = "ar"
)

// Segmenter is the capability set a per-language handler must implement.
// No handler may block indefinitely.
type Segmenter interface {
	Segment(text string) ([]string, error)
}

// Registry dispatches to the segmenter registered for a language, falling
// back to the default pre-segmentation-only behavior for every language
// without a specific handler.
type Registry struct {
	handlers map[Lang]Segmenter
	fallback Segmenter
}

// NewRegistry returns a Registry whose default arm is pre-segmentation
// only, per §4.7 ("for all other languages the default behavior is
// pre-segmentation only").
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[Lang]Segmenter{},
		fallback: defaultSegmenter{},
	}
}

// Register installs a dedicated handler for lang, overriding the default.
func (r *Registry) Register(lang Lang, s Segmenter) {
	r.handlers[lang] = s
}

// Segment tokenizes text using the handler registered for lang, or the
// default pre-segmentation-only behavior if none is registered.
func (r *Registry) Segment(lang Lang, text string) ([]string, error) {
	if h, ok := r.handlers[lang]; ok {
		return h.Segment(text)
	}
	return r.fallback.Segment(text)
}

// defaultSegmenter implements the language-independent pre-segmentation
// pass: split on Unicode whitespace; detect and pass through embedded
// URLs verbatim; split surviving tokens further on punctuation that should
// always break words; trim leading/trailing punctuation and whitespace;
// NFKC-normalize and case-fold what remains.
type defaultSegmenter struct{}

var (
	urlLike         = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://\S+$`)
	alwaysBreakRe   = regexp.MustCompile(`[,;!?"'` + "`" + `\(\)\[\]{}<>]+`)
	leadTrailPunct  = regexp.MustCompile(`^[\p{P}\s]+|[\p{P}\s]+$`)
)

func (defaultSegmenter) Segment(text string) ([]string, error) {
	var out []string
	for _, field := range strings.Fields(text) {
		if urlLike.MatchString(field) {
			out = append(out, field)
			continue
		}
		for _, piece := range alwaysBreakRe.Split(field, -1) {
			token := leadTrailPunct.ReplaceAllString(piece, "")
			if token == "" {
				continue
			}
			token = norm.NFKC.String(token)
			token = strings.ToLower(token)
			out = append(out, token)
		}
	}
	return out, nil
}
