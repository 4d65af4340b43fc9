package segment

import (
	"strings"

	"github.com/RadhiFadlillah/whatlanggo"
)

// Chunk is one (language, tokens) pair produced by DetectAndSegment.
type Chunk struct {
	Lang   Lang     `json:"l"`
	Tokens []string `json:"t"`
}

// minDetectLen is the shortest paragraph whatlanggo is given a real shot
// at classifying; shorter paragraphs fall through to the default segmenter
// untagged, since language detection on a handful of words is unreliable.
const minDetectLen = 12

// isoToLang maps the subset of ISO 639-1 codes whatlanggo can return to the
// languages with dedicated segmentation behavior. Anything else collapses
// to LangDefault.
var isoToLang = map[string]Lang{
	"th": LangThai,
	"ja": LangJapanese,
	"zh": LangChinese,
	"vi": LangVietnamese,
	"ar": LangArabic,
}

// DetectAndSegment splits text into paragraphs, runs language detection on
// each, and tokenizes each paragraph with the registry's handler for the
// detected language, per the "(language, chunk) pair" contract in §4.6.
func DetectAndSegment(reg *Registry, text string) ([]Chunk, error) {
	var chunks []Chunk
	for _, para := range splitParagraphs(text) {
		if strings.TrimSpace(para) == "" {
			continue
		}
		lang := LangDefault
		if len(para) >= minDetectLen {
			info := whatlanggo.Detect(para)
			if l, ok := isoToLang[info.Lang.Iso6391()]; ok {
				lang = l
			}
		}
		tokens, err := reg.Segment(lang, para)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			continue
		}
		chunks = append(chunks, Chunk{Lang: lang, Tokens: tokens})
	}
	return chunks, nil
}

func splitParagraphs(text string) []string {
	return strings.Split(text, "\n\n")
}
