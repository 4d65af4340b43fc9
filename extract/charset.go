package extract

import (
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Decode converts rawBytes to a UTF-8 string using the charset named in
// contentType (defaulting to utf-8 when absent or unrecognized). Byte-level
// reading by the archive client defers encoding detection to this step, as
// the archive returns pages in their original character encoding.
func Decode(contentType string, rawBytes []byte) (string, error) {
	_, charset := mimeAndCharset(contentType)

	enc, err := htmlindex.Get(charset)
	if err != nil || charset == "utf-8" {
		return string(rawBytes), nil
	}

	decoded, err := io.ReadAll(enc.NewDecoder().Reader(strings.NewReader(string(rawBytes))))
	if err != nil {
		return string(rawBytes), err
	}
	return string(decoded), nil
}
