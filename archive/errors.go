package archive

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"
)

type statusClass int

const (
	statusUpstream statusClass = iota
	statusArchiveError
)

// alwaysUpstream is the set of statuses that are always the true upstream
// status, never reclassified as an archive error regardless of body
// content.
var alwaysUpstream = map[int]bool{
	200: true, 401: true, 403: true, 404: true, 410: true, 451: true,
}

// archiveErrorMarkers are the English-language substrings that indicate the
// archive itself (not the replayed upstream site) produced the error body.
// This heuristic is fragile by design and preserved as-is for parity with
// the source implementation.
var archiveErrorMarkers = []string{
	"//web.archive.org/",
	"//archive.org/",
	">Internet Archive: Scheduled Maintenance<",
}

// classifyStatus distinguishes an archive-generated error from a replayed
// upstream error. For any status in alwaysUpstream, the status is always
// the true upstream result. For everything else, the body is decoded as
// ASCII; if decoding succeeds and any archiveErrorMarkers substring is
// present, the response is an archive error (retryable); otherwise it's
// recorded as the replayed upstream status.
func classifyStatus(code int, body []byte) (statusClass, string) {
	reason := http.StatusText(code)
	if reason == "" {
		reason = "Unknown"
	}

	if alwaysUpstream[code] {
		return statusUpstream, reason
	}
	if code >= 300 && code < 400 {
		return statusUpstream, reason
	}

	if !isASCII(body) {
		return statusUpstream, reason
	}
	text := string(body)
	for _, marker := range archiveErrorMarkers {
		if strings.Contains(text, marker) {
			return statusArchiveError, reason
		}
	}
	return statusUpstream, reason
}

func isASCII(b []byte) bool {
	for _, r := range string(b) {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// CoarseResult maps a status code to the fixed coarse taxonomy defined in
// the data model; code 0 stands for a fetch-layer failure.
func CoarseResult(code int) string {
	switch {
	case code == 0:
		return "crawler failure"
	case code >= 300 && code < 400:
		return "redirection loop"
	case code == 400:
		return "bad request (400)"
	case code == 401:
		return "authentication required (401)"
	case code == 403:
		return "forbidden (403)"
	case code == 404 || code == 410:
		return "page not found (404/410)"
	case code == 451:
		return "unavailable for legal reasons (451)"
	case code == 500:
		return "server error (500)"
	case code == 503:
		return "service unavailable (503)"
	case code == 502 || code == 504 || (code >= 520 && code <= 529):
		return "proxy error (502/504/52x)"
	case code >= 200 && code < 300:
		return "ok"
	default:
		return "other HTTP response"
	}
}

// FineResult formats the literal "NNN Reason-Phrase" detail string.
func FineResult(code int, reason string) string {
	if code == 0 {
		return "crawler failure"
	}
	return fmt.Sprintf("%d %s", code, reason)
}
