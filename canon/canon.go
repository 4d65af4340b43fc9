// Package canon implements the syntactic URL canonicalization rules shared
// by every component that stores or compares a URL string.
package canon

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Error is returned when a URL cannot be canonicalized.
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid-url: %s: %s", e.URL, e.Reason)
}

var schemeSlashesRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*):/+`)

// Canonicalize normalizes s per the fixed transformation set: lowercase
// scheme and host, IDNA-encoded host, default ports stripped, empty path
// becomes "/", and every URL-bearing field is percent-encoded for any byte
// outside printable ASCII or any invalid percent escape. It rejects any
// scheme other than http/https and any URL without a host.
//
// Canonicalize is idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(s string) (string, error) {
	// url.Parse rejects a "%" that does not start a two-hex-digit escape,
	// so every such "%" is encoded as "%25" before parsing.
	const hexDigits = "0123456789abcdefABCDEF"
	var pre strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && (i+2 >= len(s) || strings.IndexByte(hexDigits, s[i+1]) < 0 || strings.IndexByte(hexDigits, s[i+2]) < 0) {
			pre.WriteString("%25")
			continue
		}
		pre.WriteByte(s[i])
	}
	in := pre.String()

	u, err := url.Parse(in)
	if err != nil || u.Host == "" {
		// Some feeds write "http:/example.org/path" with a single slash.
		// Collapse "scheme:/+" to "scheme://" and retry once.
		if m := schemeSlashesRe.FindStringSubmatchIndex(in); m != nil {
			retry := schemeSlashesRe.ReplaceAllString(in, "$1://")
			u, err = url.Parse(retry)
		}
	}
	if err != nil {
		return "", &Error{URL: s, Reason: err.Error()}
	}
	if u.Host == "" {
		return "", &Error{URL: s, Reason: "no host"}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &Error{URL: s, Reason: "scheme must be http or https"}
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Hostname())
	encodedHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", &Error{URL: s, Reason: "invalid host: " + err.Error()}
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		if _, perr := strconv.Atoi(port); perr != nil {
			return "", &Error{URL: s, Reason: "invalid port"}
		}
		u.Host = encodedHost + ":" + port
	} else {
		u.Host = encodedHost
	}

	if u.User != nil {
		username := percentEncodeField(u.User.Username())
		if pw, ok := u.User.Password(); ok && pw != "" {
			u.User = url.UserPassword(username, percentEncodeField(pw))
		} else if username != "" {
			u.User = url.User(username)
		} else {
			u.User = nil
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	path = percentEncodeField(path)

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(percentEncodeField(u.RawQuery))
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(percentEncodeField(u.EscapedFragment()))
	}

	return b.String(), nil
}

var validPercentEscape = regexp.MustCompile(`^%([0-9A-Fa-f]{2}|u[0-9A-Fa-f]{4})`)

// percentEncodeField re-encodes a URL field (path, query, fragment, user,
// password) so that every byte <0x20 or >0x7E, and every "%" not already
// starting a valid escape (two hex digits, or "u" + four hex digits), is
// percent-encoded. Already-valid escapes are passed through unchanged.
func percentEncodeField(s string) string {
	var b strings.Builder
	bs := []byte(s)
	for i := 0; i < len(bs); i++ {
		c := bs[i]
		if c == '%' {
			if validPercentEscape.Match(bs[i:]) {
				b.WriteByte(c)
				continue
			}
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		if c < 0x20 || c > 0x7E {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
