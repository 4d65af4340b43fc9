package httpengine

import (
	"io"
	"net/http/cookiejar"
)

func newCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(nil)
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, max))
}
