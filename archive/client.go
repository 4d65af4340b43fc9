// Package archive implements the CDX index query and raw snapshot fetch
// against a Wayback-Machine-family archive, including manual redirect
// handling and archive-vs-replayed error classification.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/use-agent/chronicle/canon"
	"github.com/use-agent/chronicle/capture"
	"github.com/use-agent/chronicle/httpengine"
)

// acceptableCDXStatus is the set of HTTP status codes a CDX record may
// carry for it to count as a usable capture.
var acceptableCDXStatus = map[string]bool{
	"200": true, "301": true, "302": true, "303": true, "307": true, "308": true,
}

// Client talks to one archive host through a metered httpengine.Engine.
type Client struct {
	Host   string // e.g. "web.archive.org"
	Engine *httpengine.Engine
	Log    *slog.Logger

	MaxRedirects      int // default 20
	MaxConsecutiveErr int // default 10
}

// New returns a Client bound to host using engine for all requests.
func New(host string, engine *httpengine.Engine, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{Host: host, Engine: engine, Log: log, MaxRedirects: 20, MaxConsecutiveErr: 10}
}

// ListSnapshots queries the CDX index for every capture of rawURL with an
// acceptable status code, collapsed by content digest, and returns the
// sorted list of capture timestamps. It retries indefinitely on transient
// failure with exponential backoff, and treats HTTP 403 as "no captures,
// robots.txt forbids" rather than an error.
func (c *Client) ListSnapshots(ctx context.Context, rawURL string) ([]time.Time, error) {
	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("collapse", "digest")
	q.Set("fl", "original,timestamp,statuscode")
	endpoint := fmt.Sprintf("https://%s/cdx/search/cdx?%s", c.Host, q.Encode())

	bo := capture.NewBackoff()
	for {
		c.Engine.ClearCookies()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("archive: build cdx request: %w", err)
		}
		res, err := c.Engine.Do(ctx, req)
		if err != nil {
			c.Log.Warn("cdx request failed, retrying", "url", rawURL, "err", err)
			if werr := bo.Wait(ctx); werr != nil {
				return nil, werr
			}
			continue
		}

		switch res.StatusCode {
		case http.StatusOK:
			return parseCDXLines(res.Body)
		case http.StatusForbidden:
			c.Log.Info("cdx forbidden by robots.txt, treating as no captures", "url", rawURL)
			return nil, nil
		default:
			c.Log.Warn("cdx retryable status, retrying", "url", rawURL, "status", res.StatusCode)
			if werr := bo.Wait(ctx); werr != nil {
				return nil, werr
			}
		}
	}
}

func parseCDXLines(body []byte) ([]time.Time, error) {
	var out []time.Time
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		status := fields[2]
		if !acceptableCDXStatus[status] {
			continue
		}
		ts, err := time.Parse("20060102150405", fields[1])
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("archive: scan cdx response: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Page is the raw result of fetching one snapshot, before extraction.
type Page struct {
	FinalURL    string
	StatusCode  int
	Reason      string
	ContentType string
	Body        []byte
}

// GetPageAt issues GET https://<host>/web/<timestamp>id_/<rawURL>, following
// up to MaxRedirects manual redirects per the classification rules: a
// Location under /web/ is an archive-internal rewrite (real target
// unchanged); a Location on the archive host is used verbatim (real target
// unchanged); any other Location means the origin site redirected, so the
// real target is updated (canonicalized, resolved against the previous
// target) and the fetch is re-issued at the same timestamp.
func (c *Client) GetPageAt(ctx context.Context, rawURL string, ts time.Time) (*Page, error) {
	realTarget := rawURL
	stamp := ts.Format("20060102150405")
	consecutiveErrors := 0
	firstTry := true
	bo := capture.NewBackoff()

	// nextFetchURL overrides the id_-template request for the upcoming
	// iteration only, when the previous response was an internal redirect
	// (archive-side rewrite or timestamp normalization): the Location
	// itself names the next request, not realTarget/stamp.
	var nextFetchURL string

	for redirects := 0; redirects <= c.MaxRedirects; {
		fetchURL := nextFetchURL
		if fetchURL == "" {
			fetchURL = fmt.Sprintf("https://%s/web/%sid_/%s", c.Host, stamp, realTarget)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return nil, fmt.Errorf("archive: build snapshot request: %w", err)
		}
		res, err := c.Engine.Do(ctx, req)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= c.MaxConsecutiveErr {
				return nil, capture.New(capture.ErrCodeCrawlerFailure,
					"ten consecutive failures fetching snapshot", err)
			}
			if werr := bo.Wait(ctx); werr != nil {
				return nil, werr
			}
			firstTry = false
			// Retry the same request: fetchURL/nextFetchURL is left as-is.
			continue
		}

		if isRedirectStatus(res.StatusCode) {
			loc := res.Header.Get("Location")
			next, internal, ok := classifyRedirect(c.Host, realTarget, loc)
			if !ok {
				// Invalid Location: treat as loop termination, empty body
				// still reaches the extractor.
				return &Page{FinalURL: realTarget, StatusCode: 0, Reason: "redirect loop"}, nil
			}
			redirects++
			if redirects > c.MaxRedirects {
				return &Page{FinalURL: realTarget, StatusCode: 0, Reason: "redirect loop"}, nil
			}
			if internal {
				nextFetchURL = next
			} else {
				realTarget = next
				nextFetchURL = ""
			}
			consecutiveErrors = 0
			firstTry = false
			continue
		}

		classified, reason := classifyStatus(res.StatusCode, res.Body)
		if classified == statusArchiveError {
			if res.StatusCode >= 400 && res.StatusCode < 500 && firstTry {
				// 4xx on the very first try indicates a program bug in how
				// the query was constructed: never retried.
				return nil, capture.New(capture.ErrCodeUpstream,
					fmt.Sprintf("%d %s", res.StatusCode, reason), nil)
			}
			consecutiveErrors++
			if consecutiveErrors >= c.MaxConsecutiveErr {
				return nil, capture.New(capture.ErrCodeCrawlerFailure,
					"ten consecutive failures fetching snapshot", nil)
			}
			if werr := bo.Wait(ctx); werr != nil {
				return nil, werr
			}
			firstTry = false
			continue
		}

		finalURL, _ := canon.Canonicalize(realTarget)
		if finalURL == "" {
			finalURL = realTarget
		}
		return &Page{
			FinalURL:    finalURL,
			StatusCode:  res.StatusCode,
			Reason:      reason,
			ContentType: res.Header.Get("Content-Type"),
			Body:        res.Body,
		}, nil
	}

	return &Page{FinalURL: realTarget, StatusCode: 0, Reason: "redirect loop"}, nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// classifyRedirect implements the three Location-classification rules.
// ok is false for an invalid/unparseable Location (redirect loop).
func classifyRedirect(archiveHost, currentTarget, location string) (next string, internal bool, ok bool) {
	if location == "" {
		return "", false, false
	}
	if strings.HasPrefix(location, "/web/") {
		return "https://" + archiveHost + location, true, true
	}
	if strings.Contains(location, archiveHost) {
		return location, true, true
	}
	resolved, err := resolveAgainst(currentTarget, location)
	if err != nil {
		return "", false, false
	}
	canonical, err := canon.Canonicalize(resolved)
	if err != nil {
		return "", false, false
	}
	return canonical, false, true
}

func resolveAgainst(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
