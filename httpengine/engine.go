// Package httpengine implements a rate-limited, bounded-concurrency,
// timeout-enforcing, session-rotating HTTP fetch facility for talking to a
// quirky upstream archive.
package httpengine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/time/rate"
)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only, so Go's http.Transport (which cannot speak HTTP/2 over a
// utls connection) never has it negotiated out from under it.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Config parameterizes a Engine.
type Config struct {
	Rate            float64       // requests per second
	Concurrency     int           // max in-flight acquisitions
	QueryTimeout    time.Duration // applies to every operation within a scoped acquisition
	ConnectTimeout  time.Duration
	SessionTimeout  time.Duration // session lifetime before it's retired
	SessionPoolSize int
	Headers         map[string]string
}

func (c Config) withDefaults() Config {
	if c.Rate <= 0 {
		c.Rate = 2
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 5 * time.Minute
	}
	if c.SessionPoolSize <= 0 {
		c.SessionPoolSize = c.Concurrency
	}
	return c
}

// Engine is a rate-limited, bounded-concurrency, session-rotating HTTP
// fetch facility. Callers issue requests through Do, which holds a
// concurrency slot and a pooled session for one request and releases both
// before returning.
type Engine struct {
	cfg     Config
	limiter *rate.Limiter
	sem     chan struct{}

	mu       sync.Mutex
	sessions []*session
	next     int // round-robin cursor

	Pending int64 // atomic counters, read by the dispatcher for progress
	Errors  int64
	Requests int64
}

// session wraps an *http.Client with a creation time (for session_timeout
// expiry) and a monotonic per-session request counter used for rotation
// bookkeeping.
type session struct {
	client    *http.Client
	createdAt time.Time
	requests  int64
	retired   bool
}

// New creates an Engine from cfg, filling in defaults for any zero field.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Result is the outcome of Do.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Do performs req.URL through a rate-limited, pool-rotated session within
// query_timeout, round-robining across up to SessionPoolSize sessions. It
// blocks until the time-since-last-tick is >= 1/rate and a concurrency
// slot is free. A session whose request fails is retired, and a retired or
// expired session is replaced by a fresh one on its next turn.
func (e *Engine) Do(ctx context.Context, req *http.Request) (*Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	atomic.AddInt64(&e.Pending, 1)
	defer func() {
		<-e.sem
		atomic.AddInt64(&e.Pending, -1)
	}()

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	sess := e.acquireSession()
	for k, v := range e.cfg.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	req = req.WithContext(qctx)

	resp, err := sess.client.Do(req)
	atomic.AddInt64(&e.Requests, 1)
	if err != nil {
		atomic.AddInt64(&e.Errors, 1)
		e.retire(sess)
		return nil, fmt.Errorf("httpengine: do: %w", err)
	}
	defer resp.Body.Close()

	const maxBody = 64 << 20
	body, err := readLimited(resp.Body, maxBody)
	if err != nil {
		atomic.AddInt64(&e.Errors, 1)
		return nil, fmt.Errorf("httpengine: read body: %w", err)
	}

	finalURL := req.URL.String()
	if resp.Request != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}

// ClearCookies drops any accumulated cookies from every pooled session's jar.
// The archive echoes Set-Cookie on every response and will eventually
// reject requests carrying oversized accumulated headers.
func (e *Engine) ClearCookies() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		s.client.Jar = nil
	}
}

// acquireSession returns the next round-robin session, creating one if the
// pool isn't full yet, or recycling an expired/retired slot.
func (e *Engine) acquireSession() *session {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sessions) < e.cfg.SessionPoolSize {
		s := e.newSession()
		e.sessions = append(e.sessions, s)
		return s
	}

	for i := 0; i < len(e.sessions); i++ {
		idx := (e.next + i) % len(e.sessions)
		s := e.sessions[idx]
		if s.retired || time.Since(s.createdAt) > e.cfg.SessionTimeout {
			s = e.newSession()
			e.sessions[idx] = s
		}
		e.next = (idx + 1) % len(e.sessions)
		atomic.AddInt64(&s.requests, 1)
		return s
	}

	// Unreachable: SessionPoolSize is always >= 1.
	s := e.newSession()
	e.sessions = append(e.sessions, s)
	return s
}

func (e *Engine) retire(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.retired = true
}

func (e *Engine) newSession() *session {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: e.cfg.ConnectTimeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("httpengine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	jar, _ := newCookieJar()
	return &session{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // the archive client redirects manually
			},
		},
		createdAt: time.Now(),
	}
}
