package proxyset

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/chronicle/capture"
)

// ovpnReadyMarker is the line OpenVPN writes to its own log once the
// tunnel is usable; used as the readiness signal before a vantage
// point's browser is launched.
const ovpnReadyMarker = "Initialization Sequence Completed"

// CaptureResult is one live-capture fetch's outcome.
type CaptureResult struct {
	FinalURL   string
	StatusCode int
	RawHTML    []byte
	Elapsed    time.Duration
	Log        har.HAR
}

// Status reports a vantage point's online/offline transition.
type Status struct {
	Label  string
	Online bool
}

// pointState is the live, mutable state of one configured vantage point.
type pointState struct {
	cfg VantagePoint

	sem     chan struct{} // bounds concurrent captures to WorkersPerPoint
	backoff *capture.Backoff
	online  atomic.Bool
	ovpnIdx int

	mu       sync.Mutex
	tunnel   *exec.Cmd
	browser  *rod.Browser
	pagePool rod.Pool[rod.Page]
}

// Manager supervises one vantage point per configured network egress:
// starting its tunnel (if any) and browser, restarting both on crash with
// exponential backoff, and running captures through a per-point worker
// pool.
type Manager struct {
	WorkersPerPoint int
	Headless        bool
	BrowserBin      string // empty: rod's bundled/auto-downloaded binary

	OnStatusChange func(Status)
	Log            *slog.Logger

	mu     sync.Mutex
	points map[string]*pointState
}

// NewManager returns a Manager ready to supervise points. Run must be
// called to actually start them.
func NewManager(workersPerPoint int, log *slog.Logger) *Manager {
	if workersPerPoint < 1 {
		workersPerPoint = 1
	}
	return &Manager{
		WorkersPerPoint: workersPerPoint,
		Log:             log,
		points:          map[string]*pointState{},
	}
}

func (m *Manager) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}

// Run supervises every vantage point in points until ctx is cancelled.
// Each vantage point runs its own start/crash/backoff/restart loop
// independently; Run returns once all of them have exited.
func (m *Manager) Run(ctx context.Context, points []VantagePoint) error {
	var wg sync.WaitGroup
	for _, vp := range points {
		ps := &pointState{
			cfg:     vp,
			sem:     make(chan struct{}, m.WorkersPerPoint),
			backoff: capture.NewBackoff(),
		}
		m.mu.Lock()
		m.points[vp.Label] = ps
		m.mu.Unlock()

		wg.Add(1)
		go func(ps *pointState) {
			defer wg.Done()
			m.superviseLoop(ctx, ps)
		}(ps)
	}
	wg.Wait()
	return ctx.Err()
}

// superviseLoop starts a vantage point, waits for it to fail (tunnel
// process exit, for ovpn points) or for ctx to cancel, tears it down, and
// restarts after a backoff, round-robining to the next OpenVPN config on
// each restart.
func (m *Manager) superviseLoop(ctx context.Context, ps *pointState) {
	for ctx.Err() == nil {
		if err := m.start(ctx, ps); err != nil {
			m.setOnline(ps, false)
			m.logger().Error("vantage point failed to start", "label", ps.cfg.Label, "error", err)
			if ps.cfg.Method == MethodOVPN {
				ps.ovpnIdx++
			}
			if waitErr := ps.backoff.Wait(ctx); waitErr != nil {
				return
			}
			continue
		}

		m.setOnline(ps, true)
		ps.backoff.Reset()

		m.awaitFailure(ctx, ps)

		m.setOnline(ps, false)
		m.teardown(ps)
		if ctx.Err() != nil {
			return
		}
		if ps.cfg.Method == MethodOVPN {
			ps.ovpnIdx++
		}
		if err := ps.backoff.Wait(ctx); err != nil {
			return
		}
	}
}

func (m *Manager) setOnline(ps *pointState, online bool) {
	if ps.online.Swap(online) == online {
		return
	}
	if m.OnStatusChange != nil {
		m.OnStatusChange(Status{Label: ps.cfg.Label, Online: online})
	}
}

// start brings up the tunnel (if configured) and the browser for ps.
func (m *Manager) start(ctx context.Context, ps *pointState) error {
	if ps.cfg.Method == MethodOVPN {
		if err := m.startTunnel(ctx, ps); err != nil {
			return fmt.Errorf("start tunnel: %w", err)
		}
	}

	l := launcher.New().Headless(m.Headless).NoSandbox(true)
	if m.BrowserBin != "" {
		l = l.Bin(m.BrowserBin)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		m.stopTunnel(ps)
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		m.stopTunnel(ps)
		return fmt.Errorf("connect to browser: %w", err)
	}

	ps.mu.Lock()
	ps.browser = browser
	ps.pagePool = rod.NewPagePool(m.WorkersPerPoint)
	ps.mu.Unlock()
	return nil
}

// startTunnel launches the OpenVPN subprocess for ps against the next
// config in its round-robin rotation and blocks until its log reports the
// tunnel is up, or ctx is done.
func (m *Manager) startTunnel(ctx context.Context, ps *pointState) error {
	cfgPath := ps.cfg.nextOVPNConfig(ps.ovpnIdx)
	cmd := exec.CommandContext(ctx, "openvpn", "--config", cfgPath, "--auth-nocache")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return err
	}

	ready := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			m.logger().Debug("openvpn", "label", ps.cfg.Label, "line", line)
			if strings.Contains(line, ovpnReadyMarker) {
				close(ready)
				break
			}
		}
		for scanner.Scan() {
			m.logger().Debug("openvpn", "label", ps.cfg.Label, "line", scanner.Text())
		}
	}()

	select {
	case <-ready:
		ps.mu.Lock()
		ps.tunnel = cmd
		ps.mu.Unlock()
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case <-time.After(30 * time.Second):
		_ = cmd.Process.Kill()
		return fmt.Errorf("openvpn tunnel %q did not come up within 30s", ps.cfg.Label)
	}
}

// awaitFailure blocks until the vantage point's tunnel process exits (for
// ovpn points) or ctx is cancelled. Direct vantage points have no
// subprocess to watch, so for them it returns only when ctx is cancelled;
// a failure that Capture reports through ReportFailure does not end it.
func (m *Manager) awaitFailure(ctx context.Context, ps *pointState) {
	ps.mu.Lock()
	tunnel := ps.tunnel
	ps.mu.Unlock()

	if tunnel == nil {
		<-ctx.Done()
		return
	}
	done := make(chan struct{})
	go func() {
		_ = tunnel.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) teardown(ps *pointState) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.pagePool != nil {
		ps.pagePool.Cleanup(func(p *rod.Page) { _ = p.Close() })
	}
	if ps.browser != nil {
		_ = ps.browser.Close()
		ps.browser = nil
	}
	// stopTunnel takes ps.mu itself.
	ps.mu.Unlock()
	m.stopTunnel(ps)
	ps.mu.Lock()
}

func (m *Manager) stopTunnel(ps *pointState) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.tunnel != nil && ps.tunnel.Process != nil {
		_ = ps.tunnel.Process.Kill()
	}
	ps.tunnel = nil
}

// ReportFailure marks label offline, for failures detected by a Capture
// caller rather than by a watched subprocess exiting. It does not wake
// the supervise loop: no teardown or restart follows, and the point stays
// offline until its tunnel process exits and the loop restarts it.
func (m *Manager) ReportFailure(label string) {
	m.mu.Lock()
	ps, ok := m.points[label]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.setOnline(ps, false)
}

// Capture fetches rawURL through the named vantage point's browser and
// returns the rendered HTML plus a minimal HAR log for the document
// request, matching the capture-file format's "har_json" payload.
func (m *Manager) Capture(ctx context.Context, label, rawURL string) (*CaptureResult, error) {
	m.mu.Lock()
	ps, ok := m.points[label]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("proxyset: unknown vantage point %q", label)
	}
	if !ps.online.Load() {
		return nil, fmt.Errorf("proxyset: vantage point %q is offline", label)
	}

	select {
	case ps.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-ps.sem }()

	ps.mu.Lock()
	browser, pool := ps.browser, ps.pagePool
	ps.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("proxyset: vantage point %q has no live browser", label)
	}

	start := time.Now()
	result, err := m.fetch(ctx, browser, pool, rawURL)
	if err != nil {
		m.ReportFailure(label)
		return nil, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

func (m *Manager) fetch(ctx context.Context, browser *rod.Browser, pool rod.Pool[rod.Page], rawURL string) (*CaptureResult, error) {
	page, err := pool.Get(func() (*rod.Page, error) { return browser.Page(proto.TargetCreateTarget{}) })
	if err != nil {
		return nil, fmt.Errorf("acquire page: %w", err)
	}
	defer func() {
		_ = page.Navigate("about:blank")
		pool.Put(page)
	}()

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		m.logger().Warn("stealth injection failed", "url", rawURL, "error", err)
	}

	p := page.Context(ctx)
	started := time.Now()
	if err := p.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		m.logger().Debug("WaitDOMStable did not converge", "url", rawURL, "error", err)
	}

	statusCode := 200
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`); err == nil && res.Value.Int() != 0 {
		statusCode = res.Value.Int()
	}

	rawHTML, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("extract html: %w", err)
	}
	finalURL := rawURL
	if res, err := p.Eval(`() => window.location.href`); err == nil && res.Value.Str() != "" {
		finalURL = res.Value.Str()
	}

	elapsedMS := float64(time.Since(started)) / float64(time.Millisecond)
	entry := &har.Entry{
		StartedDateTime: started.Format(time.RFC3339Nano),
		Time:            elapsedMS,
		Request: &har.Request{
			Method:      "GET",
			URL:         rawURL,
			HTTPVersion: "HTTP/1.1",
			HeadersSize: -1,
			BodySize:    0,
		},
		Response: &har.Response{
			Status:      int64(statusCode),
			StatusText:  http.StatusText(statusCode),
			HTTPVersion: "HTTP/1.1",
			Content: &har.Content{
				Size:     int64(len(rawHTML)),
				MimeType: "text/html",
			},
			RedirectURL: "",
			HeadersSize: -1,
			BodySize:    int64(len(rawHTML)),
		},
		Cache: &har.Cache{},
		Timings: &har.Timings{
			Send:    0,
			Wait:    elapsedMS,
			Receive: 0,
		},
	}

	return &CaptureResult{
		FinalURL:   finalURL,
		StatusCode: statusCode,
		RawHTML:    []byte(rawHTML),
		Log: har.HAR{
			Log: &har.Log{
				Version: "1.2",
				Creator: &har.Creator{Name: "chronicle-livecapture", Version: "1"},
				Entries: []*har.Entry{entry},
			},
		},
	}, nil
}
