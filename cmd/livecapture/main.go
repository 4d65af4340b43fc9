// Command livecapture runs the proxy/VPN-backed live-capture variant:
// it reads a set of network vantage points and a list of URLs, captures
// each URL's live page once per document through a vantage point's
// headless browser, and writes one capture file per URL to an output
// directory.
package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/use-agent/chronicle/archive"
	"github.com/use-agent/chronicle/capturefile"
	"github.com/use-agent/chronicle/config"
	"github.com/use-agent/chronicle/progress"
	"github.com/use-agent/chronicle/proxyset"
)

func main() {
	fs := flag.NewFlagSet("livecapture", flag.ExitOnError)
	workersPerLocation := fs.Int("workers-per-location", 0, "override workers per vantage point")
	totalWorkers := fs.Int("total-workers", 0, "override total concurrent captures")
	maxSimultaneousProxies := fs.Int("max-simultaneous-proxies", 0, "override max vantage points run at once")
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: livecapture <locations-file> <urls-file> <output-dir> "+
			"[--workers-per-location N] [--total-workers N] [--max-simultaneous-proxies N]")
		os.Exit(2)
	}
	locationsPath, urlsPath, outputDir := args[0], args[1], args[2]

	cfg := config.Load()
	initLogger(cfg.Log)

	if *workersPerLocation > 0 {
		cfg.LiveCapture.WorkersPerLocation = *workersPerLocation
	}
	if *totalWorkers > 0 {
		cfg.LiveCapture.TotalWorkers = *totalWorkers
	}
	if *maxSimultaneousProxies > 0 {
		cfg.LiveCapture.MaxSimultaneousProxies = *maxSimultaneousProxies
	}

	points, err := loadLocations(locationsPath, cfg.LiveCapture.MaxSimultaneousProxies)
	if err != nil {
		slog.Error("failed to load locations file", "error", err)
		os.Exit(1)
	}
	if len(points) == 0 {
		slog.Error("locations file configured no vantage points")
		os.Exit(1)
	}
	urls, err := loadURLs(urlsPath)
	if err != nil {
		slog.Error("failed to load urls file", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		slog.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	slog.Info("livecapture starting",
		"locations", len(points), "urls", len(urls),
		"workersPerLocation", cfg.LiveCapture.WorkersPerLocation,
		"totalWorkers", cfg.LiveCapture.TotalWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := proxyset.NewManager(cfg.LiveCapture.WorkersPerLocation, slog.Default())
	manager.Headless = cfg.LiveCapture.Headless
	manager.BrowserBin = cfg.LiveCapture.BrowserBin

	var onlineCount atomic.Int64
	manager.OnStatusChange = func(s proxyset.Status) {
		if s.Online {
			onlineCount.Add(1)
		} else {
			onlineCount.Add(-1)
		}
		slog.Info("vantage point status changed", "label", s.Label, "online", s.Online)
	}

	var managerWG sync.WaitGroup
	managerWG.Add(1)
	go func() {
		defer managerWG.Done()
		if err := manager.Run(ctx, points); err != nil && ctx.Err() == nil {
			slog.Error("vantage point manager exited with error", "error", err)
		}
	}()

	reporter := progress.NewReporter(os.Stdout)
	start := time.Now()
	var done, errored atomic.Int64

	sem := make(chan struct{}, cfg.LiveCapture.TotalWorkers)
	var wg sync.WaitGroup
	labels := pointLabels(points)

urls_loop:
	for i, rawURL := range urls {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break urls_loop
		}

		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			label := labels[i%len(labels)]
			if err := captureOne(ctx, manager, label, rawURL, outputDir); err != nil {
				errored.Add(1)
				slog.Error("capture failed", "url", rawURL, "vantagePoint", label, "error", err)
			} else {
				done.Add(1)
			}
			reporter.Render(fmt.Sprintf("%d/%d done, %d errors  |  %d vantage points online",
				done.Load(), len(urls), errored.Load(), onlineCount.Load()))
		}(i, rawURL)
	}
	wg.Wait()
	reporter.Done()

	stop()
	managerWG.Wait()
	slog.Info("livecapture stopped", "done", done.Load(), "errors", errored.Load(), "elapsed", time.Since(start))
}

// captureOne fetches rawURL through the named vantage point and writes the
// resulting capture file to outputDir, named by the SHA-256 of the URL
// string so a rerun overwrites rather than duplicating.
func captureOne(ctx context.Context, manager *proxyset.Manager, label, rawURL, outputDir string) error {
	result, err := manager.Capture(ctx, label, rawURL)
	if err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(rawURL))
	path := filepath.Join(outputDir, hex.EncodeToString(sum[:])+".cap")

	return capturefile.Write(path, capturefile.Capture{
		OriginalURL:  rawURL,
		FinalURL:     result.FinalURL,
		CoarseResult: coarseResultFor(result.StatusCode),
		FineDetail:   fineDetailFor(result.StatusCode),
		Elapsed:      result.Elapsed,
		HTML:         result.RawHTML,
		Log:          result.Log,
	})
}

// coarseResultFor and fineDetailFor reuse the archive path's result
// taxonomy, so both capture variants record the same result text.
func coarseResultFor(status int) string {
	return archive.CoarseResult(status)
}

func fineDetailFor(status int) string {
	return archive.FineResult(status, http.StatusText(status))
}

func pointLabels(points []proxyset.VantagePoint) []string {
	labels := make([]string, len(points))
	for i, p := range points {
		labels[i] = p.Label
	}
	return labels
}

// loadLocations parses the vantage-point config file and, when the
// configured file names more points than maxSimultaneous allows, keeps
// only the first maxSimultaneous and logs which ones were dropped rather
// than attempting to rotate a larger set through a smaller capacity.
func loadLocations(path string, maxSimultaneous int) ([]proxyset.VantagePoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open locations file: %w", err)
	}
	defer f.Close()

	points, err := proxyset.ParseConfig(f)
	if err != nil {
		return nil, err
	}
	if maxSimultaneous > 0 && len(points) > maxSimultaneous {
		slog.Warn("configured locations exceed max-simultaneous-proxies, using the first N",
			"configured", len(points), "max", maxSimultaneous)
		points = points[:maxSimultaneous]
	}
	return points, nil
}

// loadURLs reads a line-oriented UTF-8 URL list; blank lines and lines
// starting with "#" are ignored.
func loadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
