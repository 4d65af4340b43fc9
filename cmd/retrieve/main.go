// Command retrieve runs the archive-backed retrieval dispatcher: given a
// database already seeded with url_strings rows, it walks every URL's
// snapshot history and retrieves, extracts, and interns whatever hasn't
// been captured yet, resuming cleanly on restart.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/chronicle/archive"
	"github.com/use-agent/chronicle/capturedoc"
	"github.com/use-agent/chronicle/config"
	"github.com/use-agent/chronicle/httpengine"
	"github.com/use-agent/chronicle/intern"
	"github.com/use-agent/chronicle/parked"
	"github.com/use-agent/chronicle/progress"
	"github.com/use-agent/chronicle/segment"
	"github.com/use-agent/chronicle/session"
	"github.com/use-agent/chronicle/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: retrieve <dbname>")
		os.Exit(2)
	}
	dsn := os.Args[1]

	cfg := config.Load()
	initLogger(cfg.Log)

	slog.Info("retrieve starting", "archive", cfg.Archive.Host, "concurrency", cfg.Retrieval.Concurrency)

	repo, err := store.Open(dsn)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	engine := httpengine.New(httpengine.Config{
		Rate:            cfg.Engine.Rate,
		Concurrency:     cfg.Engine.Concurrency,
		QueryTimeout:    cfg.Engine.QueryTimeout,
		ConnectTimeout:  cfg.Engine.ConnectTimeout,
		SessionTimeout:  cfg.Engine.SessionTimeout,
		SessionPoolSize: cfg.Engine.SessionPoolSize,
	})

	archiveClient := archive.New(cfg.Archive.Host, engine, slog.Default())

	segments := segment.NewRegistry()
	if cfg.Segmenter.ExternalCommand != "" {
		registerExternalSegmenters(segments, cfg.Segmenter)
	}

	pipeline := &capturedoc.Pipeline{
		Archive:     archiveClient,
		Repo:        repo,
		Intern:      intern.New(repo),
		Parked:      parked.NewClassifier(),
		Segments:    segments,
		Log:         slog.Default(),
		ArchiveName: cfg.Archive.Host,
	}

	reporter := progress.NewReporter(os.Stdout)
	start := time.Now()

	dispatcher := &session.Dispatcher{
		Repo:             repo,
		Pipeline:         pipeline,
		Engine:           engine,
		ArchiveName:      cfg.Archive.Host,
		Concurrency:      cfg.Retrieval.Concurrency,
		ProgressInterval: cfg.Retrieval.ProgressInterval,
		Log:              slog.Default(),
		OnProgress: func(s session.Stats) {
			reporter.Render(progress.FormatStats(s, time.Since(start)))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("dispatcher exited with error", "error", err)
		reporter.Done()
		os.Exit(1)
	}
	reporter.Done()
	slog.Info("retrieve stopped")
}

// registerExternalSegmenters wires one external-process segmenter to the
// two dedicated-process consumers named in the design: Chinese and
// Arabic, both of which need a real tokenizer beyond the regex default.
func registerExternalSegmenters(reg *segment.Registry, cfg config.SegmenterConfig) {
	for _, lang := range []segment.Lang{segment.LangChinese, segment.LangArabic} {
		proc, err := segment.NewExternalProcess(context.Background(), cfg.ExternalCommand, cfg.ExternalArgs...)
		if err != nil {
			slog.Error("failed to start external segmenter", "lang", lang, "error", err)
			continue
		}
		reg.Register(lang, proc)
	}
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
