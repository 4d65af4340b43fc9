// Package session implements the cycle-based retrieval dispatcher: it
// loads the startup work sets, runs one load_history cycle, then repeats
// shuffle-and-retrieve_next cycles until every document's worklist has
// drained.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/chronicle/capturedoc"
	"github.com/use-agent/chronicle/httpengine"
	"github.com/use-agent/chronicle/store"
)

// Stats is a snapshot of dispatcher progress, reported periodically and
// once more at shutdown.
type Stats struct {
	ToDo     int
	Complete int
	Errored  int

	EnginePending  int64
	EngineErrors   int64
	EngineRequests int64
}

// Dispatcher drives the full retrieval session: startup discovery, the
// cycle 0 load phase, and the cycle N>=1 retrieval phases.
type Dispatcher struct {
	Repo     store.Repository
	Pipeline *capturedoc.Pipeline
	Engine   *httpengine.Engine // optional; supplies progress counters only

	ArchiveName string
	Concurrency int

	ProgressInterval time.Duration
	OnProgress       func(Stats)

	Log *slog.Logger

	toDo     atomic.Int64
	complete atomic.Int64
	errored  atomic.Int64
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d *Dispatcher) concurrency() int {
	if d.Concurrency > 0 {
		return d.Concurrency
	}
	return 4
}

// Run executes the full session: discovery, the load_history cycle, and
// retrieve_next cycles until no document has work remaining or ctx is
// cancelled. Cancellation is cooperative: the in-flight cycle finishes,
// and Run returns ctx.Err() once no further cycle is started.
func (d *Dispatcher) Run(ctx context.Context) error {
	docs, completeAtStart, err := d.loadStartupSets(ctx)
	if err != nil {
		return fmt.Errorf("session: startup discovery: %w", err)
	}
	d.logger().Info("session starting",
		"unprocessed_and_partial", len(docs), "already_complete", completeAtStart)
	d.complete.Store(int64(completeAtStart))
	d.toDo.Store(int64(len(docs)))

	stop := d.startProgressReporter(ctx)
	defer stop()

	d.runCycle(ctx, docs, func(ctx context.Context, doc *capturedoc.Document) error {
		return d.Pipeline.LoadHistory(ctx, doc)
	})
	docs = d.dropProcessed(docs)

	for cycle := 1; len(docs) > 0; cycle++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rand.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
		d.logger().Info("retrieval cycle starting", "cycle", cycle, "documents", len(docs))
		d.runCycle(ctx, docs, func(ctx context.Context, doc *capturedoc.Document) error {
			return d.Pipeline.RetrieveNext(ctx, doc)
		})
		docs = d.dropProcessed(docs)
	}

	return ctx.Err()
}

// loadStartupSets builds the working Document set from the completely
// unprocessed and partially processed URLs, per the retrieval session's
// startup contract, and returns the already-complete count for progress
// reporting.
func (d *Dispatcher) loadStartupSets(ctx context.Context) ([]*capturedoc.Document, int, error) {
	unprocessed, err := d.Repo.UnprocessedURLIDs(ctx, d.ArchiveName)
	if err != nil {
		return nil, 0, fmt.Errorf("unprocessed urls: %w", err)
	}
	partial, err := d.Repo.PartiallyProcessedURLIDs(ctx, d.ArchiveName)
	if err != nil {
		return nil, 0, fmt.Errorf("partially processed urls: %w", err)
	}
	complete, err := d.Repo.ProcessedCount(ctx, d.ArchiveName)
	if err != nil {
		return nil, 0, fmt.Errorf("processed count: %w", err)
	}

	docs := make([]*capturedoc.Document, 0, len(unprocessed)+len(partial))
	for _, id := range append(unprocessed, partial...) {
		rawURL, err := d.Repo.URLString(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("url string for id %d: %w", id, err)
		}
		docs = append(docs, capturedoc.New(rawURL, id, time.Time{}, time.Time{}))
	}
	return docs, complete, nil
}

// runCycle fans step out across the document set, bounded by
// Concurrency, and waits for every task to finish before returning. It is
// the cycle-boundary barrier: steps run under a context that ctx's
// cancellation does not reach, so cancellation never interrupts a
// document mid-step, only prevents the next cycle.
func (d *Dispatcher) runCycle(ctx context.Context, docs []*capturedoc.Document, step func(context.Context, *capturedoc.Document) error) {
	sem := make(chan struct{}, d.concurrency())
	var wg sync.WaitGroup

	for _, doc := range docs {
		doc := doc
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := step(context.WithoutCancel(ctx), doc); err != nil {
				d.errored.Add(1)
				d.logger().Error("cycle step failed", "url", doc.URL, "error", err)
			}
		}()
	}
	wg.Wait()
}

// dropProcessed compacts docs to the ones still having worklist state,
// crediting the just-finished documents to the completed counter.
func (d *Dispatcher) dropProcessed(docs []*capturedoc.Document) []*capturedoc.Document {
	remaining := docs[:0]
	for _, doc := range docs {
		if doc.Processed {
			d.complete.Add(1)
		} else {
			remaining = append(remaining, doc)
		}
	}
	d.toDo.Store(int64(len(remaining)))
	return remaining
}

// startProgressReporter periodically invokes OnProgress with a Stats
// snapshot until ctx is done. It returns a stop function the caller must
// call once, which emits one final snapshot and stops the ticker.
func (d *Dispatcher) startProgressReporter(ctx context.Context) func() {
	if d.OnProgress == nil {
		return func() {}
	}
	interval := d.ProgressInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.OnProgress(d.snapshot())
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			d.OnProgress(d.snapshot())
		})
	}
}

func (d *Dispatcher) snapshot() Stats {
	s := Stats{
		ToDo:     int(d.toDo.Load()),
		Complete: int(d.complete.Load()),
		Errored:  int(d.errored.Load()),
	}
	if d.Engine != nil {
		s.EnginePending = atomic.LoadInt64(&d.Engine.Pending)
		s.EngineErrors = atomic.LoadInt64(&d.Engine.Errors)
		s.EngineRequests = atomic.LoadInt64(&d.Engine.Requests)
	}
	return s
}
