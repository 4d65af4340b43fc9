package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/chronicle/archive"
	"github.com/use-agent/chronicle/capturedoc"
	"github.com/use-agent/chronicle/intern"
	"github.com/use-agent/chronicle/parked"
	"github.com/use-agent/chronicle/segment"
	"github.com/use-agent/chronicle/store"
)

type fakeArchive struct{}

func (fakeArchive) ListSnapshots(ctx context.Context, rawURL string) ([]time.Time, error) {
	base, _ := time.Parse("2006-01-02", "2015-01-01")
	return []time.Time{base, base.AddDate(1, 0, 0), base.AddDate(2, 0, 0)}, nil
}

func (fakeArchive) GetPageAt(ctx context.Context, rawURL string, ts time.Time) (*archive.Page, error) {
	return &archive.Page{
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte("<html><body><p>a perfectly ordinary test fixture page</p></body></html>"),
	}, nil
}

// fakeRepo is a minimal in-memory store.Repository covering what the
// dispatcher's startup discovery and the capturedoc transitions it
// drives need.
type fakeRepo struct {
	mu sync.Mutex

	urls         map[int64]string
	unprocessed  []int64
	partial      []int64
	processedCnt int

	avail     map[int64]store.Availability
	captured  map[int64]map[time.Time]bool
	processed map[int64]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		urls:      map[int64]string{},
		avail:     map[int64]store.Availability{},
		captured:  map[int64]map[time.Time]bool{},
		processed: map[int64]bool{},
	}
}

func (r *fakeRepo) InternURL(ctx context.Context, canonicalURL string) (int64, error) { return 0, nil }

func (r *fakeRepo) GetAvailability(ctx context.Context, archiveName string, urlID int64) (*store.Availability, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.avail[urlID]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (r *fakeRepo) CreateAvailability(ctx context.Context, a store.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avail[a.URLID] = a
	return nil
}

func (r *fakeRepo) MarkProcessed(ctx context.Context, archiveName string, urlID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[urlID] = true
	return nil
}

func (r *fakeRepo) CapturedTimestamps(ctx context.Context, archiveName string, urlID int64) (map[time.Time]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captured[urlID], nil
}

func (r *fakeRepo) InternHTMLContent(ctx context.Context, hash [32]byte, content []byte) (int64, bool, bool, error) {
	return 1, false, false, nil
}

func (r *fakeRepo) InternArtifact(ctx context.Context, kind string, hash [32]byte, blob []byte) (int64, error) {
	return 1, nil
}

func (r *fakeRepo) InternPrunedSegmented(ctx context.Context, hash [32]byte, plaintext string, segmented []byte) (int64, error) {
	return 1, nil
}

func (r *fakeRepo) SetExtracted(ctx context.Context, htmlContentID int64, artifacts store.ExtractedArtifacts, isParked bool, parkingRules []string) error {
	return nil
}

func (r *fakeRepo) InsertHistoricalPage(ctx context.Context, p store.HistoricalPage) error {
	return nil
}

func (r *fakeRepo) SetExtractedAndInsertHistoricalPage(ctx context.Context, htmlContentID int64, artifacts store.ExtractedArtifacts, isParked bool, parkingRules []string, p store.HistoricalPage) error {
	return nil
}

func (r *fakeRepo) UnprocessedURLIDs(ctx context.Context, archiveName string) ([]int64, error) {
	return r.unprocessed, nil
}

func (r *fakeRepo) PartiallyProcessedURLIDs(ctx context.Context, archiveName string) ([]int64, error) {
	return r.partial, nil
}

func (r *fakeRepo) ProcessedCount(ctx context.Context, archiveName string) (int, error) {
	return r.processedCnt, nil
}

func (r *fakeRepo) URLString(ctx context.Context, urlID int64) (string, error) {
	return r.urls[urlID], nil
}

func (r *fakeRepo) Close() error { return nil }

func newTestDispatcher(repo *fakeRepo) *Dispatcher {
	pipeline := &capturedoc.Pipeline{
		Archive:     fakeArchive{},
		Repo:        repo,
		Intern:      intern.New(repo),
		Parked:      parked.NewClassifier(),
		Segments:    segment.NewRegistry(),
		ArchiveName: "web.archive.org",
	}
	return &Dispatcher{
		Repo:        repo,
		Pipeline:    pipeline,
		ArchiveName: "web.archive.org",
		Concurrency: 2,
	}
}

func TestRunDrainsAllDocumentsToCompletion(t *testing.T) {
	repo := newFakeRepo()
	repo.urls[1] = "http://one.example/"
	repo.urls[2] = "http://two.example/"
	repo.unprocessed = []int64{1, 2}
	repo.processedCnt = 3

	d := newTestDispatcher(repo)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !repo.processed[1] || !repo.processed[2] {
		t.Error("expected both documents to end up marked processed")
	}
	if got := d.snapshot().Complete; got != 5 {
		t.Errorf("final complete count = %d, want 5 (3 pre-existing + 2 drained)", got)
	}
	if got := d.snapshot().ToDo; got != 0 {
		t.Errorf("final to-do count = %d, want 0", got)
	}
}

func TestRunReportsProgressPeriodically(t *testing.T) {
	repo := newFakeRepo()
	repo.urls[1] = "http://one.example/"
	repo.unprocessed = []int64{1}

	d := newTestDispatcher(repo)
	d.ProgressInterval = 10 * time.Millisecond

	var mu sync.Mutex
	var reports []Stats
	d.OnProgress = func(s Stats) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 {
		t.Fatal("expected at least the final progress report")
	}
	last := reports[len(reports)-1]
	if last.Complete != 1 {
		t.Errorf("final report Complete = %d, want 1", last.Complete)
	}
}

func TestRunNoopWhenNoWorkOutstanding(t *testing.T) {
	repo := newFakeRepo()
	repo.processedCnt = 7

	d := newTestDispatcher(repo)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := d.snapshot().Complete; got != 7 {
		t.Errorf("Complete = %d, want 7", got)
	}
}

func TestRunHonorsCancellationAtCycleBoundary(t *testing.T) {
	repo := newFakeRepo()
	repo.urls[1] = "http://one.example/"
	repo.unprocessed = []int64{1}

	d := newTestDispatcher(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before Run starts

	err := d.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to report cancellation once no further cycle starts")
	}
}
