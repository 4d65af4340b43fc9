// Package capturedoc owns one URL's retrieval plan: which snapshots exist,
// which have already been captured, and which remain to fetch. A Document
// is pure state; Pipeline supplies the collaborators (archive client,
// repository, extractor, interning store) that the two transitions —
// LoadHistory and RetrieveNext — drive it through.
package capturedoc

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/use-agent/chronicle/archive"
	"github.com/use-agent/chronicle/capture"
	"github.com/use-agent/chronicle/extract"
	"github.com/use-agent/chronicle/intern"
	"github.com/use-agent/chronicle/parked"
	"github.com/use-agent/chronicle/segment"
	"github.com/use-agent/chronicle/selector"
	"github.com/use-agent/chronicle/store"
)

// maxSegmentedBytes is the size guard from §4.6: text whose UTF-8 encoding
// would exceed this is still interned, but its segmented form is dropped
// rather than risk overflowing the storage layer's per-cell limit.
const maxSegmentedBytes = 80 << 20

// Document tracks one URL's retrieval lifecycle. Zero value is not usable;
// construct via New.
type Document struct {
	URL   string
	URLID int64

	Snapshots []time.Time
	LoDate    time.Time
	HiDate    time.Time

	Texts      map[time.Time]bool
	ToRetrieve []time.Time

	Processed bool

	// Errors counts exceptions caught and logged during RetrieveNext, per
	// the isolation guarantee: a single failing snapshot never abandons
	// the document.
	Errors int
}

// New returns a Document ready for LoadHistory. lo and hi seed the date
// window; either may be the zero time, in which case LoadHistory derives
// it (earliest known snapshot, and now, respectively) since this system
// has no upstream URL-source metadata collaborator of its own.
func New(url string, urlID int64, lo, hi time.Time) *Document {
	return &Document{URL: url, URLID: urlID, LoDate: lo, HiDate: hi}
}

// archiveSource is the narrow subset of *archive.Client that Pipeline
// depends on, so tests can substitute a fake instead of driving a real
// metered HTTP engine.
type archiveSource interface {
	ListSnapshots(ctx context.Context, rawURL string) ([]time.Time, error)
	GetPageAt(ctx context.Context, rawURL string, ts time.Time) (*archive.Page, error)
}

// Pipeline bundles the collaborators every Document transition needs.
type Pipeline struct {
	Archive  archiveSource
	Repo     store.Repository
	Intern   *intern.Store
	Parked   *parked.Classifier
	Segments *segment.Registry
	Log      *slog.Logger

	ArchiveName string // e.g. "web.archive.org", used as the archive key in storage
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// LoadHistory implements the load_history transition: resolve snapshots and
// the date window (from the availability table if already recorded,
// otherwise from the archive), compute already-captured timestamps, and
// build the ruler-ordered retrieval worklist.
func (p *Pipeline) LoadHistory(ctx context.Context, d *Document) error {
	avail, found, err := p.Repo.GetAvailability(ctx, p.ArchiveName, d.URLID)
	if err != nil {
		return fmt.Errorf("capturedoc: load availability: %w", err)
	}

	if found {
		d.Snapshots = avail.Snapshots
		d.LoDate = avail.EarliestDate
		d.HiDate = avail.LatestDate
		d.Processed = avail.Processed
	} else {
		snaps, err := p.Archive.ListSnapshots(ctx, d.URL)
		if err != nil {
			return fmt.Errorf("capturedoc: list snapshots: %w", err)
		}
		d.Snapshots = snaps

		if d.LoDate.IsZero() {
			if len(snaps) > 0 {
				d.LoDate = earliest(snaps)
			} else {
				d.LoDate = time.Now()
			}
		}
		if d.HiDate.IsZero() {
			d.HiDate = time.Now()
		}

		d.Snapshots = append(d.Snapshots, d.HiDate)
		sort.Slice(d.Snapshots, func(i, j int) bool { return d.Snapshots[i].Before(d.Snapshots[j]) })

		if err := p.Repo.CreateAvailability(ctx, store.Availability{
			URLID:        d.URLID,
			Archive:      p.ArchiveName,
			Snapshots:    d.Snapshots,
			EarliestDate: d.LoDate,
			LatestDate:   d.HiDate,
			Processed:    false,
		}); err != nil {
			return fmt.Errorf("capturedoc: persist availability: %w", err)
		}
	}

	captured, err := p.Repo.CapturedTimestamps(ctx, p.ArchiveName, d.URLID)
	if err != nil {
		return fmt.Errorf("capturedoc: load captured timestamps: %w", err)
	}
	d.Texts = captured

	window := selector.Select(d.Snapshots, d.LoDate.AddDate(-1, 0, 0), d.HiDate)
	var remaining []time.Time
	for _, t := range window {
		if !d.Texts[t] {
			remaining = append(remaining, t)
		}
	}
	d.ToRetrieve = selector.RulerOrder(remaining)

	if len(d.ToRetrieve) == 0 {
		d.Processed = true
		if err := p.Repo.MarkProcessed(ctx, p.ArchiveName, d.URLID); err != nil {
			return fmt.Errorf("capturedoc: mark processed: %w", err)
		}
	}
	return nil
}

// RetrieveNext implements the retrieve_next transition: pop one timestamp
// off the end of ToRetrieve, fetch and extract it, and write the extracted
// content plus historical-page record in one logical unit. Errors are
// logged and swallowed — the document stays in the worklist for a later
// cycle — except for context cancellation, which propagates.
func (p *Pipeline) RetrieveNext(ctx context.Context, d *Document) error {
	if len(d.ToRetrieve) == 0 {
		return nil
	}
	ts := d.ToRetrieve[len(d.ToRetrieve)-1]
	d.ToRetrieve = d.ToRetrieve[:len(d.ToRetrieve)-1]

	if err := p.captureOne(ctx, d, ts); err != nil {
		// The timestamp goes back on the worklist so a later cycle
		// retries it.
		d.ToRetrieve = append(d.ToRetrieve, ts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.Errors++
		p.logger().Error("retrieve_next failed",
			"url", d.URL, "timestamp", ts.Format(time.RFC3339), "error", err)
		return nil
	} else {
		if d.Texts == nil {
			d.Texts = map[time.Time]bool{}
		}
		d.Texts[ts] = true
	}

	if len(d.ToRetrieve) == 0 {
		d.Processed = true
		if err := p.Repo.MarkProcessed(ctx, p.ArchiveName, d.URLID); err != nil {
			return fmt.Errorf("capturedoc: mark processed: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) captureOne(ctx context.Context, d *Document, ts time.Time) error {
	page, err := p.Archive.GetPageAt(ctx, d.URL, ts)
	if err != nil {
		return err
	}

	htmlID, hasExtracted, isParked, err := p.Intern.HTMLContent(ctx, page.Body)
	if err != nil {
		return capture.New(capture.ErrCodeInterning, "intern html content", err)
	}

	coarse := archive.CoarseResult(page.StatusCode)
	fine := archive.FineResult(page.StatusCode, page.Reason)
	historicalPage := store.HistoricalPage{
		URLID:         d.URLID,
		Archive:       p.ArchiveName,
		ArchiveTime:   ts,
		RedirURL:      page.FinalURL,
		CoarseResult:  coarse,
		FineResult:    fine,
		HTMLContentID: htmlID,
	}

	if !hasExtracted {
		reg := registeredDomain(d.URL)
		res := p.Parked.Classify(string(page.Body), reg)
		isParked = res.Parked
		historicalPage.IsParked = isParked

		artifacts, err := p.extract(ctx, page)
		if err != nil {
			return err
		}
		// Interning and the historical-page record commit together: no
		// partial page (html_content without its extracted back-pointer
		// set, or vice versa) is ever visible to another reader.
		return p.Repo.SetExtractedAndInsertHistoricalPage(ctx, htmlID, artifacts, res.Parked, res.MatchedRules, historicalPage)
	}

	historicalPage.IsParked = isParked
	return p.Repo.InsertHistoricalPage(ctx, historicalPage)
}

// extract runs content extraction over page and interns every derived
// artifact, returning the set ready for SetExtracted(AndInsertHistoricalPage).
func (p *Pipeline) extract(ctx context.Context, page *archive.Page) (store.ExtractedArtifacts, error) {
	ec, err := extract.Extract(page.FinalURL, page.ContentType, page.Body)
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeExtraction, "extract content", err)
	}

	originalID, olen, err := p.Intern.Original(ctx, page.Body)
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern original", err)
	}
	rawTextID, err := p.Intern.Text(ctx, "content", ec.Content)
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern content", err)
	}
	headingsID, err := p.Intern.Text(ctx, "heads", joinLines(ec.Headings))
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern headings", err)
	}
	linksID, err := p.Intern.JSON(ctx, "links", ec.Links)
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern links", err)
	}
	resourcesID, err := p.Intern.JSON(ctx, "rsrcs", ec.Resources)
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern resources", err)
	}
	domStatsID, err := p.Intern.JSON(ctx, "domst", ec.DOMStats)
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern dom stats", err)
	}

	var segmented []segment.Chunk
	if len(ec.Pruned) <= maxSegmentedBytes {
		segmented, err = segment.DetectAndSegment(p.Segments, ec.Pruned)
		if err != nil {
			p.logger().Warn("segmentation failed, storing pruned text without it",
				"url", page.FinalURL, "error", err)
			segmented = nil
		}
	}

	var prunedID int64
	if segmented != nil {
		prunedID, err = p.Intern.PrunedSegmented(ctx, ec.Pruned, segmented)
	} else {
		prunedID, err = p.Intern.PrunedSegmented(ctx, ec.Pruned, nil)
	}
	if err != nil {
		return store.ExtractedArtifacts{}, capture.New(capture.ErrCodeInterning, "intern pruned+segmented", err)
	}

	return store.ExtractedArtifacts{
		OriginalID:   originalID,
		OriginalLen:  olen,
		ContentLen:   len(ec.Content),
		RawTextID:    rawTextID,
		PrunedTextID: prunedID,
		LinksID:      linksID,
		ResourcesID:  resourcesID,
		HeadingsID:   headingsID,
		DOMStatsID:   domStatsID,
	}, nil
}

func registeredDomain(rawURL string) string {
	host := parseHost(rawURL)
	if host == "" {
		return ""
	}
	if reg, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return reg
	}
	return host
}

func parseHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func earliest(ts []time.Time) time.Time {
	min := ts[0]
	for _, t := range ts[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
