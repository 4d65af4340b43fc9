// Package store owns all relational persistence: availability records,
// historical page rows, and interned artifacts.
// The schema itself (DDL, migrations) is an external collaborator; this
// package only depends on the table contracts named in the external
// interfaces.
package store

import (
	"context"
	"time"
)

// Availability is the per-(archive, url) availability record.
type Availability struct {
	URLID      int64
	Archive    string
	Snapshots  []time.Time
	EarliestDate time.Time
	LatestDate   time.Time
	Processed    bool
}

// HistoricalPage is one (url, archive, archive_time) capture record.
type HistoricalPage struct {
	URLID         int64
	Archive       string
	ArchiveTime   time.Time
	RedirURL      string
	CoarseResult  string
	FineResult    string
	HTMLContentID int64
	IsParked      bool
}

// ExtractedArtifacts is the set of interned artifact ids produced for one
// HTML content row.
type ExtractedArtifacts struct {
	OriginalID   int64
	OriginalLen  int
	ContentLen   int
	RawTextID    int64
	PrunedTextID int64
	LinksID      int64
	ResourcesID  int64
	HeadingsID   int64
	DOMStatsID   int64
}

// Repository is the narrow persistence interface the rest of the system
// depends on. One concrete implementation (Postgres) is provided; the
// interface exists so tests can substitute an in-memory fake.
type Repository interface {
	// URL strings.
	InternURL(ctx context.Context, canonicalURL string) (id int64, err error)

	// Availability.
	GetAvailability(ctx context.Context, archive string, urlID int64) (*Availability, bool, error)
	CreateAvailability(ctx context.Context, a Availability) error
	MarkProcessed(ctx context.Context, archive string, urlID int64) error
	CapturedTimestamps(ctx context.Context, archive string, urlID int64) (map[time.Time]bool, error)

	// Historical pages + interning.
	//
	// InternHTMLContent reports the parked-domain verdict stored on the
	// row alongside hasExtracted, so a caller short-circuiting extraction
	// on a hash repeat still learns the previously computed verdict.
	InternHTMLContent(ctx context.Context, hash [32]byte, content []byte) (id int64, hasExtracted bool, isParked bool, err error)
	InternArtifact(ctx context.Context, table string, hash [32]byte, blob []byte) (id int64, err error)
	InternPrunedSegmented(ctx context.Context, hash [32]byte, plaintext string, segmented []byte) (id int64, err error)
	// SetExtracted records the extracted-content overview and the parked
	// verdict for htmlContentID in one transaction, since both are
	// produced by the same extraction pass (§4.6, §4.8).
	SetExtracted(ctx context.Context, htmlContentID int64, artifacts ExtractedArtifacts, isParked bool, parkingRules []string) error
	InsertHistoricalPage(ctx context.Context, p HistoricalPage) error
	// SetExtractedAndInsertHistoricalPage does what SetExtracted and
	// InsertHistoricalPage do together, in one transaction, for the path
	// where a capture both extracts new content and records its
	// historical-page row in the same call (§4.10/§5's "no partial page
	// is ever visible" guarantee).
	SetExtractedAndInsertHistoricalPage(ctx context.Context, htmlContentID int64, artifacts ExtractedArtifacts, isParked bool, parkingRules []string, p HistoricalPage) error

	// Work discovery for the dispatcher.
	UnprocessedURLIDs(ctx context.Context, archive string) ([]int64, error)
	PartiallyProcessedURLIDs(ctx context.Context, archive string) ([]int64, error)
	ProcessedCount(ctx context.Context, archive string) (int, error)
	URLString(ctx context.Context, urlID int64) (string, error)

	Close() error
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }
