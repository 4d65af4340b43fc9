package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// artifactTables maps a logical artifact kind to its intern table and
// blob column, matching the per-artifact intern tables named in the
// external interfaces (each unique on hash).
var artifactTables = map[string]struct{ table, column string }{
	"original":  {"capture_original_content", "content"},
	"content":   {"extracted_plaintext", "content"},
	"heads":     {"extracted_headings", "content"},
	"links":     {"extracted_urls", "content"},
	"rsrcs":     {"extracted_urls", "content"},
	"domst":     {"extracted_dom_stats", "content"},
}

// Postgres is the Repository implementation backed by a relational
// database through database/sql, using the pgx driver.
type Postgres struct {
	db *sql.DB
}

// Open connects to dsn (a standard Postgres connection string) and returns
// a ready Repository. The schema itself is assumed to already exist; this
// package never runs DDL.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) InternURL(ctx context.Context, canonicalURL string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO url_strings (url) VALUES ($1)
		ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
		RETURNING id`, canonicalURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: intern url: %w", err)
	}
	return id, nil
}

func (p *Postgres) GetAvailability(ctx context.Context, archive string, urlID int64) (*Availability, bool, error) {
	var a Availability
	var snapshotsJSON []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT url, snapshots, earliest_date, latest_date, processed
		FROM historical_page_availability
		WHERE archive = $1 AND url = $2`, archive, urlID).
		Scan(&a.URLID, &snapshotsJSON, &a.EarliestDate, &a.LatestDate, &a.Processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get availability: %w", err)
	}
	if err := json.Unmarshal(snapshotsJSON, &a.Snapshots); err != nil {
		return nil, false, fmt.Errorf("store: decode snapshots: %w", err)
	}
	a.Archive = archive
	return &a, true, nil
}

func (p *Postgres) CreateAvailability(ctx context.Context, a Availability) error {
	snapshotsJSON, err := json.Marshal(a.Snapshots)
	if err != nil {
		return fmt.Errorf("store: encode snapshots: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO historical_page_availability
			(archive, url, snapshots, earliest_date, latest_date, processed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (archive, url) DO NOTHING`,
		a.Archive, a.URLID, snapshotsJSON, a.EarliestDate, a.LatestDate, a.Processed)
	if err != nil {
		return fmt.Errorf("store: create availability: %w", err)
	}
	return nil
}

func (p *Postgres) MarkProcessed(ctx context.Context, archive string, urlID int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE historical_page_availability SET processed = true
		WHERE archive = $1 AND url = $2`, archive, urlID)
	if err != nil {
		return fmt.Errorf("store: mark processed: %w", err)
	}
	return nil
}

func (p *Postgres) CapturedTimestamps(ctx context.Context, archive string, urlID int64) (map[time.Time]bool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT archive_time FROM historical_pages
		WHERE archive = $1 AND url = $2`, archive, urlID)
	if err != nil {
		return nil, fmt.Errorf("store: captured timestamps: %w", err)
	}
	defer rows.Close()

	out := map[time.Time]bool{}
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("store: scan timestamp: %w", err)
		}
		out[t] = true
	}
	return out, rows.Err()
}

func (p *Postgres) InternHTMLContent(ctx context.Context, hash [32]byte, content []byte) (int64, bool, bool, error) {
	var id int64
	var hasExtracted, isParked bool
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO capture_html_content (hash, content, extracted, is_parked)
		VALUES ($1, $2, NULL, false)
		ON CONFLICT (hash) DO UPDATE SET hash = EXCLUDED.hash
		RETURNING id, (extracted IS NOT NULL), is_parked`, hash[:], content).Scan(&id, &hasExtracted, &isParked)
	if err != nil {
		return 0, false, false, fmt.Errorf("store: intern html content: %w", err)
	}
	return id, hasExtracted, isParked, nil
}

func (p *Postgres) InternArtifact(ctx context.Context, kind string, hash [32]byte, blob []byte) (int64, error) {
	spec, ok := artifactTables[kind]
	if !ok {
		return 0, fmt.Errorf("store: unknown artifact kind %q", kind)
	}
	var id int64
	q := fmt.Sprintf(`
		INSERT INTO %s (hash, %s) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET hash = EXCLUDED.hash
		RETURNING id`, spec.table, spec.column)
	if err := p.db.QueryRowContext(ctx, q, hash[:], blob).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: intern artifact %s: %w", kind, err)
	}
	return id, nil
}

func (p *Postgres) InternPrunedSegmented(ctx context.Context, hash [32]byte, plaintext string, segmented []byte) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO extracted_plaintext (hash, content, segmented)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO UPDATE SET hash = EXCLUDED.hash
		RETURNING id`, hash[:], sanitizeNUL(plaintext), segmented).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: intern pruned+segmented: %w", err)
	}
	return id, nil
}

func (p *Postgres) SetExtracted(ctx context.Context, htmlContentID int64, artifacts ExtractedArtifacts, isParked bool, parkingRules []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := setExtracted(ctx, tx, htmlContentID, artifacts, isParked, parkingRules); err != nil {
		return err
	}
	return tx.Commit()
}

func setExtracted(ctx context.Context, q querier, htmlContentID int64, artifacts ExtractedArtifacts, isParked bool, parkingRules []string) error {
	var ovID int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO extracted_content_ov
			(original, olen, content_len, raw_text, pruned_text, links, resources, headings, dom_stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		artifacts.OriginalID, artifacts.OriginalLen, artifacts.ContentLen, artifacts.RawTextID, artifacts.PrunedTextID,
		artifacts.LinksID, artifacts.ResourcesID, artifacts.HeadingsID, artifacts.DOMStatsID,
	).Scan(&ovID)
	if err != nil {
		return fmt.Errorf("store: insert extracted overview: %w", err)
	}

	rulesJSON, err := json.Marshal(parkingRules)
	if err != nil {
		return fmt.Errorf("store: encode parking rules: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE capture_html_content
		SET extracted = $1, is_parked = $2, parking_rules_matched = $3
		WHERE id = $4`,
		ovID, isParked, rulesJSON, htmlContentID); err != nil {
		return fmt.Errorf("store: set extracted pointer: %w", err)
	}
	return nil
}

func (p *Postgres) InsertHistoricalPage(ctx context.Context, pg HistoricalPage) error {
	return insertHistoricalPage(ctx, p.db, pg)
}

// SetExtractedAndInsertHistoricalPage records the extracted-content
// overview, the parked verdict, and the historical-page row in one
// transaction, per the "interning and historical-page insertion for one
// extracted page occur in one database transaction; no partial page is
// ever visible" ordering guarantee: a crash between the two never leaves
// a historical page pointing at an html_content row without its
// extracted-content back-pointer set.
func (p *Postgres) SetExtractedAndInsertHistoricalPage(ctx context.Context, htmlContentID int64, artifacts ExtractedArtifacts, isParked bool, parkingRules []string, pg HistoricalPage) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := setExtracted(ctx, tx, htmlContentID, artifacts, isParked, parkingRules); err != nil {
		return err
	}
	if err := insertHistoricalPage(ctx, tx, pg); err != nil {
		return err
	}
	return tx.Commit()
}

// querier is the subset of *sql.DB / *sql.Tx this package's helpers need,
// so the same SQL can run standalone or inside an enclosing transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertHistoricalPage(ctx context.Context, q querier, pg HistoricalPage) error {
	resultID, err := resolveFineResult(ctx, q, pg.CoarseResult, pg.FineResult)
	if err != nil {
		return fmt.Errorf("store: resolve result: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO historical_pages
			(url, archive, archive_time, result, redir_url, html_content, is_parked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (archive, archive_time, url) DO NOTHING`,
		pg.URLID, pg.Archive, pg.ArchiveTime, resultID, pg.RedirURL, pg.HTMLContentID, pg.IsParked)
	if err != nil {
		return fmt.Errorf("store: insert historical page: %w", err)
	}
	return nil
}

// resolveFineResult upserts the (coarse, fine) pair into the normalized
// capture_coarse_result / capture_fine_result lookup tables and returns the
// fine-result id historical_pages.result points at.
func resolveFineResult(ctx context.Context, q querier, coarse, detail string) (int64, error) {
	var coarseID int64
	if err := q.QueryRowContext(ctx, `
		INSERT INTO capture_coarse_result (result) VALUES ($1)
		ON CONFLICT (result) DO UPDATE SET result = EXCLUDED.result
		RETURNING id`, coarse).Scan(&coarseID); err != nil {
		return 0, fmt.Errorf("resolve coarse result: %w", err)
	}

	var fineID int64
	if err := q.QueryRowContext(ctx, `
		INSERT INTO capture_fine_result (result, detail) VALUES ($1, $2)
		ON CONFLICT (detail) DO UPDATE SET detail = EXCLUDED.detail
		RETURNING id`, coarseID, detail).Scan(&fineID); err != nil {
		return 0, fmt.Errorf("resolve fine result: %w", err)
	}
	return fineID, nil
}

func (p *Postgres) UnprocessedURLIDs(ctx context.Context, archive string) ([]int64, error) {
	return p.queryIDs(ctx, `
		SELECT u.id FROM url_strings u
		LEFT JOIN historical_page_availability a
			ON a.url = u.id AND a.archive = $1
		WHERE a.url IS NULL`, archive)
}

func (p *Postgres) PartiallyProcessedURLIDs(ctx context.Context, archive string) ([]int64, error) {
	return p.queryIDs(ctx, `
		SELECT url FROM historical_page_availability
		WHERE archive = $1 AND processed = false`, archive)
}

func (p *Postgres) ProcessedCount(ctx context.Context, archive string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM historical_page_availability
		WHERE archive = $1 AND processed = true`, archive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: processed count: %w", err)
	}
	return n, nil
}

func (p *Postgres) URLString(ctx context.Context, urlID int64) (string, error) {
	var s string
	err := p.db.QueryRowContext(ctx, `SELECT url FROM url_strings WHERE id = $1`, urlID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: url string: %w", err)
	}
	return s, nil
}

func (p *Postgres) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// sanitizeNUL replaces U+0000 with U+FFFD, since some storage back-ends
// disallow NUL bytes in text columns.
func sanitizeNUL(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == 0 {
			r = 0xFFFD
		}
		out = append(out, r)
	}
	return string(out)
}
