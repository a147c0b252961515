package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. This is the default
// backend: the pipeline is a single-writer CLI and WAL mode is enough.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	stream       TEXT NOT NULL,
	run_id       INTEGER NOT NULL,
	captured_at  DATETIME NOT NULL,
	total_count  INTEGER NOT NULL,
	has_new_data BOOLEAN NOT NULL,
	records      TEXT NOT NULL,
	PRIMARY KEY (stream, run_id)
);

CREATE TABLE IF NOT EXISTS ledger (
	stream      TEXT NOT NULL,
	id          INTEGER NOT NULL,
	name        TEXT NOT NULL,
	username    TEXT NOT NULL,
	message     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	detected_at DATETIME NOT NULL,
	PRIMARY KEY (stream, id)
);

CREATE TABLE IF NOT EXISTS enriched (
	stream               TEXT NOT NULL,
	id                   INTEGER NOT NULL,
	summary              TEXT NOT NULL,
	vertical             TEXT NOT NULL,
	website              TEXT NOT NULL,
	compatibility_rating TEXT NOT NULL,
	analyzed_at          DATETIME NOT NULL,
	PRIMARY KEY (stream, id),
	FOREIGN KEY (stream, id) REFERENCES ledger(stream, id)
);

CREATE TABLE IF NOT EXISTS search_results (
	stream          TEXT NOT NULL,
	id              INTEGER NOT NULL,
	company_name    TEXT NOT NULL,
	website_result  TEXT NOT NULL,
	website_status  TEXT NOT NULL,
	linkedin_result TEXT NOT NULL,
	linkedin_status TEXT NOT NULL,
	searched_at     DATETIME NOT NULL,
	PRIMARY KEY (stream, id)
);

CREATE TABLE IF NOT EXISTS stage_state (
	stream            TEXT NOT NULL,
	stage             TEXT NOT NULL,
	last_processed_id INTEGER NOT NULL DEFAULT 0,
	total_processed   INTEGER NOT NULL DEFAULT 0,
	websites_found    INTEGER NOT NULL DEFAULT 0,
	linkedin_found    INTEGER NOT NULL DEFAULT 0,
	no_result_count   INTEGER NOT NULL DEFAULT 0,
	last_run_at       DATETIME,
	PRIMARY KEY (stream, stage)
);

CREATE TABLE IF NOT EXISTS stage_processed (
	stream   TEXT NOT NULL,
	stage    TEXT NOT NULL,
	entry_id INTEGER NOT NULL,
	PRIMARY KEY (stream, stage, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_enriched_website ON enriched(stream, website);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendRun assigns the next run id, persists the snapshot, and evicts runs
// older than the newest RunRetention.
func (s *SQLiteStore) AppendRun(ctx context.Context, rec model.RunRecord) (int64, error) {
	recordsJSON, err := json.Marshal(rec.Records)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal run records")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append run")
	}
	defer tx.Rollback()

	var maxID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(run_id), 0) FROM runs WHERE stream = ?`, string(rec.Stream),
	).Scan(&maxID); err != nil {
		return 0, eris.Wrap(err, "sqlite: next run id")
	}
	runID := maxID + 1

	capturedAt := rec.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (stream, run_id, captured_at, total_count, has_new_data, records)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.Stream), runID, capturedAt, rec.TotalCount, rec.HasNewData, string(recordsJSON),
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert run")
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE stream = ? AND run_id <= ?`,
		string(rec.Stream), runID-RunRetention,
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: trim runs")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append run")
	}
	return runID, nil
}

func (s *SQLiteStore) LastRun(ctx context.Context, stream model.Stream) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, captured_at, total_count, has_new_data, records
		 FROM runs WHERE stream = ? ORDER BY run_id DESC LIMIT 1`, string(stream))

	rec, err := scanRun(row, stream)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last run")
	}
	return rec, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, stream model.Stream) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, captured_at, total_count, has_new_data, records
		 FROM runs WHERE stream = ? ORDER BY run_id ASC`, string(stream))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows, stream)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *rec)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, stream model.Stream) (*model.RunRecord, error) {
	var rec model.RunRecord
	var recordsJSON string
	if err := row.Scan(&rec.RunID, &rec.CapturedAt, &rec.TotalCount, &rec.HasNewData, &recordsJSON); err != nil {
		return nil, err
	}
	rec.Stream = stream
	if err := json.Unmarshal([]byte(recordsJSON), &rec.Records); err != nil {
		return nil, eris.Wrap(err, "unmarshal run records")
	}
	return &rec, nil
}

// AppendEntries assigns monotonic ids in input order within one transaction.
// The MAX(id) read and the inserts share the transaction, so ids are never
// reused even if two invocations race at the process level.
func (s *SQLiteStore) AppendEntries(ctx context.Context, stream model.Stream, convs []model.Conversation) ([]model.CleanedEntry, error) {
	if len(convs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin append entries")
	}
	defer tx.Rollback()

	var maxID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM ledger WHERE stream = ?`, string(stream),
	).Scan(&maxID); err != nil {
		return nil, eris.Wrap(err, "sqlite: next ledger id")
	}

	now := time.Now().UTC()
	entries := make([]model.CleanedEntry, 0, len(convs))
	for i, c := range convs {
		e := model.CleanedEntry{
			ID:         maxID + int64(i) + 1,
			Stream:     stream,
			Name:       c.DisplayName,
			Username:   c.Username,
			Message:    c.LastMessage,
			Timestamp:  c.Timestamp,
			DetectedAt: now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger (stream, id, name, username, message, ts, detected_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(stream), e.ID, e.Name, e.Username, e.Message, e.Timestamp, e.DetectedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert ledger entry %d", e.ID)
		}
		entries = append(entries, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit append entries")
	}
	return entries, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, stream model.Stream, afterID int64) ([]model.CleanedEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, username, message, ts, detected_at
		 FROM ledger WHERE stream = ? AND id > ? ORDER BY id ASC`,
		string(stream), afterID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close()

	var entries []model.CleanedEntry
	for rows.Next() {
		var e model.CleanedEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Username, &e.Message, &e.Timestamp, &e.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}
		e.Stream = stream
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

func (s *SQLiteStore) CountEntries(ctx context.Context, stream model.Stream) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE stream = ?`, string(stream)).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count entries")
}

func (s *SQLiteStore) SaveEnriched(ctx context.Context, e model.EnrichedEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enriched (stream, id, summary, vertical, website, compatibility_rating, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stream, id) DO UPDATE SET
			summary = excluded.summary,
			vertical = excluded.vertical,
			website = excluded.website,
			compatibility_rating = excluded.compatibility_rating,
			analyzed_at = excluded.analyzed_at`,
		string(e.Stream), e.ID, e.Summary, e.Vertical, e.Website, e.CompatibilityRating, e.AnalyzedAt)
	return eris.Wrapf(err, "sqlite: save enriched %d", e.ID)
}

func (s *SQLiteStore) ListEnriched(ctx context.Context, stream model.Stream, afterID int64) ([]model.EnrichedEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.username, l.message, l.ts, l.detected_at,
			e.summary, e.vertical, e.website, e.compatibility_rating, e.analyzed_at
		 FROM enriched e
		 JOIN ledger l ON l.stream = e.stream AND l.id = e.id
		 WHERE e.stream = ? AND e.id > ?
		 ORDER BY e.id ASC`,
		string(stream), afterID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enriched")
	}
	defer rows.Close()

	var entries []model.EnrichedEntry
	for rows.Next() {
		var e model.EnrichedEntry
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Username, &e.Message, &e.Timestamp, &e.DetectedAt,
			&e.Summary, &e.Vertical, &e.Website, &e.CompatibilityRating, &e.AnalyzedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enriched entry")
		}
		e.Stream = stream
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list enriched iterate")
}

func (s *SQLiteStore) SaveSearchResult(ctx context.Context, r model.SearchResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_results (stream, id, company_name, website_result, website_status,
			linkedin_result, linkedin_status, searched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stream, id) DO UPDATE SET
			company_name = excluded.company_name,
			website_result = excluded.website_result,
			website_status = excluded.website_status,
			linkedin_result = excluded.linkedin_result,
			linkedin_status = excluded.linkedin_status,
			searched_at = excluded.searched_at`,
		string(r.Stream), r.ID, r.CompanyName,
		r.Website.Result, string(r.Website.Status),
		r.LinkedIn.Result, string(r.LinkedIn.Status),
		r.SearchedAt)
	return eris.Wrapf(err, "sqlite: save search result %d", r.ID)
}

func (s *SQLiteStore) ListSearchResults(ctx context.Context, stream model.Stream) ([]model.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_name, website_result, website_status, linkedin_result, linkedin_status, searched_at
		 FROM search_results WHERE stream = ? ORDER BY id ASC`, string(stream))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list search results")
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		var wStatus, lStatus string
		if err := rows.Scan(&r.ID, &r.CompanyName, &r.Website.Result, &wStatus,
			&r.LinkedIn.Result, &lStatus, &r.SearchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search result")
		}
		r.Stream = stream
		r.Website.Status = model.SearchStatus(wStatus)
		r.LinkedIn.Status = model.SearchStatus(lStatus)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list search results iterate")
}

func (s *SQLiteStore) GetStageState(ctx context.Context, stream model.Stream, stage model.Stage) (model.StageState, error) {
	st := model.NewStageState(stream, stage)

	var lastRunAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT last_processed_id, total_processed, websites_found, linkedin_found, no_result_count, last_run_at
		 FROM stage_state WHERE stream = ? AND stage = ?`,
		string(stream), string(stage),
	).Scan(&st.LastProcessedID, &st.Counters.TotalProcessed, &st.Counters.WebsitesFound,
		&st.Counters.LinkedInFound, &st.Counters.NoResultCount, &lastRunAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, eris.Wrap(err, "sqlite: get stage state")
	}
	if lastRunAt.Valid {
		st.LastRunAt = lastRunAt.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id FROM stage_processed WHERE stream = ? AND stage = ?`,
		string(stream), string(stage))
	if err != nil {
		return st, eris.Wrap(err, "sqlite: get processed ids")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return st, eris.Wrap(err, "sqlite: scan processed id")
		}
		st.ProcessedIDs[id] = true
	}
	return st, eris.Wrap(rows.Err(), "sqlite: processed ids iterate")
}

// MarkProcessed records an entry as done for a stage and advances the cursor.
// The insert and the cursor update share a transaction: the resumability
// invariant (lastProcessedId == max of processed ids) survives a crash.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, stream model.Stream, stage model.Stage, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark processed")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stage_processed (stream, stage, entry_id) VALUES (?, ?, ?)
		 ON CONFLICT(stream, stage, entry_id) DO NOTHING`,
		string(stream), string(stage), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert processed id %d", id)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stage_state (stream, stage, last_processed_id, last_run_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(stream, stage) DO UPDATE SET
			last_processed_id = MAX(stage_state.last_processed_id, excluded.last_processed_id),
			last_run_at = excluded.last_run_at`,
		string(stream), string(stage), id, time.Now().UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: advance stage cursor")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit mark processed")
}

func (s *SQLiteStore) SaveStageCounters(ctx context.Context, stream model.Stream, stage model.Stage, c model.StageCounters) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_state (stream, stage, total_processed, websites_found, linkedin_found, no_result_count, last_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stream, stage) DO UPDATE SET
			total_processed = excluded.total_processed,
			websites_found = excluded.websites_found,
			linkedin_found = excluded.linkedin_found,
			no_result_count = excluded.no_result_count,
			last_run_at = excluded.last_run_at`,
		string(stream), string(stage),
		c.TotalProcessed, c.WebsitesFound, c.LinkedInFound, c.NoResultCount,
		time.Now().UTC())
	return eris.Wrap(err, "sqlite: save stage counters")
}
