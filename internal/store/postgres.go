package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

// Pool abstracts the pgxpool methods the store uses, so tests can substitute
// pgxmock for a live pool.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool. It mirrors the SQLite
// backend's schema with per-stream composite keys.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	stream       TEXT NOT NULL,
	run_id       BIGINT NOT NULL,
	captured_at  TIMESTAMPTZ NOT NULL,
	total_count  INT NOT NULL,
	has_new_data BOOLEAN NOT NULL,
	records      JSONB NOT NULL,
	PRIMARY KEY (stream, run_id)
);

CREATE TABLE IF NOT EXISTS ledger (
	stream      TEXT NOT NULL,
	id          BIGINT NOT NULL,
	name        TEXT NOT NULL,
	username    TEXT NOT NULL,
	message     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream, id)
);

CREATE TABLE IF NOT EXISTS enriched (
	stream               TEXT NOT NULL,
	id                   BIGINT NOT NULL,
	summary              TEXT NOT NULL,
	vertical             TEXT NOT NULL,
	website              TEXT NOT NULL,
	compatibility_rating TEXT NOT NULL,
	analyzed_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream, id)
);

CREATE TABLE IF NOT EXISTS search_results (
	stream          TEXT NOT NULL,
	id              BIGINT NOT NULL,
	company_name    TEXT NOT NULL,
	website_result  TEXT NOT NULL,
	website_status  TEXT NOT NULL,
	linkedin_result TEXT NOT NULL,
	linkedin_status TEXT NOT NULL,
	searched_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream, id)
);

CREATE TABLE IF NOT EXISTS stage_state (
	stream            TEXT NOT NULL,
	stage             TEXT NOT NULL,
	last_processed_id BIGINT NOT NULL DEFAULT 0,
	total_processed   INT NOT NULL DEFAULT 0,
	websites_found    INT NOT NULL DEFAULT 0,
	linkedin_found    INT NOT NULL DEFAULT 0,
	no_result_count   INT NOT NULL DEFAULT 0,
	last_run_at       TIMESTAMPTZ,
	PRIMARY KEY (stream, stage)
);

CREATE TABLE IF NOT EXISTS stage_processed (
	stream   TEXT NOT NULL,
	stage    TEXT NOT NULL,
	entry_id BIGINT NOT NULL,
	PRIMARY KEY (stream, stage, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_enriched_website ON enriched(stream, website);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendRun(ctx context.Context, rec model.RunRecord) (int64, error) {
	recordsJSON, err := json.Marshal(rec.Records)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal run records")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin append run")
	}
	defer tx.Rollback(ctx)

	var maxID int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(run_id), 0) FROM runs WHERE stream = $1`, string(rec.Stream),
	).Scan(&maxID); err != nil {
		return 0, eris.Wrap(err, "postgres: next run id")
	}
	runID := maxID + 1

	capturedAt := rec.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO runs (stream, run_id, captured_at, total_count, has_new_data, records)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.Stream), runID, capturedAt, rec.TotalCount, rec.HasNewData, string(recordsJSON),
	); err != nil {
		return 0, eris.Wrap(err, "postgres: insert run")
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM runs WHERE stream = $1 AND run_id <= $2`,
		string(rec.Stream), runID-RunRetention,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: trim runs")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit append run")
	}
	return runID, nil
}

func (s *PostgresStore) LastRun(ctx context.Context, stream model.Stream) (*model.RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, captured_at, total_count, has_new_data, records
		 FROM runs WHERE stream = $1 ORDER BY run_id DESC LIMIT 1`, string(stream))

	rec, err := scanRun(row, stream)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last run")
	}
	return rec, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, stream model.Stream) ([]model.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, captured_at, total_count, has_new_data, records
		 FROM runs WHERE stream = $1 ORDER BY run_id ASC`, string(stream))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows, stream)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *rec)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendEntries(ctx context.Context, stream model.Stream, convs []model.Conversation) ([]model.CleanedEntry, error) {
	if len(convs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin append entries")
	}
	defer tx.Rollback(ctx)

	var maxID int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM ledger WHERE stream = $1`, string(stream),
	).Scan(&maxID); err != nil {
		return nil, eris.Wrap(err, "postgres: next ledger id")
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
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger (stream, id, name, username, message, ts, detected_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(stream), e.ID, e.Name, e.Username, e.Message, e.Timestamp, e.DetectedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: insert ledger entry %d", e.ID)
		}
		entries = append(entries, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit append entries")
	}
	return entries, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, stream model.Stream, afterID int64) ([]model.CleanedEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, username, message, ts, detected_at
		 FROM ledger WHERE stream = $1 AND id > $2 ORDER BY id ASC`,
		string(stream), afterID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var entries []model.CleanedEntry
	for rows.Next() {
		var e model.CleanedEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Username, &e.Message, &e.Timestamp, &e.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		e.Stream = stream
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list entries iterate")
}

func (s *PostgresStore) CountEntries(ctx context.Context, stream model.Stream) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger WHERE stream = $1`, string(stream)).Scan(&n)
	return n, eris.Wrap(err, "postgres: count entries")
}

func (s *PostgresStore) SaveEnriched(ctx context.Context, e model.EnrichedEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enriched (stream, id, summary, vertical, website, compatibility_rating, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (stream, id) DO UPDATE SET
			summary = EXCLUDED.summary,
			vertical = EXCLUDED.vertical,
			website = EXCLUDED.website,
			compatibility_rating = EXCLUDED.compatibility_rating,
			analyzed_at = EXCLUDED.analyzed_at`,
		string(e.Stream), e.ID, e.Summary, e.Vertical, e.Website, e.CompatibilityRating, e.AnalyzedAt)
	return eris.Wrapf(err, "postgres: save enriched %d", e.ID)
}

func (s *PostgresStore) ListEnriched(ctx context.Context, stream model.Stream, afterID int64) ([]model.EnrichedEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.name, l.username, l.message, l.ts, l.detected_at,
			e.summary, e.vertical, e.website, e.compatibility_rating, e.analyzed_at
		 FROM enriched e
		 JOIN ledger l ON l.stream = e.stream AND l.id = e.id
		 WHERE e.stream = $1 AND e.id > $2
		 ORDER BY e.id ASC`,
		string(stream), afterID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enriched")
	}
	defer rows.Close()

	var entries []model.EnrichedEntry
	for rows.Next() {
		var e model.EnrichedEntry
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Username, &e.Message, &e.Timestamp, &e.DetectedAt,
			&e.Summary, &e.Vertical, &e.Website, &e.CompatibilityRating, &e.AnalyzedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enriched entry")
		}
		e.Stream = stream
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list enriched iterate")
}

func (s *PostgresStore) SaveSearchResult(ctx context.Context, r model.SearchResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_results (stream, id, company_name, website_result, website_status,
			linkedin_result, linkedin_status, searched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (stream, id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			website_result = EXCLUDED.website_result,
			website_status = EXCLUDED.website_status,
			linkedin_result = EXCLUDED.linkedin_result,
			linkedin_status = EXCLUDED.linkedin_status,
			searched_at = EXCLUDED.searched_at`,
		string(r.Stream), r.ID, r.CompanyName,
		r.Website.Result, string(r.Website.Status),
		r.LinkedIn.Result, string(r.LinkedIn.Status),
		r.SearchedAt)
	return eris.Wrapf(err, "postgres: save search result %d", r.ID)
}

func (s *PostgresStore) ListSearchResults(ctx context.Context, stream model.Stream) ([]model.SearchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_name, website_result, website_status, linkedin_result, linkedin_status, searched_at
		 FROM search_results WHERE stream = $1 ORDER BY id ASC`, string(stream))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list search results")
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		var wStatus, lStatus string
		if err := rows.Scan(&r.ID, &r.CompanyName, &r.Website.Result, &wStatus,
			&r.LinkedIn.Result, &lStatus, &r.SearchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search result")
		}
		r.Stream = stream
		r.Website.Status = model.SearchStatus(wStatus)
		r.LinkedIn.Status = model.SearchStatus(lStatus)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list search results iterate")
}

func (s *PostgresStore) GetStageState(ctx context.Context, stream model.Stream, stage model.Stage) (model.StageState, error) {
	st := model.NewStageState(stream, stage)

	var lastRunAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_processed_id, total_processed, websites_found, linkedin_found, no_result_count, last_run_at
		 FROM stage_state WHERE stream = $1 AND stage = $2`,
		string(stream), string(stage),
	).Scan(&st.LastProcessedID, &st.Counters.TotalProcessed, &st.Counters.WebsitesFound,
		&st.Counters.LinkedInFound, &st.Counters.NoResultCount, &lastRunAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, eris.Wrap(err, "postgres: get stage state")
	}
	if lastRunAt != nil {
		st.LastRunAt = *lastRunAt
	}

	rows, err := s.pool.Query(ctx,
		`SELECT entry_id FROM stage_processed WHERE stream = $1 AND stage = $2`,
		string(stream), string(stage))
	if err != nil {
		return st, eris.Wrap(err, "postgres: get processed ids")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return st, eris.Wrap(err, "postgres: scan processed id")
		}
		st.ProcessedIDs[id] = true
	}
	return st, eris.Wrap(rows.Err(), "postgres: processed ids iterate")
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, stream model.Stream, stage model.Stage, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin mark processed")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO stage_processed (stream, stage, entry_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		string(stream), string(stage), id,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert processed id %d", id)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO stage_state (stream, stage, last_processed_id, last_run_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (stream, stage) DO UPDATE SET
			last_processed_id = GREATEST(stage_state.last_processed_id, EXCLUDED.last_processed_id),
			last_run_at = EXCLUDED.last_run_at`,
		string(stream), string(stage), id, time.Now().UTC(),
	); err != nil {
		return eris.Wrap(err, "postgres: advance stage cursor")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit mark processed")
}

func (s *PostgresStore) SaveStageCounters(ctx context.Context, stream model.Stream, stage model.Stage, c model.StageCounters) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_state (stream, stage, total_processed, websites_found, linkedin_found, no_result_count, last_run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (stream, stage) DO UPDATE SET
			total_processed = EXCLUDED.total_processed,
			websites_found = EXCLUDED.websites_found,
			linkedin_found = EXCLUDED.linkedin_found,
			no_result_count = EXCLUDED.no_result_count,
			last_run_at = EXCLUDED.last_run_at`,
		string(stream), string(stage),
		c.TotalProcessed, c.WebsitesFound, c.LinkedInFound, c.NoResultCount,
		time.Now().UTC())
	return eris.Wrap(err, "postgres: save stage counters")
}
