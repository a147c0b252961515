// Package store persists all durable pipeline state: run history, the
// cleaned-flow ledger, enrichment output, search results, and per-stage
// processing state. Every mutation that assigns ids runs inside a single
// transaction so a crash mid-append cannot mint duplicate ids.
package store

import (
	"context"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

// RunRetention is the number of capture runs kept per stream; older runs are
// silently evicted on append. Bounded history is a deliberate policy.
const RunRetention = 10

// Store defines the persistence interface for the pipeline. Callers must
// serialize mutating calls per stream; the daemon's PID guard enforces a
// single active invocation.
type Store interface {
	// Run history (bounded to RunRetention per stream).
	AppendRun(ctx context.Context, rec model.RunRecord) (int64, error)
	LastRun(ctx context.Context, stream model.Stream) (*model.RunRecord, error)
	ListRuns(ctx context.Context, stream model.Stream) ([]model.RunRecord, error)

	// Cleaned-flow ledger (append-only, monotonic ids per stream).
	AppendEntries(ctx context.Context, stream model.Stream, convs []model.Conversation) ([]model.CleanedEntry, error)
	ListEntries(ctx context.Context, stream model.Stream, afterID int64) ([]model.CleanedEntry, error)
	CountEntries(ctx context.Context, stream model.Stream) (int64, error)

	// Enrichment output ledger.
	SaveEnriched(ctx context.Context, e model.EnrichedEntry) error
	ListEnriched(ctx context.Context, stream model.Stream, afterID int64) ([]model.EnrichedEntry, error)

	// Search-result ledger.
	SaveSearchResult(ctx context.Context, r model.SearchResult) error
	ListSearchResults(ctx context.Context, stream model.Stream) ([]model.SearchResult, error)

	// Stage state. GetStageState returns the zero state when none is stored.
	GetStageState(ctx context.Context, stream model.Stream, stage model.Stage) (model.StageState, error)
	MarkProcessed(ctx context.Context, stream model.Stream, stage model.Stage, id int64) error
	SaveStageCounters(ctx context.Context, stream model.Stream, stage model.Stage, c model.StageCounters) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
