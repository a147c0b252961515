// Package stage implements incremental per-stage processing over the
// cleaned-flow ledger. Each stage keeps a cursor and a processed-id set so a
// rerun only touches entries it has not finished, and a failed entry is left
// unmarked and picked up again next run.
package stage

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/internal/store"
)

// Filter narrows eligibility beyond the processed-id check. A nil Filter
// accepts everything.
type Filter func(model.CleanedEntry) bool

// SelectEligible returns the ledger entries the stage still has to process:
// anything not in the processed set, in id order. Entries below the cursor
// that were never marked stay eligible, which is what makes failures retry.
func SelectEligible(entries []model.CleanedEntry, state model.StageState, filter Filter) []model.CleanedEntry {
	var out []model.CleanedEntry
	for _, e := range entries {
		if state.Processed(e.ID) {
			continue
		}
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Tracker binds a stage's state to the store.
type Tracker struct {
	store  store.Store
	stream model.Stream
	stage  model.Stage
	state  model.StageState
}

// NewTracker loads the stage's persisted state.
func NewTracker(ctx context.Context, st store.Store, stream model.Stream, stage model.Stage) (*Tracker, error) {
	state, err := st.GetStageState(ctx, stream, stage)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: load %s state", stage)
	}
	return &Tracker{store: st, stream: stream, stage: stage, state: state}, nil
}

// State returns the tracker's current view of the stage state.
func (t *Tracker) State() model.StageState {
	return t.state
}

// Eligible filters the given entries down to what this stage still owes.
func (t *Tracker) Eligible(entries []model.CleanedEntry, filter Filter) []model.CleanedEntry {
	return SelectEligible(entries, t.state, filter)
}

// MarkDone persists an entry as processed and advances the in-memory state.
// Call it only after the entry's work fully succeeded.
func (t *Tracker) MarkDone(ctx context.Context, id int64) error {
	if err := t.store.MarkProcessed(ctx, t.stream, t.stage, id); err != nil {
		return eris.Wrapf(err, "stage: mark %d processed", id)
	}
	t.state.Mark(id)
	return nil
}

// SaveCounters persists the stage's run counters.
func (t *Tracker) SaveCounters(ctx context.Context, c model.StageCounters) error {
	t.state.Counters = c
	return eris.Wrap(
		t.store.SaveStageCounters(ctx, t.stream, t.stage, c),
		"stage: save counters")
}

// LogSummary emits the stage's standing counters.
func (t *Tracker) LogSummary() {
	zap.L().Info("stage state",
		zap.String("stream", string(t.stream)),
		zap.String("stage", string(t.stage)),
		zap.Int64("last_processed_id", t.state.LastProcessedID),
		zap.Int("processed", len(t.state.ProcessedIDs)),
		zap.Int("total_processed", t.state.Counters.TotalProcessed))
}
