// Package pipeline drives one full processing pass per stream: capture,
// run comparison, ledger append, raw upload, analysis, discovery, and the
// search-result sync. Phases run strictly in sequence; a phase that fails
// transiently logs and lets the run continue, since every stage resumes from
// its own durable state on the next invocation.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/capture"
	"github.com/sells-group/inbox-pipeline/internal/compare"
	"github.com/sells-group/inbox-pipeline/internal/discover"
	"github.com/sells-group/inbox-pipeline/internal/enrich"
	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/internal/stage"
	"github.com/sells-group/inbox-pipeline/internal/store"
	"github.com/sells-group/inbox-pipeline/internal/uploader"
)

// Pipeline wires the stages together for all streams.
type Pipeline struct {
	store       store.Store
	source      capture.Source
	analyzer    *enrich.Analyzer
	searcher    *discover.Searcher
	uploaders   map[model.Stream]*uploader.Uploader
	snapshotDir string
}

// Options configures optional pipeline behavior.
type Options struct {
	// SnapshotDir, when set, receives a backup of every capture.
	SnapshotDir string
}

// New constructs a Pipeline. uploaders may be nil for offline runs; upload
// phases are then skipped.
func New(st store.Store, source capture.Source, analyzer *enrich.Analyzer,
	searcher *discover.Searcher, uploaders map[model.Stream]*uploader.Uploader, opts Options) *Pipeline {
	return &Pipeline{
		store:       st,
		source:      source,
		analyzer:    analyzer,
		searcher:    searcher,
		uploaders:   uploaders,
		snapshotDir: opts.SnapshotDir,
	}
}

// StreamResult summarizes one stream's pass.
type StreamResult struct {
	Stream     model.Stream
	RunID      int64
	Captured   int
	New        int
	Updated    int
	Unchanged  int
	Appended   int
	Uploaded   int
	Analysis   enrich.Result
	Discovery  discover.Result
	Synced     int
	SyncFailed int
}

// Run processes the given streams in order. Each invocation gets a
// correlation id that tags every log line it emits.
func (p *Pipeline) Run(ctx context.Context, streams ...model.Stream) ([]StreamResult, error) {
	if len(streams) == 0 {
		streams = model.AllStreams()
	}

	invocation := uuid.NewString()
	zap.L().Info("pipeline invocation starting",
		zap.String("invocation_id", invocation),
		zap.Int("streams", len(streams)))

	results := make([]StreamResult, 0, len(streams))
	for _, s := range streams {
		res, err := p.runStream(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Pipeline) runStream(ctx context.Context, stream model.Stream) (StreamResult, error) {
	res := StreamResult{Stream: stream}
	log := zap.L().With(zap.String("stream", string(stream)))

	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		duration := time.Since(start).Milliseconds()
		if err != nil {
			log.Error("phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(err))
			return err
		}
		log.Info("phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration))
		return nil
	}

	// Capture.
	var convs []model.Conversation
	if err := trackPhase("capture", func() error {
		var err error
		convs, err = p.source.Capture(ctx, stream)
		if err != nil {
			return eris.Wrap(err, "pipeline: capture")
		}
		res.Captured = len(convs)
		if p.snapshotDir != "" {
			if _, err := capture.WriteSnapshot(p.snapshotDir, stream, convs); err != nil {
				log.Warn("snapshot backup failed", zap.Error(err))
			}
		}
		return nil
	}); err != nil {
		return res, err
	}

	// Compare against the previous run and persist the new one.
	var diff compare.Diff
	if err := trackPhase("compare", func() error {
		prev, err := p.store.LastRun(ctx, stream)
		if err != nil {
			return eris.Wrap(err, "pipeline: load previous run")
		}
		diff = compare.Runs(convs, prev)
		res.New = len(diff.New)
		res.Updated = len(diff.Updated)
		res.Unchanged = len(diff.Unchanged)

		runID, err := p.store.AppendRun(ctx, model.RunRecord{
			Stream:     stream,
			CapturedAt: time.Now().UTC(),
			TotalCount: len(convs),
			HasNewData: res.New+res.Updated > 0,
			Records:    convs,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: append run")
		}
		res.RunID = runID
		return nil
	}); err != nil {
		return res, err
	}

	// Append changed conversations to the ledger.
	var appended []model.CleanedEntry
	if err := trackPhase("append", func() error {
		var err error
		appended, err = p.store.AppendEntries(ctx, stream, diff.ToAppend())
		if err != nil {
			return eris.Wrap(err, "pipeline: append entries")
		}
		res.Appended = len(appended)
		return nil
	}); err != nil {
		return res, err
	}

	up := p.uploaders[stream]

	// Raw upload of the new ledger entries. Failures are per-batch and
	// logged inside the uploader.
	if up != nil && len(appended) > 0 {
		_ = trackPhase("upload", func() error {
			n, err := up.UploadEntries(ctx, appended)
			res.Uploaded = n
			return err
		})
	}

	// Analysis.
	if p.analyzer != nil {
		if err := trackPhase("analysis", func() error {
			var err error
			res.Analysis, err = p.analyzer.Run(ctx, stream)
			return err
		}); err != nil {
			return res, err
		}
	}

	// Discovery.
	if p.searcher != nil {
		if err := trackPhase("discovery", func() error {
			var err error
			res.Discovery, err = p.searcher.Run(ctx, stream)
			return err
		}); err != nil {
			return res, err
		}
	}

	// Sync discovery results back to the external table.
	if up != nil {
		if err := trackPhase("sync_results", func() error {
			var err error
			res.Synced, res.SyncFailed, err = p.syncSearchResults(ctx, stream, up)
			return err
		}); err != nil {
			return res, err
		}
	}

	log.Info("stream pass finished",
		zap.Int64("run_id", res.RunID),
		zap.Int("captured", res.Captured),
		zap.Int("new", res.New),
		zap.Int("updated", res.Updated),
		zap.Int("appended", res.Appended),
		zap.Int("analyzed", res.Analysis.Analyzed),
		zap.Int("searched", res.Discovery.Searched),
		zap.Int("synced", res.Synced))
	return res, nil
}

// syncSearchResults patches each unsynced search result onto its external
// record. A result that fails stays unmarked and is retried next run.
func (p *Pipeline) syncSearchResults(ctx context.Context, stream model.Stream, up *uploader.Uploader) (synced, failed int, err error) {
	tracker, err := stage.NewTracker(ctx, p.store, stream, model.StageUpload)
	if err != nil {
		return 0, 0, err
	}

	results, err := p.store.ListSearchResults(ctx, stream)
	if err != nil {
		return 0, 0, eris.Wrap(err, "pipeline: list search results")
	}

	entries, err := p.store.ListEntries(ctx, stream, 0)
	if err != nil {
		return 0, 0, eris.Wrap(err, "pipeline: list entries")
	}
	byID := make(map[int64]model.CleanedEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	state := tracker.State()
	for _, r := range results {
		if state.Processed(r.ID) {
			continue
		}
		entry, ok := byID[r.ID]
		if !ok {
			zap.L().Warn("search result without ledger entry",
				zap.Int64("entry_id", r.ID))
			continue
		}
		if err := up.ApplySearchResult(ctx, entry, r); err != nil {
			failed++
			zap.L().Warn("search result sync failed, will retry next run",
				zap.Int64("entry_id", r.ID), zap.Error(err))
			continue
		}
		if err := tracker.MarkDone(ctx, r.ID); err != nil {
			return synced, failed, err
		}
		synced++
	}
	return synced, failed, nil
}
