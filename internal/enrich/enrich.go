// Package enrich runs the analysis stage: each cleaned-flow entry is sent to
// the AI once, the structured response is decoded, and the result is saved
// to the enriched ledger. Entries are processed sequentially with a fixed
// pause between calls. An entry is marked processed only after its result is
// persisted; a failed entry stays eligible for the next run.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/internal/resilience"
	"github.com/sells-group/inbox-pipeline/internal/stage"
	"github.com/sells-group/inbox-pipeline/internal/store"
	"github.com/sells-group/inbox-pipeline/pkg/anthropic"
)

const systemPrompt = `You are a business analyst reviewing inbound messages sent to a business brokerage. For each message, assess the sender's business and its fit for acquisition services.

Respond with exactly these four lines and nothing else:
SUMMARY: <one sentence describing the sender's business>
VERTICAL: <the business vertical, or N/A if unclear>
WEBSITE: <the business website if mentioned in the message, otherwise "Website not provided">
COMPATIBILITY_RATING: <1-10 rating of fit for business brokerage services, 0 if not assessable>`

// BuildPrompt renders the per-entry user prompt.
func BuildPrompt(e model.CleanedEntry) string {
	return fmt.Sprintf("Sender name: %s\nUsername: @%s\nMessage:\n%s", e.Name, e.Username, e.Message)
}

// Analyzer drives the analysis stage for one stream.
type Analyzer struct {
	store store.Store
	ai    anthropic.Client
	model string
	delay time.Duration
}

// NewAnalyzer constructs an Analyzer. delay is the pause between entries.
func NewAnalyzer(st store.Store, ai anthropic.Client, aiModel string, delay time.Duration) *Analyzer {
	return &Analyzer{store: st, ai: ai, model: aiModel, delay: delay}
}

// Result summarizes one analysis run.
type Result struct {
	Eligible  int
	Analyzed  int
	Failed    int
	Fallbacks int
}

// Run analyzes every unprocessed ledger entry for the stream.
func (a *Analyzer) Run(ctx context.Context, stream model.Stream) (Result, error) {
	var res Result

	tracker, err := stage.NewTracker(ctx, a.store, stream, model.StageAnalysis)
	if err != nil {
		return res, err
	}

	entries, err := a.store.ListEntries(ctx, stream, 0)
	if err != nil {
		return res, eris.Wrap(err, "enrich: list entries")
	}

	eligible := tracker.Eligible(entries, nil)
	res.Eligible = len(eligible)
	if len(eligible) == 0 {
		zap.L().Info("analysis up to date", zap.String("stream", string(stream)))
		return res, nil
	}

	zap.L().Info("analysis starting",
		zap.String("stream", string(stream)),
		zap.Int("eligible", len(eligible)))

	for i, entry := range eligible {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fields, err := a.analyze(ctx, entry)
		if err != nil {
			res.Failed++
			zap.L().Warn("analysis failed, entry left for next run",
				zap.String("stream", string(stream)),
				zap.Int64("entry_id", entry.ID),
				zap.Error(err))
			continue
		}
		if fields == model.FallbackAnalysis() {
			res.Fallbacks++
		}

		enriched := model.EnrichedEntry{
			CleanedEntry:   entry,
			AnalysisFields: fields,
			AnalyzedAt:     time.Now().UTC(),
		}
		if err := a.store.SaveEnriched(ctx, enriched); err != nil {
			res.Failed++
			zap.L().Warn("persisting analysis failed",
				zap.Int64("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if err := tracker.MarkDone(ctx, entry.ID); err != nil {
			return res, err
		}
		res.Analyzed++

		if a.delay > 0 && i < len(eligible)-1 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(a.delay):
			}
		}
	}

	counters := tracker.State().Counters
	counters.TotalProcessed += res.Analyzed
	if err := tracker.SaveCounters(ctx, counters); err != nil {
		return res, err
	}

	zap.L().Info("analysis finished",
		zap.String("stream", string(stream)),
		zap.Int("analyzed", res.Analyzed),
		zap.Int("failed", res.Failed),
		zap.Int("fallbacks", res.Fallbacks))
	return res, nil
}

// analyze sends one entry to the AI and decodes the response. A response
// that cannot be decoded still yields sentinel fields, not an error.
func (a *Analyzer) analyze(ctx context.Context, entry model.CleanedEntry) (model.AnalysisFields, error) {
	policy := resilience.Backoff()
	policy.OnRetry = resilience.Logger("anthropic", "analyze")

	resp, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: 1024,
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: BuildPrompt(entry)}},
		})
	})
	if err != nil {
		return model.AnalysisFields{}, eris.Wrapf(err, "enrich: analyze entry %d", entry.ID)
	}
	resp.Usage.Log(a.model, "analysis")

	fields, parseErr := Parse(resp.Text())
	if parseErr != nil {
		zap.L().Warn("analysis response unparseable, using sentinels",
			zap.Int64("entry_id", entry.ID),
			zap.Error(parseErr))
	}
	return fields, nil
}
