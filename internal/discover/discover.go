// Package discover runs the website and LinkedIn discovery stage. It only
// considers analyzed entries whose website field carries the "not provided"
// sentinel: a company name is extracted from the message, then a grounded
// web search looks for the official site and the LinkedIn company page.
// Invalid or missing results collapse to "not found" sentinels; the entry
// still advances. Entries with no extractable company name are skipped
// without being marked, so a later rerun gets another chance.
package discover

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/internal/resilience"
	"github.com/sells-group/inbox-pipeline/internal/stage"
	"github.com/sells-group/inbox-pipeline/internal/store"
	"github.com/sells-group/inbox-pipeline/pkg/anthropic"
	"github.com/sells-group/inbox-pipeline/pkg/perplexity"
)

const extractSystemPrompt = `Extract the company or business name from the message below. Respond with only the name. If no company or business name can be determined, respond with exactly NONE.`

// Searcher drives the discovery stage for one stream.
type Searcher struct {
	store        store.Store
	ai           anthropic.Client
	search       perplexity.Client
	model        string
	attempts     int
	attemptDelay time.Duration
	entryDelay   time.Duration
}

// NewSearcher constructs a Searcher. attempts and attemptDelay set the
// per-search retry cadence; entryDelay is the pause between entries.
func NewSearcher(st store.Store, ai anthropic.Client, search perplexity.Client, aiModel string,
	attempts int, attemptDelay, entryDelay time.Duration) *Searcher {
	return &Searcher{
		store:        st,
		ai:           ai,
		search:       search,
		model:        aiModel,
		attempts:     attempts,
		attemptDelay: attemptDelay,
		entryDelay:   entryDelay,
	}
}

// Result summarizes one discovery run.
type Result struct {
	Eligible      int
	Searched      int
	Skipped       int
	WebsitesFound int
	LinkedInFound int
	NoResult      int
}

// Run searches every analyzed entry still missing a website.
func (s *Searcher) Run(ctx context.Context, stream model.Stream) (Result, error) {
	var res Result

	tracker, err := stage.NewTracker(ctx, s.store, stream, model.StageDiscovery)
	if err != nil {
		return res, err
	}

	enriched, err := s.store.ListEnriched(ctx, stream, 0)
	if err != nil {
		return res, eris.Wrap(err, "discover: list enriched")
	}

	var eligible []model.EnrichedEntry
	state := tracker.State()
	for _, e := range enriched {
		if state.Processed(e.ID) || e.Website != model.SentinelWebsite {
			continue
		}
		eligible = append(eligible, e)
	}
	res.Eligible = len(eligible)
	if len(eligible) == 0 {
		zap.L().Info("discovery up to date", zap.String("stream", string(stream)))
		return res, nil
	}

	zap.L().Info("discovery starting",
		zap.String("stream", string(stream)),
		zap.Int("eligible", len(eligible)))

	for i, entry := range eligible {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		company, err := s.extractCompanyName(ctx, entry)
		if err != nil {
			res.Skipped++
			zap.L().Warn("company extraction failed, entry left for next run",
				zap.Int64("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if company == "" {
			res.Skipped++
			zap.L().Info("no company name found, skipping",
				zap.Int64("entry_id", entry.ID),
				zap.String("username", entry.Username))
			continue
		}

		website := s.searchWebsite(ctx, company)
		linkedIn := s.searchLinkedIn(ctx, company)

		result := model.SearchResult{
			ID:          entry.ID,
			Stream:      stream,
			CompanyName: company,
			Website:     website,
			LinkedIn:    linkedIn,
			SearchedAt:  time.Now().UTC(),
		}
		if err := s.store.SaveSearchResult(ctx, result); err != nil {
			res.Skipped++
			zap.L().Warn("persisting search result failed",
				zap.Int64("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if err := tracker.MarkDone(ctx, entry.ID); err != nil {
			return res, err
		}

		res.Searched++
		if website.Status == model.SearchFound {
			res.WebsitesFound++
		}
		if linkedIn.Status == model.SearchFound {
			res.LinkedInFound++
		}
		if website.Status == model.SearchNotFound && linkedIn.Status == model.SearchNotFound {
			res.NoResult++
		}

		if s.entryDelay > 0 && i < len(eligible)-1 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(s.entryDelay):
			}
		}
	}

	counters := tracker.State().Counters
	counters.TotalProcessed += res.Searched
	counters.WebsitesFound += res.WebsitesFound
	counters.LinkedInFound += res.LinkedInFound
	counters.NoResultCount += res.NoResult
	if err := tracker.SaveCounters(ctx, counters); err != nil {
		return res, err
	}

	zap.L().Info("discovery finished",
		zap.String("stream", string(stream)),
		zap.Int("searched", res.Searched),
		zap.Int("websites_found", res.WebsitesFound),
		zap.Int("linkedin_found", res.LinkedInFound),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// extractCompanyName asks the AI for the business name behind an entry.
// Returns "" when the model answers NONE.
func (s *Searcher) extractCompanyName(ctx context.Context, entry model.EnrichedEntry) (string, error) {
	policy := resilience.Backoff()
	policy.OnRetry = resilience.Logger("anthropic", "extract_company")

	prompt := fmt.Sprintf("Sender name: %s\nUsername: @%s\nBusiness summary: %s\nMessage:\n%s",
		entry.Name, entry.Username, entry.Summary, entry.Message)

	resp, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: 64,
			System:    extractSystemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return "", eris.Wrapf(err, "discover: extract company for entry %d", entry.ID)
	}

	name := strings.TrimSpace(resp.Text())
	if name == "" || strings.EqualFold(name, "NONE") {
		return "", nil
	}
	return name, nil
}

// searchWebsite looks for the company's official site. Any failure or
// invalid URL yields the not-found sentinel rather than an error.
func (s *Searcher) searchWebsite(ctx context.Context, company string) model.SearchOutcome {
	query := fmt.Sprintf("What is the official website URL of the company %q? Respond with just the URL.", company)

	answer, err := s.groundedSearch(ctx, "website", query)
	if err != nil {
		zap.L().Warn("website search failed",
			zap.String("company", company), zap.Error(err))
		return model.SearchOutcome{Result: model.SentinelNoWebsite, Status: model.SearchNotFound}
	}

	u := ExtractURL(answer)
	if !IsValidWebsiteURL(u) {
		return model.SearchOutcome{Result: model.SentinelNoWebsite, Status: model.SearchNotFound}
	}
	return model.SearchOutcome{Result: u, Status: model.SearchFound}
}

// searchLinkedIn looks for the company's LinkedIn page.
func (s *Searcher) searchLinkedIn(ctx context.Context, company string) model.SearchOutcome {
	query := fmt.Sprintf("What is the LinkedIn company page URL for %q? Respond with just the URL.", company)

	answer, err := s.groundedSearch(ctx, "linkedin", query)
	if err != nil {
		zap.L().Warn("linkedin search failed",
			zap.String("company", company), zap.Error(err))
		return model.SearchOutcome{Result: model.SentinelNoLinkedIn, Status: model.SearchNotFound}
	}

	u := ExtractURL(answer)
	if !IsValidLinkedInURL(u) {
		return model.SearchOutcome{Result: model.SentinelNoLinkedIn, Status: model.SearchNotFound}
	}
	return model.SearchOutcome{Result: u, Status: model.SearchFound}
}

func (s *Searcher) groundedSearch(ctx context.Context, operation, query string) (string, error) {
	policy := resilience.Fixed(s.attempts, s.attemptDelay)
	policy.OnRetry = resilience.Logger("perplexity", operation)
	// Search misses are not errors; only transport failures retry.
	return resilience.DoVal(ctx, policy, func(ctx context.Context) (string, error) {
		return s.search.Search(ctx, query)
	})
}
