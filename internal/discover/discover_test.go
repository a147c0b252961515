package discover

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/internal/store"
	"github.com/sells-group/inbox-pipeline/pkg/anthropic"
	"github.com/sells-group/inbox-pipeline/pkg/perplexity"
)

type stubExtractor struct {
	name string
	err  error
}

func (s *stubExtractor) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.name}},
	}, nil
}

type stubSearch struct {
	answers map[string]string // substring of query → answer
	err     error
	calls   int
}

func (s *stubSearch) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	answer, err := s.Search(ctx, req.Messages[0].Content)
	if err != nil {
		return nil, err
	}
	return &perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{Content: answer}}},
	}, nil
}

func (s *stubSearch) Search(ctx context.Context, query string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	for needle, answer := range s.answers {
		if strings.Contains(query, needle) {
			return answer, nil
		}
	}
	return "no result", nil
}

func newDiscoverStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEnriched(t *testing.T, s store.Store, website string) model.EnrichedEntry {
	t.Helper()
	ctx := context.Background()
	entries, err := s.AppendEntries(ctx, model.StreamMessages, []model.Conversation{
		{Username: "acme", DisplayName: "Acme", LastMessage: "we sell widgets", Timestamp: "1h"},
	})
	require.NoError(t, err)

	e := model.EnrichedEntry{
		CleanedEntry: entries[0],
		AnalysisFields: model.AnalysisFields{
			Summary:             "Widget maker",
			Vertical:            "Manufacturing",
			Website:             website,
			CompatibilityRating: "7",
		},
		AnalyzedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveEnriched(ctx, e))
	return e
}

func newSearcher(st store.Store, ai anthropic.Client, search perplexity.Client) *Searcher {
	return NewSearcher(st, ai, search, "test-model", 3, time.Millisecond, 0)
}

func TestSearcher_FindsBoth(t *testing.T) {
	s := newDiscoverStore(t)
	seedEnriched(t, s, model.SentinelWebsite)

	search := &stubSearch{answers: map[string]string{
		"official website": "The site is https://acme.com.",
		"LinkedIn":         "https://www.linkedin.com/company/acme",
	}}

	res, err := newSearcher(s, &stubExtractor{name: "Acme"}, search).Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Searched)
	assert.Equal(t, 1, res.WebsitesFound)
	assert.Equal(t, 1, res.LinkedInFound)

	results, err := s.ListSearchResults(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Acme", results[0].CompanyName)
	assert.Equal(t, "https://acme.com", results[0].Website.Result)
	assert.Equal(t, model.SearchFound, results[0].Website.Status)
	assert.Equal(t, "https://www.linkedin.com/company/acme", results[0].LinkedIn.Result)
}

func TestSearcher_InvalidURLsCollapseToSentinels(t *testing.T) {
	s := newDiscoverStore(t)
	seedEnriched(t, s, model.SentinelWebsite)

	// A social-media hit for the website and a personal profile for LinkedIn
	// both fail validation.
	search := &stubSearch{answers: map[string]string{
		"official website": "https://facebook.com/acme",
		"LinkedIn":         "https://linkedin.com/in/jane",
	}}

	res, err := newSearcher(s, &stubExtractor{name: "Acme"}, search).Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Searched)
	assert.Equal(t, 1, res.NoResult)

	results, err := s.ListSearchResults(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.SentinelNoWebsite, results[0].Website.Result)
	assert.Equal(t, model.SearchNotFound, results[0].Website.Status)
	assert.Equal(t, model.SentinelNoLinkedIn, results[0].LinkedIn.Result)
}

func TestSearcher_SkipsEntriesWithKnownWebsite(t *testing.T) {
	s := newDiscoverStore(t)
	seedEnriched(t, s, "https://already-known.com")

	search := &stubSearch{}
	res, err := newSearcher(s, &stubExtractor{name: "Acme"}, search).Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Zero(t, res.Eligible)
	assert.Zero(t, search.calls)
}

func TestSearcher_NoCompanyName_SkipsWithoutMarking(t *testing.T) {
	s := newDiscoverStore(t)
	seedEnriched(t, s, model.SentinelWebsite)

	search := &stubSearch{}
	searcher := newSearcher(s, &stubExtractor{name: "NONE"}, search)

	res, err := searcher.Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Searched)
	assert.Zero(t, search.calls)

	// Still eligible on the next run.
	res, err = searcher.Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Eligible)
}

func TestSearcher_SearchFailureStillAdvances(t *testing.T) {
	s := newDiscoverStore(t)
	seedEnriched(t, s, model.SentinelWebsite)

	search := &stubSearch{err: errors.New("search backend down")}
	res, err := newSearcher(s, &stubExtractor{name: "Acme"}, search).Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Searched)
	assert.Equal(t, 1, res.NoResult)

	results, err := s.ListSearchResults(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.SearchNotFound, results[0].Website.Status)
}

func TestSearcher_ProcessedEntryNotRerun(t *testing.T) {
	s := newDiscoverStore(t)
	seedEnriched(t, s, model.SentinelWebsite)

	search := &stubSearch{answers: map[string]string{
		"official website": "https://acme.com",
		"LinkedIn":         "https://linkedin.com/company/acme",
	}}
	searcher := newSearcher(s, &stubExtractor{name: "Acme"}, search)

	res, err := searcher.Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Searched)

	res, err = searcher.Run(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Zero(t, res.Eligible)
}
