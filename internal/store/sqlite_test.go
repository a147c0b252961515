package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testConvs(n int) []model.Conversation {
	convs := make([]model.Conversation, n)
	for i := range convs {
		convs[i] = model.Conversation{
			Username:    fmt.Sprintf("user%d", i),
			DisplayName: fmt.Sprintf("User %d", i),
			LastMessage: fmt.Sprintf("message %d", i),
			Timestamp:   "2h",
		}
	}
	return convs
}

func TestAppendRun_MonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.AppendRun(ctx, model.RunRecord{
			Stream:  model.StreamMessages,
			Records: testConvs(2),
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAppendRun_BoundedHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := s.AppendRun(ctx, model.RunRecord{
			Stream:     model.StreamMessages,
			TotalCount: i,
			Records:    testConvs(1),
		})
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, runs, RunRetention)

	// Runs 6..15 survive, in ascending order.
	for i, r := range runs {
		assert.Equal(t, int64(6+i), r.RunID)
	}
}

func TestAppendRun_StreamsIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AppendRun(ctx, model.RunRecord{Stream: model.StreamMessages, Records: testConvs(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = s.AppendRun(ctx, model.RunRecord{Stream: model.StreamRequests, Records: testConvs(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestLastRun_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.LastRun(ctx, model.StreamMessages)
	require.NoError(t, err)
	assert.Nil(t, rec, "no runs yet")

	convs := testConvs(3)
	_, err = s.AppendRun(ctx, model.RunRecord{
		Stream:     model.StreamMessages,
		TotalCount: 3,
		HasNewData: true,
		Records:    convs,
	})
	require.NoError(t, err)

	rec, err = s.LastRun(ctx, model.StreamMessages)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.RunID)
	assert.Equal(t, model.StreamMessages, rec.Stream)
	assert.True(t, rec.HasNewData)
	assert.Equal(t, convs, rec.Records)
}

func TestAppendEntries_MonotonicAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.AppendEntries(ctx, model.StreamMessages, testConvs(3))
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, e := range first {
		assert.Equal(t, int64(i+1), e.ID)
	}

	second, err := s.AppendEntries(ctx, model.StreamMessages, testConvs(2))
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, int64(4), second[0].ID)
	assert.Equal(t, int64(5), second[1].ID)

	n, err := s.CountEntries(ctx, model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestAppendEntries_Empty(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.AppendEntries(context.Background(), model.StreamMessages, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListEntries_AfterID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEntries(ctx, model.StreamMessages, testConvs(5))
	require.NoError(t, err)

	entries, err := s.ListEntries(ctx, model.StreamMessages, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].ID)
	assert.Equal(t, int64(5), entries[1].ID)
	assert.Equal(t, "user3", entries[0].Username)
}

func TestSaveEnriched_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appended, err := s.AppendEntries(ctx, model.StreamRequests, testConvs(2))
	require.NoError(t, err)

	e := model.EnrichedEntry{
		CleanedEntry: appended[0],
		AnalysisFields: model.AnalysisFields{
			Summary:             "Runs a plumbing business in Ohio",
			Vertical:            "Home Services",
			Website:             model.SentinelWebsite,
			CompatibilityRating: "8",
		},
		AnalyzedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveEnriched(ctx, e))

	got, err := s.ListEnriched(ctx, model.StreamRequests, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, "Home Services", got[0].Vertical)
	assert.Equal(t, model.SentinelWebsite, got[0].Website)
	assert.Equal(t, appended[0].Username, got[0].Username)
}

func TestSaveSearchResult_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := model.SearchResult{
		ID:          7,
		Stream:      model.StreamMessages,
		CompanyName: "Acme Plumbing",
		Website:     model.SearchOutcome{Result: "https://acmeplumbing.com", Status: model.SearchFound},
		LinkedIn:    model.SearchOutcome{Result: model.SentinelNoLinkedIn, Status: model.SearchNotFound},
		SearchedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveSearchResult(ctx, r))

	got, err := s.ListSearchResults(ctx, model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme Plumbing", got[0].CompanyName)
	assert.Equal(t, model.SearchFound, got[0].Website.Status)
	assert.Equal(t, model.SearchNotFound, got[0].LinkedIn.Status)
}

func TestStageState_ZeroWhenMissing(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetStageState(context.Background(), model.StreamMessages, model.StageAnalysis)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.LastProcessedID)
	assert.Empty(t, st.ProcessedIDs)
	assert.Zero(t, st.Counters)
}

func TestStageState_Resumability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEntries(ctx, model.StreamMessages, testConvs(5))
	require.NoError(t, err)

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.MarkProcessed(ctx, model.StreamMessages, model.StageAnalysis, id))
	}

	st, err := s.GetStageState(ctx, model.StreamMessages, model.StageAnalysis)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.LastProcessedID)

	entries, err := s.ListEntries(ctx, model.StreamMessages, 0)
	require.NoError(t, err)

	var eligible []int64
	for _, e := range entries {
		if !st.Processed(e.ID) {
			eligible = append(eligible, e.ID)
		}
	}
	assert.Equal(t, []int64{4, 5}, eligible)
}

func TestMarkProcessed_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, model.StreamMessages, model.StageDiscovery, 9))
	require.NoError(t, s.MarkProcessed(ctx, model.StreamMessages, model.StageDiscovery, 9))

	st, err := s.GetStageState(ctx, model.StreamMessages, model.StageDiscovery)
	require.NoError(t, err)
	assert.Equal(t, int64(9), st.LastProcessedID)
	assert.Len(t, st.ProcessedIDs, 1)
}

func TestMarkProcessed_CursorNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, model.StreamMessages, model.StageAnalysis, 5))
	require.NoError(t, s.MarkProcessed(ctx, model.StreamMessages, model.StageAnalysis, 2))

	st, err := s.GetStageState(ctx, model.StreamMessages, model.StageAnalysis)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.LastProcessedID)
	assert.True(t, st.Processed(2))
	assert.True(t, st.Processed(5))
}

func TestSaveStageCounters_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := model.StageCounters{TotalProcessed: 12, WebsitesFound: 7, LinkedInFound: 4, NoResultCount: 5}
	require.NoError(t, s.SaveStageCounters(ctx, model.StreamRequests, model.StageDiscovery, c))

	st, err := s.GetStageState(ctx, model.StreamRequests, model.StageDiscovery)
	require.NoError(t, err)
	assert.Equal(t, c, st.Counters)
}
